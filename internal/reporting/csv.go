package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders the strategy metric rows as a CSV string.
func RenderCSV(rows []StrategyRow) string {
	var sb strings.Builder

	sb.WriteString("strategy_id,count,wins,losses,excluded,win_rate,total_pnl,avg_pnl,max_gain,max_loss,avg_hold_ms\n")

	for _, row := range rows {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%d,%d,%s,%s,%s,%s,%s,%d\n",
			row.StrategyID,
			row.Count,
			row.Wins,
			row.Losses,
			row.Excluded,
			row.WinRate,
			row.TotalPnL,
			row.AvgPnL,
			row.MaxGain,
			row.MaxLoss,
			row.AvgHold.Milliseconds(),
		))
	}

	return sb.String()
}
