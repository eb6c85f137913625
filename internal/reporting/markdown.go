package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders a report as a Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Strategy Comparison Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Strategies: %d | Positions: %d | Min samples: %d\n\n",
		r.StrategyCount, r.PositionCount, r.MinSamples))

	if r.BestStrategyID != "" {
		sb.WriteString(fmt.Sprintf("**Best strategy: %s**\n\n", r.BestStrategyID))
	} else {
		sb.WriteString("**No strategy met the minimum sample count.**\n\n")
	}

	sb.WriteString("## Strategy Metrics\n\n")
	if len(r.StrategyRows) > 0 {
		sb.WriteString("| Strategy | Count | Wins | Losses | Excluded | WinRate | TotalPnL | AvgPnL | MaxGain | MaxLoss | AvgHold |\n")
		sb.WriteString("|----------|-------|------|--------|----------|---------|----------|--------|---------|---------|--------|\n")
		for _, row := range r.StrategyRows {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %s | %s | %s | %s | %s | %v |\n",
				row.StrategyID, row.Count, row.Wins, row.Losses, row.Excluded,
				row.WinRate, row.TotalPnL, row.AvgPnL, row.MaxGain, row.MaxLoss, row.AvgHold))
		}
	} else {
		sb.WriteString("No strategy metrics available.\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## Trigger Breakdown\n\n")
	if len(r.TriggerBreakdown) > 0 {
		sb.WriteString("| Reason | Count |\n")
		sb.WriteString("|--------|-------|\n")
		for _, row := range r.TriggerBreakdown {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", row.Reason, row.Count))
		}
	} else {
		sb.WriteString("No exits fired.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
