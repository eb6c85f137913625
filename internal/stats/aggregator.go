// Package stats reduces simulation result sets into comparative statistics.
// Aggregates are always recomputed fresh from the full result set, never
// incrementally mutated, so repeated aggregation is reproducible.
package stats

import (
	"github.com/shopspring/decimal"

	"mirror-exit-engine/internal/domain"
)

// Aggregate computes statistics over a result set. Failed results are
// excluded from every figure but surfaced through the Excluded count. An
// empty set yields zero-valued stats with a zero win rate, never a division
// fault.
//
// PnL figures use total PnL (realized plus unrealized-at-cutoff); the
// win/loss split uses realized PnL only.
func Aggregate(results []*domain.SimulationResult) *domain.AggregateStats {
	agg := &domain.AggregateStats{}

	var (
		holdSum int64
		first   = true
	)
	for _, r := range results {
		if r.Failed {
			agg.Excluded++
			continue
		}

		agg.Count++
		if r.Win() {
			agg.Wins++
		} else {
			agg.Losses++
		}

		agg.TotalPnL = agg.TotalPnL.Add(r.TotalPnL)
		holdSum += r.HoldDurationMs

		if first {
			agg.MaxGain = r.TotalPnL
			agg.MaxLoss = r.TotalPnL
			first = false
			continue
		}
		if r.TotalPnL.GreaterThan(agg.MaxGain) {
			agg.MaxGain = r.TotalPnL
		}
		if r.TotalPnL.LessThan(agg.MaxLoss) {
			agg.MaxLoss = r.TotalPnL
		}
	}

	if agg.Count == 0 {
		return agg
	}

	count := decimal.NewFromInt(int64(agg.Count))
	agg.WinRate = decimal.NewFromInt(int64(agg.Wins)).Div(count)
	agg.AvgPnL = agg.TotalPnL.Div(count)
	agg.AvgHoldDurationMs = holdSum / int64(agg.Count)

	return agg
}
