package stats

import (
	"sort"

	"mirror-exit-engine/internal/domain"
)

// Compare aggregates each strategy's result set and selects the best one:
// highest average PnL among strategies with at least minSamples non-failed
// results. Ties break on higher win rate, then on the smaller maximum loss,
// then on strategy ID, so the outcome is deterministic regardless of map
// iteration order. BestStrategyID is empty when no strategy qualifies.
func Compare(strategyResults map[string][]*domain.SimulationResult, minSamples int) *domain.StrategyComparison {
	cmp := &domain.StrategyComparison{
		PerStrategy: make(map[string]*domain.AggregateStats, len(strategyResults)),
		MinSamples:  minSamples,
	}

	ids := make([]string, 0, len(strategyResults))
	for id := range strategyResults {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var best *domain.AggregateStats
	for _, id := range ids {
		agg := Aggregate(strategyResults[id])
		cmp.PerStrategy[id] = agg

		if agg.Count < minSamples {
			continue
		}
		if best == nil || beats(agg, best) {
			best = agg
			cmp.BestStrategyID = id
		}
	}

	return cmp
}

// beats reports whether a should replace the current best b. Called in
// ascending ID order, so strict comparisons keep the smaller ID on full ties.
func beats(a, b *domain.AggregateStats) bool {
	if !a.AvgPnL.Equal(b.AvgPnL) {
		return a.AvgPnL.GreaterThan(b.AvgPnL)
	}
	if !a.WinRate.Equal(b.WinRate) {
		return a.WinRate.GreaterThan(b.WinRate)
	}
	// Smaller loss means MaxLoss closer to zero (less negative).
	return a.MaxLoss.GreaterThan(b.MaxLoss)
}
