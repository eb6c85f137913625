// Package reporting renders simulation aggregates and strategy comparisons
// for human review, as Markdown or CSV.
package reporting

import (
	"sort"
	"time"

	"mirror-exit-engine/internal/domain"
)

// Report is the rendered view of one strategy comparison run.
type Report struct {
	// Metadata
	GeneratedAt    time.Time
	StrategyCount  int
	PositionCount  int
	MinSamples     int
	BestStrategyID string

	// Strategy Metrics (sorted by strategy_id)
	StrategyRows []StrategyRow

	// Trigger Breakdown (sorted by reason)
	TriggerBreakdown []TriggerRow
}

// StrategyRow represents one row in the strategy metrics table.
type StrategyRow struct {
	StrategyID string
	Count      int
	Wins       int
	Losses     int
	Excluded   int
	WinRate    string
	TotalPnL   string
	AvgPnL     string
	MaxGain    string
	MaxLoss    string
	AvgHold    time.Duration
}

// TriggerRow counts fired exits per reason across every result.
type TriggerRow struct {
	Reason string
	Count  int
}

// BuildReport assembles a report from a comparison and the raw per-strategy
// result sets the comparison was computed over.
func BuildReport(cmp *domain.StrategyComparison, resultsByStrategy map[string][]*domain.SimulationResult, now time.Time) *Report {
	r := &Report{
		GeneratedAt:    now,
		StrategyCount:  len(cmp.PerStrategy),
		MinSamples:     cmp.MinSamples,
		BestStrategyID: cmp.BestStrategyID,
	}

	positions := make(map[string]struct{})
	triggers := make(map[string]int)

	ids := make([]string, 0, len(cmp.PerStrategy))
	for id := range cmp.PerStrategy {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		agg := cmp.PerStrategy[id]
		r.StrategyRows = append(r.StrategyRows, StrategyRow{
			StrategyID: id,
			Count:      agg.Count,
			Wins:       agg.Wins,
			Losses:     agg.Losses,
			Excluded:   agg.Excluded,
			WinRate:    agg.WinRate.StringFixed(4),
			TotalPnL:   agg.TotalPnL.StringFixed(6),
			AvgPnL:     agg.AvgPnL.StringFixed(6),
			MaxGain:    agg.MaxGain.StringFixed(6),
			MaxLoss:    agg.MaxLoss.StringFixed(6),
			AvgHold:    time.Duration(agg.AvgHoldDurationMs) * time.Millisecond,
		})

		for _, result := range resultsByStrategy[id] {
			positions[result.PositionID] = struct{}{}
			if result.Failed {
				continue
			}
			for _, exit := range result.Exits {
				triggers[exit.Reason.String()]++
			}
		}
	}
	r.PositionCount = len(positions)

	reasons := make([]string, 0, len(triggers))
	for reason := range triggers {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		r.TriggerBreakdown = append(r.TriggerBreakdown, TriggerRow{Reason: reason, Count: triggers[reason]})
	}

	return r
}
