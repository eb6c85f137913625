package domain

import "github.com/shopspring/decimal"

// SimulationResult is the deterministic outcome of replaying one strategy
// against one position's price history. Identical inputs always produce an
// identical result, including the SimulationID.
type SimulationResult struct {
	SimulationID string
	PositionID   string
	StrategyID   string

	Exits  []PartialExit
	Closed bool // false means history ran out with size remaining

	// End-of-run marks. For open positions these reflect the last sample.
	EndTimeMs int64
	EndPrice  decimal.Decimal

	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal // at cutoff; zero once closed
	TotalPnL      decimal.Decimal

	HoldDurationMs int64

	// Failed marks a simulation aborted by bad input data (e.g. an
	// out-of-order price sample). Failed results never enter aggregates.
	Failed        bool
	FailureReason string

	// ActualDelta is simulated total PnL minus the recorded actual PnL,
	// present only when the position carried a RecordedExit.
	ActualDelta *decimal.Decimal
}

// Win reports whether the simulation counts as a win: realized PnL
// strictly positive.
func (r *SimulationResult) Win() bool {
	return r.RealizedPnL.IsPositive()
}

// AggregateStats is a pure reduction over a result set. It is always
// recomputed fresh, never incrementally mutated.
type AggregateStats struct {
	Count    int
	Wins     int
	Losses   int
	WinRate  decimal.Decimal // 0 when Count is 0
	Excluded int             // failed results surfaced, not silently dropped

	TotalPnL decimal.Decimal
	AvgPnL   decimal.Decimal
	MaxGain  decimal.Decimal
	MaxLoss  decimal.Decimal

	AvgHoldDurationMs int64
}

// StrategyComparison holds per-strategy aggregates plus the winner under the
// comparison rules: highest average PnL among strategies with enough samples,
// ties broken by win rate, then by smaller maximum loss.
type StrategyComparison struct {
	PerStrategy    map[string]*AggregateStats
	BestStrategyID string // empty when no strategy meets the sample threshold
	MinSamples     int
}
