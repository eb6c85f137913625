package domain

import "github.com/shopspring/decimal"

// TriggerDecision instructs the ledger to sell SizeToSell at the sample's
// price. SequenceNo is fixed at evaluation time so re-application of a stale
// decision is detectable.
type TriggerDecision struct {
	Reason      ExitReason
	TimestampMs int64
	Price       decimal.Decimal
	SizeToSell  decimal.Decimal
	SequenceNo  int
}

// FullExit reports whether the decision liquidates the whole remainder of
// the given state.
func (d *TriggerDecision) FullExit(state *PositionState) bool {
	return d.SizeToSell.Equal(state.RemainingSize)
}

// TrackingDelta is the non-trigger state the evaluator wants applied: peak
// maintenance, trailing activation, take-profit ladder progress, moonbag
// flag, stagnation re-anchoring and the sample watermark. The evaluator never
// writes these itself; the ledger applies them together with any decision.
type TrackingDelta struct {
	PeakPrice      decimal.Decimal
	PeakMultiplier decimal.Decimal
	TrailingActive bool
	FiredTPLevels  int
	MoonbagActive  bool
	// ReAnchor, when non-nil, restarts the stagnation window at this point.
	ReAnchor     *Anchor
	LastSampleMs int64
}

// Evaluation is the complete output of one evaluator call: at most one
// trigger decision plus the tracking updates for this sample.
type Evaluation struct {
	Decision *TriggerDecision // nil means hold
	Tracking TrackingDelta
}
