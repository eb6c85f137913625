// Package ledger applies evaluator output to position bookkeeping. Apply is
// the only code path that changes a PositionState: exits are append-only,
// remaining size decreases monotonically, and a position that reaches zero
// size is terminal.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"mirror-exit-engine/internal/domain"
)

// ErrDuplicateDecision marks ledger misuse: applying a decision whose
// sequence number was already consumed.
var ErrDuplicateDecision = errors.New("duplicate trigger decision")

// ErrClosedPosition marks an attempt to apply anything to a terminal position.
var ErrClosedPosition = errors.New("position already closed")

var decHundred = decimal.NewFromInt(100)

// Apply returns a new PositionState with the evaluation applied. The input
// state is never mutated. Tracking deltas are always applied; when the
// evaluation carries a decision, a PartialExit is appended and realized PnL
// recomputed.
func Apply(state *domain.PositionState, eval *domain.Evaluation) (*domain.PositionState, error) {
	if state.IsClosed() {
		return nil, fmt.Errorf("%w: position %s", ErrClosedPosition, state.PositionID)
	}

	next := state.Clone()

	tr := eval.Tracking
	next.PeakPrice = tr.PeakPrice
	next.PeakMultiplier = tr.PeakMultiplier
	next.TrailingActive = tr.TrailingActive
	next.FiredTPLevels = tr.FiredTPLevels
	next.MoonbagActive = tr.MoonbagActive
	next.LastSampleMs = tr.LastSampleMs
	if tr.ReAnchor != nil {
		next.StagnationAnchor = *tr.ReAnchor
	}

	if eval.Decision == nil {
		return next, nil
	}

	d := eval.Decision
	if d.SequenceNo != state.NextSequence() {
		return nil, fmt.Errorf("%w: position %s sequence %d, expected %d",
			ErrDuplicateDecision, state.PositionID, d.SequenceNo, state.NextSequence())
	}
	if d.SizeToSell.GreaterThan(state.RemainingSize) {
		return nil, fmt.Errorf("decision sells %s but only %s remains on position %s",
			d.SizeToSell, state.RemainingSize, state.PositionID)
	}

	next.Exits = append(next.Exits, domain.PartialExit{
		SequenceNo:  d.SequenceNo,
		TimestampMs: d.TimestampMs,
		Price:       d.Price,
		SizeSold:    d.SizeToSell,
		Reason:      d.Reason,
	})
	next.RemainingSize = state.RemainingSize.Sub(d.SizeToSell)

	recomputeRealized(next)

	return next, nil
}

// recomputeRealized rebuilds realized PnL and the size-weighted average
// realized PnL percent from the full exit history. Recomputing from scratch
// keeps the figures exact regardless of how many slices were sold.
func recomputeRealized(p *domain.PositionState) {
	realized := decimal.Zero
	soldSize := decimal.Zero
	for _, e := range p.Exits {
		realized = realized.Add(e.SizeSold.Mul(e.Price.Sub(p.EntryPrice)))
		soldSize = soldSize.Add(e.SizeSold)
	}
	p.RealizedPnL = realized

	if soldSize.IsZero() || p.EntryPrice.IsZero() {
		p.AvgRealizedPnLPct = decimal.Zero
		return
	}
	// Size-weighted: realized / (sold size * entry price), as a percent.
	p.AvgRealizedPnLPct = realized.Div(soldSize.Mul(p.EntryPrice)).Mul(decHundred)
}
