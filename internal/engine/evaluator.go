// Package engine implements the exit evaluator: a pure decision function
// over (strategy, position state, price sample). It never mutates position
// state; every state change it wants is returned as a TrackingDelta plus at
// most one TriggerDecision for the ledger to apply. That keeps evaluation
// side-effect free and safe to call from concurrent batch workers, provided
// each position has a single logical owner.
package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"mirror-exit-engine/internal/domain"
)

// Evaluator errors.
var (
	// ErrInvalidState marks an integration error: evaluating a closed
	// position or one with negative remaining size.
	ErrInvalidState = errors.New("position state invalid for evaluation")

	// ErrOutOfOrderSample marks a data-quality failure from the price feed:
	// a sample older than the last one seen for this position.
	ErrOutOfOrderSample = errors.New("price sample out of order")
)

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

const msPerHour = int64(3_600_000)

// Evaluate decides what, if anything, to liquidate given one new price
// sample. At most one trigger fires per call, checked in strict priority
// order: stop-loss, trailing stop, take-profit ladder, max hold, stagnation.
//
// The strategy must have passed Validate; Evaluate assumes its invariants.
func Evaluate(strategy *domain.StrategyDefinition, state *domain.PositionState, sample domain.PricePoint) (*domain.Evaluation, error) {
	if state.IsClosed() || state.RemainingSize.IsNegative() {
		return nil, fmt.Errorf("%w: position %s remaining size %s",
			ErrInvalidState, state.PositionID, state.RemainingSize)
	}
	if sample.TimestampMs < state.LastSampleMs {
		return nil, fmt.Errorf("%w: position %s sample at %d, watermark %d",
			ErrOutOfOrderSample, state.PositionID, sample.TimestampMs, state.LastSampleMs)
	}

	tr := domain.TrackingDelta{
		PeakPrice:      state.PeakPrice,
		PeakMultiplier: state.PeakMultiplier,
		TrailingActive: state.TrailingActive,
		FiredTPLevels:  state.FiredTPLevels,
		MoonbagActive:  state.MoonbagActive,
		LastSampleMs:   sample.TimestampMs,
	}
	if sample.Price.GreaterThan(tr.PeakPrice) {
		tr.PeakPrice = sample.Price
		tr.PeakMultiplier = sample.Price.Div(state.EntryPrice)
	}
	if strategy.Trailing.Enabled && !tr.TrailingActive &&
		sample.Price.GreaterThanOrEqual(strategy.Trailing.ActivationMultiplier.Mul(state.EntryPrice)) {
		tr.TrailingActive = true
	}

	eval := &domain.Evaluation{Tracking: tr}

	// Priority 1: stop-loss. The moonbag substitutes its own percentage.
	slPct := strategy.StopLossPct
	if state.MoonbagActive {
		slPct = strategy.MoonbagStopLossPct()
	}
	stopPrice := state.EntryPrice.Mul(decOne.Sub(slPct.Div(decHundred)))
	if sample.Price.LessThanOrEqual(stopPrice) {
		eval.Decision = fullExit(state, sample, domain.NewStopLossReason(state.MoonbagActive))
		return eval, nil
	}

	// Priority 2: trailing stop, once armed. The moonbag is governed by its
	// own stop only, so trailing never liquidates moonbag size.
	if tr.TrailingActive && !state.MoonbagActive {
		trailStop := tr.PeakPrice.Mul(decOne.Sub(strategy.Trailing.TrailDistancePct.Div(decHundred)))
		if sample.Price.LessThanOrEqual(trailStop) {
			eval.Decision = fullExit(state, sample, domain.NewTrailingStopReason())
			return eval, nil
		}
	}

	// Priority 3: take-profit ladder. Multipliers are strictly increasing,
	// so fired levels always form a prefix; one level per sample.
	if state.FiredTPLevels < len(strategy.TakeProfits) {
		level := strategy.TakeProfits[state.FiredTPLevels]
		if level.Multiplier.Mul(state.EntryPrice).LessThanOrEqual(sample.Price) {
			size := state.OriginalSize.Mul(level.SellPct).Div(decHundred)
			if size.GreaterThan(state.RemainingSize) {
				size = state.RemainingSize
			}
			eval.Tracking.FiredTPLevels = state.FiredTPLevels + 1
			// A take-profit resets the stagnation clock.
			eval.Tracking.ReAnchor = &domain.Anchor{TimestampMs: sample.TimestampMs, Price: sample.Price}
			if eval.Tracking.FiredTPLevels == len(strategy.TakeProfits) {
				eval.Tracking.MoonbagActive = true
			}
			eval.Decision = &domain.TriggerDecision{
				Reason:      domain.NewTakeProfitReason(state.FiredTPLevels + 1),
				TimestampMs: sample.TimestampMs,
				Price:       sample.Price,
				SizeToSell:  size,
				SequenceNo:  state.NextSequence(),
			}
			return eval, nil
		}
	}

	// Priority 4: max hold. Strictly ahead of stagnation: the hard time cap
	// wins when both have elapsed.
	if strategy.Time.MaxHoldHours > 0 &&
		sample.TimestampMs-state.EntryTimeMs >= int64(strategy.Time.MaxHoldHours)*msPerHour {
		eval.Decision = fullExit(state, sample, domain.NewMaxHoldReason())
		return eval, nil
	}

	// Priority 5: stagnation, only once the window has fully elapsed since
	// its anchor. Enough movement restarts the window instead of firing;
	// this is the only branch that updates tracking without a trigger.
	if strategy.Time.StagnationEnabled {
		windowMs := int64(strategy.Time.StagnationWindowHours) * msPerHour
		if sample.TimestampMs-state.StagnationAnchor.TimestampMs >= windowMs {
			movement := sample.Price.Sub(state.StagnationAnchor.Price).Abs().
				Div(state.StagnationAnchor.Price).Mul(decHundred)
			if movement.LessThan(strategy.Time.StagnationThresholdPct) {
				eval.Decision = fullExit(state, sample, domain.NewStagnationReason())
				return eval, nil
			}
			eval.Tracking.ReAnchor = &domain.Anchor{TimestampMs: sample.TimestampMs, Price: sample.Price}
		}
	}

	return eval, nil
}

// fullExit builds a decision liquidating everything that remains.
func fullExit(state *domain.PositionState, sample domain.PricePoint, reason domain.ExitReason) *domain.TriggerDecision {
	return &domain.TriggerDecision{
		Reason:      reason,
		TimestampMs: sample.TimestampMs,
		Price:       sample.Price,
		SizeToSell:  state.RemainingSize,
		SequenceNo:  state.NextSequence(),
	}
}
