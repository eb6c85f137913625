// Package simulation replays strategies against recorded price histories.
// The core loop is pure: no wall-clock reads, no randomness, no I/O.
// Identical (strategy, entry, history) inputs always produce a byte-identical
// result.
package simulation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/engine"
	"mirror-exit-engine/internal/idhash"
	"mirror-exit-engine/internal/ledger"
)

// Simulate drives the evaluator and ledger across a full price history for
// one position. It stops early once the position closes, or ends with the
// position still open when history is exhausted; open positions are marked
// with unrealized PnL at the cutoff sample.
//
// An out-of-order sample aborts the run and is reported as a failed result,
// not an error: data quality problems must never be silently dropped nor
// kill a batch. Strategy and state violations are returned as errors.
func Simulate(strategy *domain.StrategyDefinition, position *domain.PositionState, history []domain.PricePoint) (*domain.SimulationResult, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	if position.IsClosed() {
		return nil, fmt.Errorf("%w: position %s already closed", engine.ErrInvalidState, position.PositionID)
	}

	simID := idhash.ComputeSimulationID(position.PositionID, strategy.ID, position.EntryTimeMs)

	state := position.Clone()
	lastPrice := state.EntryPrice
	lastTime := state.EntryTimeMs

	for _, sample := range history {
		eval, err := engine.Evaluate(strategy, state, sample)
		if err != nil {
			if errors.Is(err, engine.ErrOutOfOrderSample) {
				return failedResult(simID, strategy.ID, position, state, lastPrice, lastTime, err), nil
			}
			return nil, err
		}

		state, err = ledger.Apply(state, eval)
		if err != nil {
			return nil, err
		}

		lastPrice = sample.Price
		lastTime = sample.TimestampMs

		if state.IsClosed() {
			break
		}
	}

	return buildResult(simID, strategy.ID, position, state, lastPrice, lastTime), nil
}

// buildResult assembles the final result from the post-run state.
func buildResult(simID, strategyID string, position, state *domain.PositionState, lastPrice decimal.Decimal, lastTime int64) *domain.SimulationResult {
	r := &domain.SimulationResult{
		SimulationID: simID,
		PositionID:   position.PositionID,
		StrategyID:   strategyID,
		Exits:        state.Exits,
		Closed:       state.IsClosed(),
		EndTimeMs:    lastTime,
		EndPrice:     lastPrice,
		RealizedPnL:  state.RealizedPnL,
	}

	if !state.IsClosed() {
		r.UnrealizedPnL = state.UnrealizedPnL(lastPrice)
	}
	r.TotalPnL = r.RealizedPnL.Add(r.UnrealizedPnL)
	r.HoldDurationMs = lastTime - position.EntryTimeMs

	if position.Recorded != nil {
		actual := position.OriginalSize.Mul(position.Recorded.Price.Sub(position.EntryPrice))
		delta := r.TotalPnL.Sub(actual)
		r.ActualDelta = &delta
	}

	return r
}

// failedResult reports a simulation aborted by bad input data. Exits applied
// before the abort are preserved for inspection.
func failedResult(simID, strategyID string, position, state *domain.PositionState, lastPrice decimal.Decimal, lastTime int64, cause error) *domain.SimulationResult {
	r := buildResult(simID, strategyID, position, state, lastPrice, lastTime)
	r.Failed = true
	r.FailureReason = cause.Error()
	return r
}
