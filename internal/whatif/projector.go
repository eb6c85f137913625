// Package whatif projects strategy behavior for a still-open position at
// hypothetical prices, without advancing time or touching real state. Each
// hypothetical price is evaluated independently against the position as it
// stands right now.
package whatif

import (
	"github.com/shopspring/decimal"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/engine"
)

// Action classifies what the evaluator would do at a hypothetical price.
type Action string

// Action constants.
const (
	ActionHold        Action = "hold"
	ActionPartialExit Action = "partial_exit"
	ActionFullExit    Action = "full_exit"
)

// Scenario is the projected outcome at one hypothetical price.
type Scenario struct {
	Price  decimal.Decimal
	Action Action
	// Reason is nil for holds.
	Reason     *domain.ExitReason
	SizeToSell decimal.Decimal
	// ProjectedRealizedPnL includes already-realized PnL plus the slice the
	// decision would sell at this price.
	ProjectedRealizedPnL decimal.Decimal
	// ProjectedTotalPnL adds the mark-to-market value of whatever would
	// remain after the decision.
	ProjectedTotalPnL decimal.Decimal
}

// ReferenceLevels are fixed prices of interest, independent of the
// hypothetical set and computed once per projection.
type ReferenceLevels struct {
	// BreakevenPrice is where total PnL crosses zero given what has already
	// been realized.
	BreakevenPrice decimal.Decimal
	// StopLossPrice is the currently effective stop (the moonbag's own stop
	// once the moonbag is active).
	StopLossPrice decimal.Decimal
	// TrailingStopPrice is set only while the trailing stop is armed.
	TrailingStopPrice *decimal.Decimal
	// NextTakeProfitPrice is the price of the first unfired ladder level,
	// nil once the ladder is exhausted.
	NextTakeProfitPrice *decimal.Decimal
}

// Projection holds the reference levels and one scenario per input price.
type Projection struct {
	PositionID string
	StrategyID string
	Reference  ReferenceLevels
	Scenarios  []Scenario
}

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

// Project evaluates what would happen if each hypothetical price were the
// next observed sample. The position state is never mutated; every scenario
// starts from the same snapshot.
func Project(strategy *domain.StrategyDefinition, state *domain.PositionState, prices []decimal.Decimal) (*Projection, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	proj := &Projection{
		PositionID: state.PositionID,
		StrategyID: strategy.ID,
		Reference:  referenceLevels(strategy, state),
		Scenarios:  make([]Scenario, 0, len(prices)),
	}

	for _, price := range prices {
		// Pin the sample to the watermark: prices are hypothetical, time
		// does not advance.
		sample := domain.PricePoint{TimestampMs: state.LastSampleMs, Price: price}
		eval, err := engine.Evaluate(strategy, state, sample)
		if err != nil {
			return nil, err
		}
		proj.Scenarios = append(proj.Scenarios, buildScenario(state, price, eval))
	}

	return proj, nil
}

func buildScenario(state *domain.PositionState, price decimal.Decimal, eval *domain.Evaluation) Scenario {
	s := Scenario{
		Price:                price,
		Action:               ActionHold,
		ProjectedRealizedPnL: state.RealizedPnL,
	}

	remaining := state.RemainingSize
	if d := eval.Decision; d != nil {
		reason := d.Reason
		s.Reason = &reason
		s.SizeToSell = d.SizeToSell
		s.ProjectedRealizedPnL = state.RealizedPnL.Add(d.SizeToSell.Mul(price.Sub(state.EntryPrice)))
		remaining = state.RemainingSize.Sub(d.SizeToSell)

		if remaining.IsZero() {
			s.Action = ActionFullExit
		} else {
			s.Action = ActionPartialExit
		}
	}

	s.ProjectedTotalPnL = s.ProjectedRealizedPnL.Add(remaining.Mul(price.Sub(state.EntryPrice)))
	return s
}

// referenceLevels computes the fixed levels for the current state.
func referenceLevels(strategy *domain.StrategyDefinition, state *domain.PositionState) ReferenceLevels {
	ref := ReferenceLevels{}

	// Breakeven for the remainder: remaining*(p - entry) + realized = 0.
	if state.RemainingSize.IsPositive() {
		ref.BreakevenPrice = state.EntryPrice.Sub(state.RealizedPnL.Div(state.RemainingSize))
	} else {
		ref.BreakevenPrice = state.EntryPrice
	}

	slPct := strategy.StopLossPct
	if state.MoonbagActive {
		slPct = strategy.MoonbagStopLossPct()
	}
	ref.StopLossPrice = state.EntryPrice.Mul(decOne.Sub(slPct.Div(decHundred)))

	if state.TrailingActive && !state.MoonbagActive {
		trail := state.PeakPrice.Mul(decOne.Sub(strategy.Trailing.TrailDistancePct.Div(decHundred)))
		ref.TrailingStopPrice = &trail
	}

	if state.FiredTPLevels < len(strategy.TakeProfits) {
		next := strategy.TakeProfits[state.FiredTPLevels].Multiplier.Mul(state.EntryPrice)
		ref.NextTakeProfitPrice = &next
	}

	return ref
}
