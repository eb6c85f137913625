package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidStrategy is returned when a strategy definition fails load-time
// validation. It is always wrapped with detail about the failing field.
var ErrInvalidStrategy = errors.New("invalid strategy")

// TakeProfitLevel is one rung of the take-profit ladder: at
// Multiplier x entry price, sell SellPct of the original position size.
type TakeProfitLevel struct {
	Multiplier decimal.Decimal // price multiplier, strictly > 1
	SellPct    decimal.Decimal // percent of original size, in (0, 100]
}

// TrailingConfig configures the trailing stop.
// The stop arms once price has ever reached ActivationMultiplier x entry,
// then trails TrailDistancePct below the peak observed since activation.
type TrailingConfig struct {
	Enabled              bool
	ActivationMultiplier decimal.Decimal
	TrailDistancePct     decimal.Decimal
}

// TimeRules configures time-based exits.
type TimeRules struct {
	MaxHoldHours           int // 0 disables the max-hold rule
	StagnationEnabled      bool
	StagnationWindowHours  int
	StagnationThresholdPct decimal.Decimal
}

// MoonbagConfig governs the residual fraction retained after the final
// take-profit level fires. The moonbag is protected by its own stop-loss
// percentage instead of the strategy-wide one.
type MoonbagConfig struct {
	RetainPct   decimal.Decimal
	StopLossPct decimal.Decimal
}

// StrategyDefinition is an immutable exit-rule configuration.
// Validate must pass before a definition is used for evaluation; the
// evaluator assumes a valid strategy.
type StrategyDefinition struct {
	ID          string
	StopLossPct decimal.Decimal   // percent below entry, in (0, 100]
	TakeProfits []TakeProfitLevel // ascending multipliers
	Trailing    TrailingConfig
	Time        TimeRules
	Moonbag     MoonbagConfig
}

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

// Validate checks all strategy invariants. Violations wrap ErrInvalidStrategy.
func (s *StrategyDefinition) Validate() error {
	if err := validatePct("stop-loss", s.StopLossPct); err != nil {
		return err
	}

	prev := decimal.Zero
	sellSum := decimal.Zero
	for i, tp := range s.TakeProfits {
		if !tp.Multiplier.GreaterThan(decOne) {
			return fmt.Errorf("%w: take-profit level %d multiplier %s must be > 1",
				ErrInvalidStrategy, i+1, tp.Multiplier)
		}
		if i > 0 && !tp.Multiplier.GreaterThan(prev) {
			return fmt.Errorf("%w: take-profit multipliers must be strictly increasing (level %d: %s <= %s)",
				ErrInvalidStrategy, i+1, tp.Multiplier, prev)
		}
		if err := validatePct(fmt.Sprintf("take-profit level %d sell", i+1), tp.SellPct); err != nil {
			return err
		}
		prev = tp.Multiplier
		sellSum = sellSum.Add(tp.SellPct)
	}
	if sellSum.GreaterThan(decHundred) {
		return fmt.Errorf("%w: take-profit sell percentages sum to %s, must be <= 100",
			ErrInvalidStrategy, sellSum)
	}

	if s.Trailing.Enabled {
		if !s.Trailing.ActivationMultiplier.GreaterThan(decOne) {
			return fmt.Errorf("%w: trailing activation multiplier %s must be > 1",
				ErrInvalidStrategy, s.Trailing.ActivationMultiplier)
		}
		if err := validatePct("trailing distance", s.Trailing.TrailDistancePct); err != nil {
			return err
		}
	}

	if s.Time.MaxHoldHours < 0 {
		return fmt.Errorf("%w: max hold hours %d must be >= 0", ErrInvalidStrategy, s.Time.MaxHoldHours)
	}
	if s.Time.StagnationEnabled {
		if s.Time.StagnationWindowHours <= 0 {
			return fmt.Errorf("%w: stagnation window %d must be > 0 hours",
				ErrInvalidStrategy, s.Time.StagnationWindowHours)
		}
		if err := validatePct("stagnation threshold", s.Time.StagnationThresholdPct); err != nil {
			return err
		}
	}

	if s.Moonbag.RetainPct.IsPositive() {
		if err := validatePct("moonbag retain", s.Moonbag.RetainPct); err != nil {
			return err
		}
		if err := validatePct("moonbag stop-loss", s.Moonbag.StopLossPct); err != nil {
			return err
		}
		if sellSum.Add(s.Moonbag.RetainPct).GreaterThan(decHundred) {
			return fmt.Errorf("%w: take-profit sells (%s%%) leave less than the moonbag retain %s%%",
				ErrInvalidStrategy, sellSum, s.Moonbag.RetainPct)
		}
	} else if !s.Moonbag.RetainPct.IsZero() {
		return fmt.Errorf("%w: moonbag retain %s must be >= 0", ErrInvalidStrategy, s.Moonbag.RetainPct)
	}

	return nil
}

// MoonbagStopLossPct returns the stop-loss percentage that applies while the
// moonbag is active. Falls back to the strategy-wide stop when no moonbag
// stop is configured.
func (s *StrategyDefinition) MoonbagStopLossPct() decimal.Decimal {
	if s.Moonbag.StopLossPct.IsPositive() {
		return s.Moonbag.StopLossPct
	}
	return s.StopLossPct
}

// validatePct checks a percentage is in (0, 100].
func validatePct(name string, pct decimal.Decimal) error {
	if !pct.IsPositive() || pct.GreaterThan(decHundred) {
		return fmt.Errorf("%w: %s percentage %s must be in (0, 100]", ErrInvalidStrategy, name, pct)
	}
	return nil
}
