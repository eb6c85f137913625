package domain

import "fmt"

// ReasonKind identifies which exit rule produced a trigger.
type ReasonKind string

// Reason kind constants. The set is closed: ExitReason values are built only
// through the constructors below.
const (
	ReasonStopLoss     ReasonKind = "STOP_LOSS"
	ReasonTrailingStop ReasonKind = "TRAILING_STOP"
	ReasonTakeProfit   ReasonKind = "TAKE_PROFIT"
	ReasonMaxHold      ReasonKind = "MAX_HOLD"
	ReasonStagnation   ReasonKind = "STAGNATION"
)

// ExitReason is a tagged variant carrying only the fields relevant to its
// kind: TPLevel for take-profits (1-based ladder position), Moonbag for
// stop-losses fired under the moonbag's own stop percentage.
type ExitReason struct {
	Kind    ReasonKind
	TPLevel int
	Moonbag bool
}

// NewStopLossReason builds a stop-loss reason. moonbag marks that the
// moonbag's substitute stop percentage was in effect.
func NewStopLossReason(moonbag bool) ExitReason {
	return ExitReason{Kind: ReasonStopLoss, Moonbag: moonbag}
}

// NewTrailingStopReason builds a trailing-stop reason.
func NewTrailingStopReason() ExitReason {
	return ExitReason{Kind: ReasonTrailingStop}
}

// NewTakeProfitReason builds a take-profit reason for a 1-based ladder level.
// Panics on level < 1: a zero level means the caller never went through the
// ladder scan, which is a programming error.
func NewTakeProfitReason(level int) ExitReason {
	if level < 1 {
		panic(fmt.Sprintf("take-profit level must be >= 1, got %d", level))
	}
	return ExitReason{Kind: ReasonTakeProfit, TPLevel: level}
}

// NewMaxHoldReason builds a max-hold reason.
func NewMaxHoldReason() ExitReason {
	return ExitReason{Kind: ReasonMaxHold}
}

// NewStagnationReason builds a stagnation reason.
func NewStagnationReason() ExitReason {
	return ExitReason{Kind: ReasonStagnation}
}

// String renders the reason for logs and reports.
func (r ExitReason) String() string {
	switch r.Kind {
	case ReasonTakeProfit:
		return fmt.Sprintf("%s_%d", r.Kind, r.TPLevel)
	case ReasonStopLoss:
		if r.Moonbag {
			return string(r.Kind) + "_MOONBAG"
		}
		return string(r.Kind)
	default:
		return string(r.Kind)
	}
}
