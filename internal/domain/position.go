package domain

import "github.com/shopspring/decimal"

// PartialExit is one immutable slice sold out of a position. Exits are
// append-only and carry a monotonic sequence number starting at 1.
type PartialExit struct {
	SequenceNo  int
	TimestampMs int64
	Price       decimal.Decimal
	SizeSold    decimal.Decimal
	Reason      ExitReason
}

// RecordedExit is the actual exit the live trading path took for a position,
// when known. It lets a simulation report its delta versus reality.
type RecordedExit struct {
	TimestampMs int64
	Price       decimal.Decimal
}

// PositionState is the full bookkeeping state of one mirrored position.
// It is created once at entry and mutated only by ledger application of
// evaluator decisions. Once RemainingSize reaches zero the position is
// terminal and must not be evaluated again.
type PositionState struct {
	PositionID string
	Token      string // base58 mint address
	StrategyID string

	EntryPrice  decimal.Decimal
	EntryTimeMs int64

	OriginalSize  decimal.Decimal
	RemainingSize decimal.Decimal

	// Tracking state threaded through evaluate/apply. Never global.
	PeakPrice        decimal.Decimal
	PeakMultiplier   decimal.Decimal
	TrailingActive   bool
	FiredTPLevels    int
	MoonbagActive    bool
	StagnationAnchor Anchor
	LastSampleMs     int64

	Exits []PartialExit

	// Realized bookkeeping, recomputed by the ledger on every applied exit.
	RealizedPnL       decimal.Decimal
	AvgRealizedPnLPct decimal.Decimal

	Recorded *RecordedExit
}

// NewPosition creates the state for a freshly opened position. The stagnation
// anchor and sample watermark start at the entry sample.
func NewPosition(positionID, token, strategyID string, entryPrice decimal.Decimal, entryTimeMs int64, size decimal.Decimal) *PositionState {
	return &PositionState{
		PositionID:       positionID,
		Token:            token,
		StrategyID:       strategyID,
		EntryPrice:       entryPrice,
		EntryTimeMs:      entryTimeMs,
		OriginalSize:     size,
		RemainingSize:    size,
		PeakPrice:        entryPrice,
		PeakMultiplier:   decOne,
		StagnationAnchor: Anchor{TimestampMs: entryTimeMs, Price: entryPrice},
		LastSampleMs:     entryTimeMs,
	}
}

// IsClosed reports whether the position is terminal.
func (p *PositionState) IsClosed() bool {
	return p.RemainingSize.IsZero()
}

// NextSequence returns the sequence number the next partial exit must carry.
func (p *PositionState) NextSequence() int {
	return len(p.Exits) + 1
}

// LastExit returns the most recent partial exit, or nil if none applied.
func (p *PositionState) LastExit() *PartialExit {
	if len(p.Exits) == 0 {
		return nil
	}
	return &p.Exits[len(p.Exits)-1]
}

// Clone returns a deep copy. The ledger works on copies so callers keep a
// consistent view of the pre-apply state.
func (p *PositionState) Clone() *PositionState {
	cp := *p
	cp.Exits = make([]PartialExit, len(p.Exits))
	copy(cp.Exits, p.Exits)
	if p.Recorded != nil {
		rec := *p.Recorded
		cp.Recorded = &rec
	}
	return &cp
}

// UnrealizedPnL is the mark-to-market PnL of the unsold remainder.
func (p *PositionState) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.RemainingSize.Mul(price.Sub(p.EntryPrice))
}
