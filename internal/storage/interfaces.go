// Package storage defines the persistence boundary of the exit engine. The
// core never writes position state directly; the live trading path persists
// ledger output through these stores' own write paths.
package storage

import (
	"context"

	"mirror-exit-engine/internal/domain"
)

// ClosedFilter narrows ListClosed results. Zero values mean "no constraint".
type ClosedFilter struct {
	Token      string
	ClosedFrom int64 // ms, inclusive
	ClosedTo   int64 // ms, inclusive
}

// PositionStore provides access to mirrored position state.
type PositionStore interface {
	// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
	Insert(ctx context.Context, p *domain.PositionState) error

	// Update replaces the stored state for an existing position.
	// Returns ErrNotFound if the position does not exist.
	Update(ctx context.Context, p *domain.PositionState) error

	// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.PositionState, error)

	// ListOpen retrieves all positions with remaining size, ordered by entry time ASC.
	ListOpen(ctx context.Context) ([]*domain.PositionState, error)

	// ListClosed retrieves terminal positions matching the filter, ordered by
	// last exit time ASC.
	ListClosed(ctx context.Context, filter ClosedFilter) ([]*domain.PositionState, error)
}

// StrategyStore provides access to immutable strategy definitions.
type StrategyStore interface {
	// Insert adds a validated strategy. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, s *domain.StrategyDefinition) error

	// GetByID retrieves a strategy by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, strategyID string) (*domain.StrategyDefinition, error)

	// List retrieves all strategies ordered by ID ASC.
	List(ctx context.Context) ([]*domain.StrategyDefinition, error)
}

// SimulationResultStore provides access to persisted simulation results.
type SimulationResultStore interface {
	// Insert adds a new result. Returns ErrDuplicateKey if simulation_id exists.
	Insert(ctx context.Context, r *domain.SimulationResult) error

	// GetByID retrieves a result by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, simulationID string) (*domain.SimulationResult, error)

	// GetByStrategy retrieves all results for a strategy, ordered by position_id ASC.
	GetByStrategy(ctx context.Context, strategyID string) ([]*domain.SimulationResult, error)

	// GetByPosition retrieves all results for a position, ordered by strategy_id ASC.
	GetByPosition(ctx context.Context, positionID string) ([]*domain.SimulationResult, error)
}

// PriceHistoryStore provides access to per-token price timeseries.
type PriceHistoryStore interface {
	// InsertBulk adds multiple points for a token. Fails the entire batch on
	// a duplicate (token, timestamp_ms).
	InsertBulk(ctx context.Context, token string, points []domain.PricePoint) error

	// GetByToken retrieves all points for a token, ordered by timestamp ASC.
	GetByToken(ctx context.Context, token string) ([]domain.PricePoint, error)

	// GetByTimeRange retrieves points for a token within [from, to] (inclusive),
	// ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, token string, from, to int64) ([]domain.PricePoint, error)
}
