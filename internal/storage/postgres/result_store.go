package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

// SimulationResultStore implements storage.SimulationResultStore using PostgreSQL.
type SimulationResultStore struct {
	pool *Pool
}

// NewSimulationResultStore creates a new SimulationResultStore.
func NewSimulationResultStore(pool *Pool) *SimulationResultStore {
	return &SimulationResultStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SimulationResultStore = (*SimulationResultStore)(nil)

const resultColumns = `
	simulation_id, position_id, strategy_id, exits, closed,
	end_time_ms, end_price::text,
	realized_pnl::text, unrealized_pnl::text, total_pnl::text,
	hold_duration_ms, failed, failure_reason, actual_delta::text
`

// Insert adds a new result. Returns ErrDuplicateKey if simulation_id exists.
func (s *SimulationResultStore) Insert(ctx context.Context, r *domain.SimulationResult) error {
	if r == nil || r.SimulationID == "" {
		return storage.ErrInvalidInput
	}

	exits, err := json.Marshal(r.Exits)
	if err != nil {
		return fmt.Errorf("marshal exits: %w", err)
	}

	var actualDelta *string
	if r.ActualDelta != nil {
		d := r.ActualDelta.String()
		actualDelta = &d
	}

	query := `
		INSERT INTO simulation_results (
			simulation_id, position_id, strategy_id, exits, closed,
			end_time_ms, end_price,
			realized_pnl, unrealized_pnl, total_pnl,
			hold_duration_ms, failed, failure_reason, actual_delta
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10,
			$11, $12, $13, $14
		)
	`

	_, err = s.pool.Exec(ctx, query,
		r.SimulationID, r.PositionID, r.StrategyID, exits, r.Closed,
		r.EndTimeMs, r.EndPrice.String(),
		r.RealizedPnL.String(), r.UnrealizedPnL.String(), r.TotalPnL.String(),
		r.HoldDurationMs, r.Failed, r.FailureReason, actualDelta,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert simulation result: %w", err)
	}
	return nil
}

// GetByID retrieves a result by its ID. Returns ErrNotFound if not exists.
func (s *SimulationResultStore) GetByID(ctx context.Context, simulationID string) (*domain.SimulationResult, error) {
	query := `SELECT ` + resultColumns + ` FROM simulation_results WHERE simulation_id = $1`

	row := s.pool.QueryRow(ctx, query, simulationID)
	r, err := scanResult(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get simulation result by id: %w", err)
	}
	return r, nil
}

// GetByStrategy retrieves all results for a strategy, ordered by position_id ASC.
func (s *SimulationResultStore) GetByStrategy(ctx context.Context, strategyID string) ([]*domain.SimulationResult, error) {
	query := `
		SELECT ` + resultColumns + `
		FROM simulation_results
		WHERE strategy_id = $1
		ORDER BY position_id ASC
	`

	rows, err := s.pool.Query(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("get simulation results by strategy: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// GetByPosition retrieves all results for a position, ordered by strategy_id ASC.
func (s *SimulationResultStore) GetByPosition(ctx context.Context, positionID string) ([]*domain.SimulationResult, error) {
	query := `
		SELECT ` + resultColumns + `
		FROM simulation_results
		WHERE position_id = $1
		ORDER BY strategy_id ASC
	`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("get simulation results by position: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// scanResult scans a single row into a SimulationResult.
func scanResult(row pgx.Row) (*domain.SimulationResult, error) {
	var (
		r           domain.SimulationResult
		exits       []byte
		endPrice    string
		realized    string
		unrealized  string
		total       string
		actualDelta *string
	)

	err := row.Scan(
		&r.SimulationID, &r.PositionID, &r.StrategyID, &exits, &r.Closed,
		&r.EndTimeMs, &endPrice,
		&realized, &unrealized, &total,
		&r.HoldDurationMs, &r.Failed, &r.FailureReason, &actualDelta,
	)
	if err != nil {
		return nil, err
	}

	if r.EndPrice, err = parseDecimal(endPrice); err != nil {
		return nil, err
	}
	if r.RealizedPnL, err = parseDecimal(realized); err != nil {
		return nil, err
	}
	if r.UnrealizedPnL, err = parseDecimal(unrealized); err != nil {
		return nil, err
	}
	if r.TotalPnL, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if r.ActualDelta, err = parseNullableDecimal(actualDelta); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(exits, &r.Exits); err != nil {
		return nil, fmt.Errorf("unmarshal exits: %w", err)
	}

	return &r, nil
}

// scanResults scans multiple rows into a slice of SimulationResult.
func scanResults(rows pgx.Rows) ([]*domain.SimulationResult, error) {
	var results []*domain.SimulationResult

	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan simulation result row: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate simulation result rows: %w", err)
	}

	return results, nil
}
