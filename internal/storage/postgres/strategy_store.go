package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

// StrategyStore implements storage.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *Pool
}

// NewStrategyStore creates a new StrategyStore.
func NewStrategyStore(pool *Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StrategyStore = (*StrategyStore)(nil)

const strategyColumns = `
	strategy_id, stop_loss_pct::text, take_profits,
	trailing_enabled, trailing_activation::text, trailing_distance_pct::text,
	max_hold_hours, stagnation_enabled, stagnation_window_hours, stagnation_threshold_pct::text,
	moonbag_retain_pct::text, moonbag_stop_loss_pct::text
`

// Insert adds a validated strategy. Returns ErrDuplicateKey if the ID exists.
func (s *StrategyStore) Insert(ctx context.Context, def *domain.StrategyDefinition) error {
	if def == nil || def.ID == "" {
		return storage.ErrInvalidInput
	}
	if err := def.Validate(); err != nil {
		return err
	}

	ladder, err := json.Marshal(def.TakeProfits)
	if err != nil {
		return fmt.Errorf("marshal take-profit ladder: %w", err)
	}

	query := `
		INSERT INTO strategies (
			strategy_id, stop_loss_pct, take_profits,
			trailing_enabled, trailing_activation, trailing_distance_pct,
			max_hold_hours, stagnation_enabled, stagnation_window_hours, stagnation_threshold_pct,
			moonbag_retain_pct, moonbag_stop_loss_pct
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9, $10,
			$11, $12
		)
	`

	_, err = s.pool.Exec(ctx, query,
		def.ID, def.StopLossPct.String(), ladder,
		def.Trailing.Enabled, def.Trailing.ActivationMultiplier.String(), def.Trailing.TrailDistancePct.String(),
		def.Time.MaxHoldHours, def.Time.StagnationEnabled, def.Time.StagnationWindowHours, def.Time.StagnationThresholdPct.String(),
		def.Moonbag.RetainPct.String(), def.Moonbag.StopLossPct.String(),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert strategy: %w", err)
	}
	return nil
}

// GetByID retrieves a strategy by its ID. Returns ErrNotFound if not exists.
func (s *StrategyStore) GetByID(ctx context.Context, strategyID string) (*domain.StrategyDefinition, error) {
	query := `SELECT ` + strategyColumns + ` FROM strategies WHERE strategy_id = $1`

	row := s.pool.QueryRow(ctx, query, strategyID)
	def, err := scanStrategy(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get strategy by id: %w", err)
	}
	return def, nil
}

// List retrieves all strategies ordered by ID ASC.
func (s *StrategyStore) List(ctx context.Context) ([]*domain.StrategyDefinition, error) {
	query := `SELECT ` + strategyColumns + ` FROM strategies ORDER BY strategy_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	var defs []*domain.StrategyDefinition
	for rows.Next() {
		def, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy row: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate strategy rows: %w", err)
	}
	return defs, nil
}

// scanStrategy scans a single row into a StrategyDefinition.
func scanStrategy(row pgx.Row) (*domain.StrategyDefinition, error) {
	var (
		def       domain.StrategyDefinition
		stopLoss  string
		ladder    []byte
		trailAct  string
		trailDist string
		stagPct   string
		retain    string
		mbStop    string
	)

	err := row.Scan(
		&def.ID, &stopLoss, &ladder,
		&def.Trailing.Enabled, &trailAct, &trailDist,
		&def.Time.MaxHoldHours, &def.Time.StagnationEnabled, &def.Time.StagnationWindowHours, &stagPct,
		&retain, &mbStop,
	)
	if err != nil {
		return nil, err
	}

	if def.StopLossPct, err = parseDecimal(stopLoss); err != nil {
		return nil, err
	}
	if def.Trailing.ActivationMultiplier, err = parseDecimal(trailAct); err != nil {
		return nil, err
	}
	if def.Trailing.TrailDistancePct, err = parseDecimal(trailDist); err != nil {
		return nil, err
	}
	if def.Time.StagnationThresholdPct, err = parseDecimal(stagPct); err != nil {
		return nil, err
	}
	if def.Moonbag.RetainPct, err = parseDecimal(retain); err != nil {
		return nil, err
	}
	if def.Moonbag.StopLossPct, err = parseDecimal(mbStop); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(ladder, &def.TakeProfits); err != nil {
		return nil, fmt.Errorf("unmarshal take-profit ladder: %w", err)
	}

	return &def, nil
}
