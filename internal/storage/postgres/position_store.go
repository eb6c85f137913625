package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	position_id, token, strategy_id,
	entry_price::text, entry_time_ms,
	original_size::text, remaining_size::text,
	peak_price::text, peak_multiplier::text,
	trailing_active, fired_tp_levels, moonbag_active,
	stagnation_anchor_ms, stagnation_anchor_price::text, last_sample_ms,
	exits,
	realized_pnl::text, avg_realized_pnl_pct::text,
	recorded_exit_ms, recorded_exit_price::text
`

// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
func (s *PositionStore) Insert(ctx context.Context, p *domain.PositionState) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	exits, err := json.Marshal(p.Exits)
	if err != nil {
		return fmt.Errorf("marshal exits: %w", err)
	}

	query := `
		INSERT INTO positions (
			position_id, token, strategy_id,
			entry_price, entry_time_ms,
			original_size, remaining_size,
			peak_price, peak_multiplier,
			trailing_active, fired_tp_levels, moonbag_active,
			stagnation_anchor_ms, stagnation_anchor_price, last_sample_ms,
			exits,
			realized_pnl, avg_realized_pnl_pct,
			recorded_exit_ms, recorded_exit_price
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7,
			$8, $9,
			$10, $11, $12,
			$13, $14, $15,
			$16,
			$17, $18,
			$19, $20
		)
	`

	_, err = s.pool.Exec(ctx, query, positionArgs(p, exits)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// Update replaces the stored state. Returns ErrNotFound if not exists.
func (s *PositionStore) Update(ctx context.Context, p *domain.PositionState) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	exits, err := json.Marshal(p.Exits)
	if err != nil {
		return fmt.Errorf("marshal exits: %w", err)
	}

	query := `
		UPDATE positions SET
			token = $2, strategy_id = $3,
			entry_price = $4, entry_time_ms = $5,
			original_size = $6, remaining_size = $7,
			peak_price = $8, peak_multiplier = $9,
			trailing_active = $10, fired_tp_levels = $11, moonbag_active = $12,
			stagnation_anchor_ms = $13, stagnation_anchor_price = $14, last_sample_ms = $15,
			exits = $16,
			realized_pnl = $17, avg_realized_pnl_pct = $18,
			recorded_exit_ms = $19, recorded_exit_price = $20
		WHERE position_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, positionArgs(p, exits)...)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (*domain.PositionState, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE position_id = $1`

	row := s.pool.QueryRow(ctx, query, positionID)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// ListOpen retrieves all open positions ordered by entry time ASC.
func (s *PositionStore) ListOpen(ctx context.Context) ([]*domain.PositionState, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE remaining_size > 0
		ORDER BY entry_time_ms ASC, position_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// ListClosed retrieves terminal positions matching the filter, ordered by
// last exit time ASC. The close time is the timestamp of the final exit,
// extracted from the JSONB exits array.
func (s *PositionStore) ListClosed(ctx context.Context, filter storage.ClosedFilter) ([]*domain.PositionState, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE remaining_size = 0
		  AND ($1 = '' OR token = $1)
		  AND ($2 = 0 OR (exits->-1->>'TimestampMs')::bigint >= $2)
		  AND ($3 = 0 OR (exits->-1->>'TimestampMs')::bigint <= $3)
		ORDER BY (exits->-1->>'TimestampMs')::bigint ASC, position_id ASC
	`

	rows, err := s.pool.Query(ctx, query, filter.Token, filter.ClosedFrom, filter.ClosedTo)
	if err != nil {
		return nil, fmt.Errorf("list closed positions: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// positionArgs builds the 20 bind arguments shared by Insert and Update.
func positionArgs(p *domain.PositionState, exits []byte) []any {
	var recMs *int64
	var recPrice *string
	if p.Recorded != nil {
		recMs = &p.Recorded.TimestampMs
		price := p.Recorded.Price.String()
		recPrice = &price
	}

	return []any{
		p.PositionID, p.Token, p.StrategyID,
		p.EntryPrice.String(), p.EntryTimeMs,
		p.OriginalSize.String(), p.RemainingSize.String(),
		p.PeakPrice.String(), p.PeakMultiplier.String(),
		p.TrailingActive, p.FiredTPLevels, p.MoonbagActive,
		p.StagnationAnchor.TimestampMs, p.StagnationAnchor.Price.String(), p.LastSampleMs,
		exits,
		p.RealizedPnL.String(), p.AvgRealizedPnLPct.String(),
		recMs, recPrice,
	}
}

// scanPosition scans a single row into a PositionState.
func scanPosition(row pgx.Row) (*domain.PositionState, error) {
	var (
		p          domain.PositionState
		entryPrice, originalSize, remainingSize string
		peakPrice, peakMultiplier               string
		anchorPrice, realized, avgRealized      string
		exits                                   []byte
		recMs                                   *int64
		recPrice                                *string
	)

	err := row.Scan(
		&p.PositionID, &p.Token, &p.StrategyID,
		&entryPrice, &p.EntryTimeMs,
		&originalSize, &remainingSize,
		&peakPrice, &peakMultiplier,
		&p.TrailingActive, &p.FiredTPLevels, &p.MoonbagActive,
		&p.StagnationAnchor.TimestampMs, &anchorPrice, &p.LastSampleMs,
		&exits,
		&realized, &avgRealized,
		&recMs, &recPrice,
	)
	if err != nil {
		return nil, err
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.EntryPrice, entryPrice},
		{&p.OriginalSize, originalSize},
		{&p.RemainingSize, remainingSize},
		{&p.PeakPrice, peakPrice},
		{&p.PeakMultiplier, peakMultiplier},
		{&p.StagnationAnchor.Price, anchorPrice},
		{&p.RealizedPnL, realized},
		{&p.AvgRealizedPnLPct, avgRealized},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = d
	}

	p.Exits = []domain.PartialExit{}
	if err := json.Unmarshal(exits, &p.Exits); err != nil {
		return nil, fmt.Errorf("unmarshal exits: %w", err)
	}
	if len(p.Exits) == 0 {
		p.Exits = nil
	}

	if recMs != nil && recPrice != nil {
		price, err := parseDecimal(*recPrice)
		if err != nil {
			return nil, err
		}
		p.Recorded = &domain.RecordedExit{TimestampMs: *recMs, Price: price}
	}

	return &p, nil
}

// scanPositions scans multiple rows into a slice of PositionState.
func scanPositions(rows pgx.Rows) ([]*domain.PositionState, error) {
	var positions []*domain.PositionState

	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		positions = append(positions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}

	return positions, nil
}
