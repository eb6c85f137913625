package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// InsertBulk adds multiple points for a token. Fails the entire batch on a
// duplicate (token, timestamp_ms). MergeTree does not enforce uniqueness, so
// duplicates are checked explicitly before the batch is sent.
func (s *PriceHistoryStore) InsertBulk(ctx context.Context, token string, points []domain.PricePoint) error {
	if token == "" {
		return storage.ErrInvalidInput
	}
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[int64]struct{}, len(points))
	for _, p := range points {
		if _, exists := seen[p.TimestampMs]; exists {
			return storage.ErrDuplicateKey
		}
		seen[p.TimestampMs] = struct{}{}
	}

	// Check for duplicates against existing rows
	for _, p := range points {
		exists, err := s.exists(ctx, token, p.TimestampMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_history (token, timestamp_ms, price)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		if err := batch.Append(token, uint64(p.TimestampMs), p.Price); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByToken retrieves all points for a token, ordered by timestamp ASC.
func (s *PriceHistoryStore) GetByToken(ctx context.Context, token string) ([]domain.PricePoint, error) {
	query := `
		SELECT timestamp_ms, price
		FROM price_history
		WHERE token = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("query by token: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// GetByTimeRange retrieves points within [from, to] (inclusive), ordered by
// timestamp ASC.
func (s *PriceHistoryStore) GetByTimeRange(ctx context.Context, token string, from, to int64) ([]domain.PricePoint, error) {
	query := `
		SELECT timestamp_ms, price
		FROM price_history
		WHERE token = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, token, uint64(from), uint64(to))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// exists checks if a point with the given key exists.
func (s *PriceHistoryStore) exists(ctx context.Context, token string, timestampMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM price_history
		WHERE token = ? AND timestamp_ms = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, token, uint64(timestampMs)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanPricePoints scans multiple rows.
func scanPricePoints(rows chRows) ([]domain.PricePoint, error) {
	var points []domain.PricePoint

	for rows.Next() {
		var p domain.PricePoint
		var timestampMs uint64
		var price decimal.Decimal

		if err := rows.Scan(&timestampMs, &price); err != nil {
			return nil, fmt.Errorf("scan price history row: %w", err)
		}

		p.TimestampMs = int64(timestampMs)
		p.Price = price
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history rows: %w", err)
	}

	return points, nil
}
