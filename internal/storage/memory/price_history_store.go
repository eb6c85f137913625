package memory

import (
	"context"
	"sort"
	"sync"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

// PriceHistoryStore is an in-memory implementation of storage.PriceHistoryStore.
type PriceHistoryStore struct {
	mu   sync.RWMutex
	data map[string][]domain.PricePoint // keyed by token
	seen map[string]map[int64]struct{}  // duplicate detection per token
}

// NewPriceHistoryStore creates a new in-memory price history store.
func NewPriceHistoryStore() *PriceHistoryStore {
	return &PriceHistoryStore{
		data: make(map[string][]domain.PricePoint),
		seen: make(map[string]map[int64]struct{}),
	}
}

// InsertBulk adds multiple points for a token. Fails the entire batch on a
// duplicate (token, timestamp_ms).
func (s *PriceHistoryStore) InsertBulk(_ context.Context, token string, points []domain.PricePoint) error {
	if token == "" {
		return storage.ErrInvalidInput
	}
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := s.seen[token]
	if seen == nil {
		seen = make(map[int64]struct{})
		s.seen[token] = seen
	}

	// First pass: reject duplicates, existing or intra-batch.
	batch := make(map[int64]struct{}, len(points))
	for _, p := range points {
		if _, exists := seen[p.TimestampMs]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batch[p.TimestampMs]; exists {
			return storage.ErrDuplicateKey
		}
		batch[p.TimestampMs] = struct{}{}
	}

	// Second pass: insert all.
	for _, p := range points {
		seen[p.TimestampMs] = struct{}{}
		s.data[token] = append(s.data[token], p)
	}
	sort.Slice(s.data[token], func(i, j int) bool {
		return s.data[token][i].TimestampMs < s.data[token][j].TimestampMs
	})
	return nil
}

// GetByToken retrieves all points for a token, ordered by timestamp ASC.
func (s *PriceHistoryStore) GetByToken(_ context.Context, token string) ([]domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.data[token]
	result := make([]domain.PricePoint, len(points))
	copy(result, points)
	return result, nil
}

// GetByTimeRange retrieves points within [from, to] (inclusive), ordered by
// timestamp ASC.
func (s *PriceHistoryStore) GetByTimeRange(_ context.Context, token string, from, to int64) ([]domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.PricePoint
	for _, p := range s.data[token] {
		if p.TimestampMs >= from && p.TimestampMs <= to {
			result = append(result, p)
		}
	}
	return result, nil
}

// Ensure PriceHistoryStore implements storage.PriceHistoryStore.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)
