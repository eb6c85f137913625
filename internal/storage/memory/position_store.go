// Package memory provides in-memory store implementations, used by tests and
// by CLI runs that operate on fixture data without external databases.
package memory

import (
	"context"
	"sort"
	"sync"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PositionState // keyed by position_id
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.PositionState),
	}
}

// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
func (s *PositionStore) Insert(_ context.Context, p *domain.PositionState) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PositionID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[p.PositionID] = p.Clone()
	return nil
}

// Update replaces the stored state. Returns ErrNotFound if not exists.
func (s *PositionStore) Update(_ context.Context, p *domain.PositionState) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PositionID]; !exists {
		return storage.ErrNotFound
	}

	s.data[p.PositionID] = p.Clone()
	return nil
}

// GetByID retrieves a position by its ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.PositionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[positionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// ListOpen retrieves all open positions ordered by entry time ASC.
func (s *PositionStore) ListOpen(_ context.Context) ([]*domain.PositionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PositionState
	for _, p := range s.data {
		if !p.IsClosed() {
			result = append(result, p.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].EntryTimeMs != result[j].EntryTimeMs {
			return result[i].EntryTimeMs < result[j].EntryTimeMs
		}
		return result[i].PositionID < result[j].PositionID
	})
	return result, nil
}

// ListClosed retrieves terminal positions matching the filter, ordered by
// last exit time ASC.
func (s *PositionStore) ListClosed(_ context.Context, filter storage.ClosedFilter) ([]*domain.PositionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PositionState
	for _, p := range s.data {
		if !p.IsClosed() {
			continue
		}
		if filter.Token != "" && p.Token != filter.Token {
			continue
		}
		closedAt := int64(0)
		if last := p.LastExit(); last != nil {
			closedAt = last.TimestampMs
		}
		if filter.ClosedFrom != 0 && closedAt < filter.ClosedFrom {
			continue
		}
		if filter.ClosedTo != 0 && closedAt > filter.ClosedTo {
			continue
		}
		result = append(result, p.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		ci, cj := int64(0), int64(0)
		if e := result[i].LastExit(); e != nil {
			ci = e.TimestampMs
		}
		if e := result[j].LastExit(); e != nil {
			cj = e.TimestampMs
		}
		if ci != cj {
			return ci < cj
		}
		return result[i].PositionID < result[j].PositionID
	})
	return result, nil
}

// Ensure PositionStore implements storage.PositionStore.
var _ storage.PositionStore = (*PositionStore)(nil)
