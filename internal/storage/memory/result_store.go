package memory

import (
	"context"
	"sort"
	"sync"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

// SimulationResultStore is an in-memory implementation of
// storage.SimulationResultStore.
type SimulationResultStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SimulationResult // keyed by simulation_id
}

// NewSimulationResultStore creates a new in-memory result store.
func NewSimulationResultStore() *SimulationResultStore {
	return &SimulationResultStore{
		data: make(map[string]*domain.SimulationResult),
	}
}

// Insert adds a new result. Returns ErrDuplicateKey if simulation_id exists.
func (s *SimulationResultStore) Insert(_ context.Context, r *domain.SimulationResult) error {
	if r == nil || r.SimulationID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.SimulationID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[r.SimulationID] = cloneResult(r)
	return nil
}

// GetByID retrieves a result by its ID. Returns ErrNotFound if not exists.
func (s *SimulationResultStore) GetByID(_ context.Context, simulationID string) (*domain.SimulationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[simulationID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneResult(r), nil
}

// GetByStrategy retrieves all results for a strategy, ordered by position_id ASC.
func (s *SimulationResultStore) GetByStrategy(_ context.Context, strategyID string) ([]*domain.SimulationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SimulationResult
	for _, r := range s.data {
		if r.StrategyID == strategyID {
			result = append(result, cloneResult(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PositionID < result[j].PositionID })
	return result, nil
}

// GetByPosition retrieves all results for a position, ordered by strategy_id ASC.
func (s *SimulationResultStore) GetByPosition(_ context.Context, positionID string) ([]*domain.SimulationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SimulationResult
	for _, r := range s.data {
		if r.PositionID == positionID {
			result = append(result, cloneResult(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StrategyID < result[j].StrategyID })
	return result, nil
}

func cloneResult(r *domain.SimulationResult) *domain.SimulationResult {
	cp := *r
	cp.Exits = make([]domain.PartialExit, len(r.Exits))
	copy(cp.Exits, r.Exits)
	if r.ActualDelta != nil {
		d := *r.ActualDelta
		cp.ActualDelta = &d
	}
	return &cp
}

// Ensure SimulationResultStore implements storage.SimulationResultStore.
var _ storage.SimulationResultStore = (*SimulationResultStore)(nil)
