package memory

import (
	"context"
	"sort"
	"sync"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

// StrategyStore is an in-memory implementation of storage.StrategyStore.
type StrategyStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StrategyDefinition // keyed by strategy id
}

// NewStrategyStore creates a new in-memory strategy store.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{
		data: make(map[string]*domain.StrategyDefinition),
	}
}

// Insert adds a validated strategy. Returns ErrDuplicateKey if the ID exists.
func (s *StrategyStore) Insert(_ context.Context, def *domain.StrategyDefinition) error {
	if def == nil || def.ID == "" {
		return storage.ErrInvalidInput
	}
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[def.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[def.ID] = cloneStrategy(def)
	return nil
}

// GetByID retrieves a strategy by its ID. Returns ErrNotFound if not exists.
func (s *StrategyStore) GetByID(_ context.Context, strategyID string) (*domain.StrategyDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.data[strategyID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneStrategy(def), nil
}

// List retrieves all strategies ordered by ID ASC.
func (s *StrategyStore) List(_ context.Context) ([]*domain.StrategyDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.StrategyDefinition, 0, len(s.data))
	for _, def := range s.data {
		result = append(result, cloneStrategy(def))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// cloneStrategy deep-copies a definition so callers cannot alias the ladder.
func cloneStrategy(def *domain.StrategyDefinition) *domain.StrategyDefinition {
	cp := *def
	cp.TakeProfits = make([]domain.TakeProfitLevel, len(def.TakeProfits))
	copy(cp.TakeProfits, def.TakeProfits)
	return &cp
}

// Ensure StrategyStore implements storage.StrategyStore.
var _ storage.StrategyStore = (*StrategyStore)(nil)
