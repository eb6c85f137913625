package memory

import (
	"context"
	"errors"
	"testing"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

func simResult(simID, positionID, strategyID string) *domain.SimulationResult {
	return &domain.SimulationResult{
		SimulationID: simID,
		PositionID:   positionID,
		StrategyID:   strategyID,
		Closed:       true,
		RealizedPnL:  dec("10"),
		TotalPnL:     dec("10"),
	}
}

func TestSimulationResultStore_InsertAndGet(t *testing.T) {
	store := NewSimulationResultStore()
	ctx := context.Background()

	if err := store.Insert(ctx, simResult("sim-1", "pos-1", "s1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "sim-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.TotalPnL.Equal(dec("10")) {
		t.Errorf("total PnL mismatch: %s", got.TotalPnL)
	}
}

func TestSimulationResultStore_DuplicateKey(t *testing.T) {
	store := NewSimulationResultStore()
	ctx := context.Background()

	if err := store.Insert(ctx, simResult("sim-1", "pos-1", "s1")); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	if err := store.Insert(ctx, simResult("sim-1", "pos-2", "s2")); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestSimulationResultStore_NotFound(t *testing.T) {
	store := NewSimulationResultStore()

	if _, err := store.GetByID(context.Background(), "nonexistent"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSimulationResultStore_QueriesOrdered(t *testing.T) {
	store := NewSimulationResultStore()
	ctx := context.Background()

	inserts := []*domain.SimulationResult{
		simResult("sim-1", "pos-b", "s1"),
		simResult("sim-2", "pos-a", "s1"),
		simResult("sim-3", "pos-a", "s2"),
	}
	for _, r := range inserts {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert %s failed: %v", r.SimulationID, err)
		}
	}

	byStrategy, err := store.GetByStrategy(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByStrategy failed: %v", err)
	}
	if len(byStrategy) != 2 || byStrategy[0].PositionID != "pos-a" || byStrategy[1].PositionID != "pos-b" {
		t.Errorf("GetByStrategy wrong order or count: %d", len(byStrategy))
	}

	byPosition, err := store.GetByPosition(ctx, "pos-a")
	if err != nil {
		t.Fatalf("GetByPosition failed: %v", err)
	}
	if len(byPosition) != 2 || byPosition[0].StrategyID != "s1" || byPosition[1].StrategyID != "s2" {
		t.Errorf("GetByPosition wrong order or count: %d", len(byPosition))
	}
}
