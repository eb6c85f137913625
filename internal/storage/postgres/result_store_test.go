package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

func testResult(simID, positionID, strategyID string) *domain.SimulationResult {
	return &domain.SimulationResult{
		SimulationID: simID,
		PositionID:   positionID,
		StrategyID:   strategyID,
		Exits: []domain.PartialExit{
			{
				SequenceNo:  1,
				TimestampMs: 1_700_003_600_000,
				Price:       dec("2.00"),
				SizeSold:    dec("1000"),
				Reason:      domain.NewTrailingStopReason(),
			},
		},
		Closed:         true,
		EndTimeMs:      1_700_003_600_000,
		EndPrice:       dec("2.00"),
		RealizedPnL:    dec("750"),
		TotalPnL:       dec("750"),
		HoldDurationMs: 3_600_000,
	}
}

func TestSimulationResultStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewSimulationResultStore(pool)
	ctx := context.Background()

	r := testResult("sim-1", "pos-1", "strat-1")
	delta := dec("120.5")
	r.ActualDelta = &delta
	require.NoError(t, store.Insert(ctx, r))

	got, err := store.GetByID(ctx, "sim-1")
	require.NoError(t, err)

	assert.True(t, got.Closed)
	assert.True(t, got.TotalPnL.Equal(dec("750")), "total: %s", got.TotalPnL)
	require.Len(t, got.Exits, 1)
	assert.Equal(t, domain.ReasonTrailingStop, got.Exits[0].Reason.Kind)
	require.NotNil(t, got.ActualDelta)
	assert.True(t, got.ActualDelta.Equal(dec("120.5")), "delta: %s", got.ActualDelta)
}

func TestSimulationResultStore_FailedResult(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewSimulationResultStore(pool)
	ctx := context.Background()

	r := &domain.SimulationResult{
		SimulationID:  "sim-failed",
		PositionID:    "pos-1",
		StrategyID:    "strat-1",
		Failed:        true,
		FailureReason: "price sample out of order",
	}
	require.NoError(t, store.Insert(ctx, r))

	got, err := store.GetByID(ctx, "sim-failed")
	require.NoError(t, err)
	assert.True(t, got.Failed)
	assert.Equal(t, "price sample out of order", got.FailureReason)
	assert.Nil(t, got.ActualDelta)
	assert.Empty(t, got.Exits)
}

func TestSimulationResultStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewSimulationResultStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testResult("sim-1", "pos-1", "strat-1")))
	err := store.Insert(ctx, testResult("sim-1", "pos-2", "strat-2"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestSimulationResultStore_Queries(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewSimulationResultStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testResult("sim-1", "pos-b", "strat-1")))
	require.NoError(t, store.Insert(ctx, testResult("sim-2", "pos-a", "strat-1")))
	require.NoError(t, store.Insert(ctx, testResult("sim-3", "pos-a", "strat-2")))

	byStrategy, err := store.GetByStrategy(ctx, "strat-1")
	require.NoError(t, err)
	require.Len(t, byStrategy, 2)
	assert.Equal(t, "pos-a", byStrategy[0].PositionID)
	assert.Equal(t, "pos-b", byStrategy[1].PositionID)

	byPosition, err := store.GetByPosition(ctx, "pos-a")
	require.NoError(t, err)
	require.Len(t, byPosition, 2)
	assert.Equal(t, "strat-1", byPosition[0].StrategyID)
	assert.Equal(t, "strat-2", byPosition[1].StrategyID)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
