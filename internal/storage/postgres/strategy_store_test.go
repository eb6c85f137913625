package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

func testStrategy(id string) *domain.StrategyDefinition {
	return &domain.StrategyDefinition{
		ID:          id,
		StopLossPct: dec("30"),
		TakeProfits: []domain.TakeProfitLevel{
			{Multiplier: dec("2"), SellPct: dec("33")},
			{Multiplier: dec("3"), SellPct: dec("50")},
		},
		Trailing: domain.TrailingConfig{
			Enabled:              true,
			ActivationMultiplier: dec("1.5"),
			TrailDistancePct:     dec("10"),
		},
		Time: domain.TimeRules{
			MaxHoldHours:           48,
			StagnationEnabled:      true,
			StagnationWindowHours:  6,
			StagnationThresholdPct: dec("5"),
		},
		Moonbag: domain.MoonbagConfig{RetainPct: dec("17"), StopLossPct: dec("50")},
	}
}

func TestStrategyStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStrategyStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testStrategy("aggressive")))

	got, err := store.GetByID(ctx, "aggressive")
	require.NoError(t, err)

	assert.True(t, got.StopLossPct.Equal(dec("30")), "stop-loss: %s", got.StopLossPct)
	require.Len(t, got.TakeProfits, 2)
	assert.True(t, got.TakeProfits[1].Multiplier.Equal(dec("3")), "TP2 multiplier: %s", got.TakeProfits[1].Multiplier)
	assert.True(t, got.Trailing.Enabled)
	assert.True(t, got.Trailing.TrailDistancePct.Equal(dec("10")), "trail distance: %s", got.Trailing.TrailDistancePct)
	assert.Equal(t, 48, got.Time.MaxHoldHours)
	assert.True(t, got.Moonbag.RetainPct.Equal(dec("17")), "retain: %s", got.Moonbag.RetainPct)

	// The loaded definition must still pass validation.
	require.NoError(t, got.Validate())
}

func TestStrategyStore_RejectsInvalid(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStrategyStore(pool)
	ctx := context.Background()

	bad := testStrategy("bad")
	bad.TakeProfits[1].Multiplier = dec("1.5") // not increasing

	err := store.Insert(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidStrategy)

	_, err = store.GetByID(ctx, "bad")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStrategyStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStrategyStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testStrategy("s1")))
	assert.ErrorIs(t, store.Insert(ctx, testStrategy("s1")), storage.ErrDuplicateKey)
}

func TestStrategyStore_List(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStrategyStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testStrategy("zeta")))
	require.NoError(t, store.Insert(ctx, testStrategy("alpha")))

	defs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].ID)
	assert.Equal(t, "zeta", defs[1].ID)
}
