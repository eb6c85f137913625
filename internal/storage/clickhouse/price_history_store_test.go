package clickhouse

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

const testMint = "So11111111111111111111111111111111111111112"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func points(startMs int64, prices ...string) []domain.PricePoint {
	out := make([]domain.PricePoint, len(prices))
	for i, p := range prices {
		out[i] = domain.PricePoint{TimestampMs: startMs + int64(i)*60_000, Price: dec(p)}
	}
	return out
}

func TestPriceHistoryStore_InsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewPriceHistoryStore(conn)
	ctx := context.Background()

	err := store.InsertBulk(ctx, testMint, points(1_700_000_000_000, "1.000000000000000001", "1.05", "0.98"))
	require.NoError(t, err)

	got, err := store.GetByToken(ctx, testMint)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Ordered ASC and exact to 18 decimal places.
	assert.Equal(t, int64(1_700_000_000_000), got[0].TimestampMs)
	assert.True(t, got[0].Price.Equal(dec("1.000000000000000001")), "price: %s", got[0].Price)
	assert.True(t, got[2].Price.Equal(dec("0.98")), "price: %s", got[2].Price)
}

func TestPriceHistoryStore_GetByTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewPriceHistoryStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, testMint, points(1_700_000_000_000, "1.00", "1.10", "1.20", "1.30")))

	// [from, to] inclusive on both ends.
	got, err := store.GetByTimeRange(ctx, testMint, 1_700_000_060_000, 1_700_000_120_000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Price.Equal(dec("1.10")), "price: %s", got[0].Price)
	assert.True(t, got[1].Price.Equal(dec("1.20")), "price: %s", got[1].Price)
}

func TestPriceHistoryStore_DuplicateDetection(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewPriceHistoryStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, testMint, points(1_700_000_000_000, "1.00")))

	// Duplicate against an existing row.
	err := store.InsertBulk(ctx, testMint, points(1_700_000_000_000, "1.01"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Intra-batch duplicate.
	dup := []domain.PricePoint{
		{TimestampMs: 1_700_000_300_000, Price: dec("1.00")},
		{TimestampMs: 1_700_000_300_000, Price: dec("1.01")},
	}
	err = store.InsertBulk(ctx, testMint, dup)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Same timestamp for a different token is fine.
	require.NoError(t, store.InsertBulk(ctx, "other-token", points(1_700_000_000_000, "5.00")))
}

func TestPriceHistoryStore_InvalidInput(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewPriceHistoryStore(conn)
	ctx := context.Background()

	assert.ErrorIs(t, store.InsertBulk(ctx, "", points(1, "1.00")), storage.ErrInvalidInput)
	assert.NoError(t, store.InsertBulk(ctx, testMint, nil))
}

func TestPriceHistoryStore_EmptyToken(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewPriceHistoryStore(conn)

	got, err := store.GetByToken(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Empty(t, got)
}
