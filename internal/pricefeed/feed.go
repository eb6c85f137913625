// Package pricefeed is the I/O boundary for price data. The simulation core
// calls a Feed exactly once per position, never once per sample; retries for
// flaky sources belong here, not inside the pure core.
package pricefeed

import (
	"context"
	"errors"
	"sort"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
)

// ErrNoPriceData is returned when a token has no samples in the requested range.
var ErrNoPriceData = errors.New("no price data available")

// Feed yields time-ordered price samples for a token. Implementations must
// guarantee monotonic timestamps within one fetch.
type Feed interface {
	// FetchHistory returns all samples for token within [from, to] (inclusive),
	// ordered by timestamp ASC. A zero "to" means no upper bound.
	FetchHistory(ctx context.Context, token string, from, to int64) ([]domain.PricePoint, error)

	// CurrentPrice returns the most recent sample for token.
	CurrentPrice(ctx context.Context, token string) (domain.PricePoint, error)
}

// StoreFeed serves price history from a PriceHistoryStore.
type StoreFeed struct {
	store storage.PriceHistoryStore
}

// NewStoreFeed creates a store-backed feed.
func NewStoreFeed(store storage.PriceHistoryStore) *StoreFeed {
	return &StoreFeed{store: store}
}

// FetchHistory loads samples for the range and enforces ascending timestamp
// order, so downstream consumers can rely on the monotonicity guarantee even
// if the backing store returns rows unordered.
func (f *StoreFeed) FetchHistory(ctx context.Context, token string, from, to int64) ([]domain.PricePoint, error) {
	var (
		points []domain.PricePoint
		err    error
	)
	if from == 0 && to == 0 {
		points, err = f.store.GetByToken(ctx, token)
	} else {
		upper := to
		if upper == 0 {
			upper = int64(^uint64(0) >> 1)
		}
		points, err = f.store.GetByTimeRange(ctx, token, from, upper)
	}
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, ErrNoPriceData
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].TimestampMs < points[j].TimestampMs
	})
	return points, nil
}

// CurrentPrice returns the newest stored sample for the token.
func (f *StoreFeed) CurrentPrice(ctx context.Context, token string) (domain.PricePoint, error) {
	points, err := f.store.GetByToken(ctx, token)
	if err != nil {
		return domain.PricePoint{}, err
	}
	if len(points) == 0 {
		return domain.PricePoint{}, ErrNoPriceData
	}

	latest := points[0]
	for _, p := range points[1:] {
		if p.TimestampMs > latest.TimestampMs {
			latest = p
		}
	}
	return latest, nil
}

// Ensure StoreFeed implements Feed.
var _ Feed = (*StoreFeed)(nil)
