package simulation

import (
	"context"
	"runtime"
	"sync"

	"mirror-exit-engine/internal/domain"
)

// BatchPosition pairs a position with its pre-fetched price history. Fetching
// happens once per position at the I/O boundary, never per sample.
type BatchPosition struct {
	Position *domain.PositionState
	History  []domain.PricePoint
}

// BatchOptions configures batch execution.
type BatchOptions struct {
	// Workers bounds the worker pool. Defaults to runtime.NumCPU().
	Workers int
}

// RunBatch simulates every position independently on a bounded worker pool.
// Positions share no mutable state, so the only coordination is the job
// channel. Results come back in input order. Per-position failures become
// failed results; they never abort the batch. Cancelling the context skips
// positions that have not started yet, reporting them as failed.
func RunBatch(ctx context.Context, strategy *domain.StrategyDefinition, batch []BatchPosition, opts BatchOptions) ([]*domain.SimulationResult, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(batch) {
		workers = len(batch)
	}

	results := make([]*domain.SimulationResult, len(batch))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = simulateOne(strategy, batch[i])
			}
		}()
	}

	// Feed jobs until done or cancelled. Unstarted positions are marked
	// below; in-flight ones run to completion (bounded by history length).
	cancelled := false
feed:
	for i := range batch {
		select {
		case <-ctx.Done():
			cancelled = true
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled {
		for i := range results {
			if results[i] == nil {
				results[i] = skippedResult(strategy, batch[i], ctx.Err())
			}
		}
	}

	return results, nil
}

// simulateOne wraps Simulate, converting fatal per-position errors into
// failed results so one bad position cannot sink its batch.
func simulateOne(strategy *domain.StrategyDefinition, bp BatchPosition) *domain.SimulationResult {
	result, err := Simulate(strategy, bp.Position, bp.History)
	if err != nil {
		return &domain.SimulationResult{
			PositionID:    bp.Position.PositionID,
			StrategyID:    strategy.ID,
			Failed:        true,
			FailureReason: err.Error(),
		}
	}
	return result
}

// skippedResult marks a position the batch never started due to cancellation.
func skippedResult(strategy *domain.StrategyDefinition, bp BatchPosition, cause error) *domain.SimulationResult {
	return &domain.SimulationResult{
		PositionID:    bp.Position.PositionID,
		StrategyID:    strategy.ID,
		Failed:        true,
		FailureReason: "cancelled before start: " + cause.Error(),
	}
}
