package simulation

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/observability"
	"mirror-exit-engine/internal/pricefeed"
	"mirror-exit-engine/internal/storage"
)

// Runner wires the pure simulation core to its collaborators: position and
// strategy stores, the price feed, and an optional result store. The feed is
// hit exactly once per position.
type Runner struct {
	positions  storage.PositionStore
	strategies storage.StrategyStore
	results    storage.SimulationResultStore
	feed       pricefeed.Feed
	metrics    *observability.Metrics
	log        zerolog.Logger
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	PositionStore storage.PositionStore
	StrategyStore storage.StrategyStore
	// ResultStore is optional; nil skips persistence.
	ResultStore storage.SimulationResultStore
	Feed        pricefeed.Feed
	// Metrics is optional; nil disables instrumentation.
	Metrics *observability.Metrics
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

// NewRunner creates a simulation runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Runner{
		positions:  opts.PositionStore,
		strategies: opts.StrategyStore,
		results:    opts.ResultStore,
		feed:       opts.Feed,
		metrics:    opts.Metrics,
		log:        logger,
	}
}

// Run simulates one position under one strategy:
//  1. Load position and strategy from stores
//  2. Validate the strategy before anything runs
//  3. Fetch the price history once, from entry time onward
//  4. Run the pure core
//  5. Persist the result when a result store is configured
func (r *Runner) Run(ctx context.Context, positionID, strategyID string) (*domain.SimulationResult, error) {
	position, err := r.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("load position %s: %w", positionID, err)
	}

	strategy, err := r.strategies.GetByID(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("load strategy %s: %w", strategyID, err)
	}
	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	history, err := r.fetchHistory(ctx, position)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := Simulate(strategy, position, history)
	if err != nil {
		return nil, err
	}
	r.observe(result, time.Since(start))

	r.log.Debug().
		Str("position_id", positionID).
		Str("strategy_id", strategyID).
		Int("samples", len(history)).
		Int("exits", len(result.Exits)).
		Bool("closed", result.Closed).
		Msg("simulation complete")

	if r.results != nil {
		if err := r.results.Insert(ctx, result); err != nil {
			return nil, fmt.Errorf("persist result %s: %w", result.SimulationID, err)
		}
	}

	return result, nil
}

// RunBatch simulates many positions under one strategy on a bounded worker
// pool. Each worker loads its own position and fetches its own history, so
// slow I/O on one position never blocks the others. Per-position failures
// (missing position, bad history) become failed results; the batch always
// returns one result per input ID, in input order.
func (r *Runner) RunBatch(ctx context.Context, strategyID string, positionIDs []string, opts BatchOptions) ([]*domain.SimulationResult, error) {
	strategy, err := r.strategies.GetByID(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("load strategy %s: %w", strategyID, err)
	}
	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(positionIDs) {
		workers = len(positionIDs)
	}
	if r.metrics != nil {
		r.metrics.BatchWorkers.Set(float64(workers))
	}

	batchStart := time.Now()
	results := make([]*domain.SimulationResult, len(positionIDs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.runOne(ctx, strategy, positionIDs[i])
			}
		}()
	}

	cancelled := false
feed:
	for i := range positionIDs {
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
				results[i] = &domain.SimulationResult{
					PositionID:    positionIDs[i],
					StrategyID:    strategyID,
					Failed:        true,
					FailureReason: "cancelled before start: " + ctx.Err().Error(),
				}
			}
		}
	}

	if r.metrics != nil {
		r.metrics.BatchDuration.Observe(time.Since(batchStart).Seconds())
	}
	r.log.Info().
		Str("strategy_id", strategyID).
		Int("positions", len(positionIDs)).
		Int("workers", workers).
		Dur("elapsed", time.Since(batchStart)).
		Msg("batch complete")

	return results, nil
}

// runOne executes a single batch job, converting errors to failed results.
func (r *Runner) runOne(ctx context.Context, strategy *domain.StrategyDefinition, positionID string) *domain.SimulationResult {
	failed := func(err error) *domain.SimulationResult {
		if r.metrics != nil {
			r.metrics.SimulationsFailed.Inc()
		}
		r.log.Warn().Str("position_id", positionID).Err(err).Msg("simulation failed")
		return &domain.SimulationResult{
			PositionID:    positionID,
			StrategyID:    strategy.ID,
			Failed:        true,
			FailureReason: err.Error(),
		}
	}

	position, err := r.positions.GetByID(ctx, positionID)
	if err != nil {
		return failed(fmt.Errorf("load position: %w", err))
	}

	history, err := r.fetchHistory(ctx, position)
	if err != nil {
		return failed(err)
	}

	start := time.Now()
	result, err := Simulate(strategy, position, history)
	if err != nil {
		return failed(err)
	}
	r.observe(result, time.Since(start))

	if r.results != nil {
		if err := r.results.Insert(ctx, result); err != nil {
			return failed(fmt.Errorf("persist result: %w", err))
		}
	}
	return result
}

// fetchHistory pulls the position's price history once, from entry onward.
func (r *Runner) fetchHistory(ctx context.Context, position *domain.PositionState) ([]domain.PricePoint, error) {
	start := time.Now()
	history, err := r.feed.FetchHistory(ctx, position.Token, position.EntryTimeMs, 0)
	if r.metrics != nil {
		r.metrics.HistoryFetchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			r.metrics.HistoryFetchErrors.Inc()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", position.Token, err)
	}
	return history, nil
}

func (r *Runner) observe(result *domain.SimulationResult, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.SimulationsRun.Inc()
	r.metrics.SimulationDuration.Observe(elapsed.Seconds())
	if result.Failed {
		r.metrics.SimulationsFailed.Inc()
		return
	}
	for _, e := range result.Exits {
		r.metrics.TriggersFired.WithLabelValues(string(e.Reason.Kind)).Inc()
	}
}
