// Package main runs the full backtest pipeline: simulate every position
// under every strategy, aggregate the results, pick the best strategy and
// write a report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/observability"
	"mirror-exit-engine/internal/pricefeed"
	"mirror-exit-engine/internal/reporting"
	"mirror-exit-engine/internal/simulation"
	"mirror-exit-engine/internal/stats"
	"mirror-exit-engine/internal/storage"
	chstore "mirror-exit-engine/internal/storage/clickhouse"
	"mirror-exit-engine/internal/storage/memory"
	"mirror-exit-engine/internal/storage/migrations"
	pgstore "mirror-exit-engine/internal/storage/postgres"
)

func main() {
	strategyIDs := flag.String("strategy-ids", "", "Comma-separated strategy IDs (empty = all stored strategies)")
	positionIDs := flag.String("position-ids", "", "Comma-separated position IDs (empty = all stored positions)")
	workers := flag.Int("workers", 0, "Worker pool size for batch simulation (0 = NumCPU)")
	minSamples := flag.Int("min-samples", 1, "Minimum successful simulations for a strategy to be comparable")

	// Storage
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	seedFile := flag.String("seed-file", "", "JSON seed with positions, strategies and prices (memory mode)")
	migrate := flag.Bool("migrate", false, "Apply schema migrations before running")

	// Output
	outputDir := flag.String("output-dir", "output", "Directory for report files")
	persistResults := flag.Bool("persist", false, "Persist simulation results to storage")
	outputJSON := flag.Bool("json", false, "Print the comparison as JSON instead of writing report files")

	flag.Parse()

	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("component", "pipeline").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	var positionStore storage.PositionStore = memory.NewPositionStore()
	var strategyStore storage.StrategyStore = memory.NewStrategyStore()
	var resultStore storage.SimulationResultStore = memory.NewSimulationResultStore()
	var priceStore storage.PriceHistoryStore = memory.NewPriceHistoryStore()

	if !*useMemory {
		if *postgresDSN == "" {
			logger.Fatal().Msg("--postgres-dsn is required when not using --use-memory")
		}
		if *clickhouseDSN == "" {
			logger.Fatal().Msg("--clickhouse-dsn is required when not using --use-memory")
		}

		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to postgres")
		}
		defer pool.Close()

		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to clickhouse")
		}
		defer conn.Close()

		if *migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				logger.Fatal().Err(err).Msg("postgres migrations")
			}
			migrated, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
			if err != nil {
				logger.Fatal().Err(err).Msg("clickhouse migrations")
			}
			migrated.Close()
		}

		positionStore = pgstore.NewPositionStore(pool)
		strategyStore = pgstore.NewStrategyStore(pool)
		resultStore = pgstore.NewSimulationResultStore(pool)
		priceStore = chstore.NewPriceHistoryStore(conn)
	} else if *seedFile != "" {
		if err := loadSeed(ctx, *seedFile, positionStore, strategyStore, priceStore); err != nil {
			logger.Fatal().Err(err).Str("file", *seedFile).Msg("load seed")
		}
	}

	strategies, err := resolveStrategies(ctx, strategyStore, *strategyIDs)
	if err != nil {
		logger.Fatal().Err(err).Msg("resolve strategies")
	}
	positions, err := resolvePositionIDs(ctx, positionStore, *positionIDs)
	if err != nil {
		logger.Fatal().Err(err).Msg("resolve positions")
	}
	if len(strategies) == 0 || len(positions) == 0 {
		logger.Fatal().Int("strategies", len(strategies)).Int("positions", len(positions)).
			Msg("nothing to simulate")
	}

	var persistTo storage.SimulationResultStore
	if *persistResults {
		persistTo = resultStore
	}

	runner := simulation.NewRunner(simulation.RunnerOptions{
		PositionStore: positionStore,
		StrategyStore: strategyStore,
		ResultStore:   persistTo,
		Feed:          pricefeed.NewStoreFeed(priceStore),
		Metrics:       observability.NewMetrics("mirror_exit"),
		Logger:        &logger,
	})

	logger.Info().Int("strategies", len(strategies)).Int("positions", len(positions)).
		Int("workers", *workers).Msg("starting pipeline")

	resultsByStrategy := make(map[string][]*domain.SimulationResult, len(strategies))
	for _, strategy := range strategies {
		results, err := runner.RunBatch(ctx, strategy.ID, positions, simulation.BatchOptions{Workers: *workers})
		if err != nil {
			logger.Fatal().Err(err).Str("strategy", strategy.ID).Msg("batch failed")
		}
		resultsByStrategy[strategy.ID] = results

		failed := 0
		for _, r := range results {
			if r.Failed {
				failed++
			}
		}
		logger.Info().Str("strategy", strategy.ID).
			Int("results", len(results)).Int("failed", failed).Msg("batch complete")
	}

	comparison := stats.Compare(resultsByStrategy, *minSamples)
	report := reporting.BuildReport(comparison, resultsByStrategy, time.Now().UTC())

	if *outputJSON {
		output, _ := json.MarshalIndent(comparison, "", "  ")
		fmt.Println(string(output))
		return
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("create output dir")
	}
	mdPath := filepath.Join(*outputDir, "report.md")
	csvPath := filepath.Join(*outputDir, "strategies.csv")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		logger.Fatal().Err(err).Msg("write markdown report")
	}
	if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(report.StrategyRows)), 0o644); err != nil {
		logger.Fatal().Err(err).Msg("write csv report")
	}

	logger.Info().Str("markdown", mdPath).Str("csv", csvPath).
		Str("best_strategy", comparison.BestStrategyID).Msg("pipeline complete")
}

func resolveStrategies(ctx context.Context, store storage.StrategyStore, csv string) ([]*domain.StrategyDefinition, error) {
	if csv == "" {
		return store.List(ctx)
	}
	var out []*domain.StrategyDefinition
	for _, id := range splitCSV(csv) {
		s, err := store.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", id, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func resolvePositionIDs(ctx context.Context, store storage.PositionStore, csv string) ([]string, error) {
	if csv != "" {
		return splitCSV(csv), nil
	}
	open, err := store.ListOpen(ctx)
	if err != nil {
		return nil, err
	}
	closed, err := store.ListClosed(ctx, storage.ClosedFilter{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(open)+len(closed))
	for _, p := range open {
		ids = append(ids, p.PositionID)
	}
	for _, p := range closed {
		ids = append(ids, p.PositionID)
	}
	return ids, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// seedData is the on-disk shape of a --seed-file.
type seedData struct {
	Positions  []*domain.PositionState        `json:"positions"`
	Strategies []*domain.StrategyDefinition   `json:"strategies"`
	Prices     map[string][]domain.PricePoint `json:"prices"`
}

func loadSeed(ctx context.Context, path string, positions storage.PositionStore, strategies storage.StrategyStore, prices storage.PriceHistoryStore) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var seed seedData
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	for _, s := range seed.Strategies {
		if err := strategies.Insert(ctx, s); err != nil {
			return fmt.Errorf("seed strategy %s: %w", s.ID, err)
		}
	}
	for _, p := range seed.Positions {
		if err := positions.Insert(ctx, p); err != nil {
			return fmt.Errorf("seed position %s: %w", p.PositionID, err)
		}
	}
	for token, points := range seed.Prices {
		if err := prices.InsertBulk(ctx, token, points); err != nil {
			return fmt.Errorf("seed prices for %s: %w", token, err)
		}
	}
	return nil
}
