// Package main runs one exit-strategy simulation against one position and
// prints the result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/observability"
	"mirror-exit-engine/internal/pricefeed"
	"mirror-exit-engine/internal/simulation"
	"mirror-exit-engine/internal/storage"
	chstore "mirror-exit-engine/internal/storage/clickhouse"
	"mirror-exit-engine/internal/storage/memory"
	"mirror-exit-engine/internal/storage/migrations"
	pgstore "mirror-exit-engine/internal/storage/postgres"
)

func main() {
	positionID := flag.String("position-id", "", "Position ID to simulate (required)")
	strategyID := flag.String("strategy-id", "", "Strategy ID to simulate (required)")

	// Storage
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	seedFile := flag.String("seed-file", "", "JSON seed with positions, strategies and prices (memory mode)")
	migrate := flag.Bool("migrate", false, "Apply schema migrations before running")

	// Output
	outputJSON := flag.Bool("json", false, "Output as JSON")
	persistResult := flag.Bool("persist", false, "Persist the simulation result to storage")

	flag.Parse()

	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("component", "backtest").Logger()

	if *positionID == "" {
		logger.Fatal().Msg("--position-id is required")
	}
	if *strategyID == "" {
		logger.Fatal().Msg("--strategy-id is required")
	}

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
			logger.Fatal().Msg("--postgres-dsn is required when not using --use-memory (positions, strategies, results)")
		}
		if *clickhouseDSN == "" {
			logger.Fatal().Msg("--clickhouse-dsn is required when not using --use-memory (price history)")
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

	var persistTo storage.SimulationResultStore
	if *persistResult {
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

	logger.Info().Str("position", *positionID).Str("strategy", *strategyID).Msg("running simulation")

	result, err := runner.Run(ctx, *positionID, *strategyID)
	if err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
	} else {
		printResult(result)
	}
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

// printResult outputs a human-readable simulation result.
func printResult(r *domain.SimulationResult) {
	fmt.Println()
	fmt.Println("=== Simulation Result ===")
	fmt.Printf("Simulation ID:  %s\n", r.SimulationID)
	fmt.Printf("Position ID:    %s\n", r.PositionID)
	fmt.Printf("Strategy ID:    %s\n", r.StrategyID)

	if r.Failed {
		fmt.Printf("Status:         FAILED (%s)\n", r.FailureReason)
		return
	}

	status := "open (history exhausted)"
	if r.Closed {
		status = "closed"
	}
	fmt.Printf("Status:         %s\n", status)
	fmt.Printf("Exits:          %d\n", len(r.Exits))
	for _, exit := range r.Exits {
		fmt.Printf("  #%d %-20s size=%s price=%s\n",
			exit.SequenceNo, exit.Reason.String(), exit.SizeSold, exit.Price)
	}
	fmt.Printf("Realized PnL:   %s\n", r.RealizedPnL)
	fmt.Printf("Unrealized PnL: %s\n", r.UnrealizedPnL)
	fmt.Printf("Total PnL:      %s\n", r.TotalPnL)
	fmt.Printf("Hold duration:  %dms\n", r.HoldDurationMs)
	if r.ActualDelta != nil {
		fmt.Printf("Actual delta:   %s\n", r.ActualDelta)
	}
}
