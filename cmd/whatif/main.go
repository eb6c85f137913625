// Package main projects exit decisions for an open position at hypothetical
// prices, without mutating any stored state.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/storage"
	"mirror-exit-engine/internal/storage/memory"
	pgstore "mirror-exit-engine/internal/storage/postgres"
	"mirror-exit-engine/internal/whatif"
)

func main() {
	positionID := flag.String("position-id", "", "Position ID to project (required)")
	strategyID := flag.String("strategy-id", "", "Strategy ID (defaults to the position's own strategy)")
	pricesCSV := flag.String("prices", "", "Comma-separated hypothetical prices (required)")

	// Storage
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	seedFile := flag.String("seed-file", "", "JSON seed with positions and strategies (memory mode)")

	// Output
	outputJSON := flag.Bool("json", false, "Output as JSON")

	flag.Parse()

	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("component", "whatif").Logger()

	if *positionID == "" {
		logger.Fatal().Msg("--position-id is required")
	}
	prices, err := parsePrices(*pricesCSV)
	if err != nil {
		logger.Fatal().Err(err).Msg("--prices is required as a comma-separated decimal list")
	}

	ctx := context.Background()

	var positionStore storage.PositionStore = memory.NewPositionStore()
	var strategyStore storage.StrategyStore = memory.NewStrategyStore()

	if !*useMemory {
		if *postgresDSN == "" {
			logger.Fatal().Msg("--postgres-dsn is required when not using --use-memory")
		}
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect to postgres")
		}
		defer pool.Close()

		positionStore = pgstore.NewPositionStore(pool)
		strategyStore = pgstore.NewStrategyStore(pool)
	} else if *seedFile != "" {
		if err := loadSeed(ctx, *seedFile, positionStore, strategyStore); err != nil {
			logger.Fatal().Err(err).Str("file", *seedFile).Msg("load seed")
		}
	}

	position, err := positionStore.GetByID(ctx, *positionID)
	if err != nil {
		logger.Fatal().Err(err).Str("position", *positionID).Msg("load position")
	}
	sid := *strategyID
	if sid == "" {
		sid = position.StrategyID
	}
	strategy, err := strategyStore.GetByID(ctx, sid)
	if err != nil {
		logger.Fatal().Err(err).Str("strategy", sid).Msg("load strategy")
	}

	projection, err := whatif.Project(strategy, position, prices)
	if err != nil {
		logger.Fatal().Err(err).Msg("projection failed")
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(projection, "", "  ")
		fmt.Println(string(output))
	} else {
		printProjection(projection)
	}
}

func parsePrices(csv string) ([]decimal.Decimal, error) {
	var out []decimal.Decimal
	for _, part := range strings.Split(csv, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		d, err := decimal.NewFromString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", trimmed, err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no prices given")
	}
	return out, nil
}

// seedData is the on-disk shape of a --seed-file.
type seedData struct {
	Positions  []*domain.PositionState      `json:"positions"`
	Strategies []*domain.StrategyDefinition `json:"strategies"`
}

func loadSeed(ctx context.Context, path string, positions storage.PositionStore, strategies storage.StrategyStore) error {
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
	return nil
}

// printProjection outputs a human-readable projection.
func printProjection(p *whatif.Projection) {
	fmt.Println()
	fmt.Println("=== What-If Projection ===")
	fmt.Printf("Position ID:  %s\n", p.PositionID)
	fmt.Printf("Strategy ID:  %s\n", p.StrategyID)
	fmt.Println()

	fmt.Println("Reference levels:")
	fmt.Printf("  Breakeven:        %s\n", p.Reference.BreakevenPrice)
	fmt.Printf("  Stop-loss:        %s\n", p.Reference.StopLossPrice)
	if p.Reference.TrailingStopPrice != nil {
		fmt.Printf("  Trailing stop:    %s\n", p.Reference.TrailingStopPrice)
	} else {
		fmt.Println("  Trailing stop:    not armed")
	}
	if p.Reference.NextTakeProfitPrice != nil {
		fmt.Printf("  Next take-profit: %s\n", p.Reference.NextTakeProfitPrice)
	} else {
		fmt.Println("  Next take-profit: ladder exhausted")
	}
	fmt.Println()

	fmt.Println("Scenarios:")
	for _, s := range p.Scenarios {
		line := fmt.Sprintf("  price=%-12s %-12s", s.Price, s.Action)
		if s.Reason != nil {
			line += fmt.Sprintf(" reason=%-20s sell=%s", s.Reason.String(), s.SizeToSell)
		}
		line += fmt.Sprintf(" realized=%s total=%s", s.ProjectedRealizedPnL, s.ProjectedTotalPnL)
		fmt.Println(line)
	}
}
