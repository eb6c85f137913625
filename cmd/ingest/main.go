// Package main streams live price ticks for every open position's token and
// persists them as history, so later simulations can replay the full series.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/pricefeed"
	"mirror-exit-engine/internal/storage"
	chstore "mirror-exit-engine/internal/storage/clickhouse"
	"mirror-exit-engine/internal/storage/memory"
	"mirror-exit-engine/internal/storage/migrations"
	pgstore "mirror-exit-engine/internal/storage/postgres"
)

func main() {
	streamEndpoint := flag.String("stream-endpoint", os.Getenv("PRICE_STREAM_WS"), "Websocket price stream endpoint (required)")
	flushInterval := flag.Duration("flush-interval", 5*time.Second, "How often to persist the latest ticks")
	refreshInterval := flag.Duration("refresh-interval", time.Minute, "How often to re-read open positions for new tokens")

	// Storage
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	migrate := flag.Bool("migrate", false, "Apply schema migrations on startup")

	flag.Parse()

	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("component", "ingest").Logger()

	if *streamEndpoint == "" {
		logger.Fatal().Msg("--stream-endpoint is required")
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
		priceStore = chstore.NewPriceHistoryStore(conn)
	}

	stream, err := pricefeed.NewStreamClient(ctx, *streamEndpoint, nil)
	if err != nil {
		logger.Fatal().Err(err).Str("endpoint", *streamEndpoint).Msg("connect to price stream")
	}
	defer stream.Close()

	ingester := &ingester{
		stream:      stream,
		positions:   positionStore,
		prices:      priceStore,
		logger:      logger,
		subscribed:  make(map[string]struct{}),
		lastFlushed: make(map[string]int64),
	}

	if err := ingester.refreshSubscriptions(ctx); err != nil {
		logger.Fatal().Err(err).Msg("initial subscription")
	}

	logger.Info().Str("endpoint", *streamEndpoint).
		Dur("flush_interval", *flushInterval).Msg("ingesting")

	flushTicker := time.NewTicker(*flushInterval)
	defer flushTicker.Stop()
	refreshTicker := time.NewTicker(*refreshInterval)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			ingester.flush(context.Background())
			logger.Info().Msg("shutdown complete")
			return
		case <-flushTicker.C:
			ingester.flush(ctx)
		case <-refreshTicker.C:
			if err := ingester.refreshSubscriptions(ctx); err != nil {
				logger.Error().Err(err).Msg("refresh subscriptions")
			}
		}
	}
}

// ingester drains the stream's latest-tick cache into the history store.
type ingester struct {
	stream    *pricefeed.StreamClient
	positions storage.PositionStore
	prices    storage.PriceHistoryStore
	logger    zerolog.Logger

	subscribed map[string]struct{}
	// lastFlushed remembers the newest persisted timestamp per token so a
	// tick is written at most once.
	lastFlushed map[string]int64
}

// refreshSubscriptions subscribes to every open position's token.
func (g *ingester) refreshSubscriptions(ctx context.Context) error {
	open, err := g.positions.ListOpen(ctx)
	if err != nil {
		return err
	}
	for _, p := range open {
		if _, ok := g.subscribed[p.Token]; ok {
			continue
		}
		if err := g.stream.Subscribe(p.Token); err != nil {
			g.logger.Error().Err(err).Str("token", p.Token).Msg("subscribe")
			continue
		}
		g.subscribed[p.Token] = struct{}{}
		g.logger.Info().Str("token", p.Token).Msg("subscribed")
	}
	return nil
}

// flush persists the newest tick of each subscribed token, skipping ticks
// already written.
func (g *ingester) flush(ctx context.Context) {
	for token := range g.subscribed {
		tick, err := g.stream.CurrentPrice(ctx, token)
		if err != nil {
			continue // no tick yet
		}
		if tick.TimestampMs <= g.lastFlushed[token] {
			continue
		}
		point := domain.PricePoint{TimestampMs: tick.TimestampMs, Price: tick.Price}
		if err := g.prices.InsertBulk(ctx, token, []domain.PricePoint{point}); err != nil {
			g.logger.Error().Err(err).Str("token", token).Msg("persist tick")
			continue
		}
		g.lastFlushed[token] = tick.TimestampMs
	}
}
