// Package main serves the exit engine over HTTP: run simulations, project
// what-if scenarios and read per-strategy aggregates, plus health and
// Prometheus metrics endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mirror-exit-engine/internal/domain"
	"mirror-exit-engine/internal/observability"
	"mirror-exit-engine/internal/pricefeed"
	"mirror-exit-engine/internal/simulation"
	"mirror-exit-engine/internal/stats"
	"mirror-exit-engine/internal/storage"
	chstore "mirror-exit-engine/internal/storage/clickhouse"
	"mirror-exit-engine/internal/storage/memory"
	"mirror-exit-engine/internal/storage/migrations"
	pgstore "mirror-exit-engine/internal/storage/postgres"
	"mirror-exit-engine/internal/whatif"
)

type server struct {
	positions  storage.PositionStore
	strategies storage.StrategyStore
	results    storage.SimulationResultStore
	runner     *simulation.Runner
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")

	// Storage
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	migrate := flag.Bool("migrate", false, "Apply schema migrations on startup")
	streamEndpoint := flag.String("stream-endpoint", os.Getenv("PRICE_STREAM_WS"), "Websocket price stream endpoint (optional)")

	flag.Parse()

	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("component", "server").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	}

	var feed pricefeed.Feed = pricefeed.NewStoreFeed(priceStore)
	if *streamEndpoint != "" {
		stream, err := pricefeed.NewStreamClient(ctx, *streamEndpoint, nil)
		if err != nil {
			logger.Fatal().Err(err).Str("endpoint", *streamEndpoint).Msg("connect to price stream")
		}
		defer stream.Close()
		feed = pricefeed.NewLiveFeed(pricefeed.NewStoreFeed(priceStore), stream)
		logger.Info().Str("endpoint", *streamEndpoint).Msg("live price stream enabled")
	}

	metrics := observability.NewMetrics("mirror_exit")
	s := &server{
		positions:  positionStore,
		strategies: strategyStore,
		results:    resultStore,
		metrics:    metrics,
		logger:     logger,
		runner: simulation.NewRunner(simulation.RunnerOptions{
			PositionStore: positionStore,
			StrategyStore: strategyStore,
			ResultStore:   resultStore,
			Feed:          feed,
			Metrics:       metrics,
			Logger:        &logger,
		}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/simulate", s.handleSimulate)
	mux.HandleFunc("/whatif", s.handleWhatIf)
	mux.HandleFunc("/stats", s.handleStats)

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", *addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Msg("shutdown complete")
}

type simulateRequest struct {
	PositionID string `json:"position_id"`
	StrategyID string `json:"strategy_id"`
}

// handleSimulate runs one simulation and returns the persisted result.
func (s *server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PositionID == "" || req.StrategyID == "" {
		http.Error(w, "position_id and strategy_id are required", http.StatusBadRequest)
		return
	}

	result, err := s.runner.Run(r.Context(), req.PositionID, req.StrategyID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, result)
}

type whatIfRequest struct {
	PositionID string   `json:"position_id"`
	StrategyID string   `json:"strategy_id"` // optional, defaults to the position's strategy
	Prices     []string `json:"prices"`
}

// handleWhatIf projects hypothetical prices for a position.
func (s *server) handleWhatIf(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req whatIfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PositionID == "" || len(req.Prices) == 0 {
		http.Error(w, "position_id and prices are required", http.StatusBadRequest)
		return
	}

	prices := make([]decimal.Decimal, 0, len(req.Prices))
	for _, raw := range req.Prices {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			http.Error(w, "invalid price: "+raw, http.StatusBadRequest)
			return
		}
		prices = append(prices, d)
	}

	position, err := s.positions.GetByID(r.Context(), req.PositionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	strategyID := req.StrategyID
	if strategyID == "" {
		strategyID = position.StrategyID
	}
	strategy, err := s.strategies.GetByID(r.Context(), strategyID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	projection, err := whatif.Project(strategy, position, prices)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, projection)
}

// handleStats aggregates stored results for one strategy.
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	strategyID := r.URL.Query().Get("strategy_id")
	if strategyID == "" {
		http.Error(w, "strategy_id query parameter is required", http.StatusBadRequest)
		return
	}

	results, err := s.results.GetByStrategy(r.Context(), strategyID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	agg := stats.Aggregate(results)
	s.metrics.AggregatesComputed.Inc()
	s.metrics.ResultsExcluded.Add(float64(agg.Excluded))
	s.writeJSON(w, agg)
}

func (s *server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidStrategy),
		errors.Is(err, pricefeed.ErrNoPriceData):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
