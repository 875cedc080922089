package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bikeshrana/sim-exchange-core/internal/api"
	"github.com/bikeshrana/sim-exchange-core/internal/audit"
	"github.com/bikeshrana/sim-exchange-core/internal/circuitbreaker"
	"github.com/bikeshrana/sim-exchange-core/internal/conditional"
	"github.com/bikeshrana/sim-exchange-core/internal/config"
	"github.com/bikeshrana/sim-exchange-core/internal/events"
	"github.com/bikeshrana/sim-exchange-core/internal/execution"
	"github.com/bikeshrana/sim-exchange-core/internal/human"
	"github.com/bikeshrana/sim-exchange-core/internal/intake"
	"github.com/bikeshrana/sim-exchange-core/internal/margin"
	"github.com/bikeshrana/sim-exchange-core/internal/metrics"
	"github.com/bikeshrana/sim-exchange-core/internal/pricefeed"
	"github.com/bikeshrana/sim-exchange-core/internal/store"
)

func main() {
	var exitCode int
	defer func() { os.Exit(exitCode) }()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitCode = 1
	}
}

func run() error {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("sim-exchange-core trading engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	bus := events.NewBus(cfg.Trading.EventBusBuffer, logger)
	defer bus.Close()
	logger.Info().Int("buffer_size", cfg.Trading.EventBusBuffer).Msg("event bus created")

	cbManager := circuitbreaker.NewManager(logger)
	appMetrics := metrics.New("sim_exchange")

	pool, err := pgxpool.New(ctx, cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	db := store.NewPGStore(pool, logger, appMetrics, cbManager)
	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	logger.Info().Msg("store ready")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	prices := pricefeed.NewPriceStore(rdb, bus, logger, cbManager)
	cache := pricefeed.NewOrderBookCache(rdb, logger)

	executor := execution.NewExecutor(db, prices, bus, nil)
	worker := execution.NewWorker(db, executor, logger, cfg.Trading.ExecutorWorkers)

	intakeSvc := intake.NewService(db, prices, cache, bus, logger, cfg.Trading.IdempotencyTTL)

	condMatcher := conditional.NewMatcher(db, cache, executor, bus, logger)
	humanMatcher := human.NewMatcher(db, prices, bus, db, logger, cfg.Trading.HumanMatchPeriod)
	marginWatcher := margin.NewWatcher(db, prices, bus, logger)

	sink := audit.NewSink(db, bus, logger, 2*time.Second)

	server := api.NewServer(&cfg.Server, intakeSvc, appMetrics, logger)

	for _, bg := range []func(context.Context){
		worker.Run,
		condMatcher.Run,
		humanMatcher.Run,
		marginWatcher.Run,
		sink.Run,
	} {
		go bg(ctx)
	}
	logger.Info().Msg("background components started")

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-serverErrChan:
		logger.Error().Err(err).Msg("server error")
		cancel()
		return err
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down http server")
	}
	cancel() // stops worker/matcher/watcher/sink loops

	for ch, m := range bus.Metrics() {
		logger.Info().Str("channel", string(ch)).Int64("published", m.Published).Int64("dropped", m.Dropped).Msg("event bus metrics")
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: cfg.TimeFormat}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
