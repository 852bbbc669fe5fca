package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/actuallystonmai/material-recommender/internal/cache"
	"github.com/actuallystonmai/material-recommender/internal/config"
	"github.com/actuallystonmai/material-recommender/internal/handler"
	"github.com/actuallystonmai/material-recommender/internal/logging"
	"github.com/actuallystonmai/material-recommender/internal/model"
	"github.com/actuallystonmai/material-recommender/internal/repository"
	"github.com/actuallystonmai/material-recommender/internal/router"
	"github.com/actuallystonmai/material-recommender/internal/service"
	"github.com/actuallystonmai/material-recommender/seeds"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	scoring, err := config.LoadScoring(cfg.ScoringPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load scoring config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer cleanup()
	if store == nil {
		return
	}

	scorer, err := model.NewScorer(scoring.Config)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid scoring config")
	}
	profiles := cache.New(cfg.CacheTTL, logger)
	svc, err := service.NewService(store, profiles, scorer, scoring.Options(cfg.RefreshConcurrency), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build service")
	}

	// ---------------- Server --------------------
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Setup(handler.NewHandler(svc, logger), logger, cfg.RequestTimeout),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("store", cfg.Store).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// openStore connects the configured backing store. A nil store with a nil
// error means a one-shot command ran and the process should exit.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (service.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		mem := repository.NewMemory()
		if cfg.Seed {
			if err := seeds.Setup(ctx, mem, time.Now().UTC(), logger); err != nil {
				return nil, func() {}, fmt.Errorf("seed memory store: %w", err)
			}
		}
		return mem, func() {}, nil
	}

	// ------------ PostgreSQL ---------------
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.DBPoolSize)
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, func() {}, fmt.Errorf("connect to database: %w", err)
	}
	if err := waitForDB(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, func() {}, fmt.Errorf("database not ready: %w", err)
	}
	logger.Info().Msg("connected to PostgreSQL")

	// ------------ Redis ---------------
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, func() {}, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	cleanup := func() {
		rdb.Close()
		pool.Close()
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("connected to Redis")

	// ------------ Run Migrations ---------------
	// for migrate-down using CLI command
	if len(os.Args) > 1 && os.Args[1] == "migrate-down" {
		if err := migrate(ctx, pool, "migrations/create_tables.down.sql"); err != nil {
			cleanup()
			return nil, func() {}, err
		}
		logger.Info().Msg("migrations dropped")
		return nil, cleanup, nil
	}
	if err := migrate(ctx, pool, "migrations/create_tables.up.sql"); err != nil {
		cleanup()
		return nil, func() {}, err
	}
	logger.Info().Msg("migrations applied")

	repo := repository.New(pool, rdb, repository.DefaultBreakerConfig(), logger)

	// ------------ Setup Seed Data ---------------
	if cfg.Seed {
		if err := checkSeed(ctx, pool, repo, logger); err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("seed: %w", err)
		}
	}
	return repo, cleanup, nil
}

func waitForDB(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	for i := 0; i < 30; i++ {
		if err := pool.Ping(ctx); err == nil {
			return nil
		}
		logger.Info().Int("attempt", i+1).Msg("waiting for database")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("database connection timeout after 30s")
}

func migrate(ctx context.Context, pool *pgxpool.Pool, path string) error {
	sql, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration file: %w", err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("execute migration %s: %w", path, err)
	}
	return nil
}

func checkSeed(ctx context.Context, pool *pgxpool.Pool, repo *repository.Repository, logger zerolog.Logger) error {
	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM materials").Scan(&count); err != nil {
		return fmt.Errorf("check materials count: %w", err)
	}
	if count > 0 {
		logger.Info().Int("materials", count).Msg("database already seeded, skipping")
		return nil
	}
	return seeds.Setup(ctx, repo, time.Now().UTC(), logger)
}
