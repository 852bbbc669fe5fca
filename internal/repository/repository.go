// Package repository implements the catalog, event log and popularity
// collaborators. Repository is backed by Postgres and Redis; Memory is an
// in-process implementation used for local runs and tests.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const defaultTrendRetention = 30 * 24 * time.Hour

type Repository struct {
	pool   *pgxpool.Pool
	redis  *redis.Client
	logger zerolog.Logger

	db *gobreaker.CircuitBreaker[any]
	kv *gobreaker.CircuitBreaker[any]

	trendRetention time.Duration
}

func New(pool *pgxpool.Pool, rdb *redis.Client, breaker BreakerConfig, logger zerolog.Logger) *Repository {
	logger = logger.With().Str("component", "repository").Logger()
	return &Repository{
		pool:           pool,
		redis:          rdb,
		logger:         logger,
		db:             newBreaker("postgres", breaker, logger),
		kv:             newBreaker("redis", breaker, logger),
		trendRetention: defaultTrendRetention,
	}
}

// Ping checks connectivity to both backing stores.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
