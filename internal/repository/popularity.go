package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	popularityKey = "popularity:materials"
	trendPrefix   = "trend:"
	dayLayout     = "20060102"
)

func trendKey(day time.Time) string {
	return trendPrefix + day.UTC().Format(dayLayout)
}

// RecordInteraction counts one interaction against a material in the
// all-time popularity set and the day's trending bucket.
func (r *Repository) RecordInteraction(ctx context.Context, materialID string, at time.Time) error {
	_, err := guard(r.kv, func() (struct{}, error) {
		day := trendKey(at)
		pipe := r.redis.TxPipeline()
		pipe.ZIncrBy(ctx, popularityKey, 1, materialID)
		pipe.ZIncrBy(ctx, day, 1, materialID)
		pipe.Expire(ctx, day, r.trendRetention)
		if _, err := pipe.Exec(ctx); err != nil {
			return struct{}{}, fmt.Errorf("record interaction for %s: %w", materialID, err)
		}
		return struct{}{}, nil
	})
	return err
}

// GetPopularity returns the material's interaction count normalised by the
// most popular material, in [0,1]. Unknown materials score 0.
func (r *Repository) GetPopularity(ctx context.Context, materialID string) (float64, error) {
	return guard(r.kv, func() (float64, error) {
		pipe := r.redis.Pipeline()
		score := pipe.ZScore(ctx, popularityKey, materialID)
		top := pipe.ZRevRangeWithScores(ctx, popularityKey, 0, 0)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return 0, fmt.Errorf("get popularity for %s: %w", materialID, err)
		}

		s, err := score.Result()
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("get popularity for %s: %w", materialID, err)
		}
		zs := top.Val()
		if len(zs) == 0 || zs[0].Score <= 0 {
			return 0, nil
		}
		return s / zs[0].Score, nil
	})
}

// Trending sums the daily buckets covering window and returns per-material
// scores normalised by the top material.
func (r *Repository) Trending(ctx context.Context, window time.Duration, now time.Time) (map[string]float64, error) {
	return guard(r.kv, func() (map[string]float64, error) {
		days := trendDays(window)
		pipe := r.redis.Pipeline()
		cmds := make([]*redis.ZSliceCmd, 0, days)
		for i := 0; i < days; i++ {
			cmds = append(cmds, pipe.ZRangeWithScores(ctx, trendKey(now.AddDate(0, 0, -i)), 0, -1))
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read trending buckets: %w", err)
		}

		totals := make(map[string]float64)
		for _, cmd := range cmds {
			for _, z := range cmd.Val() {
				id, ok := z.Member.(string)
				if !ok {
					continue
				}
				totals[id] += z.Score
			}
		}
		return normalise(totals), nil
	})
}

func trendDays(window time.Duration) int {
	days := int((window + 24*time.Hour - 1) / (24 * time.Hour))
	if days < 1 {
		return 1
	}
	return days
}

func normalise(totals map[string]float64) map[string]float64 {
	var top float64
	for _, v := range totals {
		if v > top {
			top = v
		}
	}
	out := make(map[string]float64, len(totals))
	for id, v := range totals {
		if top > 0 {
			out[id] = v / top
		} else {
			out[id] = 0
		}
	}
	return out
}
