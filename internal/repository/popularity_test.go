package repository

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newRedisRepository(t *testing.T) (*Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { rdb.Close() })
	return New(nil, rdb, DefaultBreakerConfig(), zerolog.Nop()), mr
}

func record(t *testing.T, r *Repository, materialID string, at time.Time, times int) {
	t.Helper()
	for i := 0; i < times; i++ {
		if err := r.RecordInteraction(context.Background(), materialID, at); err != nil {
			t.Fatalf("RecordInteraction %s: %v", materialID, err)
		}
	}
}

func TestRedisPopularityNormalisedByTop(t *testing.T) {
	r, mr := newRedisRepository(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	if got, err := r.GetPopularity(ctx, "a"); err != nil || got != 0 {
		t.Fatalf("empty store: got %v %v, want 0", got, err)
	}

	record(t, r, "a", now, 3)
	record(t, r, "b", now, 1)

	tests := []struct {
		id   string
		want float64
	}{
		{"a", 1},
		{"b", 1.0 / 3.0},
		{"unknown", 0},
	}
	for _, tt := range tests {
		got, err := r.GetPopularity(ctx, tt.id)
		if err != nil {
			t.Fatalf("GetPopularity %s: %v", tt.id, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("popularity %s = %v, want %v", tt.id, got, tt.want)
		}
	}

	if ttl := mr.TTL(trendKey(now)); ttl != defaultTrendRetention {
		t.Errorf("trend bucket TTL = %v, want %v", ttl, defaultTrendRetention)
	}
}

func TestRedisTrendingSumsWindowBuckets(t *testing.T) {
	r, _ := newRedisRepository(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	record(t, r, "a", now, 2)
	record(t, r, "b", now.AddDate(0, 0, -1), 1)
	record(t, r, "b", now.AddDate(0, 0, -2), 3)
	record(t, r, "c", now.AddDate(0, 0, -10), 5)

	got, err := r.Trending(ctx, 72*time.Hour, now)
	if err != nil {
		t.Fatalf("Trending: %v", err)
	}
	want := map[string]float64{"a": 0.5, "b": 1}
	if len(got) != len(want) {
		t.Fatalf("Trending = %v, want %v", got, want)
	}
	for id, w := range want {
		if got[id] != w {
			t.Errorf("trending %s = %v, want %v", id, got[id], w)
		}
	}

	if got, err := r.Trending(ctx, time.Hour, now.AddDate(0, 0, 30)); err != nil || len(got) != 0 {
		t.Errorf("window with no buckets: got %v %v", got, err)
	}
}
