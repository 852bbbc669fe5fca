package repository

import (
	"context"
	"testing"
	"time"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

func seeded(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	ctx := context.Background()
	for _, mat := range []domain.Material{
		{ID: "m1", Title: "Fractions", Categories: []string{"math"}, ClassGrades: []string{"4th"}},
		{ID: "m2", Title: "Cells", Categories: []string{"biology", "science"}, ClassGrades: []string{"5th"}},
		{ID: "m3", Title: "Decimals", Categories: []string{"math"}, ClassGrades: []string{"5th"}},
	} {
		if err := m.UpsertMaterial(ctx, mat); err != nil {
			t.Fatalf("UpsertMaterial: %v", err)
		}
	}
	return m
}

func TestMemoryGetMaterialsFilter(t *testing.T) {
	m := seeded(t)
	tests := []struct {
		name   string
		filter domain.MaterialFilter
		want   []string
	}{
		{"all", domain.MaterialFilter{}, []string{"m1", "m2", "m3"}},
		{"category", domain.MaterialFilter{Category: "math"}, []string{"m1", "m3"}},
		{"grade", domain.MaterialFilter{Grade: "5th"}, []string{"m2", "m3"}},
		{"ids", domain.MaterialFilter{IDs: []string{"m3", "m1"}}, []string{"m1", "m3"}},
		{"exclude", domain.MaterialFilter{ExcludeIDs: []string{"m2"}}, []string{"m1", "m3"}},
		{"limit", domain.MaterialFilter{Limit: 1}, []string{"m1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.GetMaterials(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("GetMaterials: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d materials, want %v", len(got), tt.want)
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("position %d = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestMemoryGetMaterialNotFound(t *testing.T) {
	m := seeded(t)
	_, err := m.GetMaterial(context.Background(), "nope")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryCategories(t *testing.T) {
	got, _ := seeded(t).Categories(context.Background())
	want := []string{"biology", "math", "science"}
	if len(got) != len(want) {
		t.Fatalf("Categories = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Categories = %v, want %v", got, want)
		}
	}
}

func TestMemoryPopularity(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		m.RecordInteraction(ctx, "m1", now)
	}
	m.RecordInteraction(ctx, "m2", now)

	if p, _ := m.GetPopularity(ctx, "m1"); p != 1 {
		t.Errorf("m1 popularity = %v, want 1", p)
	}
	if p, _ := m.GetPopularity(ctx, "m2"); p != 0.25 {
		t.Errorf("m2 popularity = %v, want 0.25", p)
	}
	if p, _ := m.GetPopularity(ctx, "m3"); p != 0 {
		t.Errorf("m3 popularity = %v, want 0", p)
	}

	m.SetPopularity("m3", 0.7)
	if p, _ := m.GetPopularity(ctx, "m3"); p != 0.7 {
		t.Errorf("pinned popularity = %v, want 0.7", p)
	}
}

func TestMemoryTrendingWindow(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m.RecordInteraction(ctx, "m1", now.Add(-30*24*time.Hour))
	m.RecordInteraction(ctx, "m1", now.Add(-30*24*time.Hour))
	m.RecordInteraction(ctx, "m2", now.Add(-time.Hour))
	m.RecordInteraction(ctx, "m3", now.Add(-2*time.Hour))
	m.RecordInteraction(ctx, "m3", now.Add(-3*time.Hour))

	got, err := m.Trending(ctx, 7*24*time.Hour, now)
	if err != nil {
		t.Fatalf("Trending: %v", err)
	}
	if _, ok := got["m1"]; ok {
		t.Error("interactions outside the window should not count")
	}
	if got["m3"] != 1 || got["m2"] != 0.5 {
		t.Errorf("Trending = %v", got)
	}
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := seeded(t).GetEvents(ctx, "u1"); err == nil {
		t.Error("expected error on cancelled context")
	}
}

func TestTrendDays(t *testing.T) {
	tests := []struct {
		window time.Duration
		want   int
	}{
		{0, 1},
		{time.Hour, 1},
		{24 * time.Hour, 1},
		{25 * time.Hour, 2},
		{168 * time.Hour, 7},
	}
	for _, tt := range tests {
		if got := trendDays(tt.window); got != tt.want {
			t.Errorf("trendDays(%v) = %d, want %d", tt.window, got, tt.want)
		}
	}
}
