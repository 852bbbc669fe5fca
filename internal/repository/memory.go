package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

type interaction struct {
	materialID string
	at         time.Time
}

// Memory keeps the catalog, event log and popularity counters in process.
// It is safe for concurrent use.
type Memory struct {
	mu           sync.RWMutex
	materials    map[string]domain.Material
	events       map[string][]domain.InteractionEvent
	counts       map[string]float64
	popularity   map[string]float64
	interactions []interaction
}

func NewMemory() *Memory {
	return &Memory{
		materials:  make(map[string]domain.Material),
		events:     make(map[string][]domain.InteractionEvent),
		counts:     make(map[string]float64),
		popularity: make(map[string]float64),
	}
}

func (m *Memory) UpsertMaterial(_ context.Context, mat domain.Material) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.materials[mat.ID] = mat
	return nil
}

// SetPopularity pins a material's popularity, overriding the value derived
// from recorded interactions.
func (m *Memory) SetPopularity(materialID string, p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.popularity[materialID] = p
}

func (m *Memory) GetMaterials(ctx context.Context, f domain.MaterialFilter) ([]domain.Material, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Material, 0, len(m.materials))
	for _, mat := range m.materials {
		if f.Category != "" && !slices.Contains(mat.Categories, f.Category) {
			continue
		}
		if f.Grade != "" && !slices.Contains(mat.ClassGrades, f.Grade) {
			continue
		}
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, mat.ID) {
			continue
		}
		if slices.Contains(f.ExcludeIDs, mat.ID) {
			continue
		}
		out = append(out, mat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) GetMaterial(ctx context.Context, id string) (*domain.Material, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	mat, ok := m.materials[id]
	if !ok {
		return nil, domain.MaterialNotFound(id)
	}
	return &mat, nil
}

func (m *Memory) Categories(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, mat := range m.materials {
		for _, c := range mat.Categories {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) GetEvents(ctx context.Context, userID string) ([]domain.InteractionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events[userID]), nil
}

func (m *Memory) AppendEvent(ctx context.Context, e domain.InteractionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.UserID] = append(m.events[e.UserID], e)
	return nil
}

func (m *Memory) UserIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.events))
	for id := range m.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) RecordInteraction(ctx context.Context, materialID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[materialID]++
	m.interactions = append(m.interactions, interaction{materialID: materialID, at: at})
	return nil
}

func (m *Memory) GetPopularity(ctx context.Context, materialID string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.popularity[materialID]; ok {
		return p, nil
	}
	return normalise(m.counts)[materialID], nil
}

func (m *Memory) Trending(ctx context.Context, window time.Duration, now time.Time) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	since := now.Add(-window)
	totals := make(map[string]float64)
	for _, in := range m.interactions {
		if in.at.After(since) && !in.at.After(now) {
			totals[in.materialID]++
		}
	}
	return normalise(totals), nil
}
