package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/actuallystonmai/material-recommender/internal/cache"
	"github.com/actuallystonmai/material-recommender/internal/domain"
	"github.com/actuallystonmai/material-recommender/internal/metrics"
)

// Result is a recommendation set and whether it was served from the cache.
type Result struct {
	Set      domain.RecommendationSet
	CacheHit bool
}

// Recommend returns up to limit personalised materials for the user, topped
// up with popular materials when too few clear the relevance threshold.
func (s *Service) Recommend(ctx context.Context, userID string, limit int) (res *Result, err error) {
	done := metrics.ObserveOperation("recommend")
	defer func() { done(err, errorKind(err)) }()

	limit = clampLimit(limit)
	return s.recommend(ctx, userID, fmt.Sprintf("recommend:%d", limit), limit, func(entry *cache.Entry) ([]domain.Material, error) {
		return s.store.GetMaterials(ctx, domain.MaterialFilter{ExcludeIDs: entry.OwnedIDs()})
	})
}

// RecommendByContext is Recommend restricted to materials suited to the
// season and device in rc. An empty season means the current one.
func (s *Service) RecommendByContext(ctx context.Context, userID string, rc domain.RequestContext, limit int) (res *Result, err error) {
	done := metrics.ObserveOperation("recommend_by_context")
	defer func() { done(err, errorKind(err)) }()

	limit = clampLimit(limit)
	if rc.Season == "" {
		rc.Season = domain.SeasonOf(s.now())
	}
	key := fmt.Sprintf("context:%s:%s:%d", rc.Season, rc.Device, limit)
	return s.recommend(ctx, userID, key, limit, func(entry *cache.Entry) ([]domain.Material, error) {
		candidates, err := s.store.GetMaterials(ctx, domain.MaterialFilter{ExcludeIDs: entry.OwnedIDs()})
		if err != nil {
			return nil, err
		}
		return s.contextFilter.Apply(candidates, rc)
	})
}

// RecommendByCategory is Recommend restricted to one category.
func (s *Service) RecommendByCategory(ctx context.Context, userID, category string, limit int) (res *Result, err error) {
	done := metrics.ObserveOperation("recommend_by_category")
	defer func() { done(err, errorKind(err)) }()

	if category == "" {
		return nil, &domain.ValidationError{Field: "category", Reason: "required"}
	}
	limit = clampLimit(limit)
	return s.recommend(ctx, userID, fmt.Sprintf("category:%s:%d", category, limit), limit, func(entry *cache.Entry) ([]domain.Material, error) {
		return s.store.GetMaterials(ctx, domain.MaterialFilter{Category: category, ExcludeIDs: entry.OwnedIDs()})
	})
}

func (s *Service) recommend(ctx context.Context, userID, key string, limit int, candidatesFor func(*cache.Entry) ([]domain.Material, error)) (*Result, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.AsTimeout("recommend", err)
	}

	entry, _, err := s.entry(ctx, userID)
	if err != nil {
		return nil, err
	}
	if set, ok := entry.Recommendation(key); ok {
		return &Result{Set: set, CacheHit: true}, nil
	}

	candidates, err := candidatesFor(entry)
	if err != nil {
		return nil, collaboratorErr("fetch candidates", err)
	}
	set, err := s.rank(ctx, &entry.Profile, candidates, limit)
	if err != nil {
		return nil, err
	}

	s.profiles.StoreRecommendations(userID, entry.Version, key, set)
	s.logger.Debug().
		Str("user_id", userID).
		Str("key", key).
		Int("regular", len(set.Regular)).
		Int("fallback", len(set.Fallback)).
		Msg("recommendations generated")
	return &Result{Set: set}, nil
}

// rank scores candidates against p and splits them into regular results and
// popularity fallback. A cold-start profile yields only fallback.
func (s *Service) rank(ctx context.Context, p *domain.UserProfile, candidates []domain.Material, limit int) (domain.RecommendationSet, error) {
	valid := s.validCandidates(candidates)
	pops, err := s.popularities(ctx, valid)
	if err != nil {
		return domain.RecommendationSet{}, err
	}

	regular := []domain.RecommendationResult{}
	if !p.IsColdStart() {
		now := s.now()
		scored := make([]domain.RecommendationResult, 0, len(valid))
		for _, m := range valid {
			if err := ctx.Err(); err != nil {
				return domain.RecommendationSet{}, domain.AsTimeout("score candidates", err)
			}
			r := s.scorer.Score(p, m, pops[m.ID], now)
			if r.Score >= s.opts.MinRelevance {
				scored = append(scored, r)
			}
		}
		sortResults(scored)
		regular = diversify(scored, s.opts.MaxPerAuthor, limit)
	}

	used := make(map[string]struct{}, len(regular))
	for _, r := range regular {
		used[r.Material.ID] = struct{}{}
	}
	fallback := fallbackResults(valid, pops, used, limit-len(regular))
	metrics.FallbackItems.Add(float64(len(fallback)))

	if err := ctx.Err(); err != nil {
		return domain.RecommendationSet{}, domain.AsTimeout("rank", err)
	}
	return domain.RecommendationSet{Regular: regular, Fallback: fallback}, nil
}

// validCandidates drops materials that fail validation.
func (s *Service) validCandidates(candidates []domain.Material) []domain.Material {
	out := make([]domain.Material, 0, len(candidates))
	for _, m := range candidates {
		if err := domain.ValidateMaterial(m); err != nil {
			s.logger.Warn().Err(err).Str("material_id", m.ID).Msg("skipping malformed candidate")
			metrics.CandidatesSkipped.Inc()
			continue
		}
		out = append(out, m)
	}
	return out
}

// popularities fetches popularity for every material with bounded fan-out.
func (s *Service) popularities(ctx context.Context, materials []domain.Material) (map[string]float64, error) {
	values := make([]float64, len(materials))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.PopularityConcurrency)
	for i, m := range materials {
		g.Go(func() error {
			p, err := s.store.GetPopularity(gctx, m.ID)
			if err != nil {
				return fmt.Errorf("material %s: %w", m.ID, err)
			}
			values[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, collaboratorErr("fetch popularity", err)
	}

	out := make(map[string]float64, len(materials))
	for i, m := range materials {
		out[m.ID] = values[i]
	}
	return out, nil
}

// sortResults orders by score, then popularity, then material id.
func sortResults(results []domain.RecommendationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return ranksBefore(results[i], results[j])
	})
}

func ranksBefore(a, b domain.RecommendationResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Factors.Popularity.Value != b.Factors.Popularity.Value {
		return a.Factors.Popularity.Value > b.Factors.Popularity.Value
	}
	return a.Material.ID < b.Material.ID
}

// diversify keeps at most perAuthor results from any one author and stops at
// limit. Materials without an author are not capped.
func diversify(sorted []domain.RecommendationResult, perAuthor, limit int) []domain.RecommendationResult {
	out := make([]domain.RecommendationResult, 0, min(limit, len(sorted)))
	seen := make(map[string]int)
	for _, r := range sorted {
		if len(out) == limit {
			break
		}
		if author := r.Material.AuthorID; author != "" && perAuthor > 0 {
			if seen[author] >= perAuthor {
				continue
			}
			seen[author]++
		}
		out = append(out, r)
	}
	return out
}

// fallbackResults picks the n most popular materials not already used.
func fallbackResults(materials []domain.Material, pops map[string]float64, used map[string]struct{}, n int) []domain.RecommendationResult {
	if n <= 0 {
		return []domain.RecommendationResult{}
	}
	pool := make([]domain.Material, 0, len(materials))
	for _, m := range materials {
		if _, ok := used[m.ID]; !ok {
			pool = append(pool, m)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		pi, pj := pops[pool[i].ID], pops[pool[j].ID]
		if pi != pj {
			return pi > pj
		}
		return pool[i].ID < pool[j].ID
	})
	if len(pool) > n {
		pool = pool[:n]
	}

	out := make([]domain.RecommendationResult, 0, len(pool))
	for _, m := range pool {
		out = append(out, popularityResult(m, pops[m.ID]))
	}
	return out
}

func popularityResult(m domain.Material, popularity float64) domain.RecommendationResult {
	p := clamp01(popularity)
	return domain.RecommendationResult{
		Material:   m,
		Score:      p,
		Factors:    domain.PopularityOnly(p),
		IsFallback: true,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// GeneratedAt formats the generation timestamp for response metadata.
func (s *Service) GeneratedAt() string {
	return s.Now().Format(time.RFC3339)
}
