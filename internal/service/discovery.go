package service

import (
	"context"
	"math"
	"sort"

	"github.com/actuallystonmai/material-recommender/internal/domain"
	"github.com/actuallystonmai/material-recommender/internal/metrics"
)

// SimilarMaterials returns materials that share categories or grades with
// the given one, best match first.
func (s *Service) SimilarMaterials(ctx context.Context, materialID string, limit int) (out []domain.RecommendationResult, err error) {
	done := metrics.ObserveOperation("similar_materials")
	defer func() { done(err, errorKind(err)) }()

	limit = clampLimit(limit)
	source, err := s.store.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, collaboratorErr("fetch material", err)
	}
	candidates, err := s.store.GetMaterials(ctx, domain.MaterialFilter{ExcludeIDs: []string{materialID}})
	if err != nil {
		return nil, collaboratorErr("fetch candidates", err)
	}
	valid := s.validCandidates(candidates)
	pops, err := s.popularities(ctx, valid)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out = make([]domain.RecommendationResult, 0, len(valid))
	for _, m := range valid {
		r := s.scorer.Similarity(*source, m, pops[m.ID], now)
		if r.Factors.CategoryMatch.Value == 0 && r.Factors.GradeMatch.Value == 0 {
			continue
		}
		out = append(out, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.AsTimeout("similar materials", err)
	}
	sortResults(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TrendingMaterials ranks materials by interaction volume over the trending
// window, optionally narrowed to a grade and category.
func (s *Service) TrendingMaterials(ctx context.Context, grade, category string, limit int) (out []domain.RecommendationResult, err error) {
	done := metrics.ObserveOperation("trending_materials")
	defer func() { done(err, errorKind(err)) }()

	limit = clampLimit(limit)
	trend, err := s.store.Trending(ctx, s.opts.TrendingWindow, s.now())
	if err != nil {
		return nil, collaboratorErr("fetch trending", err)
	}
	candidates, err := s.store.GetMaterials(ctx, domain.MaterialFilter{Grade: grade, Category: category})
	if err != nil {
		return nil, collaboratorErr("fetch candidates", err)
	}

	valid := s.validCandidates(candidates)
	sort.SliceStable(valid, func(i, j int) bool {
		ti, tj := trend[valid[i].ID], trend[valid[j].ID]
		if ti != tj {
			return ti > tj
		}
		return valid[i].ID < valid[j].ID
	})
	if len(valid) > limit {
		valid = valid[:limit]
	}

	out = make([]domain.RecommendationResult, 0, len(valid))
	for _, m := range valid {
		r := popularityResult(m, trend[m.ID])
		r.IsFallback = false
		out = append(out, r)
	}
	return out, nil
}

// PersonalizeSearchResults re-ranks search hits by blending the engine score
// with the original position. Equal blends keep their original order, and a
// cold-start user gets the original order back. Each result keeps its combined
// score; the blend only decides the order.
func (s *Service) PersonalizeSearchResults(ctx context.Context, userID string, results []domain.Material, limit int) (out []domain.RecommendationResult, err error) {
	done := metrics.ObserveOperation("personalize_search")
	defer func() { done(err, errorKind(err)) }()

	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}

	entry, _, err := s.entry(ctx, userID)
	if err != nil {
		return nil, err
	}
	valid := s.validCandidates(results)
	pops, err := s.popularities(ctx, valid)
	if err != nil {
		return nil, err
	}

	type blended struct {
		result domain.RecommendationResult
		value  float64
	}
	var (
		now   = s.now()
		alpha = s.opts.SearchBlend
		n     = float64(len(valid))
		cold  = entry.Profile.IsColdStart()
		items = make([]blended, 0, len(valid))
	)
	for i, m := range valid {
		r := s.scorer.Score(&entry.Profile, m, pops[m.ID], now)
		position := 1 - float64(i)/n
		value := position
		if !cold {
			value = alpha*r.Score + (1-alpha)*position
		}
		items = append(items, blended{result: r, value: value})
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.AsTimeout("personalize search", err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].value > items[j].value
	})
	if len(items) > limit {
		items = items[:limit]
	}
	out = make([]domain.RecommendationResult, len(items))
	for i, it := range items {
		out[i] = it.result
	}
	return out, nil
}

func roundScore(v float64) float64 {
	return math.Round(v*10000) / 10000
}
