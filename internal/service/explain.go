package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/actuallystonmai/material-recommender/internal/cache"
	"github.com/actuallystonmai/material-recommender/internal/domain"
	"github.com/actuallystonmai/material-recommender/internal/metrics"
	"github.com/actuallystonmai/material-recommender/internal/profile"
)

// Explain scores one material for the user and describes each contributing
// factor. The material is placed the way Recommend would place it: cold-start
// users, materials below the relevance threshold and materials pushed out by
// the author cap are explained as popularity fallback.
func (s *Service) Explain(ctx context.Context, userID, materialID string) (exp *domain.Explanation, err error) {
	done := metrics.ObserveOperation("explain")
	defer func() { done(err, errorKind(err)) }()

	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	m, err := s.store.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, collaboratorErr("fetch material", err)
	}
	entry, _, err := s.entry(ctx, userID)
	if err != nil {
		return nil, err
	}
	pop, err := s.store.GetPopularity(ctx, m.ID)
	if err != nil {
		return nil, collaboratorErr("fetch popularity", err)
	}

	now := s.now()
	r := s.scorer.Score(&entry.Profile, *m, pop, now)
	regular := !entry.Profile.IsColdStart() && r.Score >= s.opts.MinRelevance
	if regular {
		if regular, err = s.withinAuthorCap(ctx, entry, r, now); err != nil {
			return nil, err
		}
	}
	if !regular {
		r = popularityResult(*m, pop)
		r.FreshnessBucket = s.scorer.FreshnessBucket(m.PublishedAt, now)
	}

	return &domain.Explanation{
		UserID:          userID,
		MaterialID:      m.ID,
		Score:           r.Score,
		IsFallback:      r.IsFallback,
		Factors:         r.Factors,
		FreshnessBucket: r.FreshnessBucket,
		Narrative:       s.narrate(&entry.Profile, r),
	}, nil
}

// withinAuthorCap reports whether r survives diversify, i.e. fewer than
// MaxPerAuthor relevant materials by the same author rank ahead of it.
func (s *Service) withinAuthorCap(ctx context.Context, entry *cache.Entry, r domain.RecommendationResult, now time.Time) (bool, error) {
	author := r.Material.AuthorID
	if author == "" || s.opts.MaxPerAuthor == 0 {
		return true, nil
	}
	candidates, err := s.store.GetMaterials(ctx, domain.MaterialFilter{ExcludeIDs: entry.OwnedIDs()})
	if err != nil {
		return false, collaboratorErr("fetch candidates", err)
	}
	var same []domain.Material
	for _, c := range s.validCandidates(candidates) {
		if c.AuthorID == author && c.ID != r.Material.ID {
			same = append(same, c)
		}
	}
	if len(same) < s.opts.MaxPerAuthor {
		return true, nil
	}
	pops, err := s.popularities(ctx, same)
	if err != nil {
		return false, err
	}
	ahead := 0
	for _, c := range same {
		other := s.scorer.Score(&entry.Profile, c, pops[c.ID], now)
		if other.Score >= s.opts.MinRelevance && ranksBefore(other, r) {
			ahead++
		}
	}
	return ahead < s.opts.MaxPerAuthor, nil
}

func (s *Service) narrate(p *domain.UserProfile, r domain.RecommendationResult) []string {
	if r.IsFallback {
		reason := "Not a close match for your preferences, shown as a popular pick"
		if p.IsColdStart() {
			reason = "No interaction history yet, shown as a popular pick"
		}
		return []string{reason, fmt.Sprintf("Popular with other teachers (%.2f)", r.Factors.Popularity.Value)}
	}

	var lines []string
	f := r.Factors
	if f.CategoryMatch.Value > 0 {
		matched := intersect(p.PreferredCategories, r.Material.Categories)
		lines = append(lines, fmt.Sprintf("Covers %d of your preferred categories: %s", len(matched), strings.Join(matched, ", ")))
	}
	if f.GradeMatch.Value > 0 {
		matched := intersect(p.PreferredGrades, r.Material.ClassGrades)
		lines = append(lines, fmt.Sprintf("Fits %d of your preferred grade levels: %s", len(matched), strings.Join(matched, ", ")))
	}

	band := s.scorer.PriceBand(r.Material)
	switch f.PriceMatch.Value {
	case 1:
		lines = append(lines, fmt.Sprintf("Priced in your usual %s range", band))
	case 0.5:
		lines = append(lines, fmt.Sprintf("Priced %s, next to your usual %s range", band, p.PricePreference))
	}

	switch r.FreshnessBucket {
	case domain.FreshnessRecent:
		lines = append(lines, "Recently published")
	case domain.FreshnessStandard:
		lines = append(lines, "Published within the last year")
	default:
		lines = append(lines, "Older material")
	}

	if f.Popularity.Value > 0 {
		lines = append(lines, fmt.Sprintf("Popular with other teachers (%.2f)", f.Popularity.Value))
	}
	return lines
}

// intersect returns the preferred values present in values, in preference
// order.
func intersect(preferred, values []string) []string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	var out []string
	for _, p := range preferred {
		if _, ok := set[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Summarize describes the composition of a recommendation set.
func (s *Service) Summarize(set domain.RecommendationSet) domain.SetSummary {
	now := s.now()
	all := set.All()
	sum := domain.SetSummary{
		Total:                 len(all),
		FallbackCount:         len(set.Fallback),
		PriceDistribution:     make(map[domain.PriceBand]int),
		FreshnessDistribution: make(map[domain.FreshnessBucket]int),
		AverageFactors:        make(map[string]float64),
	}

	categories := make(map[string]int)
	grades := make(map[string]int)
	totals := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range all {
		for _, c := range distinctValues(r.Material.Categories) {
			categories[c]++
		}
		for _, g := range distinctValues(r.Material.ClassGrades) {
			grades[g]++
		}
		sum.PriceDistribution[s.scorer.PriceBand(r.Material)]++

		bucket := r.FreshnessBucket
		if bucket == "" {
			bucket = s.scorer.FreshnessBucket(r.Material.PublishedAt, now)
		}
		sum.FreshnessDistribution[bucket]++

		r.Factors.Each(func(name string, f domain.Factor) {
			if f.Available {
				totals[name] += f.Value
				counts[name]++
			}
		})
	}
	for name, total := range totals {
		sum.AverageFactors[name] = roundScore(total / float64(counts[name]))
	}
	sum.Categories = topCounts(categories, s.opts.BreakdownTopN)
	sum.Grades = topCounts(grades, s.opts.BreakdownTopN)
	return sum
}

func topCounts(tally map[string]int, n int) []domain.Count {
	weights := make(map[string]domain.Weight, len(tally))
	for k, v := range tally {
		weights[k] = domain.Weight(v)
	}
	if n <= 0 {
		n = len(tally)
	}
	keys := profile.TopKeys(weights, n)
	out := make([]domain.Count, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.Count{Name: k, Count: tally[k]})
	}
	return out
}

func distinctValues(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
