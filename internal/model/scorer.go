package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

// Weights is the linear blend applied to the five factors. It must sum to 1.
type Weights struct {
	CategoryMatch float64 `yaml:"category_match" json:"category_match"`
	GradeMatch    float64 `yaml:"grade_match" json:"grade_match"`
	PriceMatch    float64 `yaml:"price_match" json:"price_match"`
	Freshness     float64 `yaml:"freshness" json:"freshness"`
	Popularity    float64 `yaml:"popularity" json:"popularity"`
}

const weightTolerance = 1e-6

func (w Weights) Validate() error {
	all := []float64{w.CategoryMatch, w.GradeMatch, w.PriceMatch, w.Freshness, w.Popularity}
	sum := 0.0
	for _, v := range all {
		if v < 0 || math.IsNaN(v) {
			return errors.New("weights must be non-negative")
		}
		sum += v
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1, got %.6f", sum)
	}
	for _, v := range []float64{w.PriceMatch, w.Freshness, w.Popularity} {
		if v > w.CategoryMatch || v > w.GradeMatch {
			return errors.New("category and grade weights must be the largest")
		}
	}
	for _, v := range []float64{w.CategoryMatch, w.GradeMatch, w.PriceMatch, w.Freshness} {
		if w.Popularity > v {
			return errors.New("popularity weight must be the smallest")
		}
	}
	return nil
}

type FreshnessConfig struct {
	HalfLifeDays float64 `yaml:"half_life_days" json:"half_life_days"`
	// Floor is the value very old materials decay towards. It keeps them
	// retrievable.
	Floor        float64 `yaml:"floor" json:"floor"`
	RecentDays   int     `yaml:"recent_days" json:"recent_days"`
	StandardDays int     `yaml:"standard_days" json:"standard_days"`
}

type Config struct {
	Weights    Weights           `yaml:"weights" json:"weights"`
	PriceBands domain.PriceBands `yaml:"price_bands" json:"price_bands"`
	Freshness  FreshnessConfig   `yaml:"freshness" json:"freshness"`
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			CategoryMatch: 0.30,
			GradeMatch:    0.30,
			PriceMatch:    0.15,
			Freshness:     0.15,
			Popularity:    0.10,
		},
		PriceBands: domain.PriceBands{LowMax: 2, MediumMax: 7},
		Freshness: FreshnessConfig{
			HalfLifeDays: 180,
			Floor:        0.2,
			RecentDays:   90,
			StandardDays: 365,
		},
	}
}

func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.PriceBands.LowMax < 0 || c.PriceBands.MediumMax <= c.PriceBands.LowMax {
		return errors.New("price bands must satisfy 0 <= low_max < medium_max")
	}
	f := c.Freshness
	if f.HalfLifeDays <= 0 {
		return errors.New("freshness half life must be positive")
	}
	if f.Floor <= 0 || f.Floor >= 1 {
		return errors.New("freshness floor must be in (0, 1)")
	}
	if f.RecentDays <= 0 || f.StandardDays <= f.RecentDays {
		return errors.New("freshness buckets must satisfy 0 < recent_days < standard_days")
	}
	return nil
}

// Scorer computes the five recommendation factors for a material. It is
// stateless and safe for concurrent use.
type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scoring config: %w", err)
	}
	return &Scorer{cfg: cfg}, nil
}

func (s *Scorer) Config() Config { return s.cfg }

// Score rates material against the profile. popularity is the catalog-wide
// popularity figure for the material.
func (s *Scorer) Score(profile *domain.UserProfile, m domain.Material, popularity float64, now time.Time) domain.RecommendationResult {
	var cats, grades []string
	price := domain.PriceMedium
	if profile != nil {
		cats, grades, price = profile.PreferredCategories, profile.PreferredGrades, profile.PricePreference
	}

	factors := domain.Factors{
		CategoryMatch: domain.Known(rankMatch(cats, m.Categories)),
		GradeMatch:    domain.Known(rankMatch(grades, m.ClassGrades)),
		PriceMatch:    domain.Known(priceMatch(price, s.PriceBand(m))),
		Freshness:     domain.Known(s.freshness(m.PublishedAt, now)),
		Popularity:    domain.Known(clamp01(popularity)),
	}
	return domain.RecommendationResult{
		Material:        m,
		Score:           s.Combine(factors),
		Factors:         factors,
		FreshnessBucket: s.FreshnessBucket(m.PublishedAt, now),
	}
}

// Similarity rates candidate against source using set overlap instead of a
// user profile.
func (s *Scorer) Similarity(source, candidate domain.Material, popularity float64, now time.Time) domain.RecommendationResult {
	factors := domain.Factors{
		CategoryMatch: domain.Known(jaccard(source.Categories, candidate.Categories)),
		GradeMatch:    domain.Known(jaccard(source.ClassGrades, candidate.ClassGrades)),
		PriceMatch:    domain.Known(priceMatch(s.PriceBand(source), s.PriceBand(candidate))),
		Freshness:     domain.Known(s.freshness(candidate.PublishedAt, now)),
		Popularity:    domain.Known(clamp01(popularity)),
	}
	return domain.RecommendationResult{
		Material:        candidate,
		Score:           s.Combine(factors),
		Factors:         factors,
		FreshnessBucket: s.FreshnessBucket(candidate.PublishedAt, now),
	}
}

// Combine applies the weight vector. Unavailable factors contribute nothing.
func (s *Scorer) Combine(f domain.Factors) float64 {
	w := s.cfg.Weights
	score := w.CategoryMatch*f.CategoryMatch.Value +
		w.GradeMatch*f.GradeMatch.Value +
		w.PriceMatch*f.PriceMatch.Value +
		w.Freshness*f.Freshness.Value +
		w.Popularity*f.Popularity.Value
	return math.Round(clamp01(score)*10000) / 10000 // 4 decimal places
}

func (s *Scorer) PriceBand(m domain.Material) domain.PriceBand {
	return s.cfg.PriceBands.Band(m.Price)
}

func (s *Scorer) FreshnessBucket(publishedAt, now time.Time) domain.FreshnessBucket {
	days := ageDays(publishedAt, now)
	switch {
	case days < float64(s.cfg.Freshness.RecentDays):
		return domain.FreshnessRecent
	case days < float64(s.cfg.Freshness.StandardDays):
		return domain.FreshnessStandard
	default:
		return domain.FreshnessOlder
	}
}

func (s *Scorer) freshness(publishedAt, now time.Time) float64 {
	f := s.cfg.Freshness
	decay := math.Exp2(-ageDays(publishedAt, now) / f.HalfLifeDays)
	return f.Floor + (1-f.Floor)*decay
}

func ageDays(publishedAt, now time.Time) float64 {
	if publishedAt.IsZero() {
		return math.Inf(1)
	}
	days := now.Sub(publishedAt).Hours() / 24.0
	if days < 0 {
		return 0
	}
	return days
}

// rankMatch is the share of values found in preferred, each hit weighted by
// 1/(rank+1) so earlier preferences count more.
func rankMatch(preferred, values []string) float64 {
	values = distinct(values)
	if len(preferred) == 0 || len(values) == 0 {
		return 0
	}
	rank := make(map[string]int, len(preferred))
	for i, p := range preferred {
		if _, ok := rank[p]; !ok {
			rank[p] = i
		}
	}
	sum := 0.0
	for _, v := range values {
		if r, ok := rank[v]; ok {
			sum += 1.0 / float64(r+1)
		}
	}
	return clamp01(sum / float64(len(values)))
}

func jaccard(a, b []string) float64 {
	a, b = distinct(a), distinct(b)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	inter := 0
	for _, v := range b {
		if _, ok := set[v]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func priceMatch(preferred, actual domain.PriceBand) float64 {
	switch preferred.Distance(actual) {
	case 0:
		return 1.0
	case 1:
		return 0.5
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func distinct(values []string) []string {
	if len(values) < 2 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
