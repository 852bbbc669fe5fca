package domain

import (
	"bytes"
	"strconv"
)

// Factor is a single scoring factor. An unavailable factor was not computed
// and serialises as null rather than zero.
type Factor struct {
	Value     float64
	Available bool
}

func Known(v float64) Factor { return Factor{Value: v, Available: true} }

func Unavailable() Factor { return Factor{} }

func (f Factor) MarshalJSON() ([]byte, error) {
	if !f.Available {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f.Value, 'f', -1, 64), nil
}

func (f *Factor) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Unavailable()
		return nil
	}
	v, err := strconv.ParseFloat(string(bytes.TrimSpace(data)), 64)
	if err != nil {
		return err
	}
	*f = Known(v)
	return nil
}

const (
	FactorCategoryMatch = "category_match"
	FactorGradeMatch    = "grade_match"
	FactorPriceMatch    = "price_match"
	FactorFreshness     = "freshness"
	FactorPopularity    = "popularity"
)

type Factors struct {
	CategoryMatch Factor `json:"category_match"`
	GradeMatch    Factor `json:"grade_match"`
	PriceMatch    Factor `json:"price_match"`
	Freshness     Factor `json:"freshness"`
	Popularity    Factor `json:"popularity"`
}

// Each visits the factors in a fixed order.
func (f Factors) Each(fn func(name string, factor Factor)) {
	fn(FactorCategoryMatch, f.CategoryMatch)
	fn(FactorGradeMatch, f.GradeMatch)
	fn(FactorPriceMatch, f.PriceMatch)
	fn(FactorFreshness, f.Freshness)
	fn(FactorPopularity, f.Popularity)
}

// PopularityOnly is the factor set reported for fallback and trending results.
func PopularityOnly(popularity float64) Factors {
	return Factors{
		CategoryMatch: Unavailable(),
		GradeMatch:    Unavailable(),
		PriceMatch:    Unavailable(),
		Freshness:     Unavailable(),
		Popularity:    Known(popularity),
	}
}

type RecommendationResult struct {
	Material        Material        `json:"material"`
	Score           float64         `json:"score"`
	Factors         Factors         `json:"recommendation_factors"`
	FreshnessBucket FreshnessBucket `json:"freshness_bucket,omitempty"`
	IsFallback      bool            `json:"is_fallback"`
}

type RecommendationSet struct {
	Regular  []RecommendationResult `json:"regular"`
	Fallback []RecommendationResult `json:"fallback"`
}

func (s RecommendationSet) Len() int {
	return len(s.Regular) + len(s.Fallback)
}

// All returns regular results followed by fallback results.
func (s RecommendationSet) All() []RecommendationResult {
	out := make([]RecommendationResult, 0, s.Len())
	out = append(out, s.Regular...)
	return append(out, s.Fallback...)
}

type RecommendationMeta struct {
	CacheHit    bool   `json:"cache_hit"`
	GeneratedAt string `json:"generated_at"`
	TotalCount  int    `json:"total_count"`
}

type Explanation struct {
	UserID          string          `json:"user_id"`
	MaterialID      string          `json:"material_id"`
	Score           float64         `json:"score"`
	IsFallback      bool            `json:"is_fallback"`
	Factors         Factors         `json:"factors"`
	FreshnessBucket FreshnessBucket `json:"freshness_bucket"`
	Narrative       []string        `json:"narrative"`
}

type SetSummary struct {
	Total                 int                     `json:"total"`
	FallbackCount         int                     `json:"fallback_count"`
	Categories            []Count                 `json:"categories"`
	Grades                []Count                 `json:"grades"`
	PriceDistribution     map[PriceBand]int       `json:"price_distribution"`
	FreshnessDistribution map[FreshnessBucket]int `json:"freshness_distribution"`
	AverageFactors        map[string]float64      `json:"average_factors"`
}

type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type RefreshUserResult struct {
	UserID  string `json:"user_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type RefreshSummary struct {
	SuccessCount     int   `json:"success_count"`
	FailedCount      int   `json:"failed_count"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

type RefreshResponse struct {
	Results []RefreshUserResult `json:"results"`
	Summary RefreshSummary      `json:"summary"`
}
