package profile

import (
	"sort"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

const (
	defaultTopN          = 5
	defaultBreakdownTopN = 5
)

type Builder struct {
	TopN          int
	BreakdownTopN int
}

func NewBuilder(topN, breakdownTopN int) *Builder {
	if topN <= 0 {
		topN = defaultTopN
	}
	if breakdownTopN <= 0 {
		breakdownTopN = defaultBreakdownTopN
	}
	return &Builder{TopN: topN, BreakdownTopN: breakdownTopN}
}

// Build derives the profile and contribution breakdown from aggregated
// signals. Output depends only on the tallies, so it is identical for any
// ordering of the same events.
func (b *Builder) Build(userID string, s *Signals) (domain.UserProfile, domain.ContributionBreakdown) {
	counts := make(map[domain.EventType]int, len(s.Counts))
	for t, n := range s.Counts {
		if n > 0 {
			counts[t] = n
		}
	}

	p := domain.UserProfile{
		UserID:              userID,
		PreferredCategories: TopKeys(s.Categories, b.TopN),
		PreferredGrades:     TopKeys(s.Grades, b.TopN),
		PricePreference:     pricePreference(s.PriceBands),
		EventCounts:         counts,
	}
	return p, b.breakdown(s)
}

func (b *Builder) breakdown(s *Signals) domain.ContributionBreakdown {
	out := make(domain.ContributionBreakdown, len(domain.EventTypes)+1)
	types := domain.EventTypes
	if s.Counts[domain.EventUnknown] > 0 {
		types = append(append([]domain.EventType(nil), types...), domain.EventUnknown)
	}
	for _, t := range types {
		w := t.Weights()
		c := domain.EventContribution{
			Count:         s.Counts[t],
			GradeWeight:   w.Grade.Float(),
			SubjectWeight: w.Subject.Float(),
			TopCategories: []string{},
			TopGrades:     []string{},
		}
		if es, ok := s.ByEvent[t]; ok {
			c.TopCategories = TopKeys(es.Categories, b.BreakdownTopN)
			c.TopGrades = TopKeys(es.Grades, b.BreakdownTopN)
		}
		out[t] = c
	}
	return out
}

// TopKeys returns up to n keys ordered by weight descending, ties broken by
// the key in lexical order. Zero weights are dropped.
func TopKeys(tally map[string]domain.Weight, n int) []string {
	keys := make([]string, 0, len(tally))
	for k, w := range tally {
		if w > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		wi, wj := tally[keys[i]], tally[keys[j]]
		if wi != wj {
			return wi > wj
		}
		return keys[i] < keys[j]
	})
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// pricePreference picks the heaviest band. Ties, including the all-zero
// case, resolve medium > low > high.
func pricePreference(bands map[domain.PriceBand]domain.Weight) domain.PriceBand {
	order := domain.PriceBandsByPriority()
	best := order[0]
	for _, b := range order[1:] {
		if bands[b] > bands[best] {
			best = b
		}
	}
	return best
}
