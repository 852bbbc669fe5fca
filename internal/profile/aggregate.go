// Package profile turns a user's interaction history into a ranked
// preference profile.
//
// Aggregation is additive over fixed-point weights, so applying events one
// at a time to an existing Signals value yields exactly the same tallies as
// aggregating the full history in any order.
package profile

import (
	"sort"
	"strings"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

// Signals is the weighted tally state for one user.
type Signals struct {
	Categories map[string]domain.Weight
	Grades     map[string]domain.Weight
	PriceBands map[domain.PriceBand]domain.Weight
	Counts     map[domain.EventType]int
	ByEvent    map[domain.EventType]*EventSignals
}

// EventSignals holds the category and grade tallies contributed by a single
// event type.
type EventSignals struct {
	Categories map[string]domain.Weight
	Grades     map[string]domain.Weight
}

func NewSignals() *Signals {
	return &Signals{
		Categories: make(map[string]domain.Weight),
		Grades:     make(map[string]domain.Weight),
		PriceBands: make(map[domain.PriceBand]domain.Weight),
		Counts:     make(map[domain.EventType]int),
		ByEvent:    make(map[domain.EventType]*EventSignals),
	}
}

// Empty reports whether no event has been recorded at all.
func (s *Signals) Empty() bool {
	for _, n := range s.Counts {
		if n > 0 {
			return false
		}
	}
	return true
}

func (s *Signals) Clone() *Signals {
	out := NewSignals()
	for k, v := range s.Categories {
		out.Categories[k] = v
	}
	for k, v := range s.Grades {
		out.Grades[k] = v
	}
	for k, v := range s.PriceBands {
		out.PriceBands[k] = v
	}
	for k, v := range s.Counts {
		out.Counts[k] = v
	}
	for t, es := range s.ByEvent {
		c := &EventSignals{
			Categories: make(map[string]domain.Weight, len(es.Categories)),
			Grades:     make(map[string]domain.Weight, len(es.Grades)),
		}
		for k, v := range es.Categories {
			c.Categories[k] = v
		}
		for k, v := range es.Grades {
			c.Grades[k] = v
		}
		out.ByEvent[t] = c
	}
	return out
}

func (s *Signals) eventSignals(t domain.EventType) *EventSignals {
	es, ok := s.ByEvent[t]
	if !ok {
		es = &EventSignals{
			Categories: make(map[string]domain.Weight),
			Grades:     make(map[string]domain.Weight),
		}
		s.ByEvent[t] = es
	}
	return es
}

// Catalog resolves the materials referenced by events during aggregation.
type Catalog struct {
	Materials map[string]domain.Material
	// Vocabulary is the set of known categories, used to read signal out of
	// free-text search queries.
	Vocabulary []string
}

func NewCatalog(materials []domain.Material) Catalog {
	byID := make(map[string]domain.Material, len(materials))
	seen := make(map[string]struct{})
	var vocab []string
	for _, m := range materials {
		byID[m.ID] = m
		for _, c := range m.Categories {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			vocab = append(vocab, c)
		}
	}
	sort.Strings(vocab)
	return Catalog{Materials: byID, Vocabulary: vocab}
}

type Aggregator struct {
	Bands domain.PriceBands
}

func NewAggregator(bands domain.PriceBands) *Aggregator {
	return &Aggregator{Bands: bands}
}

// Aggregate tallies a full event history. An empty history yields empty
// Signals, which callers treat as "no signal".
func (a *Aggregator) Aggregate(events []domain.InteractionEvent, catalog Catalog) *Signals {
	s := NewSignals()
	for _, e := range events {
		a.add(s, e, catalog)
	}
	return s
}

// Apply returns a copy of s with one more event folded in. s is not modified.
func (a *Aggregator) Apply(s *Signals, e domain.InteractionEvent, catalog Catalog) *Signals {
	out := s.Clone()
	a.add(out, e, catalog)
	return out
}

func (a *Aggregator) add(s *Signals, e domain.InteractionEvent, catalog Catalog) {
	t := e.EventType
	if !t.Known() {
		t = domain.EventUnknown
	}
	s.Counts[t]++

	w := t.Weights()
	if m, ok := catalog.Materials[e.MaterialID]; ok && e.MaterialID != "" {
		a.addMaterial(s, t, w, m)
		return
	}
	if t == domain.EventSearch && w.Subject > 0 {
		for _, c := range matchQuery(e.Query(), catalog.Vocabulary) {
			s.Categories[c] += w.Subject
			s.eventSignals(t).Categories[c] += w.Subject
		}
	}
}

func (a *Aggregator) addMaterial(s *Signals, t domain.EventType, w domain.EventWeights, m domain.Material) {
	if w.Grade > 0 {
		for _, g := range distinct(m.ClassGrades) {
			s.Grades[g] += w.Grade
			s.eventSignals(t).Grades[g] += w.Grade
		}
	}
	if w.Subject > 0 {
		for _, c := range distinct(m.Categories) {
			s.Categories[c] += w.Subject
			s.eventSignals(t).Categories[c] += w.Subject
		}
		s.PriceBands[a.Bands.Band(m.Price)] += w.Subject
	}
}

func matchQuery(query string, vocabulary []string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []string
	for _, c := range vocabulary {
		if c != "" && strings.Contains(q, strings.ToLower(c)) {
			out = append(out, c)
		}
	}
	return out
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
