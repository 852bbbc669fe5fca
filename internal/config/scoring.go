package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/actuallystonmai/material-recommender/internal/model"
	"github.com/actuallystonmai/material-recommender/internal/service"
)

// Scoring is the tunable part of the engine, read from a YAML file. Fields
// left out of the file keep their defaults.
type Scoring struct {
	model.Config `yaml:",inline"`

	MinRelevance   float64           `yaml:"min_relevance"`
	TopN           int               `yaml:"top_n"`
	BreakdownTopN  int               `yaml:"breakdown_top_n"`
	MaxPerAuthor   int               `yaml:"max_per_author"`
	SearchBlend    float64           `yaml:"search_blend"`
	TrendingWindow time.Duration     `yaml:"trending_window"`
	ContextRules   map[string]string `yaml:"context_rules"`
}

func DefaultScoring() Scoring {
	opts := service.DefaultOptions()
	return Scoring{
		Config:         model.DefaultConfig(),
		MinRelevance:   opts.MinRelevance,
		TopN:           opts.TopN,
		BreakdownTopN:  opts.BreakdownTopN,
		MaxPerAuthor:   opts.MaxPerAuthor,
		SearchBlend:    opts.SearchBlend,
		TrendingWindow: opts.TrendingWindow,
		ContextRules:   opts.ContextRules,
	}
}

// LoadScoring reads the scoring file at path. An empty path yields the
// defaults.
func LoadScoring(path string) (Scoring, error) {
	if path == "" {
		return DefaultScoring(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Scoring{}, fmt.Errorf("read scoring config: %w", err)
	}
	return ParseScoring(data)
}

func ParseScoring(data []byte) (Scoring, error) {
	s := DefaultScoring()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Scoring{}, fmt.Errorf("parse scoring config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scoring{}, err
	}
	return s, nil
}

func (s Scoring) Validate() error {
	if err := s.Config.Validate(); err != nil {
		return fmt.Errorf("scoring config: %w", err)
	}
	if s.MinRelevance < 0 || s.MinRelevance > 1 {
		return fmt.Errorf("min_relevance %v outside [0,1]", s.MinRelevance)
	}
	if s.SearchBlend < 0 || s.SearchBlend > 1 {
		return fmt.Errorf("search_blend %v outside [0,1]", s.SearchBlend)
	}
	if s.TopN < 1 || s.BreakdownTopN < 1 {
		return errors.New("top_n and breakdown_top_n must be positive")
	}
	if s.MaxPerAuthor < 0 {
		return fmt.Errorf("max_per_author %d is negative", s.MaxPerAuthor)
	}
	if s.TrendingWindow < time.Hour {
		return fmt.Errorf("trending_window %s shorter than an hour", s.TrendingWindow)
	}
	return nil
}

// Options converts the scoring file into engine options.
func (s Scoring) Options(refreshConcurrency int) service.Options {
	opts := service.DefaultOptions()
	opts.MinRelevance = s.MinRelevance
	opts.TopN = s.TopN
	opts.BreakdownTopN = s.BreakdownTopN
	opts.MaxPerAuthor = s.MaxPerAuthor
	opts.SearchBlend = s.SearchBlend
	opts.TrendingWindow = s.TrendingWindow
	opts.ContextRules = s.ContextRules
	opts.RefreshConcurrency = refreshConcurrency
	return opts
}
