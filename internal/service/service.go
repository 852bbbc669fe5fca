package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/actuallystonmai/material-recommender/internal/cache"
	"github.com/actuallystonmai/material-recommender/internal/domain"
	"github.com/actuallystonmai/material-recommender/internal/filter"
	"github.com/actuallystonmai/material-recommender/internal/metrics"
	"github.com/actuallystonmai/material-recommender/internal/model"
	"github.com/actuallystonmai/material-recommender/internal/profile"
)

const (
	defaultLimit = 10
	maxLimit     = 50
)

// Catalog is the read side of the material catalog.
type Catalog interface {
	GetMaterials(ctx context.Context, f domain.MaterialFilter) ([]domain.Material, error)
	GetMaterial(ctx context.Context, id string) (*domain.Material, error)
	GetPopularity(ctx context.Context, materialID string) (float64, error)
	Categories(ctx context.Context) ([]string, error)
}

// EventLog stores user interaction history.
type EventLog interface {
	GetEvents(ctx context.Context, userID string) ([]domain.InteractionEvent, error)
	AppendEvent(ctx context.Context, e domain.InteractionEvent) error
	UserIDs(ctx context.Context) ([]string, error)
}

// Stats tracks interaction counts for popularity and trending.
type Stats interface {
	RecordInteraction(ctx context.Context, materialID string, at time.Time) error
	Trending(ctx context.Context, window time.Duration, now time.Time) (map[string]float64, error)
}

type Store interface {
	Catalog
	EventLog
	Stats
}

type Options struct {
	// MinRelevance is the lowest combined score that qualifies as a regular
	// recommendation.
	MinRelevance float64
	// MaxPerAuthor caps regular results per author. Zero disables the cap.
	MaxPerAuthor  int
	TopN          int
	BreakdownTopN int
	// SearchBlend is the weight of the engine score when re-ranking search
	// results; the rest goes to the original search position.
	SearchBlend           float64
	TrendingWindow        time.Duration
	RefreshConcurrency    int
	PopularityConcurrency int
	ContextRules          map[string]string
}

func DefaultOptions() Options {
	return Options{
		MinRelevance:          0.45,
		MaxPerAuthor:          4,
		TopN:                  5,
		BreakdownTopN:         5,
		SearchBlend:           0.5,
		TrendingWindow:        7 * 24 * time.Hour,
		RefreshConcurrency:    10,
		PopularityConcurrency: 16,
		ContextRules:          filter.DefaultRules(),
	}
}

type Service struct {
	store         Store
	profiles      *cache.ProfileCache
	scorer        *model.Scorer
	aggregator    *profile.Aggregator
	builder       *profile.Builder
	contextFilter *filter.ContextFilter
	opts          Options
	now           func() time.Time
	logger        zerolog.Logger
}

func NewService(store Store, profiles *cache.ProfileCache, scorer *model.Scorer, opts Options, logger zerolog.Logger) (*Service, error) {
	def := DefaultOptions()
	if opts.MaxPerAuthor < 0 {
		return nil, fmt.Errorf("max per author %d is negative", opts.MaxPerAuthor)
	}
	if opts.RefreshConcurrency <= 0 {
		opts.RefreshConcurrency = def.RefreshConcurrency
	}
	if opts.PopularityConcurrency <= 0 {
		opts.PopularityConcurrency = def.PopularityConcurrency
	}
	if opts.TrendingWindow <= 0 {
		opts.TrendingWindow = def.TrendingWindow
	}
	if opts.SearchBlend < 0 || opts.SearchBlend > 1 {
		return nil, fmt.Errorf("search blend %v outside [0,1]", opts.SearchBlend)
	}
	if opts.MinRelevance < 0 || opts.MinRelevance > 1 {
		return nil, fmt.Errorf("min relevance %v outside [0,1]", opts.MinRelevance)
	}
	if opts.ContextRules == nil {
		opts.ContextRules = def.ContextRules
	}

	cf, err := filter.NewContextFilter(opts.ContextRules)
	if err != nil {
		return nil, fmt.Errorf("context filter: %w", err)
	}

	return &Service{
		store:         store,
		profiles:      profiles,
		scorer:        scorer,
		aggregator:    profile.NewAggregator(scorer.Config().PriceBands),
		builder:       profile.NewBuilder(opts.TopN, opts.BreakdownTopN),
		contextFilter: cf,
		opts:          opts,
		now:           time.Now,
		logger:        logger.With().Str("component", "service").Logger(),
	}, nil
}

// SetClock replaces the time source. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// ProfileView is a user's profile together with the per-event-type account
// of how it was built.
type ProfileView struct {
	Profile   domain.UserProfile           `json:"profile"`
	Breakdown domain.ContributionBreakdown `json:"breakdown"`
	CacheHit  bool                         `json:"cache_hit"`
}

func (s *Service) GetProfile(ctx context.Context, userID string) (view *ProfileView, err error) {
	done := metrics.ObserveOperation("get_profile")
	defer func() { done(err, errorKind(err)) }()

	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	entry, hit, err := s.entry(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &ProfileView{Profile: entry.Profile, Breakdown: entry.Breakdown, CacheHit: hit}, nil
}

// entry returns the user's cached state, rebuilding it from the event log on
// a miss.
func (s *Service) entry(ctx context.Context, userID string) (*cache.Entry, bool, error) {
	e, err := s.profiles.Get(userID)
	if err != nil {
		return nil, false, err
	}
	if e != nil {
		return e, true, nil
	}

	unlock := s.profiles.Lock(userID)
	defer unlock()

	// Another caller may have rebuilt it while we waited.
	if e, err = s.profiles.Get(userID); err != nil || e != nil {
		return e, e != nil, err
	}
	e, err = s.rebuild(ctx, userID)
	return e, false, err
}

// rebuild recomputes a user's profile from the full event log and stores it.
// The caller must hold the user's lock.
func (s *Service) rebuild(ctx context.Context, userID string) (*cache.Entry, error) {
	events, err := s.store.GetEvents(ctx, userID)
	if err != nil {
		return nil, collaboratorErr("fetch events", err)
	}
	catalog, err := s.catalogFor(ctx, events)
	if err != nil {
		return nil, err
	}

	signals := s.aggregator.Aggregate(events, catalog)
	p, breakdown := s.builder.Build(userID, signals)

	owned := make(map[string]struct{})
	for _, e := range events {
		if e.MaterialID != "" && e.EventType.Owns() {
			owned[e.MaterialID] = struct{}{}
		}
	}

	return s.profiles.Put(&cache.Entry{
		UserID:    userID,
		Profile:   p,
		Breakdown: breakdown,
		Signals:   signals,
		Owned:     owned,
	})
}

// catalogFor loads the materials referenced by events and, when any search
// carries a query, the category vocabulary.
func (s *Service) catalogFor(ctx context.Context, events []domain.InteractionEvent) (profile.Catalog, error) {
	seen := make(map[string]struct{})
	var ids []string
	needVocab := false
	for _, e := range events {
		if e.MaterialID != "" {
			if _, ok := seen[e.MaterialID]; !ok {
				seen[e.MaterialID] = struct{}{}
				ids = append(ids, e.MaterialID)
			}
		}
		if e.EventType == domain.EventSearch && e.Query() != "" {
			needVocab = true
		}
	}

	var (
		materials []domain.Material
		vocab     []string
	)
	g, gctx := errgroup.WithContext(ctx)
	if len(ids) > 0 {
		g.Go(func() error {
			var err error
			materials, err = s.store.GetMaterials(gctx, domain.MaterialFilter{IDs: ids})
			return collaboratorErr("fetch event materials", err)
		})
	}
	if needVocab {
		g.Go(func() error {
			var err error
			vocab, err = s.store.Categories(gctx)
			return collaboratorErr("fetch categories", err)
		})
	}
	if err := g.Wait(); err != nil {
		return profile.Catalog{}, err
	}

	catalog := profile.NewCatalog(materials)
	catalog.Vocabulary = vocab
	return catalog, nil
}

// UpdateUserProfile records one interaction and folds it into the user's
// cached profile. A user with nothing cached is rebuilt from the log.
func (s *Service) UpdateUserProfile(ctx context.Context, e domain.InteractionEvent) (p *domain.UserProfile, err error) {
	done := metrics.ObserveOperation("update_profile")
	defer func() { done(err, errorKind(err)) }()

	if e.EventType != "" && !e.EventType.Known() {
		e.EventType = domain.ParseEventType(string(e.EventType))
	}
	if err := domain.ValidateEvent(e); err != nil {
		return nil, err
	}

	var material *domain.Material
	if e.MaterialID != "" {
		if material, err = s.store.GetMaterial(ctx, e.MaterialID); err != nil {
			if domain.IsNotFound(err) {
				return nil, err
			}
			return nil, collaboratorErr("fetch material", err)
		}
	}

	unlock := s.profiles.Lock(e.UserID)
	defer unlock()

	if err := s.store.AppendEvent(ctx, e); err != nil {
		return nil, collaboratorErr("append event", err)
	}
	if material != nil {
		if err := s.store.RecordInteraction(ctx, material.ID, e.Timestamp); err != nil {
			s.logger.Warn().Err(err).Str("material_id", material.ID).Msg("failed to record interaction")
		}
	}

	cur, err := s.profiles.Get(e.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", e.UserID).Msg("discarding inconsistent cache entry")
		s.profiles.Invalidate(e.UserID)
		cur = nil
	}

	var next *cache.Entry
	if cur == nil {
		next, err = s.rebuild(ctx, e.UserID)
	} else {
		next, err = s.applyEvent(ctx, cur, e, material)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug().Str("user_id", e.UserID).Str("event_type", string(e.EventType)).Bool("incremental", cur != nil).Msg("profile updated")
	out := next.Profile
	return &out, nil
}

func (s *Service) applyEvent(ctx context.Context, cur *cache.Entry, e domain.InteractionEvent, material *domain.Material) (*cache.Entry, error) {
	catalog := profile.Catalog{Materials: map[string]domain.Material{}}
	if material != nil {
		catalog.Materials[material.ID] = *material
	}
	if e.EventType == domain.EventSearch && e.Query() != "" {
		vocab, err := s.store.Categories(ctx)
		if err != nil {
			return nil, collaboratorErr("fetch categories", err)
		}
		catalog.Vocabulary = vocab
	}

	signals := s.aggregator.Apply(cur.Signals, e, catalog)
	p, breakdown := s.builder.Build(cur.UserID, signals)

	owned := make(map[string]struct{}, len(cur.Owned)+1)
	for id := range cur.Owned {
		owned[id] = struct{}{}
	}
	if e.MaterialID != "" && e.EventType.Owns() {
		owned[e.MaterialID] = struct{}{}
	}

	return s.profiles.Put(&cache.Entry{
		UserID:    cur.UserID,
		Profile:   p,
		Breakdown: breakdown,
		Signals:   signals,
		Owned:     owned,
	})
}

// RefreshCache rebuilds the given users' profiles from the event log, or all
// users with history when userIDs is empty. Failures are reported per user.
func (s *Service) RefreshCache(ctx context.Context, userIDs []string) (resp *domain.RefreshResponse, err error) {
	done := metrics.ObserveOperation("refresh_cache")
	defer func() { done(err, errorKind(err)) }()

	start := time.Now()
	if len(userIDs) == 0 {
		if userIDs, err = s.store.UserIDs(ctx); err != nil {
			return nil, collaboratorErr("fetch user ids", err)
		}
	}

	results := make([]domain.RefreshUserResult, len(userIDs))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.RefreshConcurrency)
	for i, userID := range userIDs {
		g.Go(func() error {
			results[i] = s.refreshUser(ctx, userID)
			return nil
		})
	}
	_ = g.Wait()

	resp = &domain.RefreshResponse{Results: results}
	for _, r := range results {
		if r.Status == domain.StatusSuccess {
			resp.Summary.SuccessCount++
		} else {
			resp.Summary.FailedCount++
		}
	}
	resp.Summary.ProcessingTimeMs = time.Since(start).Milliseconds()

	s.logger.Info().
		Int("users", len(userIDs)).
		Int("failed", resp.Summary.FailedCount).
		Int64("duration_ms", resp.Summary.ProcessingTimeMs).
		Msg("profile cache refreshed")
	return resp, nil
}

func (s *Service) refreshUser(ctx context.Context, userID string) domain.RefreshUserResult {
	unlock := s.profiles.Lock(userID)
	defer unlock()

	if _, err := s.rebuild(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("refresh failed")
		code, msg := categorizeError(err)
		return domain.RefreshUserResult{
			UserID:  userID,
			Status:  domain.StatusFailed,
			Error:   code,
			Message: msg,
		}
	}
	return domain.RefreshUserResult{UserID: userID, Status: domain.StatusSuccess}
}

// collaboratorErr wraps a collaborator failure, turning context expiry into a
// TimeoutError.
func collaboratorErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if err = domain.AsTimeout(op, err); domain.IsTimeout(err) || domain.IsNotFound(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Handle response error
func categorizeError(err error) (string, string) {
	switch {
	case domain.IsNotFound(err):
		return "not_found", err.Error()
	case domain.IsValidation(err):
		return "validation_error", err.Error()
	case domain.IsTimeout(err):
		return "timeout", "operation exceeded its deadline"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable", "a backing store is temporarily unavailable"
	case domain.IsCacheConsistency(err):
		return "cache_consistency", "internal cache invariant violated"
	}
	return "internal_error", "an unexpected error occurred"
}

// CategorizeError maps an engine error to a stable code and message.
func CategorizeError(err error) (string, string) {
	return categorizeError(err)
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	code, _ := categorizeError(err)
	return code
}
