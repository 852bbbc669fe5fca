package service

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/actuallystonmai/material-recommender/internal/cache"
	"github.com/actuallystonmai/material-recommender/internal/domain"
	"github.com/actuallystonmai/material-recommender/internal/model"
	"github.com/actuallystonmai/material-recommender/internal/repository"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, materials ...domain.Material) (*Service, *repository.Memory) {
	t.Helper()
	store := repository.NewMemory()
	for _, m := range materials {
		if err := store.UpsertMaterial(context.Background(), m); err != nil {
			t.Fatalf("UpsertMaterial: %v", err)
		}
	}
	profiles := cache.New(time.Minute, zerolog.Nop())
	profiles.SetClock(func() time.Time { return testNow })

	scorer, err := model.NewScorer(model.DefaultConfig())
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	svc, err := NewService(store, profiles, scorer, DefaultOptions(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.SetClock(func() time.Time { return testNow })
	return svc, store
}

func material(id string, price float64, categories, grades []string) domain.Material {
	return domain.Material{
		ID:          id,
		Title:       "Material " + id,
		Price:       price,
		Categories:  categories,
		ClassGrades: grades,
		PublishedAt: testNow,
	}
}

func ev(userID string, t domain.EventType, materialID string) domain.InteractionEvent {
	return domain.InteractionEvent{
		UserID:     userID,
		MaterialID: materialID,
		EventType:  t,
		Timestamp:  testNow.Add(-time.Hour),
	}
}

func ids(results []domain.RecommendationResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Material.ID
	}
	return out
}

func assertIDs(t *testing.T, label string, got []domain.RecommendationResult, want ...string) {
	t.Helper()
	g := ids(got)
	if len(want) == 0 && len(g) == 0 {
		return
	}
	if !reflect.DeepEqual(g, want) {
		t.Errorf("%s = %v, want %v", label, g, want)
	}
}

// personalised sets up a user who bought one 5th-grade math material.
func personalised(t *testing.T) (*Service, *repository.Memory) {
	t.Helper()
	owned := material("owned", 5, []string{"math"}, []string{"5th"})
	a := material("a", 4, []string{"math"}, []string{"5th"})
	b := material("b", 20, []string{"art"}, []string{"1st"})
	b.PublishedAt = time.Time{}
	c := material("c", 5, []string{"math"}, []string{"1st"})

	svc, store := newTestService(t, owned, a, b, c)
	store.SetPopularity("owned", 1)
	store.SetPopularity("a", 0.5)
	store.SetPopularity("b", 0.9)
	store.SetPopularity("c", 0.1)
	if err := store.AppendEvent(context.Background(), ev("u1", domain.EventPurchase, "owned")); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	return svc, store
}

func TestRecommendPersonalised(t *testing.T) {
	svc, _ := personalised(t)

	res, err := svc.Recommend(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	assertIDs(t, "regular", res.Set.Regular, "a", "c")
	assertIDs(t, "fallback", res.Set.Fallback, "b")

	if got := res.Set.Regular[0].Score; got != 0.95 {
		t.Errorf("score for a = %v, want 0.95", got)
	}
	if got := res.Set.Regular[1].Score; got != 0.61 {
		t.Errorf("score for c = %v, want 0.61", got)
	}
	if !res.Set.Fallback[0].IsFallback || res.Set.Fallback[0].Factors.CategoryMatch.Available {
		t.Errorf("fallback result should carry popularity only: %+v", res.Set.Fallback[0])
	}
	for _, r := range res.Set.All() {
		if r.Material.ID == "owned" {
			t.Error("owned material recommended")
		}
	}
	if res.CacheHit {
		t.Error("first call should miss the cache")
	}

	again, err := svc.Recommend(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !again.CacheHit || !reflect.DeepEqual(again.Set, res.Set) {
		t.Error("second call should return the cached set")
	}
}

func TestRecommendDeterministic(t *testing.T) {
	svc, _ := personalised(t)
	first, _ := svc.Recommend(context.Background(), "u1", 10)
	svc.profiles.Invalidate("u1")
	second, _ := svc.Recommend(context.Background(), "u1", 10)
	if !reflect.DeepEqual(first.Set, second.Set) {
		t.Errorf("recommendations changed between identical calls:\n%+v\n%+v", first.Set, second.Set)
	}
}

func TestRecommendColdStartUsesFallback(t *testing.T) {
	svc, store := newTestService(t,
		material("p1", 1, []string{"math"}, []string{"1st"}),
		material("p2", 1, []string{"math"}, []string{"1st"}),
		material("p3", 1, []string{"math"}, []string{"1st"}),
	)
	store.SetPopularity("p1", 0.1)
	store.SetPopularity("p2", 0.9)
	store.SetPopularity("p3", 0.5)

	res, err := svc.Recommend(context.Background(), "nobody", 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	assertIDs(t, "regular", res.Set.Regular)
	assertIDs(t, "fallback", res.Set.Fallback, "p2", "p3", "p1")
	if len(res.Set.Regular) != 0 || res.Set.Regular == nil {
		t.Error("regular should be an empty, non-nil list")
	}
}

func TestRecommendBelowThresholdFallsBack(t *testing.T) {
	svc, store := newTestService(t,
		material("liked", 5, []string{"art"}, []string{"1st"}),
		material("x", 5, []string{"math"}, []string{"9th"}),
		material("y", 5, []string{"math"}, []string{"9th"}),
		material("z", 5, []string{"math"}, []string{"9th"}),
	)
	store.AppendEvent(context.Background(), ev("u1", domain.EventView, "liked"))

	res, err := svc.Recommend(context.Background(), "u1", 2)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	assertIDs(t, "regular", res.Set.Regular, "liked")
	if len(res.Set.Fallback) != 1 {
		t.Errorf("fallback should fill the remaining slot, got %v", ids(res.Set.Fallback))
	}
	if res.Set.Len() != 2 {
		t.Errorf("set size = %d, want 2", res.Set.Len())
	}
}

func TestRecommendCapsResultsPerAuthor(t *testing.T) {
	var materials []domain.Material
	for i := 0; i < 6; i++ {
		m := material(fmt.Sprintf("m%d", i), 5, []string{"math"}, []string{"5th"})
		m.AuthorID = "prolific"
		materials = append(materials, m)
	}
	seed := material("seed", 5, []string{"math"}, []string{"5th"})
	svc, store := newTestService(t, append(materials, seed)...)
	store.AppendEvent(context.Background(), ev("u1", domain.EventPurchase, "seed"))

	res, err := svc.Recommend(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	assertIDs(t, "regular", res.Set.Regular, "m0", "m1", "m2", "m3")
	assertIDs(t, "fallback", res.Set.Fallback, "m4", "m5")
}

func TestRecommendSkipsMalformedCandidates(t *testing.T) {
	bad := material("bad", 5, []string{"math"}, []string{"5th"})
	bad.Title = ""
	svc, _ := newTestService(t, bad, material("good", 5, []string{"math"}, []string{"5th"}))

	res, err := svc.Recommend(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	assertIDs(t, "fallback", res.Set.Fallback, "good")
}

func TestRecommendTimeout(t *testing.T) {
	svc, _ := personalised(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := svc.Recommend(ctx, "u1", 10)
	if !domain.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestRecommendValidatesUser(t *testing.T) {
	svc, _ := personalised(t)
	if _, err := svc.Recommend(context.Background(), "", 10); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRecommendByContext(t *testing.T) {
	winter := material("winter", 5, []string{"math"}, []string{"5th"})
	winter.Tags = []string{domain.SeasonWinter}
	summer := material("summer", 5, []string{"math"}, []string{"5th"})
	summer.Tags = []string{domain.SeasonSummer}
	svc, store := newTestService(t, winter, summer, material("seed", 5, []string{"math"}, []string{"5th"}))
	store.AppendEvent(context.Background(), ev("u1", domain.EventPurchase, "seed"))

	res, err := svc.RecommendByContext(context.Background(), "u1", domain.RequestContext{Season: domain.SeasonWinter}, 10)
	if err != nil {
		t.Fatalf("RecommendByContext: %v", err)
	}
	assertIDs(t, "regular", res.Set.Regular, "winter")
	assertIDs(t, "fallback", res.Set.Fallback)

	// testNow is in March.
	res, err = svc.RecommendByContext(context.Background(), "u1", domain.RequestContext{}, 10)
	if err != nil {
		t.Fatalf("RecommendByContext: %v", err)
	}
	assertIDs(t, "regular without season", res.Set.Regular)
}

func TestRecommendByCategory(t *testing.T) {
	svc, _ := personalised(t)
	res, err := svc.RecommendByCategory(context.Background(), "u1", "art", 10)
	if err != nil {
		t.Fatalf("RecommendByCategory: %v", err)
	}
	for _, r := range res.Set.All() {
		if r.Material.ID != "b" {
			t.Errorf("unexpected material %s in art recommendations", r.Material.ID)
		}
	}
	if _, err := svc.RecommendByCategory(context.Background(), "u1", "", 10); !domain.IsValidation(err) {
		t.Errorf("expected validation error for empty category, got %v", err)
	}
}

func TestSimilarMaterials(t *testing.T) {
	svc, _ := personalised(t)
	got, err := svc.SimilarMaterials(context.Background(), "a", 10)
	if err != nil {
		t.Fatalf("SimilarMaterials: %v", err)
	}
	assertIDs(t, "similar", got, "owned", "c")

	if _, err := svc.SimilarMaterials(context.Background(), "missing", 10); !domain.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestTrendingMaterials(t *testing.T) {
	svc, _ := newTestService(t,
		material("t1", 5, []string{"math"}, []string{"5th"}),
		material("t2", 5, []string{"math"}, []string{"5th"}),
		material("t3", 5, []string{"art"}, []string{"5th"}),
	)
	ctx := context.Background()
	for _, id := range []string{"t2", "t2", "t3", "t1", "t2"} {
		if _, err := svc.UpdateUserProfile(ctx, ev("u1", domain.EventView, id)); err != nil {
			t.Fatalf("UpdateUserProfile: %v", err)
		}
	}

	got, err := svc.TrendingMaterials(ctx, "", "", 10)
	if err != nil {
		t.Fatalf("TrendingMaterials: %v", err)
	}
	assertIDs(t, "trending", got, "t2", "t1", "t3")
	if got[0].Score != 1 || got[0].IsFallback {
		t.Errorf("top trending result = %+v", got[0])
	}

	got, _ = svc.TrendingMaterials(ctx, "5th", "math", 10)
	assertIDs(t, "trending math", got, "t2", "t1")
}

func TestPersonalizeSearchResults(t *testing.T) {
	svc, store := personalised(t)
	ctx := context.Background()
	b, _ := store.GetMaterial(ctx, "b")
	a, _ := store.GetMaterial(ctx, "a")
	c, _ := store.GetMaterial(ctx, "c")
	hits := []domain.Material{*b, *c, *a}

	got, err := svc.PersonalizeSearchResults(ctx, "u1", hits, 0)
	if err != nil {
		t.Fatalf("PersonalizeSearchResults: %v", err)
	}
	assertIDs(t, "personalised", got, "a", "c", "b")
	for i, want := range []float64{0.95, 0.61, 0.195} {
		if got[i].Score != want {
			t.Errorf("score for %s = %v, want combined score %v", got[i].Material.ID, got[i].Score, want)
		}
	}

	cold, err := svc.PersonalizeSearchResults(ctx, "newcomer", hits, 2)
	if err != nil {
		t.Fatalf("PersonalizeSearchResults: %v", err)
	}
	assertIDs(t, "cold start", cold, "b", "c")
}

func assertExplainMatches(t *testing.T, svc *Service, userID string, set domain.RecommendationSet) {
	t.Helper()
	for _, r := range set.All() {
		exp, err := svc.Explain(context.Background(), userID, r.Material.ID)
		if err != nil {
			t.Fatalf("Explain %s: %v", r.Material.ID, err)
		}
		if exp.Score != r.Score || exp.IsFallback != r.IsFallback || !reflect.DeepEqual(exp.Factors, r.Factors) {
			t.Errorf("explain for %s diverges: score %v fallback %v, recommend score %v fallback %v",
				r.Material.ID, exp.Score, exp.IsFallback, r.Score, r.IsFallback)
		}
		if len(exp.Narrative) == 0 {
			t.Errorf("explain for %s has no narrative", r.Material.ID)
		}
	}
}

func TestExplainMatchesRecommend(t *testing.T) {
	svc, _ := personalised(t)
	ctx := context.Background()
	res, err := svc.Recommend(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(res.Set.Fallback) == 0 {
		t.Fatal("expected a fallback result to explain")
	}
	assertExplainMatches(t, svc, "u1", res.Set)

	if _, err := svc.Explain(ctx, "u1", "missing"); !domain.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestExplainColdStartIsPopularPick(t *testing.T) {
	m := material("m", 5, []string{"math"}, []string{"5th"})
	svc, store := newTestService(t, m)
	store.SetPopularity("m", 0.4)
	ctx := context.Background()

	res, err := svc.Recommend(ctx, "nobody", 5)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	assertExplainMatches(t, svc, "nobody", res.Set)

	exp, err := svc.Explain(ctx, "nobody", "m")
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if exp.Score != 0.4 || !exp.IsFallback || exp.Factors.PriceMatch.Available {
		t.Errorf("cold-start explanation should be popularity only: %+v", exp)
	}
	for _, line := range exp.Narrative {
		if strings.HasPrefix(line, "Priced") || strings.Contains(line, "published") {
			t.Errorf("cold-start narrative mentions a personal factor: %q", line)
		}
	}
}

func TestExplainAuthorCappedIsFallback(t *testing.T) {
	var materials []domain.Material
	for i := 0; i < 6; i++ {
		m := material(fmt.Sprintf("m%d", i), 5, []string{"math"}, []string{"5th"})
		m.AuthorID = "prolific"
		materials = append(materials, m)
	}
	seed := material("seed", 5, []string{"math"}, []string{"5th"})
	svc, store := newTestService(t, append(materials, seed)...)
	store.AppendEvent(context.Background(), ev("u1", domain.EventPurchase, "seed"))

	res, err := svc.Recommend(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	assertIDs(t, "fallback", res.Set.Fallback, "m4", "m5")
	assertExplainMatches(t, svc, "u1", res.Set)
}

func TestIncrementalUpdateMatchesRefresh(t *testing.T) {
	svc, _ := newTestService(t,
		material("m1", 1, []string{"math", "algebra"}, []string{"5th", "6th"}),
		material("m2", 6, []string{"biology"}, []string{"4th"}),
		material("m3", 12, []string{"art"}, []string{"5th"}),
	)
	ctx := context.Background()
	search := ev("u1", domain.EventSearch, "")
	search.Payload = map[string]string{domain.PayloadQuery: "Biology worksheets"}
	events := []domain.InteractionEvent{
		ev("u1", domain.EventView, "m1"),
		ev("u1", domain.EventPurchase, "m2"),
		search,
		ev("u1", domain.EventFavorite, "m3"),
		ev("u1", domain.EventType("addToCart"), "m1"),
		ev("u1", domain.EventType("mystery"), "m3"),
	}
	for _, e := range events {
		if _, err := svc.UpdateUserProfile(ctx, e); err != nil {
			t.Fatalf("UpdateUserProfile(%s): %v", e.EventType, err)
		}
	}

	incremental, err := svc.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !incremental.CacheHit {
		t.Error("profile should be served from the cache after updates")
	}

	resp, err := svc.RefreshCache(ctx, []string{"u1"})
	if err != nil || resp.Summary.SuccessCount != 1 {
		t.Fatalf("RefreshCache: %+v %v", resp, err)
	}
	rebuilt, err := svc.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}

	if !reflect.DeepEqual(incremental.Profile, rebuilt.Profile) {
		t.Errorf("profile differs:\nincremental %+v\nrebuilt     %+v", incremental.Profile, rebuilt.Profile)
	}
	if !reflect.DeepEqual(incremental.Breakdown, rebuilt.Breakdown) {
		t.Errorf("breakdown differs:\nincremental %+v\nrebuilt     %+v", incremental.Breakdown, rebuilt.Breakdown)
	}
	if got := rebuilt.Profile.EventCounts[domain.EventUnknown]; got != 1 {
		t.Errorf("unknown events = %d, want 1", got)
	}
	if got := rebuilt.Profile.PreferredCategories[0]; got != "biology" {
		t.Errorf("top category = %s, want biology", got)
	}
}

func TestUpdateUserProfileValidation(t *testing.T) {
	svc, _ := personalised(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		event domain.InteractionEvent
		check func(error) bool
	}{
		{"missing user", ev("", domain.EventView, "a"), domain.IsValidation},
		{"missing material", ev("u1", domain.EventView, ""), domain.IsValidation},
		{"missing timestamp", domain.InteractionEvent{UserID: "u1", MaterialID: "a", EventType: domain.EventView}, domain.IsValidation},
		{"unknown material", ev("u1", domain.EventView, "ghost"), domain.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.UpdateUserProfile(ctx, tt.event); !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestUpdateInvalidatesCachedRecommendations(t *testing.T) {
	svc, _ := personalised(t)
	ctx := context.Background()
	if _, err := svc.Recommend(ctx, "u1", 10); err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if _, err := svc.UpdateUserProfile(ctx, ev("u1", domain.EventPurchase, "a")); err != nil {
		t.Fatalf("UpdateUserProfile: %v", err)
	}
	res, err := svc.Recommend(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if res.CacheHit {
		t.Error("recommendations cached before the update must not be served")
	}
	for _, r := range res.Set.All() {
		if r.Material.ID == "a" {
			t.Error("newly purchased material still recommended")
		}
	}
}

func TestConcurrentUpdatesSameUser(t *testing.T) {
	svc, _ := personalised(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"a", "b", "c"}[i%3]
			if _, err := svc.UpdateUserProfile(ctx, ev("u1", domain.EventView, id)); err != nil {
				t.Errorf("UpdateUserProfile: %v", err)
			}
		}(i)
	}
	wg.Wait()

	live, _ := svc.GetProfile(ctx, "u1")
	if _, err := svc.RefreshCache(ctx, nil); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	rebuilt, _ := svc.GetProfile(ctx, "u1")
	if got := live.Profile.EventCounts[domain.EventView]; got != 20 {
		t.Errorf("view count = %d, want 20", got)
	}
	if !reflect.DeepEqual(live.Profile, rebuilt.Profile) {
		t.Errorf("concurrent updates diverged from rebuild:\n%+v\n%+v", live.Profile, rebuilt.Profile)
	}
}

func TestRefreshCacheAllUsers(t *testing.T) {
	svc, store := personalised(t)
	store.AppendEvent(context.Background(), ev("u2", domain.EventView, "b"))

	resp, err := svc.RefreshCache(context.Background(), nil)
	if err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	if len(resp.Results) != 2 || resp.Summary.SuccessCount != 2 || resp.Summary.FailedCount != 0 {
		t.Errorf("unexpected refresh response %+v", resp)
	}
	if svc.profiles.Len() != 2 {
		t.Errorf("cache holds %d users, want 2", svc.profiles.Len())
	}
}

func TestSummarize(t *testing.T) {
	svc, _ := personalised(t)
	res, _ := svc.Recommend(context.Background(), "u1", 10)
	sum := svc.Summarize(res.Set)

	if sum.Total != 3 || sum.FallbackCount != 1 {
		t.Errorf("totals = %d/%d, want 3/1", sum.Total, sum.FallbackCount)
	}
	if len(sum.Categories) == 0 || sum.Categories[0] != (domain.Count{Name: "math", Count: 2}) {
		t.Errorf("categories = %+v", sum.Categories)
	}
	if sum.PriceDistribution[domain.PriceMedium] != 2 || sum.PriceDistribution[domain.PriceHigh] != 1 {
		t.Errorf("price distribution = %+v", sum.PriceDistribution)
	}
	if sum.FreshnessDistribution[domain.FreshnessRecent] != 2 || sum.FreshnessDistribution[domain.FreshnessOlder] != 1 {
		t.Errorf("freshness distribution = %+v", sum.FreshnessDistribution)
	}
	if got := sum.AverageFactors[domain.FactorPopularity]; got != 0.5 {
		t.Errorf("average popularity = %v, want 0.5", got)
	}
	if got := sum.AverageFactors[domain.FactorCategoryMatch]; got != 1 {
		t.Errorf("average category match = %v, want 1 (fallback excluded)", got)
	}
}
