package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/actuallystonmai/material-recommender/internal/domain"
	"github.com/actuallystonmai/material-recommender/internal/metrics"
	"github.com/actuallystonmai/material-recommender/internal/profile"
)

const defaultTTL = 10 * time.Minute

// Entry is one user's cached state. Entries are immutable once stored:
// writers build a new Entry and swap it in, so readers always see a complete
// value.
type Entry struct {
	UserID          string
	Profile         domain.UserProfile
	Breakdown       domain.ContributionBreakdown
	Signals         *profile.Signals
	Owned           map[string]struct{}
	Recommendations map[string]domain.RecommendationSet
	Version         uint64
	LastUpdated     time.Time
}

func (e *Entry) Recommendation(key string) (domain.RecommendationSet, bool) {
	set, ok := e.Recommendations[key]
	return set, ok
}

func (e *Entry) Owns(materialID string) bool {
	_, ok := e.Owned[materialID]
	return ok
}

// OwnedIDs returns the owned material ids in sorted order.
func (e *Entry) OwnedIDs() []string {
	ids := make([]string, 0, len(e.Owned))
	for id := range e.Owned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ProfileCache is the process-wide store of user profiles and recommendation
// sets. Writes for one user are serialised with Lock; writes for different
// users never contend beyond the brief map swap.
type ProfileCache struct {
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	version atomic.Uint64

	mu      sync.RWMutex
	entries map[string]*Entry

	locksMu sync.Mutex
	locks   map[string]*userLock
}

// userLock is dropped from the map once no writer holds or waits on it.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func New(ttl time.Duration, logger zerolog.Logger) *ProfileCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ProfileCache{
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With().Str("component", "cache").Logger(),
		entries: make(map[string]*Entry),
		locks:   make(map[string]*userLock),
	}
}

// SetClock replaces the time source. Used by tests.
func (c *ProfileCache) SetClock(now func() time.Time) {
	c.now = now
}

// Lock acquires the per-user write lock and returns its release func.
func (c *ProfileCache) Lock(userID string) func() {
	c.locksMu.Lock()
	l, ok := c.locks[userID]
	if !ok {
		l = &userLock{}
		c.locks[userID] = l
	}
	l.refs++
	c.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, userID)
		}
		c.locksMu.Unlock()
	}
}

func (c *ProfileCache) lockCount() int {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	return len(c.locks)
}

// Get returns the live entry for userID, or nil when absent or expired.
func (c *ProfileCache) Get(userID string) (*Entry, error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.LastUpdated) > c.ttl {
		metrics.CacheMisses.Inc()
		return nil, nil
	}
	if e.UserID != userID {
		return nil, &domain.CacheConsistencyError{UserID: userID, Reason: "entry stored under foreign key " + e.UserID}
	}
	metrics.CacheHits.Inc()
	return e, nil
}

// Put validates and stores a freshly built entry, replacing any previous one
// and dropping its cached recommendation sets. The caller must hold the
// user's lock.
func (c *ProfileCache) Put(e *Entry) (*Entry, error) {
	if err := checkEntry(e); err != nil {
		c.logger.Error().Err(err).Str("user_id", e.UserID).Msg("refusing to cache inconsistent entry")
		return nil, err
	}

	stored := *e
	stored.Recommendations = make(map[string]domain.RecommendationSet)
	stored.Version = c.version.Add(1)
	stored.LastUpdated = c.now()

	c.mu.Lock()
	c.entries[stored.UserID] = &stored
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEntries.Set(float64(size))
	return &stored, nil
}

// StoreRecommendations attaches a computed set to the entry it was derived
// from. It is a no-op when the entry has since been replaced, so a set
// computed from an old profile is never served against a new one.
func (c *ProfileCache) StoreRecommendations(userID string, version uint64, key string, set domain.RecommendationSet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.entries[userID]
	if !ok || cur.Version != version {
		return false
	}
	next := *cur
	next.Recommendations = make(map[string]domain.RecommendationSet, len(cur.Recommendations)+1)
	for k, v := range cur.Recommendations {
		next.Recommendations[k] = v
	}
	next.Recommendations[key] = set
	c.entries[userID] = &next
	return true
}

func (c *ProfileCache) Invalidate(userIDs ...string) {
	c.mu.Lock()
	for _, id := range userIDs {
		delete(c.entries, id)
	}
	size := len(c.entries)
	c.mu.Unlock()
	metrics.CacheEntries.Set(float64(size))
}

func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// UserIDs returns the ids of all cached users in sorted order.
func (c *ProfileCache) UserIDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// checkEntry verifies that the ranked profile lists agree with the tallies
// they were derived from.
func checkEntry(e *Entry) error {
	fail := func(reason string) error {
		return &domain.CacheConsistencyError{UserID: e.UserID, Reason: reason}
	}
	if e.UserID == "" {
		return fail("empty user id")
	}
	if e.Profile.UserID != e.UserID {
		return fail("profile belongs to " + e.Profile.UserID)
	}
	if e.Signals == nil {
		return fail("missing signals")
	}
	if !rankedBy(e.Profile.PreferredCategories, e.Signals.Categories) {
		return fail("preferred categories not ranked by tally")
	}
	if !rankedBy(e.Profile.PreferredGrades, e.Signals.Grades) {
		return fail("preferred grades not ranked by tally")
	}
	for t, n := range e.Profile.EventCounts {
		if e.Signals.Counts[t] != n {
			return fail("event counts disagree with signals for " + string(t))
		}
	}
	return nil
}

func rankedBy(keys []string, tally map[string]domain.Weight) bool {
	for i, k := range keys {
		if tally[k] <= 0 {
			return false
		}
		if i == 0 {
			continue
		}
		prev := keys[i-1]
		if tally[prev] < tally[k] || (tally[prev] == tally[k] && prev >= k) {
			return false
		}
	}
	return true
}
