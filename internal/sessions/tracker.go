// Package sessions maintains the open-session mapping (ICAO, source) -> session,
// grouping sightings within a continuity window and folding min/max aggregates,
// per spec.md §4.2.
package sessions

import (
	"log"
	"sync"
	"time"

	"skywatchcore/pkg/models"
)

const (
	continuityWindow = 5 * time.Minute
	cacheTTL         = 10 * time.Minute
	sweepInterval    = 5 * time.Minute
)

// Repository is the storage surface this tracker needs. Implemented by
// internal/store.Store.
type Repository interface {
	FindOpenSession(icao string, channel models.SourceChannel, continuityWindow time.Duration) (*models.AircraftSession, error)
	UpsertSession(sess *models.AircraftSession) error
}

type cacheKey struct {
	icao    string
	channel models.SourceChannel
}

type cacheEntry struct {
	session  *models.AircraftSession
	touchedAt time.Time
}

// Tracker is the in-memory cache of open sessions, backed by Repository for
// cross-restart continuity lookups. It is safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	cache map[cacheKey]*cacheEntry
	repo  Repository
}

func New(repo Repository) *Tracker {
	return &Tracker{
		cache: make(map[cacheKey]*cacheEntry),
		repo:  repo,
	}
}

// Result is what Update returns: the session the sighting was folded into,
// and IsNew, which reports whether this call created that session rather than
// reattaching to one that already existed.
type Result struct {
	Session  *models.AircraftSession
	IsNew    bool
}

// Update implements the §4.2 protocol for one sighting: load-or-create the
// open session for (ICAO, channel), fold the sighting into it, and persist.
func (t *Tracker) Update(sight models.AircraftSighting) (Result, error) {
	if sight.ICAO == "" {
		return Result{}, nil
	}
	key := cacheKey{icao: sight.ICAO, channel: sight.Channel}
	now := sight.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	t.mu.Lock()
	entry, cached := t.cache[key]
	t.mu.Unlock()

	if cached && entry.session.Open(now, continuityWindow) {
		entry.session.Fold(sight)
		if err := t.repo.UpsertSession(entry.session); err != nil {
			return Result{}, err
		}
		t.mu.Lock()
		entry.touchedAt = now
		t.mu.Unlock()
		return Result{Session: entry.session, IsNew: false}, nil
	}

	sess, err := t.repo.FindOpenSession(sight.ICAO, sight.Channel, continuityWindow)
	if err != nil {
		return Result{}, err
	}

	isNew := sess == nil
	if isNew {
		sess = &models.AircraftSession{ICAO: sight.ICAO, Channel: sight.Channel}
		log.Printf("[SESSIONS] Opening session for %s/%s", sight.ICAO, sight.Channel)
	}
	sess.Fold(sight)
	if err := t.repo.UpsertSession(sess); err != nil {
		return Result{}, err
	}

	t.mu.Lock()
	t.cache[key] = &cacheEntry{session: sess, touchedAt: now}
	t.mu.Unlock()

	return Result{Session: sess, IsNew: isNew}, nil
}

// Sweep drops cache entries untouched for longer than cacheTTL. Call on a
// sweepInterval ticker; it does not touch the durable store, only the
// in-process lookup cache.
func (t *Tracker) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.cache {
		if now.Sub(e.touchedAt) > cacheTTL {
			delete(t.cache, k)
		}
	}
}

// SweepInterval is exported so the composition root can drive the ticker.
func SweepInterval() time.Duration { return sweepInterval }

// Count reports the number of cached open sessions, for the statistics surface.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.cache)
}
