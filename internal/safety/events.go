package safety

import (
	"sync"
	"time"

	"skywatchcore/pkg/models"
)

// eventTable is the in-memory SafetyEvent map keyed by the deterministic id
// from models.SafetyEventID, plus the acknowledgment overlay and cooldown
// bookkeeping the four detectors share.
type eventTable struct {
	mu       sync.Mutex
	byID     map[string]*models.SafetyEvent
	byDBID   map[int64]*models.SafetyEvent
	cooldown map[string]time.Time
}

func newEventTable() *eventTable {
	return &eventTable{
		byID:     make(map[string]*models.SafetyEvent),
		byDBID:   make(map[int64]*models.SafetyEvent),
		cooldown: make(map[string]time.Time),
	}
}

// cooledDown reports whether the cooldown for key has elapsed (or never
// existed), and if so installs a fresh cooldown stamp. A zero or negative
// duration always returns true without installing a stamp. The emergency
// squawk detector does not call this at all, so its event refreshes every
// cycle.
func (t *eventTable) cooledDown(key string, d time.Duration, now time.Time) bool {
	if d <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.cooldown[key]; ok && now.Sub(last) < d {
		return false
	}
	t.cooldown[key] = now
	return true
}

// upsert inserts candidate if its id is unseen, otherwise merges it into the
// existing event (refreshing LastSeen, never touching Acknowledged).
func (t *eventTable) upsert(now time.Time, candidate *models.SafetyEvent) (*models.SafetyEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.byID[candidate.ID]
	if !ok {
		candidate.CreatedAt = now
		candidate.LastSeen = now
		t.byID[candidate.ID] = candidate
		return candidate, true
	}
	existing.Merge(candidate)
	return existing, false
}

func (t *eventTable) setAck(id string, ack bool, store Store) bool {
	t.mu.Lock()
	e, ok := t.byID[id]
	t.mu.Unlock()
	if !ok {
		return false
	}
	e.Acknowledged = ack
	if store != nil && e.DBID != 0 {
		_ = store.SetSafetyEventAcknowledged(e.DBID, ack)
	}
	return true
}

func (t *eventTable) clear(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	delete(t.byDBID, e.DBID)
	return true
}

func (t *eventTable) clearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = make(map[string]*models.SafetyEvent)
	t.byDBID = make(map[int64]*models.SafetyEvent)
}

func (t *eventTable) findByDBID(dbID int64) *models.SafetyEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byDBID[dbID]
}

func (t *eventTable) all() []*models.SafetyEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*models.SafetyEvent, 0, len(t.byID))
	for _, e := range t.byID {
		out = append(out, e)
	}
	return out
}

// registerDBID records the durable id once the store assigns one, so
// FindByDBID works after the first persist.
func (t *eventTable) registerDBID(e *models.SafetyEvent) {
	if e.DBID == 0 {
		return
	}
	t.mu.Lock()
	t.byDBID[e.DBID] = e
	t.mu.Unlock()
}

// sweep drops events whose LastSeen has not been refreshed within ttl, and
// drops their cooldown/ack bookkeeping with them, per spec.md §4.4's
// periodic sweep.
func (t *eventTable) sweep(now time.Time, ttl time.Duration, store Store) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.byID {
		if e.Expired(now, ttl) {
			delete(t.byID, id)
			delete(t.byDBID, e.DBID)
			delete(t.cooldown, id)
		}
	}
}
