// Package safety is the algorithmic heart of the system: it consumes the
// full current aircraft list each poll cycle and emits SafetyEvents for
// emergency squawks, extreme vertical rates, TCAS-like reversals, and
// proximity conflicts, per spec.md §4.4. The per-ICAO state table follows the
// teacher's internal/tracker.Tracker map shape; stale entries are purged at
// the start of every Scan rather than on a ticker. The detector geometry is
// new, grounded on
// the proximity-zone haversine check found elsewhere in the retrieval pack
// (mtickle-flight-ingestor/main.go) and generalized into a full pairwise scan.
package safety

import (
	"log"
	"sync"
	"time"

	"skywatchcore/internal/fanout"
	"skywatchcore/pkg/models"
)

const (
	stateTTL = 30 * time.Second
	vsSampleLag = 4 * time.Second

	eventCooldown = 60 * time.Second
	eventTTL      = 5 * time.Minute
)

// Thresholds are the configurable detector knobs from spec.md §6.
type Thresholds struct {
	VSChangeFpm    int
	VSExtremeFpm   int
	TCASVSFpm      int
	ProximityNM    float64
	AltitudeDiffFt int
}

// vsSample is one (timestamp, value) vertical-rate or altitude observation.
type vsSample struct {
	at  time.Time
	fpm int
}

// aircraftState is the per-ICAO memory the detectors need across cycles.
type aircraftState struct {
	vsHistory  []vsSample
	lat, lon   float64
	hasPos     bool
	altitudeFt int
	hasAlt     bool
	groundKt   float64
	trackDeg   float64
	lastUpdate time.Time
}

// Store is the durable sink for newly created/refreshed events.
type Store interface {
	InsertSafetyEvent(e *models.SafetyEvent) (int64, error)
	SetSafetyEventAcknowledged(dbID int64, acknowledged bool) error
}

// Publisher fans detected events out to subscribers.
type Publisher interface {
	Publish(topic fanout.Topic, event string, payload interface{}) error
}

// Notifier enqueues operator-facing pushes for critical/warning conditions.
type Notifier interface {
	EnqueueSimple(key, title, body string, critical bool)
}

// Monitor is the composed SafetyMonitor: per-ICAO state, the event table,
// and the detector set. Safe for concurrent use; Scan is intended to be
// called once per poll cycle from the pipeline's single caller, but the
// event table and cooldown maps are also touched by the acknowledgment API
// which may be invoked concurrently from an HTTP handler, hence the locks.
type Monitor struct {
	thresholds Thresholds
	store      Store
	publisher  Publisher
	notifier   Notifier

	mu    sync.Mutex
	state map[string]*aircraftState

	events *eventTable
}

func New(thresholds Thresholds, store Store, publisher Publisher, notifier Notifier) *Monitor {
	return &Monitor{
		thresholds: thresholds,
		store:      store,
		publisher:  publisher,
		notifier:   notifier,
		state:      make(map[string]*aircraftState),
		events:     newEventTable(),
	}
}

// Scan runs the four detectors over the current observation list and
// returns every event created or refreshed this cycle.
func (m *Monitor) Scan(now time.Time, obs []models.AircraftObservation) []*models.SafetyEvent {
	m.mu.Lock()
	m.purgeStale(now)
	m.updateState(now, obs)
	snapshot := m.snapshotState()
	m.mu.Unlock()

	var fired []*models.SafetyEvent

	for _, o := range obs {
		if e := m.checkEmergencySquawk(now, o); e != nil {
			fired = append(fired, e)
		}
		if e := m.checkExtremeVS(now, o); e != nil {
			fired = append(fired, e)
		}
		if e := m.checkVSReversal(now, o, snapshot[o.ICAO]); e != nil {
			fired = append(fired, e)
		}
	}

	fired = append(fired, m.checkProximity(now, obs, snapshot)...)

	m.events.sweep(now, eventTTL, m.store)

	return fired
}

func (m *Monitor) updateState(now time.Time, obs []models.AircraftObservation) {
	for _, o := range obs {
		st, ok := m.state[o.ICAO]
		if !ok {
			st = &aircraftState{}
			m.state[o.ICAO] = st
		}
		st.lastUpdate = now

		if o.HasPosition() {
			st.lat, st.lon, st.hasPos = *o.Lat, *o.Lon, true
		}
		if alt, ok := o.AltitudeFt(); ok {
			st.altitudeFt, st.hasAlt = alt, true
		}
		if o.GroundSpeedKt != nil {
			st.groundKt = *o.GroundSpeedKt
		}
		if o.TrackDeg != nil {
			st.trackDeg = *o.TrackDeg
		}
		if o.VerticalRateFpm != nil {
			st.vsHistory = append(st.vsHistory, vsSample{at: now, fpm: *o.VerticalRateFpm})
			cutoff := now.Add(-stateTTL)
			i := 0
			for i < len(st.vsHistory) && st.vsHistory[i].at.Before(cutoff) {
				i++
			}
			if i > 0 {
				st.vsHistory = st.vsHistory[i:]
			}
		}
	}
}

func (m *Monitor) purgeStale(now time.Time) {
	cutoff := now.Add(-stateTTL)
	for icao, st := range m.state {
		if st.lastUpdate.Before(cutoff) {
			delete(m.state, icao)
		}
	}
}

// snapshotState copies the per-ICAO state map so detectors can read it
// without holding the lock across the (potentially slow) pairwise scan.
func (m *Monitor) snapshotState() map[string]aircraftState {
	out := make(map[string]aircraftState, len(m.state))
	for k, v := range m.state {
		out[k] = *v
	}
	return out
}

// vsAt returns the vertical-rate sample nearest to `at - lag`, or false if
// there is no history old enough to compare against.
func (st aircraftState) vsAt(lag time.Duration, now time.Time) (int, bool) {
	target := now.Add(-lag)
	var best *vsSample
	for i := range st.vsHistory {
		s := st.vsHistory[i]
		if s.at.After(target) {
			continue
		}
		if best == nil || s.at.After(best.at) {
			best = &st.vsHistory[i]
		}
	}
	if best == nil {
		return 0, false
	}
	return best.fpm, true
}

// storeAndPublish is the shared store_event path from spec.md §4.4: compute
// the deterministic id, insert-or-merge into the event table, persist, and
// fan out. It returns the event as it now stands (created or merged).
func (m *Monitor) storeAndPublish(now time.Time, candidate *models.SafetyEvent) *models.SafetyEvent {
	event, _ := m.events.upsert(now, candidate)

	if m.store != nil {
		if dbID, err := m.store.InsertSafetyEvent(event); err != nil {
			log.Printf("[SAFETY] failed to persist event %s: %v", event.ID, err)
		} else {
			event.DBID = dbID
			m.events.registerDBID(event)
		}
	}

	if m.publisher != nil {
		// Wire event name is always "event" per spec.md §6's safety stream
		// contract ("snapshot" is reserved for the on-subscribe replay); the
		// refreshed-vs-new distinction lives in event.CreatedAt/LastSeen.
		if err := m.publisher.Publish(fanout.TopicSafety, "event", event); err != nil {
			log.Printf("[SAFETY] fan-out publish failed for %s: %v", event.ID, err)
		}
	}

	if m.notifier != nil && (event.Severity == models.SeverityCritical || event.Severity == models.SeverityWarning) {
		m.notifier.EnqueueSimple(event.ID, string(event.EventType)+": "+event.ICAO, event.Message, event.Severity == models.SeverityCritical)
	}

	return event
}

// Acknowledge, Unacknowledge, Clear, ClearAll, FindByDBID implement the
// acknowledgment API from spec.md §4.4. Acknowledgment is a non-destructive
// overlay: the event keeps existing and keeps refreshing.
func (m *Monitor) Acknowledge(id string) bool   { return m.events.setAck(id, true, m.store) }
func (m *Monitor) Unacknowledge(id string) bool { return m.events.setAck(id, false, m.store) }
func (m *Monitor) Clear(id string) bool         { return m.events.clear(id) }
func (m *Monitor) ClearAll()                    { m.events.clearAll() }
func (m *Monitor) FindByDBID(dbID int64) *models.SafetyEvent {
	return m.events.findByDBID(dbID)
}

// Active returns every currently tracked event (acknowledged or not), for
// the "snapshot" event sent to new safety-topic subscribers.
func (m *Monitor) Active() []*models.SafetyEvent {
	return m.events.all()
}
