// Package pipeline implements AircraftPipeline: the per-poll-cycle glue that
// persists sightings/sessions, evaluates alerts, runs the safety detectors,
// and fans out the diff against the previous cycle's snapshot, in the order
// spec.md §5 requires (process_aircraft_data -> SafetyMonitor -> FanOut).
package pipeline

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"skywatchcore/internal/fanout"
	"skywatchcore/internal/sessions"
	"skywatchcore/pkg/models"
)

// SessionUpdater maintains the open-session mapping; implemented by
// internal/sessions.Tracker.
type SessionUpdater interface {
	Update(sight models.AircraftSighting) (sessions.Result, error)
}

// SightingStore persists immutable sighting rows.
type SightingStore interface {
	InsertSighting(sight models.AircraftSighting) (int64, error)
}

// SafetyScanner runs the detector suite over the current poll's observations.
type SafetyScanner interface {
	Scan(now time.Time, obs []models.AircraftObservation) []*models.SafetyEvent
}

// AlertChecker evaluates alert rules over the current poll's observations.
type AlertChecker interface {
	CheckAll(ctx context.Context, now time.Time, obs []models.AircraftObservation)
}

// Publisher is the fan-out surface the pipeline drives every cycle.
type Publisher interface {
	Publish(topic fanout.Topic, event string, payload interface{}) error
}

// CoverageRecorder folds a sighting's bearing/distance into the reception-
// range-by-bearing statistic; implemented by internal/coverage.Tracker.
type CoverageRecorder interface {
	Record(bearingDeg, distanceNM float64, icao string)
}

// The aircraft* and position* thresholds implement spec.md §4.6's two change-
// detection tiers.
var (
	aircraftPosDeg   = 0.001
	aircraftAltFt    = 100.0
	aircraftTrackDeg = 5.0

	positionPosDeg   = 0.0001
	positionAltFt    = 25.0
	positionTrackDeg = 1.0
	positionGsKt     = 5.0
)

type trackedState struct {
	lat, lon   float64
	hasPos     bool
	altitudeFt int
	hasAlt     bool
	trackDeg   float64
	hasTrack   bool
	gsKt       float64
	hasGs      bool
	squawk     string
}

func stateOf(o *models.AircraftObservation) trackedState {
	s := trackedState{squawk: o.Squawk}
	if o.Lat != nil && o.Lon != nil {
		s.lat, s.lon, s.hasPos = *o.Lat, *o.Lon, true
	}
	if alt, ok := o.AltitudeFt(); ok {
		s.altitudeFt, s.hasAlt = alt, true
	}
	if o.TrackDeg != nil {
		s.trackDeg, s.hasTrack = *o.TrackDeg, true
	}
	if o.GroundSpeedKt != nil {
		s.gsKt, s.hasGs = *o.GroundSpeedKt, true
	}
	return s
}

// changed reports whether two states differ by more than the given
// thresholds; a presence change (position gained/lost, etc.) always counts.
func changed(prev, cur trackedState, posDeg, altFt, trackDeg, gsKt float64) bool {
	if prev.squawk != cur.squawk {
		return true
	}
	if prev.hasPos != cur.hasPos {
		return true
	}
	if prev.hasPos && cur.hasPos {
		if math.Abs(prev.lat-cur.lat) > posDeg || math.Abs(prev.lon-cur.lon) > posDeg {
			return true
		}
	}
	if prev.hasAlt != cur.hasAlt {
		return true
	}
	if prev.hasAlt && cur.hasAlt && math.Abs(float64(prev.altitudeFt-cur.altitudeFt)) > altFt {
		return true
	}
	if prev.hasTrack != cur.hasTrack {
		return true
	}
	if prev.hasTrack && cur.hasTrack && angularDiff(prev.trackDeg, cur.trackDeg) > trackDeg {
		return true
	}
	if gsKt > 0 {
		if prev.hasGs != cur.hasGs {
			return true
		}
		if prev.hasGs && cur.hasGs && math.Abs(prev.gsKt-cur.gsKt) > gsKt {
			return true
		}
	}
	return false
}

func angularDiff(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// Pipeline is the composed AircraftPipeline.
type Pipeline struct {
	rx        models.ReceiverLocation
	sessions  SessionUpdater
	store     SightingStore
	safety    SafetyScanner
	alerts    AlertChecker
	publisher Publisher
	coverage  CoverageRecorder

	mu    sync.Mutex
	prior map[string]trackedState
	seen  map[string]bool
}

func New(rx models.ReceiverLocation, sessions SessionUpdater, store SightingStore, safety SafetyScanner, alerts AlertChecker, publisher Publisher, coverage CoverageRecorder) *Pipeline {
	return &Pipeline{
		rx:        rx,
		sessions:  sessions,
		store:     store,
		safety:    safety,
		alerts:    alerts,
		publisher: publisher,
		coverage:  coverage,
		prior:     make(map[string]trackedState),
		seen:      make(map[string]bool),
	}
}

// Process implements poller.Pipeline. Ordering per spec.md §5: persist
// sightings/sessions and evaluate alerts first, then run the safety
// detectors, then fan out the cycle's diff. The stages run one after another,
// so an alert fired on a new session always has a durable session id before
// FanOut observes it.
func (p *Pipeline) Process(ctx context.Context, obs []models.AircraftObservation, storeDue bool) {
	now := time.Now().UTC()

	if storeDue {
		p.persist(obs)
	}

	if p.alerts != nil {
		p.alerts.CheckAll(ctx, now, obs)
	}

	var events []*models.SafetyEvent
	if p.safety != nil {
		events = p.safety.Scan(now, obs)
	}

	p.broadcast(now, obs, events)
}

func (p *Pipeline) persist(obs []models.AircraftObservation) {
	for i := range obs {
		o := &obs[i]
		if !o.Valid() {
			continue
		}
		sight := models.NewSighting(o, &p.rx)
		if p.store != nil {
			if _, err := p.store.InsertSighting(sight); err != nil {
				log.Printf("[PIPELINE] failed to persist sighting for %s: %v", o.ICAO, err)
			}
		}
		if p.sessions != nil {
			if _, err := p.sessions.Update(sight); err != nil {
				log.Printf("[PIPELINE] failed to update session for %s: %v", o.ICAO, err)
			}
		}
		if p.coverage != nil && sight.DistanceNM > 0 {
			p.coverage.Record(sight.Bearing, sight.DistanceNM, sight.ICAO)
		}
	}
}

// broadcast assembles the poll cycle's publish operations and runs them
// concurrently, per spec.md §4.6's "Parallel broadcast" contract: one
// publish failure must not block the others.
func (p *Pipeline) broadcast(now time.Time, obs []models.AircraftObservation, events []*models.SafetyEvent) {
	if p.publisher == nil {
		return
	}

	p.mu.Lock()
	newAircraft, updated, positionUpdates, removed := p.diff(obs)
	p.mu.Unlock()

	var wg sync.WaitGroup
	publish := func(topic fanout.Topic, event string, payload interface{}) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.publisher.Publish(topic, event, payload); err != nil {
				log.Printf("[PIPELINE] publish %s/%s failed: %v", topic, event, err)
			}
		}()
	}

	publish(fanout.TopicAircraft, "heartbeat", map[string]interface{}{"count": len(obs), "at": now})

	for _, o := range newAircraft {
		publish(fanout.TopicAircraft, "new", o)
	}
	for _, o := range updated {
		publish(fanout.TopicAircraft, "update", o)
	}
	for _, icao := range removed {
		publish(fanout.TopicAircraft, "remove", map[string]string{"icao": icao})
	}
	for _, o := range positionUpdates {
		publish(fanout.TopicPositions, "update", o)
	}

	for _, e := range events {
		publish(fanout.TopicSafety, "event", e)
	}

	wg.Wait()
}

// diff computes the new/update/remove/position-update sets against the
// previous cycle's tracked state, per spec.md §4.6's change-detection
// thresholds, and advances the tracked-state map for next cycle.
func (p *Pipeline) diff(obs []models.AircraftObservation) (newAircraft, updated, positionUpdates []models.AircraftObservation, removed []string) {
	current := make(map[string]bool, len(obs))

	for i := range obs {
		o := obs[i]
		if o.ICAO == "" {
			continue
		}
		current[o.ICAO] = true
		cur := stateOf(&o)

		prev, existed := p.prior[o.ICAO]
		if !existed {
			newAircraft = append(newAircraft, o)
			positionUpdates = append(positionUpdates, o)
		} else {
			if changed(prev, cur, aircraftPosDeg, aircraftAltFt, aircraftTrackDeg, 0) {
				updated = append(updated, o)
			}
			if changed(prev, cur, positionPosDeg, positionAltFt, positionTrackDeg, positionGsKt) {
				positionUpdates = append(positionUpdates, o)
			}
		}
		p.prior[o.ICAO] = cur
	}

	for icao := range p.prior {
		if !current[icao] {
			removed = append(removed, icao)
			delete(p.prior, icao)
		}
	}

	return newAircraft, updated, positionUpdates, removed
}
