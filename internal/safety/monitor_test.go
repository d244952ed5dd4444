package safety

import (
	"testing"
	"time"

	"skywatchcore/pkg/models"
)

type fakeStore struct {
	nextID int64
	acked  map[int64]bool
}

func newFakeStore() *fakeStore { return &fakeStore{acked: make(map[int64]bool)} }

func (f *fakeStore) InsertSafetyEvent(e *models.SafetyEvent) (int64, error) {
	f.nextID++
	return f.nextID, nil
}

func (f *fakeStore) SetSafetyEventAcknowledged(dbID int64, ack bool) error {
	f.acked[dbID] = ack
	return nil
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func defaultThresholds() Thresholds {
	return Thresholds{VSChangeFpm: 1000, VSExtremeFpm: 6000, TCASVSFpm: 1500, ProximityNM: 0.5, AltitudeDiffFt: 500}
}

func TestEmergencySquawkFires(t *testing.T) {
	mon := New(defaultThresholds(), newFakeStore(), nil, nil)
	now := time.Now()
	obs := models.AircraftObservation{
		ICAO: "A12345", Squawk: "7700",
		Lat: floatPtr(47.5), Lon: floatPtr(-122.3), BaroAltitudeFt: intPtr(5000),
	}

	events := mon.Scan(now, []models.AircraftObservation{obs})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.EventType != models.EventSquawkEmergency || e.Severity != models.SeverityCritical {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.ID != "squawk_emergency:A12345" {
		t.Fatalf("unexpected id: %s", e.ID)
	}
}

func TestProximityCritical(t *testing.T) {
	mon := New(defaultThresholds(), newFakeStore(), nil, nil)
	now := time.Now()
	a := models.AircraftObservation{ICAO: "AAA111", Lat: floatPtr(47.6000), Lon: floatPtr(-122.4000), BaroAltitudeFt: intPtr(10000)}
	b := models.AircraftObservation{ICAO: "BBB222", Lat: floatPtr(47.6020), Lon: floatPtr(-122.4000), BaroAltitudeFt: intPtr(10200)}

	events := mon.Scan(now, []models.AircraftObservation{a, b})
	if len(events) != 1 {
		t.Fatalf("expected 1 proximity event, got %d", len(events))
	}
	if events[0].EventType != models.EventProximity || events[0].Severity != models.SeverityCritical {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestProximityIDStableUnderReorder(t *testing.T) {
	id1 := models.SafetyEventID(models.EventProximity, "AAA111", "BBB222")
	id2 := models.SafetyEventID(models.EventProximity, "BBB222", "AAA111")
	if id1 != id2 {
		t.Fatalf("expected stable id, got %s vs %s", id1, id2)
	}
}

func TestSingleAircraftNoProximityEvent(t *testing.T) {
	mon := New(defaultThresholds(), newFakeStore(), nil, nil)
	obs := models.AircraftObservation{ICAO: "A1", Lat: floatPtr(47.6), Lon: floatPtr(-122.4), BaroAltitudeFt: intPtr(5000)}
	events := mon.Scan(time.Now(), []models.AircraftObservation{obs})
	if len(events) != 0 {
		t.Fatalf("expected no events for a single aircraft, got %d", len(events))
	}
}

func TestProximityExactThresholdDoesNotEmit(t *testing.T) {
	mon := New(defaultThresholds(), newFakeStore(), nil, nil)
	// Construct two points about 0.5 nm apart along a meridian (a hair over:
	// HaversineNM's earth radius gives ~60.04 nm per degree of latitude) and
	// exactly 500 ft apart in altitude.
	lat1 := 47.0
	nmPerDegLat := 60.00721
	lat2 := lat1 + 0.5/nmPerDegLat
	a := models.AircraftObservation{ICAO: "A1", Lat: floatPtr(lat1), Lon: floatPtr(-122.0), BaroAltitudeFt: intPtr(10000)}
	b := models.AircraftObservation{ICAO: "A2", Lat: floatPtr(lat2), Lon: floatPtr(-122.0), BaroAltitudeFt: intPtr(10500)}

	events := mon.Scan(time.Now(), []models.AircraftObservation{a, b})
	for _, e := range events {
		if e.EventType == models.EventProximity {
			t.Fatalf("expected no proximity event at/above threshold, got %+v", e)
		}
	}
}

func TestTCASReversal(t *testing.T) {
	mon := New(defaultThresholds(), newFakeStore(), nil, nil)
	t0 := time.Now()
	obs1 := models.AircraftObservation{ICAO: "A1", VerticalRateFpm: intPtr(-2000), BaroAltitudeFt: intPtr(15000)}
	mon.Scan(t0, []models.AircraftObservation{obs1})

	t1 := t0.Add(4 * time.Second)
	obs2 := models.AircraftObservation{ICAO: "A1", VerticalRateFpm: intPtr(2000), BaroAltitudeFt: intPtr(15000)}
	events := mon.Scan(t1, []models.AircraftObservation{obs2})

	var tcasCount int
	for _, e := range events {
		if e.EventType == models.EventTCASRA {
			tcasCount++
			if e.Severity != models.SeverityCritical {
				t.Fatalf("expected critical severity, got %s", e.Severity)
			}
		}
	}
	if tcasCount != 1 {
		t.Fatalf("expected exactly 1 tcas_ra event, got %d", tcasCount)
	}
}

func TestVSReversalZeroPrevDoesNotEmit(t *testing.T) {
	mon := New(defaultThresholds(), newFakeStore(), nil, nil)
	t0 := time.Now()
	obs1 := models.AircraftObservation{ICAO: "A1", VerticalRateFpm: intPtr(0), BaroAltitudeFt: intPtr(10000)}
	mon.Scan(t0, []models.AircraftObservation{obs1})

	t1 := t0.Add(4 * time.Second)
	obs2 := models.AircraftObservation{ICAO: "A1", VerticalRateFpm: intPtr(2000), BaroAltitudeFt: intPtr(10000)}
	events := mon.Scan(t1, []models.AircraftObservation{obs2})

	for _, e := range events {
		if e.EventType == models.EventTCASRA || e.EventType == models.EventVSReversal {
			t.Fatalf("expected no reversal event when prev_vs=0, got %+v", e)
		}
	}
}

func TestTakeoffLandingSuppression(t *testing.T) {
	mon := New(defaultThresholds(), newFakeStore(), nil, nil)
	a := models.AircraftObservation{
		ICAO: "A1", Lat: floatPtr(47.4489), Lon: floatPtr(-122.3094),
		BaroAltitudeFt: intPtr(1500), VerticalRateFpm: intPtr(1500),
	}
	lat2 := 47.4489 + 0.3/60.00721
	b := models.AircraftObservation{
		ICAO: "A2", Lat: floatPtr(lat2), Lon: floatPtr(-122.3094),
		BaroAltitudeFt: intPtr(1700), VerticalRateFpm: intPtr(-1500),
	}

	events := mon.Scan(time.Now(), []models.AircraftObservation{a, b})
	for _, e := range events {
		if e.EventType == models.EventProximity {
			t.Fatalf("expected takeoff/landing pair to be suppressed, got %+v", e)
		}
	}
}

func TestEmptyPollEmitsNoEvents(t *testing.T) {
	mon := New(defaultThresholds(), newFakeStore(), nil, nil)
	events := mon.Scan(time.Now(), nil)
	if len(events) != 0 {
		t.Fatalf("expected no events for empty poll, got %d", len(events))
	}
}

func TestAcknowledgeIsNonDestructive(t *testing.T) {
	store := newFakeStore()
	mon := New(defaultThresholds(), store, nil, nil)
	now := time.Now()
	obs := models.AircraftObservation{ICAO: "A1", Squawk: "7700"}
	mon.Scan(now, []models.AircraftObservation{obs})

	id := "squawk_emergency:A1"
	if !mon.Acknowledge(id) {
		t.Fatalf("expected acknowledge to succeed")
	}

	events := mon.Active()
	var found *models.SafetyEvent
	for _, e := range events {
		if e.ID == id {
			found = e
		}
	}
	if found == nil || !found.Acknowledged {
		t.Fatalf("expected event to remain present and acknowledged")
	}

	mon.Scan(now.Add(time.Second), []models.AircraftObservation{obs})
	events = mon.Active()
	for _, e := range events {
		if e.ID == id && !e.Acknowledged {
			t.Fatalf("expected acknowledgment to survive a refresh")
		}
	}
}
