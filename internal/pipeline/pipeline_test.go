package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"skywatchcore/internal/fanout"
	"skywatchcore/internal/sessions"
	"skywatchcore/pkg/models"
)

type stubSessions struct{}

func (stubSessions) Update(sight models.AircraftSighting) (sessions.Result, error) {
	return sessions.Result{Session: &models.AircraftSession{ICAO: sight.ICAO}, IsNew: true}, nil
}

type stubStore struct{ inserted int }

func (s *stubStore) InsertSighting(sight models.AircraftSighting) (int64, error) {
	s.inserted++
	return int64(s.inserted), nil
}

type stubSafety struct{}

func (stubSafety) Scan(now time.Time, obs []models.AircraftObservation) []*models.SafetyEvent {
	return nil
}

type stubAlerts struct{ calls int }

func (s *stubAlerts) CheckAll(ctx context.Context, now time.Time, obs []models.AircraftObservation) {
	s.calls++
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []fanout.Event
}

func (p *recordingPublisher) Publish(topic fanout.Topic, event string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, fanout.Event{Topic: topic, Event: event, Payload: payload})
	return nil
}

func floatPtr(v float64) *float64 { return &v }

func TestProcessPersistsOnlyWhenStoreDue(t *testing.T) {
	store := &stubStore{}
	p := New(models.ReceiverLocation{Lat: 47.6, Lon: -122.3}, stubSessions{}, store, stubSafety{}, &stubAlerts{}, &recordingPublisher{}, nil)

	obs := []models.AircraftObservation{{ICAO: "ABC123", Lat: floatPtr(47.6), Lon: floatPtr(-122.3)}}

	p.Process(context.Background(), obs, false)
	if store.inserted != 0 {
		t.Fatalf("expected no persistence when storeDue is false, got %d", store.inserted)
	}

	p.Process(context.Background(), obs, true)
	if store.inserted != 1 {
		t.Fatalf("expected one persisted sighting, got %d", store.inserted)
	}
}

func TestProcessAlwaysEvaluatesAlerts(t *testing.T) {
	alerts := &stubAlerts{}
	p := New(models.ReceiverLocation{}, stubSessions{}, &stubStore{}, stubSafety{}, alerts, &recordingPublisher{}, nil)

	obs := []models.AircraftObservation{{ICAO: "ABC123"}}
	p.Process(context.Background(), obs, false)
	p.Process(context.Background(), obs, false)

	if alerts.calls != 2 {
		t.Fatalf("expected alerts evaluated every cycle regardless of storeDue, got %d calls", alerts.calls)
	}
}

func TestFirstSightingEmitsNewAndRemoveOnDisappear(t *testing.T) {
	pub := &recordingPublisher{}
	p := New(models.ReceiverLocation{}, stubSessions{}, &stubStore{}, stubSafety{}, &stubAlerts{}, pub, nil)

	obs := []models.AircraftObservation{{ICAO: "ABC123", Lat: floatPtr(47.6), Lon: floatPtr(-122.3)}}
	p.Process(context.Background(), obs, false)

	pub.mu.Lock()
	foundNew := false
	for _, e := range pub.events {
		if e.Topic == fanout.TopicAircraft && e.Event == "new" {
			foundNew = true
		}
	}
	pub.mu.Unlock()
	if !foundNew {
		t.Fatal("expected an aircraft:new event on first sighting")
	}

	pub.mu.Lock()
	pub.events = nil
	pub.mu.Unlock()

	p.Process(context.Background(), nil, false)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	foundRemove := false
	for _, e := range pub.events {
		if e.Topic == fanout.TopicAircraft && e.Event == "remove" {
			foundRemove = true
		}
	}
	if !foundRemove {
		t.Fatal("expected an aircraft:remove event once the aircraft disappears from the poll")
	}
}

func TestNoChangeEmitsNoUpdate(t *testing.T) {
	pub := &recordingPublisher{}
	p := New(models.ReceiverLocation{}, stubSessions{}, &stubStore{}, stubSafety{}, &stubAlerts{}, pub, nil)

	obs := []models.AircraftObservation{{ICAO: "ABC123", Lat: floatPtr(47.6), Lon: floatPtr(-122.3)}}
	p.Process(context.Background(), obs, false)

	pub.mu.Lock()
	pub.events = nil
	pub.mu.Unlock()

	p.Process(context.Background(), obs, false)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, e := range pub.events {
		if e.Topic == fanout.TopicAircraft && e.Event == "update" {
			t.Fatal("expected no aircraft:update event when nothing changed beyond threshold")
		}
	}
}
