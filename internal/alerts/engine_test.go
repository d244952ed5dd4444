package alerts

import (
	"context"
	"testing"
	"time"

	"skywatchcore/pkg/models"
)

type fakeRepo struct {
	rules   []models.AlertRule
	history []*models.AlertHistory
}

func (f *fakeRepo) ListAlertRules() ([]models.AlertRule, error) { return f.rules, nil }
func (f *fakeRepo) InsertAlertHistory(h *models.AlertHistory) error {
	f.history = append(f.history, h)
	return nil
}
func (f *fakeRepo) TouchAlertRuleCooldown(id string, at time.Time) error { return nil }

func newTestRule(cooldown int) models.AlertRule {
	return models.AlertRule{
		ID:              "r1",
		Name:            "icao match",
		Enabled:         true,
		Priority:        models.PriorityWarning,
		Simple:          &models.Predicate{Field: "icao", Operator: models.OpEq, Value: "ABC123"},
		CooldownSeconds: cooldown,
	}
}

func TestCooldownSuppressesRepeatFires(t *testing.T) {
	repo := &fakeRepo{rules: []models.AlertRule{newTestRule(300)}}
	e := New(repo, nil, nil, models.ReceiverLocation{Lat: 40.0, Lon: -75.0})
	if err := e.Invalidate(); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	now := time.Now()
	obs := models.AircraftObservation{ICAO: "ABC123"}

	for i := 0; i < 3; i++ {
		e.CheckAll(context.Background(), now.Add(time.Duration(i)*10*time.Second), []models.AircraftObservation{obs})
	}

	if len(repo.history) != 1 {
		t.Fatalf("expected exactly 1 alert history row, got %d", len(repo.history))
	}
}

func TestSimpleAndTreeBothMustMatch(t *testing.T) {
	rule := models.AlertRule{
		ID: "r2", Name: "combo", Enabled: true,
		Simple: &models.Predicate{Field: "icao", Operator: models.OpEq, Value: "ABC123"},
		Conditions: &models.ConditionTree{
			Logic: models.LogicAnd,
			Groups: []models.ConditionGroup{
				{Logic: models.LogicAnd, Conditions: []models.Predicate{
					{Field: "altitude", Operator: models.OpGt, Value: "10000"},
				}},
			},
		},
	}
	repo := &fakeRepo{rules: []models.AlertRule{rule}}
	e := New(repo, nil, nil, models.ReceiverLocation{Lat: 40.0, Lon: -75.0})
	e.Invalidate()

	low := 5000
	lowObs := models.AircraftObservation{ICAO: "ABC123", BaroAltitudeFt: &low}
	e.CheckAll(context.Background(), time.Now(), []models.AircraftObservation{lowObs})
	if len(repo.history) != 0 {
		t.Fatalf("expected no fire when altitude condition fails, got %d", len(repo.history))
	}

	high := 20000
	highObs := models.AircraftObservation{ICAO: "ABC123", BaroAltitudeFt: &high}
	e.CheckAll(context.Background(), time.Now(), []models.AircraftObservation{highObs})
	if len(repo.history) != 1 {
		t.Fatalf("expected exactly 1 fire when both match, got %d", len(repo.history))
	}
}

func TestMissingFieldNeverMatchesEvenNeq(t *testing.T) {
	rule := models.AlertRule{
		ID: "r3", Name: "neq-squawk", Enabled: true,
		Simple: &models.Predicate{Field: "squawk", Operator: models.OpNeq, Value: "7700"},
	}
	repo := &fakeRepo{rules: []models.AlertRule{rule}}
	e := New(repo, nil, nil, models.ReceiverLocation{Lat: 40.0, Lon: -75.0})
	e.Invalidate()

	obs := models.AircraftObservation{ICAO: "NOQUAWK"} // no squawk set
	e.CheckAll(context.Background(), time.Now(), []models.AircraftObservation{obs})
	if len(repo.history) != 0 {
		t.Fatalf("missing field should compare false even for neq, got %d fires", len(repo.history))
	}
}

func TestScheduleWindowGatesFiring(t *testing.T) {
	future := time.Now().Add(time.Hour)
	rule := newTestRule(0)
	rule.StartsAt = &future
	repo := &fakeRepo{rules: []models.AlertRule{rule}}
	e := New(repo, nil, nil, models.ReceiverLocation{Lat: 40.0, Lon: -75.0})
	e.Invalidate()

	obs := models.AircraftObservation{ICAO: "ABC123"}
	e.CheckAll(context.Background(), time.Now(), []models.AircraftObservation{obs})
	if len(repo.history) != 0 {
		t.Fatalf("expected no fire before schedule window opens, got %d", len(repo.history))
	}
}

func TestDistanceFieldMatchesAgainstReceiverLocation(t *testing.T) {
	rule := models.AlertRule{
		ID: "r4", Name: "close-in", Enabled: true,
		Simple: &models.Predicate{Field: "distance", Operator: models.OpLt, Value: "5"},
	}
	repo := &fakeRepo{rules: []models.AlertRule{rule}}
	e := New(repo, nil, nil, models.ReceiverLocation{Lat: 40.0, Lon: -75.0})
	e.Invalidate()

	near := 40.01
	nearLon := -75.0
	nearObs := models.AircraftObservation{ICAO: "NEAR01", Lat: &near, Lon: &nearLon}
	e.CheckAll(context.Background(), time.Now(), []models.AircraftObservation{nearObs})
	if len(repo.history) != 1 {
		t.Fatalf("expected distance<5nm rule to fire for a nearby aircraft, got %d", len(repo.history))
	}

	far := 45.0
	farLon := -75.0
	farObs := models.AircraftObservation{ICAO: "FAR01", Lat: &far, Lon: &farLon}
	e.CheckAll(context.Background(), time.Now(), []models.AircraftObservation{farObs})
	if len(repo.history) != 1 {
		t.Fatalf("expected no additional fire for a distant aircraft, got %d", len(repo.history))
	}

	noPosObs := models.AircraftObservation{ICAO: "NOPOS1"}
	e.CheckAll(context.Background(), time.Now(), []models.AircraftObservation{noPosObs})
	if len(repo.history) != 1 {
		t.Fatalf("expected no fire when aircraft carries no position, got %d", len(repo.history))
	}
}
