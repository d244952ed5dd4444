package safety

import (
	"fmt"
	"math"
	"time"

	"skywatchcore/pkg/models"
)

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// checkEmergencySquawk is detector (a). Emergency events bypass cooldown:
// the event stays refreshed as long as the squawk persists, but the stable
// event id keeps the fan-out consumer from seeing duplicates.
func (m *Monitor) checkEmergencySquawk(now time.Time, o models.AircraftObservation) *models.SafetyEvent {
	var severity models.Severity
	var msg string
	switch o.Squawk {
	case "7500":
		severity, msg = models.SeverityCritical, "Hijack code squawked"
	case "7700":
		severity, msg = models.SeverityCritical, "General emergency squawked"
	case "7600":
		severity, msg = models.SeverityWarning, "Radio failure squawked"
	default:
		return nil
	}

	candidate := &models.SafetyEvent{
		ID:        models.SafetyEventID(models.EventSquawkEmergency, o.ICAO),
		EventType: models.EventSquawkEmergency,
		Severity:  severity,
		ICAO:      o.ICAO,
		Message:   msg,
		Details:   map[string]interface{}{"squawk": o.Squawk},
		Snapshots: []models.AircraftObservation{o},
		LastSeen:  now,
	}
	return m.storeAndPublish(now, candidate)
}

// checkExtremeVS is detector (b).
func (m *Monitor) checkExtremeVS(now time.Time, o models.AircraftObservation) *models.SafetyEvent {
	if o.VerticalRateFpm == nil {
		return nil
	}
	vs := *o.VerticalRateFpm
	if abs(vs) < m.thresholds.VSExtremeFpm {
		return nil
	}

	severity := models.SeverityLow
	switch {
	case abs(vs) >= 8000:
		severity = models.SeverityCritical
	case abs(vs) >= 7000:
		severity = models.SeverityWarning
	}

	id := models.SafetyEventID(models.EventExtremeVS, o.ICAO)
	if !m.events.cooledDown(id, eventCooldown, now) {
		return nil
	}

	candidate := &models.SafetyEvent{
		ID:        id,
		EventType: models.EventExtremeVS,
		Severity:  severity,
		ICAO:      o.ICAO,
		Message:   fmt.Sprintf("Extreme vertical rate %d fpm", vs),
		Details:   map[string]interface{}{"vertical_rate_fpm": vs},
		Snapshots: []models.AircraftObservation{o},
		LastSeen:  now,
	}
	return m.storeAndPublish(now, candidate)
}

// checkVSReversal is detector (c): TCAS-like reversal / vs_reversal. A
// duplicated branch in the source emits tcas_ra twice in rapid succession;
// per spec.md §9's open question, this port emits at most one event per
// detection.
func (m *Monitor) checkVSReversal(now time.Time, o models.AircraftObservation, prevState aircraftState) *models.SafetyEvent {
	if o.VerticalRateFpm == nil {
		return nil
	}
	currentVS := *o.VerticalRateFpm

	prevVS, ok := prevState.vsAt(vsSampleLag, now)
	if !ok || prevVS == 0 {
		return nil
	}

	sameSign := (prevVS > 0) == (currentVS > 0)
	if sameSign || currentVS == 0 {
		return nil
	}

	altitudeFt, hasAlt := o.AltitudeFt()
	if hasAlt && altitudeFt < 3000 && currentVS > 0 {
		return nil // normal takeoff rotation
	}

	tcas := m.thresholds.TCASVSFpm
	if tcas <= 0 {
		tcas = 1500
	}

	if abs(prevVS) >= tcas && abs(currentVS) >= tcas {
		id := models.SafetyEventID(models.EventTCASRA, o.ICAO)
		if !m.events.cooledDown(id, eventCooldown, now) {
			return nil
		}
		candidate := &models.SafetyEvent{
			ID:        id,
			EventType: models.EventTCASRA,
			Severity:  models.SeverityCritical,
			ICAO:      o.ICAO,
			Message:   fmt.Sprintf("TCAS-like VS reversal %d -> %d fpm", prevVS, currentVS),
			Details:   map[string]interface{}{"prev_vs_fpm": prevVS, "current_vs_fpm": currentVS},
			Snapshots: []models.AircraftObservation{o},
			LastSeen:  now,
		}
		return m.storeAndPublish(now, candidate)
	}

	change := abs(currentVS - prevVS)
	changeThreshold := m.thresholds.VSChangeFpm
	if changeThreshold <= 0 {
		changeThreshold = 1000
	}
	if change < changeThreshold {
		return nil
	}

	id := models.SafetyEventID(models.EventVSReversal, o.ICAO)
	if !m.events.cooledDown(id, eventCooldown, now) {
		return nil
	}
	severity := models.SeverityLow
	if change >= 4000 {
		severity = models.SeverityWarning
	}
	candidate := &models.SafetyEvent{
		ID:        id,
		EventType: models.EventVSReversal,
		Severity:  severity,
		ICAO:      o.ICAO,
		Message:   fmt.Sprintf("Vertical rate reversal %d -> %d fpm", prevVS, currentVS),
		Details:   map[string]interface{}{"prev_vs_fpm": prevVS, "current_vs_fpm": currentVS, "change_fpm": change},
		Snapshots: []models.AircraftObservation{o},
		LastSeen:  now,
	}
	return m.storeAndPublish(now, candidate)
}

// checkProximity is detector (d): the pairwise proximity conflict scan.
func (m *Monitor) checkProximity(now time.Time, obs []models.AircraftObservation, snapshot map[string]aircraftState) []*models.SafetyEvent {
	var fired []*models.SafetyEvent

	var eligible []proximityCandidate
	for _, o := range obs {
		if !o.HasPosition() {
			continue
		}
		alt, ok := o.AltitudeFt()
		if !ok || alt < 500 {
			continue
		}
		eligible = append(eligible, proximityCandidate{o: o, alt: alt})
	}

	for i := 0; i < len(eligible); i++ {
		for j := i + 1; j < len(eligible); j++ {
			a, b := eligible[i], eligible[j]

			// Boundary cases (spec.md §8) require strict inequality: a pair
			// exactly at the proximity or altitude-diff threshold must not
			// emit, so both gates reject at-or-beyond the configured limit.
			distNM := models.HaversineNM(*a.o.Lat, *a.o.Lon, *b.o.Lat, *b.o.Lon)
			if distNM >= m.thresholds.ProximityNM {
				continue
			}

			altDiff := abs(a.alt - b.alt)
			if altDiff >= m.thresholds.AltitudeDiffFt {
				continue
			}

			stA, stB := snapshot[a.o.ICAO], snapshot[b.o.ICAO]
			if isTakeoffLandingPair(a, b, stA, stB) {
				continue
			}

			closureKt := closureRate(a.o, b.o)

			var severity models.Severity
			switch {
			case distNM < 0.25 && altDiff < 300:
				severity = models.SeverityCritical
			case distNM < 0.35 || altDiff < 400:
				severity = models.SeverityWarning
			default:
				severity = models.SeverityLow
			}

			id := models.SafetyEventID(models.EventProximity, a.o.ICAO, b.o.ICAO)
			if !m.events.cooledDown(id, eventCooldown, now) {
				continue
			}

			msg := fmt.Sprintf("Proximity conflict %s/%s: %.2f nm, %d ft, closure %.0f kt",
				a.o.ICAO, b.o.ICAO, distNM, altDiff, closureKt)

			cand := &models.SafetyEvent{
				ID:        id,
				EventType: models.EventProximity,
				Severity:  severity,
				ICAO:      a.o.ICAO,
				PeerICAO:  b.o.ICAO,
				Message:   msg,
				Details: map[string]interface{}{
					"distance_nm":  math.Round(distNM*100) / 100,
					"alt_diff_ft":  altDiff,
					"closure_kt":   math.Round(closureKt),
				},
				Snapshots: []models.AircraftObservation{a.o, b.o},
				LastSeen:  now,
			}
			fired = append(fired, m.storeAndPublish(now, cand))
		}
	}

	return fired
}

type proximityCandidate struct {
	o   models.AircraftObservation
	alt int
}

// isTakeoffLandingPair implements spec.md §4.4(d) step 3's suppression
// heuristic: both aircraft near a major airport, below 3000 ft, with
// vertical rates of opposite sign and at least one magnitude >= 300 fpm.
func isTakeoffLandingPair(a, b proximityCandidate, stA, stB aircraftState) bool {
	if a.alt >= 3000 || b.alt >= 3000 {
		return false
	}
	if !nearMajorAirport(*a.o.Lat, *a.o.Lon, 5) || !nearMajorAirport(*b.o.Lat, *b.o.Lon, 5) {
		return false
	}
	if a.o.VerticalRateFpm == nil || b.o.VerticalRateFpm == nil {
		return false
	}
	vsA, vsB := *a.o.VerticalRateFpm, *b.o.VerticalRateFpm
	oppositeSign := (vsA > 0) != (vsB > 0)
	if !oppositeSign {
		return false
	}
	return abs(vsA) >= 300 || abs(vsB) >= 300
}

// closureRate projects each aircraft's ground-velocity vector onto the
// inter-aircraft bearing and returns the scalar component (knots) bringing
// them together: positive means closing, negative means opening.
func closureRate(a, b models.AircraftObservation) float64 {
	if a.GroundSpeedKt == nil || b.GroundSpeedKt == nil || a.TrackDeg == nil || b.TrackDeg == nil {
		return 0
	}
	bearingAB := models.BearingDeg(*a.Lat, *a.Lon, *b.Lat, *b.Lon)
	bearingBA := models.BearingDeg(*b.Lat, *b.Lon, *a.Lat, *a.Lon)

	// Component of A's velocity along the bearing toward B (positive = moving toward B).
	closingA := *a.GroundSpeedKt * math.Cos(toRadians(*a.TrackDeg-bearingAB))
	closingB := *b.GroundSpeedKt * math.Cos(toRadians(*b.TrackDeg-bearingBA))
	return closingA + closingB
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
