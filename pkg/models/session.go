package models

import "time"

// AircraftSession groups sightings of one ICAO within a continuity window.
// It is mutable for the life of the session: min aggregates are
// non-increasing, max aggregates are non-decreasing, TotalPositions counts
// the sightings folded into [FirstSeen, LastSeen].
type AircraftSession struct {
	ID              int64         `json:"id,omitempty"`
	ICAO            string        `json:"icao"`
	Channel         SourceChannel `json:"channel"`
	Callsign        string        `json:"callsign,omitempty"`
	FirstSeen       time.Time     `json:"first_seen"`
	LastSeen        time.Time     `json:"last_seen"`
	TotalPositions  int           `json:"total_positions"`
	MinAltitudeFt   *int          `json:"min_altitude_ft,omitempty"`
	MaxAltitudeFt   *int          `json:"max_altitude_ft,omitempty"`
	MinDistanceNM   *float64      `json:"min_distance_nm,omitempty"`
	MaxDistanceNM   *float64      `json:"max_distance_nm,omitempty"`
	MinSignalDbFS   *float64      `json:"min_signal_dbfs,omitempty"`
	MaxSignalDbFS   *float64      `json:"max_signal_dbfs,omitempty"`
	MaxAbsVertRate  int           `json:"max_abs_vertical_rate"`
	Military        bool          `json:"military,omitempty"`
	AircraftType    string        `json:"aircraft_type,omitempty"`
}

// Open reports whether the session is still within the continuity window at
// the given instant.
func (s *AircraftSession) Open(at time.Time, continuityWindow time.Duration) bool {
	return at.Sub(s.LastSeen) <= continuityWindow
}

// Fold merges a sighting into the session, updating the lifecycle fields and
// the min/max aggregates in place.
func (s *AircraftSession) Fold(sight AircraftSighting) {
	if s.FirstSeen.IsZero() {
		s.FirstSeen = sight.Timestamp
	}
	s.LastSeen = sight.Timestamp
	s.TotalPositions++

	if sight.Callsign != "" {
		s.Callsign = sight.Callsign
	}

	if sight.AltitudeFt != nil {
		foldIntMin(&s.MinAltitudeFt, *sight.AltitudeFt)
		foldIntMax(&s.MaxAltitudeFt, *sight.AltitudeFt)
	}
	foldFloatMin(&s.MinDistanceNM, sight.DistanceNM)
	foldFloatMax(&s.MaxDistanceNM, sight.DistanceNM)
	if sight.SignalDbFS != nil {
		foldFloatMin(&s.MinSignalDbFS, *sight.SignalDbFS)
		foldFloatMax(&s.MaxSignalDbFS, *sight.SignalDbFS)
	}
	if sight.VerticalRateFpm != nil {
		abs := *sight.VerticalRateFpm
		if abs < 0 {
			abs = -abs
		}
		if abs > s.MaxAbsVertRate {
			s.MaxAbsVertRate = abs
		}
	}
}

func foldIntMin(cur **int, v int) {
	if *cur == nil || v < **cur {
		val := v
		*cur = &val
	}
}

func foldIntMax(cur **int, v int) {
	if *cur == nil || v > **cur {
		val := v
		*cur = &val
	}
}

func foldFloatMin(cur **float64, v float64) {
	if *cur == nil || v < **cur {
		val := v
		*cur = &val
	}
}

func foldFloatMax(cur **float64, v float64) {
	if *cur == nil || v > **cur {
		val := v
		*cur = &val
	}
}
