// Package models holds the strongly-typed domain records that flow through the
// ingestion -> processing -> fan-out pipeline. Wire shapes (the permissive
// upstream JSON, the ACARS/VDL2 JSON variants) are narrowed into these types at
// the ingress boundary and never threaded deeper as untyped maps.
package models

import (
	"math"
	"time"
)

// SourceChannel identifies which receiver band an observation came from.
type SourceChannel string

const (
	Source1090 SourceChannel = "1090"
	Source978  SourceChannel = "978"
)

// AircraftObservation is the ephemeral, per-poll record produced by the Poller.
// It is never mutated after creation.
type AircraftObservation struct {
	ICAO            string        `json:"icao"`
	Callsign        string        `json:"callsign,omitempty"`
	Lat             *float64      `json:"lat,omitempty"`
	Lon             *float64      `json:"lon,omitempty"`
	BaroAltitudeFt  *int          `json:"alt_baro_ft,omitempty"`
	OnGround        bool          `json:"on_ground,omitempty"`
	GeomAltitudeFt  *int          `json:"alt_geom_ft,omitempty"`
	GroundSpeedKt   *float64      `json:"ground_speed_kt,omitempty"`
	TrackDeg        *float64      `json:"track_deg,omitempty"`
	VerticalRateFpm *int          `json:"vertical_rate_fpm,omitempty"`
	Squawk          string        `json:"squawk,omitempty"`
	SignalDbFS      *float64      `json:"signal_dbfs,omitempty"`
	AircraftType    string        `json:"aircraft_type,omitempty"`
	CategoryCode    string        `json:"category_code,omitempty"`
	Military        bool          `json:"military,omitempty"`
	Channel         SourceChannel `json:"channel"`
	PolledAt        time.Time     `json:"polled_at"`
}

// Valid reports whether the observation satisfies the invariants of spec.md §3:
// non-empty ICAO, and lat/lon both present or both absent and within range.
func (o *AircraftObservation) Valid() bool {
	if o.ICAO == "" {
		return false
	}
	if (o.Lat == nil) != (o.Lon == nil) {
		return false
	}
	if o.Lat != nil {
		if *o.Lat < -90 || *o.Lat > 90 {
			return false
		}
		if *o.Lon < -180 || *o.Lon > 180 {
			return false
		}
	}
	return true
}

// HasPosition reports whether both lat and lon are present.
func (o *AircraftObservation) HasPosition() bool {
	return o.Lat != nil && o.Lon != nil
}

// AltitudeFt returns the barometric altitude, preferring it over geometric,
// with ok=false if the aircraft is on the ground or altitude is unknown.
func (o *AircraftObservation) AltitudeFt() (int, bool) {
	if o.OnGround {
		return 0, false
	}
	if o.BaroAltitudeFt != nil {
		return *o.BaroAltitudeFt, true
	}
	if o.GeomAltitudeFt != nil {
		return *o.GeomAltitudeFt, true
	}
	return 0, false
}

// ReceiverLocation is the feeder station's fixed position, used to compute
// distance/bearing enrichment for every sighting.
type ReceiverLocation struct {
	Lat float64
	Lon float64
}

// AircraftSighting is a point-in-time, immutable persisted copy of an
// observation plus the computed great-circle distance/bearing from the station.
type AircraftSighting struct {
	ID              int64         `json:"id,omitempty"`
	ICAO            string        `json:"icao"`
	Callsign        string        `json:"callsign,omitempty"`
	Lat             *float64      `json:"lat,omitempty"`
	Lon             *float64      `json:"lon,omitempty"`
	AltitudeFt      *int          `json:"altitude_ft,omitempty"`
	GroundSpeedKt   *float64      `json:"ground_speed_kt,omitempty"`
	TrackDeg        *float64      `json:"track_deg,omitempty"`
	VerticalRateFpm *int          `json:"vertical_rate_fpm,omitempty"`
	Squawk          string        `json:"squawk,omitempty"`
	SignalDbFS      *float64      `json:"signal_dbfs,omitempty"`
	DistanceNM      float64       `json:"distance_nm"`
	Bearing         float64       `json:"bearing"`
	BearingCardinal string        `json:"bearing_cardinal,omitempty"`
	Channel         SourceChannel `json:"channel"`
	Timestamp       time.Time     `json:"timestamp"`
}

// NewSighting builds an AircraftSighting from an observation, computing the
// great-circle distance/bearing from the receiver location when both the
// observation and the receiver location carry a position.
func NewSighting(o *AircraftObservation, rx *ReceiverLocation) AircraftSighting {
	s := AircraftSighting{
		ICAO:            o.ICAO,
		Callsign:        o.Callsign,
		Lat:             o.Lat,
		Lon:             o.Lon,
		GroundSpeedKt:   o.GroundSpeedKt,
		TrackDeg:        o.TrackDeg,
		VerticalRateFpm: o.VerticalRateFpm,
		Squawk:          o.Squawk,
		SignalDbFS:      o.SignalDbFS,
		Channel:         o.Channel,
		Timestamp:       o.PolledAt,
	}
	if alt, ok := o.AltitudeFt(); ok {
		s.AltitudeFt = &alt
	}
	if rx != nil && o.HasPosition() {
		dist := HaversineNM(rx.Lat, rx.Lon, *o.Lat, *o.Lon)
		s.DistanceNM = math.Round(dist*10) / 10
		bearing := BearingDeg(rx.Lat, rx.Lon, *o.Lat, *o.Lon)
		s.Bearing = math.Round(bearing)
		s.BearingCardinal = ToCardinal(s.Bearing)
	}
	return s
}

// HaversineNM returns the great-circle distance between two points in nautical miles.
func HaversineNM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusNM = 3440.065
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	lat1Rad := toRad(lat1)
	lat2Rad := toRad(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusNM * c
}

// BearingDeg returns the initial bearing in degrees from point 1 to point 2.
func BearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := toRad(lat1)
	lat2Rad := toRad(lat2)
	dLon := toRad(lon2 - lon1)

	x := math.Sin(dLon) * math.Cos(lat2Rad)
	y := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(dLon)

	bearing := math.Atan2(x, y) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}

// ToCardinal renders a bearing in degrees as one of 16 compass points.
func ToCardinal(bearing float64) string {
	dirs := []string{"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE", "S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW"}
	idx := int(math.Round(bearing/22.5)) % 16
	if idx < 0 {
		idx += 16
	}
	return dirs[idx]
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
