package safety

import "skywatchcore/pkg/models"

// majorAirport is one entry in the takeoff/landing suppression list.
type majorAirport struct {
	ICAO string
	Lat  float64
	Lon  float64
}

// majorAirports is the compile-time constant list used by the proximity
// detector's takeoff/landing suppression heuristic (spec.md §4.4(d) step 3).
// The source hard-codes this list rather than loading it from config; per
// spec.md §9's open question this repo keeps it a compile-time constant too,
// leaving configurability unresolved as the spec leaves it unspecified.
var majorAirports = []majorAirport{
	{"KSEA", 47.4489, -122.3094},
	{"KPDX", 45.5887, -122.5969},
	{"KBFI", 47.5300, -122.3019},
	{"KPAE", 47.9063, -122.2817},
	{"KLAX", 33.9416, -118.4085},
	{"KSFO", 37.6213, -122.3790},
	{"KJFK", 40.6413, -73.7781},
	{"KEWR", 40.6895, -74.1745},
	{"KLGA", 40.7769, -73.8740},
	{"KORD", 41.9742, -87.9073},
	{"KATL", 33.6407, -84.4277},
	{"KDFW", 32.8998, -97.0403},
	{"KDEN", 39.8561, -104.6737},
	{"KPHX", 33.4352, -112.0101},
	{"KMIA", 25.7959, -80.2870},
	{"KBOS", 42.3656, -71.0096},
	{"KIAD", 38.9531, -77.4565},
	{"KDCA", 38.8512, -77.0402},
	{"KLAS", 36.0840, -115.1537},
	{"KSAN", 32.7338, -117.1933},
}

// nearMajorAirport reports whether (lat, lon) is within withinNM nautical
// miles of any entry in majorAirports.
func nearMajorAirport(lat, lon, withinNM float64) bool {
	for _, ap := range majorAirports {
		if models.HaversineNM(lat, lon, ap.Lat, ap.Lon) <= withinNM {
			return true
		}
	}
	return false
}
