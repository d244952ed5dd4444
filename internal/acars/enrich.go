package acars

import (
	"regexp"
	"strconv"
	"strings"

	"skywatchcore/pkg/models"
)

// icaoAirlines maps a 3-letter ICAO airline designator (from the callsign
// prefix) to a display name. A small representative set; the lookup
// degrades gracefully (airline left blank) for anything absent.
var icaoAirlines = map[string]string{
	"UAL": "United Airlines",
	"DAL": "Delta Air Lines",
	"AAL": "American Airlines",
	"SWA": "Southwest Airlines",
	"ASA": "Alaska Airlines",
	"JBU": "JetBlue Airways",
	"FDX": "FedEx Express",
	"UPS": "UPS Airlines",
	"BAW": "British Airways",
	"DLH": "Lufthansa",
	"AFR": "Air France",
	"ACA": "Air Canada",
	"QFA": "Qantas",
	"SIA": "Singapore Airlines",
	"UAE": "Emirates",
}

// iataAirlines maps the 2-letter IATA prefix fallback.
var iataAirlines = map[string]string{
	"UA": "United Airlines",
	"DL": "Delta Air Lines",
	"AA": "American Airlines",
	"WN": "Southwest Airlines",
	"AS": "Alaska Airlines",
	"B6": "JetBlue Airways",
	"FX": "FedEx Express",
	"5X": "UPS Airlines",
	"BA": "British Airways",
	"LH": "Lufthansa",
	"AF": "Air France",
	"AC": "Air Canada",
	"QF": "Qantas",
	"SQ": "Singapore Airlines",
	"EK": "Emirates",
}

// lookupAirline tries the 3-letter ICAO prefix first, then the 2-letter
// IATA prefix, per spec.md §4.5.
func lookupAirline(callsign string) string {
	cs := strings.ToUpper(strings.TrimSpace(callsign))
	if len(cs) >= 3 {
		if name, ok := icaoAirlines[cs[:3]]; ok {
			return name
		}
	}
	if len(cs) >= 2 {
		if name, ok := iataAirlines[cs[:2]]; ok {
			return name
		}
	}
	return ""
}

// labelNames is the static ACARS label dictionary.
var labelNames = map[string]string{
	"10": "OUT report", "11": "OFF report", "12": "ON report", "13": "IN report",
	"80": "OOOI report", "5Z": "No ACK", "Q0": "METAR request", "Q1": "METAR",
	"QA": "METAR", "QB": "METAR", "QC": "TAF", "QD": "TAF", "QE": "Winds aloft",
	"QF": "TAF", "H1": "Free text / position", "SA": "ATIS", "16": "Position report",
	"A6": "PDC request", "B6": "PDC response",
}

func labelName(label string) string {
	if name, ok := labelNames[strings.ToUpper(label)]; ok {
		return name
	}
	return ""
}

// oooiLabels maps a label to its OOOI event type.
var oooiLabels = map[string]string{"10": "out", "11": "off", "12": "on", "13": "in", "80": "oooi"}

var (
	positionRegex = regexp.MustCompile(`(?i)([NS])(\d{2,4}\.?\d*)\s*([EW])(\d{3,5}\.?\d*)`)
	decimalPosRe  = regexp.MustCompile(`(?i)([NS])(\d{1,2}\.\d+)\s*([EW])(\d{1,3}\.\d+)`)
	airportCodeRe = regexp.MustCompile(`\b([A-Z]{4})\b`)
)

var stopwords = map[string]bool{
	"THE": true, "AND": true, "FOR": true, "FROM": true, "WITH": true,
	"THIS": true, "THAT": true, "INTO": true, "OVER": true, "TIME": true,
	"FUEL": true, "FLAP": true, "DOOR": true, "TEST": true,
}

// icaoRegionPrefixes gates airport-code extraction to plausible ICAO region
// prefixes (K=CONUS, C=Canada, E=northern Europe, L=southern Europe, etc.).
var icaoRegionPrefixes = []string{"K", "C", "P", "E", "L", "U", "Z", "R", "Y", "V", "O", "S", "M", "A", "N"}

// enrich runs the pure post-normalization enrichment pass: airline lookup,
// label name, decoded-text analysis by label family, per spec.md §4.5.
func enrich(m *models.AcarsMessage) {
	if m.DecodedFields == nil {
		m.DecodedFields = make(map[string]interface{})
	}

	m.Airline = lookupAirline(m.Flight)
	m.LabelName = labelName(m.Label)

	text := strings.ToUpper(strings.TrimSpace(m.Text))
	if text == "" {
		return
	}

	if event, ok := oooiLabels[strings.ToUpper(m.Label)]; ok {
		m.DecodedFields["event_type"] = event
	}

	if lat, lon, ok := extractPosition(text); ok {
		m.DecodedFields["lat"] = lat
		m.DecodedFields["lon"] = lon
	}

	if strings.EqualFold(m.Label, "H1") {
		decodeH1(m, text)
	}

	if wxType, ok := weatherType(m.Label); ok {
		m.DecodedFields["weather_type"] = wxType
	}

	if airport, ok := extractAirportCode(text); ok {
		m.DecodedFields["airport"] = airport
	}
}

// extractPosition recognizes both DDMMm (degrees/minutes) and decimal
// lat/lon encodings embedded in free text.
func extractPosition(text string) (float64, float64, bool) {
	if m := decimalPosRe.FindStringSubmatch(text); m != nil {
		lat, errLat := strconv.ParseFloat(m[2], 64)
		lon, errLon := strconv.ParseFloat(m[4], 64)
		if errLat == nil && errLon == nil {
			if m[1] == "S" {
				lat = -lat
			}
			if m[3] == "W" {
				lon = -lon
			}
			return lat, lon, true
		}
	}
	if m := positionRegex.FindStringSubmatch(text); m != nil {
		lat, okLat := ddmmToDecimal(m[2])
		lon, okLon := ddmmToDecimal(m[4])
		if okLat && okLon {
			if m[1] == "S" {
				lat = -lat
			}
			if m[3] == "W" {
				lon = -lon
			}
			return lat, lon, true
		}
	}
	return 0, 0, false
}

// ddmmToDecimal parses a DDMMm (or DDDMMm for longitude) string into
// decimal degrees: the last two digits (plus any fraction) are minutes.
func ddmmToDecimal(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	dotIdx := strings.IndexByte(raw, '.')
	intPart := raw
	if dotIdx >= 0 {
		intPart = raw[:dotIdx]
	}
	if len(intPart) < 3 {
		return 0, false
	}
	degStr := intPart[:len(intPart)-2]
	minStr := raw[len(intPart)-2:]

	deg, err1 := strconv.ParseFloat(degStr, 64)
	min, err2 := strconv.ParseFloat(minStr, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return deg + min/60, true
}

// decodeH1 recognizes FPN flight-plan and POS position-report sub-messages
// within an H1 free-text payload.
func decodeH1(m *models.AcarsMessage, text string) {
	switch {
	case strings.Contains(text, "FPN"):
		m.DecodedFields["h1_type"] = "flight_plan"
	case strings.Contains(text, "POS"):
		m.DecodedFields["h1_type"] = "position_report"
	}
}

// weatherLabels classifies the weather-family labels (QA..QF, Q0..Q2) into
// the report type decode_text annotates, kept in sync with labelNames above
// so the two never disagree on what a given label means.
var weatherLabels = map[string]string{
	"QA": "METAR", "QB": "METAR",
	"QC": "TAF", "QD": "TAF", "QF": "TAF",
	"QE": "Winds aloft",
	"Q0": "METAR request", "Q1": "METAR", "Q2": "TAF",
}

// weatherType maps weather-family labels (QA..QF, Q0..Q2) to a report type.
func weatherType(label string) (string, bool) {
	wxType, ok := weatherLabels[strings.ToUpper(label)]
	return wxType, ok
}

// extractAirportCode scans free text for a 4-letter ICAO airport code,
// filtered by plausible region prefix and a stopword list of common English
// words that happen to be 4 letters.
func extractAirportCode(text string) (string, bool) {
	for _, m := range airportCodeRe.FindAllString(text, -1) {
		if stopwords[m] {
			continue
		}
		for _, prefix := range icaoRegionPrefixes {
			if strings.HasPrefix(m, prefix) {
				return m, true
			}
		}
	}
	return "", false
}
