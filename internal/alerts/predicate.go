// Package alerts evaluates user-defined rules against every observed
// aircraft, per spec.md §4.3. The operator table/field mapper is new (no
// example repo implements a generic rule DSL), built in the idiom of the
// teacher's internal/webhook.Dispatcher.CheckWatchlist wildcard/prefix
// matcher, generalized from one watchlist pattern into the full
// eq/neq/lt/le/gt/ge/contains/startswith/endswith/regex operator table.
package alerts

import (
	"regexp"
	"strconv"
	"strings"

	"skywatchcore/pkg/models"
)

// evalContext bundles an observation with its receiver-relative distance,
// computed once per checkAircraft call since distance isn't a field of
// models.AircraftObservation itself (it's derived from the feeder's fixed
// ReceiverLocation, per spec.md §4.3's "distance" logical field).
type evalContext struct {
	obs         *models.AircraftObservation
	distanceNM  float64
	hasDistance bool
}

// fieldValue resolves a logical field name to the aircraft's string form,
// returning ok=false when the aircraft carries no value for that field (a
// missing value always compares false, including for neq, per spec.md §4.3).
func fieldValue(ec *evalContext, field string) (string, bool) {
	o := ec.obs
	switch strings.ToLower(field) {
	case "icao":
		if o.ICAO == "" {
			return "", false
		}
		return o.ICAO, true
	case "callsign":
		if o.Callsign == "" {
			return "", false
		}
		return o.Callsign, true
	case "squawk":
		if o.Squawk == "" {
			return "", false
		}
		return o.Squawk, true
	case "altitude":
		alt, ok := o.AltitudeFt()
		if !ok {
			return "", false
		}
		return strconv.Itoa(alt), true
	case "distance":
		if !ec.hasDistance {
			return "", false
		}
		return strconv.FormatFloat(ec.distanceNM, 'f', -1, 64), true
	case "speed":
		if o.GroundSpeedKt == nil {
			return "", false
		}
		return strconv.FormatFloat(*o.GroundSpeedKt, 'f', -1, 64), true
	case "vertical_rate":
		if o.VerticalRateFpm == nil {
			return "", false
		}
		return strconv.Itoa(*o.VerticalRateFpm), true
	case "type":
		if o.AircraftType == "" {
			return "", false
		}
		return o.AircraftType, true
	case "category":
		if o.CategoryCode == "" {
			return "", false
		}
		return o.CategoryCode, true
	case "military":
		return strconv.FormatBool(o.Military), true
	default:
		return "", false
	}
}

// evalOperator applies one comparison operator between the aircraft's value
// for a field and the rule's literal value.
func evalOperator(op models.Operator, actual string, hasActual bool, value string) bool {
	if !hasActual {
		return false
	}
	switch op {
	case models.OpEq:
		return strings.EqualFold(actual, value)
	case models.OpNeq:
		return !strings.EqualFold(actual, value)
	case models.OpLt, models.OpLe, models.OpGt, models.OpGe:
		a, errA := strconv.ParseFloat(actual, 64)
		v, errV := strconv.ParseFloat(value, 64)
		if errA != nil || errV != nil {
			return false
		}
		switch op {
		case models.OpLt:
			return a < v
		case models.OpLe:
			return a <= v
		case models.OpGt:
			return a > v
		case models.OpGe:
			return a >= v
		}
		return false
	case models.OpContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(value))
	case models.OpStartsWith:
		return strings.HasPrefix(strings.ToLower(actual), strings.ToLower(value))
	case models.OpEndsWith:
		return strings.HasSuffix(strings.ToLower(actual), strings.ToLower(value))
	case models.OpRegex:
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	default:
		return false
	}
}

// matchPredicate evaluates one (field, operator, value) triple.
func matchPredicate(ec *evalContext, p *models.Predicate) bool {
	if p == nil {
		return true
	}
	actual, ok := fieldValue(ec, p.Field)
	return evalOperator(p.Operator, actual, ok, p.Value)
}

// matchGroup AND/OR-combines the conditions within one ConditionGroup. An
// empty condition list is vacuously true.
func matchGroup(ec *evalContext, g *models.ConditionGroup) bool {
	if len(g.Conditions) == 0 {
		return true
	}
	logic := g.Logic
	if logic == "" {
		logic = models.LogicAnd
	}
	if logic == models.LogicOr {
		for _, c := range g.Conditions {
			if matchPredicate(ec, &c) {
				return true
			}
		}
		return false
	}
	for _, c := range g.Conditions {
		if !matchPredicate(ec, &c) {
			return false
		}
	}
	return true
}

// matchTree AND/OR-combines the groups within a ConditionTree. An empty
// group list is vacuously true.
func matchTree(ec *evalContext, t *models.ConditionTree) bool {
	if t == nil {
		return true
	}
	if len(t.Groups) == 0 {
		return true
	}
	logic := t.Logic
	if logic == "" {
		logic = models.LogicAnd
	}
	if logic == models.LogicOr {
		for _, g := range t.Groups {
			if matchGroup(ec, &g) {
				return true
			}
		}
		return false
	}
	for _, g := range t.Groups {
		if !matchGroup(ec, &g) {
			return false
		}
	}
	return true
}

// matches reports whether rule r matches aircraft o: BOTH the simple
// predicate (if any) AND the condition tree (if any) must evaluate true. A
// rule with neither set matches every aircraft.
func matches(r *models.AlertRule, ec *evalContext) bool {
	if !matchPredicate(ec, r.Simple) {
		return false
	}
	if !matchTree(ec, r.Conditions) {
		return false
	}
	return true
}
