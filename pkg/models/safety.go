package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type SafetyEventType string

const (
	EventSquawkEmergency SafetyEventType = "squawk_emergency"
	EventExtremeVS       SafetyEventType = "extreme_vs"
	EventTCASRA          SafetyEventType = "tcas_ra"
	EventVSReversal      SafetyEventType = "vs_reversal"
	EventProximity       SafetyEventType = "proximity_conflict"
)

// SafetyEvent is a detected safety condition. Identity is a deterministic key
// derived from (event_type, ICAO[, peer_ICAO]); for pair events the ICAO pair
// is sorted before the id is built so (A,B) and (B,A) collapse to the same id.
type SafetyEvent struct {
	DBID         int64                  `json:"db_id,omitempty"`
	ID           string                 `json:"id"`
	EventType    SafetyEventType        `json:"event_type"`
	Severity     Severity               `json:"severity"`
	ICAO         string                 `json:"icao"`
	PeerICAO     string                 `json:"peer_icao,omitempty"`
	Message      string                 `json:"message"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Snapshots    []AircraftObservation  `json:"snapshots,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	LastSeen     time.Time              `json:"last_seen"`
	Acknowledged bool                   `json:"acknowledged"`
}

// SafetyEventID computes the deterministic id for an event type and one or
// two ICAOs. For pair events the two ICAOs are sorted first so that (A,B)
// and (B,A) collapse to the same identity.
func SafetyEventID(eventType SafetyEventType, icao string, peerICAO ...string) string {
	if len(peerICAO) > 0 && peerICAO[0] != "" {
		pair := []string{icao, peerICAO[0]}
		sort.Strings(pair)
		return string(eventType) + ":" + pair[0] + ":" + pair[1]
	}
	return string(eventType) + ":" + icao
}

// ShortHash is a convenience for a stable, compact content hash used by the
// ACARS dedup cache (sha256 over the content key, hex-encoded).
func ShortHash(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// Merge folds a newly-detected occurrence into an existing event: refresh
// LastSeen, replace the message/details/snapshots with the latest detection,
// and never touch the Acknowledged flag (acknowledgment is a non-destructive
// overlay).
func (e *SafetyEvent) Merge(update *SafetyEvent) {
	e.LastSeen = update.LastSeen
	e.Message = update.Message
	e.Severity = update.Severity
	if update.Details != nil {
		e.Details = update.Details
	}
	if update.Snapshots != nil {
		e.Snapshots = update.Snapshots
	}
}

// Expired reports whether the event has not been refreshed within ttl.
func (e *SafetyEvent) Expired(at time.Time, ttl time.Duration) bool {
	return at.Sub(e.LastSeen) > ttl
}
