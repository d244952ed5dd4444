package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"skywatchcore/pkg/models"
)

// InsertSighting appends an immutable AircraftSighting row, per spec.md §4.7.
func (s *Store) InsertSighting(sight models.AircraftSighting) (int64, error) {
	query := `
		INSERT INTO aircraft_sightings
			(icao, callsign, lat, lon, altitude_ft, ground_speed_kt, track_deg,
			 vertical_rate_fpm, squawk, signal_dbfs, distance_nm, bearing, channel, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id
	`
	var id int64
	err := s.conn.QueryRow(query,
		sight.ICAO, nullString(sight.Callsign), sight.Lat, sight.Lon, sight.AltitudeFt,
		sight.GroundSpeedKt, sight.TrackDeg, sight.VerticalRateFpm, nullString(sight.Squawk),
		sight.SignalDbFS, sight.DistanceNM, sight.Bearing, string(sight.Channel), sight.Timestamp,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert sighting: %w", err)
	}
	return id, nil
}

// FindOpenSession looks up a session for (icao, channel) whose last_seen is
// within the continuity window, per spec.md §4.2 step 2.
func (s *Store) FindOpenSession(icao string, channel models.SourceChannel, continuityWindow time.Duration) (*models.AircraftSession, error) {
	query := `
		SELECT id, icao, channel, COALESCE(callsign,''), first_seen, last_seen, total_positions,
		       min_altitude_ft, max_altitude_ft, min_distance_nm, max_distance_nm,
		       min_signal_dbfs, max_signal_dbfs, max_abs_vertical_rate, military, COALESCE(aircraft_type,'')
		FROM aircraft_sessions
		WHERE icao = $1 AND channel = $2 AND last_seen >= $3
		ORDER BY last_seen DESC
		LIMIT 1
	`
	row := s.conn.QueryRow(query, icao, string(channel), time.Now().Add(-continuityWindow))
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find open session: %w", err)
	}
	return sess, nil
}

// UpsertSession creates the session if it has no id, otherwise updates it in place.
func (s *Store) UpsertSession(sess *models.AircraftSession) error {
	if sess.ID == 0 {
		query := `
			INSERT INTO aircraft_sessions
				(icao, channel, callsign, first_seen, last_seen, total_positions,
				 min_altitude_ft, max_altitude_ft, min_distance_nm, max_distance_nm,
				 min_signal_dbfs, max_signal_dbfs, max_abs_vertical_rate, military, aircraft_type)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			RETURNING id
		`
		return s.conn.QueryRow(query,
			sess.ICAO, string(sess.Channel), nullString(sess.Callsign), sess.FirstSeen, sess.LastSeen,
			sess.TotalPositions, sess.MinAltitudeFt, sess.MaxAltitudeFt, sess.MinDistanceNM, sess.MaxDistanceNM,
			sess.MinSignalDbFS, sess.MaxSignalDbFS, sess.MaxAbsVertRate, sess.Military, nullString(sess.AircraftType),
		).Scan(&sess.ID)
	}

	query := `
		UPDATE aircraft_sessions SET
			callsign = COALESCE(NULLIF($2,''), callsign),
			last_seen = $3,
			total_positions = $4,
			min_altitude_ft = $5,
			max_altitude_ft = $6,
			min_distance_nm = $7,
			max_distance_nm = $8,
			min_signal_dbfs = $9,
			max_signal_dbfs = $10,
			max_abs_vertical_rate = $11,
			military = $12,
			aircraft_type = COALESCE(NULLIF($13,''), aircraft_type)
		WHERE id = $1
	`
	_, err := s.conn.Exec(query,
		sess.ID, sess.Callsign, sess.LastSeen, sess.TotalPositions,
		sess.MinAltitudeFt, sess.MaxAltitudeFt, sess.MinDistanceNM, sess.MaxDistanceNM,
		sess.MinSignalDbFS, sess.MaxSignalDbFS, sess.MaxAbsVertRate, sess.Military, sess.AircraftType,
	)
	if err != nil {
		return fmt.Errorf("store: update session: %w", err)
	}
	return nil
}

func scanSession(row *sql.Row) (*models.AircraftSession, error) {
	var sess models.AircraftSession
	var channel string
	if err := row.Scan(
		&sess.ID, &sess.ICAO, &channel, &sess.Callsign, &sess.FirstSeen, &sess.LastSeen,
		&sess.TotalPositions, &sess.MinAltitudeFt, &sess.MaxAltitudeFt,
		&sess.MinDistanceNM, &sess.MaxDistanceNM, &sess.MinSignalDbFS, &sess.MaxSignalDbFS,
		&sess.MaxAbsVertRate, &sess.Military, &sess.AircraftType,
	); err != nil {
		return nil, err
	}
	sess.Channel = models.SourceChannel(channel)
	return &sess, nil
}

// InsertSafetyEvent inserts a safety event row, or, when a row with the same
// event id exists, updates its severity, message, details and last_seen, and
// returns the row's durable id, which the SafetyMonitor glues back onto the
// in-memory event per spec.md §4.7.
func (s *Store) InsertSafetyEvent(e *models.SafetyEvent) (int64, error) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return 0, fmt.Errorf("store: marshal safety event details: %w", err)
	}

	query := `
		INSERT INTO safety_events (event_id, event_type, severity, icao, peer_icao, message, details, created_at, last_seen, acknowledged)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (event_id) DO UPDATE SET
			severity = $3,
			message = $6,
			details = $7,
			last_seen = $9
		RETURNING db_id
	`
	var id int64
	err = s.conn.QueryRow(query,
		e.ID, string(e.EventType), string(e.Severity), e.ICAO, nullString(e.PeerICAO),
		e.Message, details, e.CreatedAt, e.LastSeen, e.Acknowledged,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert safety event: %w", err)
	}
	return id, nil
}

// SetSafetyEventAcknowledged persists the acknowledgment overlay described in
// spec.md §9 (acknowledgment is the one piece of event state that survives a
// restart).
func (s *Store) SetSafetyEventAcknowledged(dbID int64, acknowledged bool) error {
	_, err := s.conn.Exec(`UPDATE safety_events SET acknowledged = $2 WHERE db_id = $1`, dbID, acknowledged)
	if err != nil {
		return fmt.Errorf("store: set safety event ack: %w", err)
	}
	return nil
}

// InsertAlertHistory appends one AlertHistory row.
func (s *Store) InsertAlertHistory(h *models.AlertHistory) error {
	snapshot, err := json.Marshal(h.Snapshot)
	if err != nil {
		return fmt.Errorf("store: marshal alert snapshot: %w", err)
	}
	query := `
		INSERT INTO alert_history (rule_id, icao, callsign, message, priority, snapshot, triggered_at, acknowledged)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`
	return s.conn.QueryRow(query,
		h.RuleID, h.ICAO, nullString(h.Callsign), h.Message, string(h.Priority), snapshot, h.TriggeredAt, h.Acknowledged,
	).Scan(&h.ID)
}

// ListAlertRules loads every rule for the AlertEngine's compiled snapshot.
func (s *Store) ListAlertRules() ([]models.AlertRule, error) {
	rows, err := s.conn.Query(`
		SELECT id, name, COALESCE(description,''), COALESCE(owner,''), visibility, enabled, priority,
		       rule_json, starts_at, expires_at, cooldown_seconds, COALESCE(webhook_url,''), last_triggered,
		       created_at, updated_at
		FROM alert_rules
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list alert rules: %w", err)
	}
	defer rows.Close()

	var out []models.AlertRule
	for rows.Next() {
		var r models.AlertRule
		var ruleJSON []byte
		var startsAt, expiresAt, lastTriggered sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Description, &r.Owner, &r.Visibility, &r.Enabled, &r.Priority,
			&ruleJSON, &startsAt, &expiresAt, &r.CooldownSeconds, &r.WebhookURL, &lastTriggered,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan alert rule: %w", err)
		}

		var body struct {
			Simple     *models.Predicate     `json:"simple"`
			Conditions *models.ConditionTree `json:"conditions"`
		}
		if len(ruleJSON) > 0 {
			if err := json.Unmarshal(ruleJSON, &body); err != nil {
				return nil, fmt.Errorf("store: unmarshal rule body %s: %w", r.ID, err)
			}
			r.Simple = body.Simple
			r.Conditions = body.Conditions
		}
		if startsAt.Valid {
			r.StartsAt = &startsAt.Time
		}
		if expiresAt.Valid {
			r.ExpiresAt = &expiresAt.Time
		}
		if lastTriggered.Valid {
			r.LastTriggered = &lastTriggered.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertAlertRule creates or replaces a rule definition.
func (s *Store) UpsertAlertRule(r *models.AlertRule) error {
	body, err := json.Marshal(struct {
		Simple     *models.Predicate     `json:"simple"`
		Conditions *models.ConditionTree `json:"conditions"`
	}{r.Simple, r.Conditions})
	if err != nil {
		return fmt.Errorf("store: marshal rule body: %w", err)
	}

	query := `
		INSERT INTO alert_rules (id, name, description, owner, visibility, enabled, priority, rule_json, starts_at, expires_at, cooldown_seconds, webhook_url, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = $2, description = $3, owner = $4, visibility = $5, enabled = $6, priority = $7,
			rule_json = $8, starts_at = $9, expires_at = $10, cooldown_seconds = $11, webhook_url = $12, updated_at = NOW()
	`
	_, err = s.conn.Exec(query,
		r.ID, r.Name, r.Description, r.Owner, string(r.Visibility), r.Enabled, string(r.Priority),
		body, r.StartsAt, r.ExpiresAt, r.CooldownSeconds, r.WebhookURL,
	)
	if err != nil {
		return fmt.Errorf("store: upsert alert rule: %w", err)
	}
	return nil
}

// DeleteAlertRule removes a rule definition.
func (s *Store) DeleteAlertRule(id string) error {
	_, err := s.conn.Exec(`DELETE FROM alert_rules WHERE id = $1`, id)
	return err
}

// TouchAlertRuleCooldown persists the rule's last_triggered stamp.
func (s *Store) TouchAlertRuleCooldown(id string, at time.Time) error {
	_, err := s.conn.Exec(`UPDATE alert_rules SET last_triggered = $2 WHERE id = $1`, id, at)
	return err
}

// InsertAcarsMessage appends an enriched, normalized ACARS/VDL2 record.
func (s *Store) InsertAcarsMessage(m *models.AcarsMessage) error {
	decoded, err := json.Marshal(m.DecodedFields)
	if err != nil {
		return fmt.Errorf("store: marshal decoded fields: %w", err)
	}
	query := `
		INSERT INTO acars_messages
			(channel, hash, timestamp, frequency_mhz, station_id, tail, flight, icao,
			 label, label_name, block_id, mode, ack, text, airline, decoded_fields)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING id
	`
	return s.conn.QueryRow(query,
		string(m.Channel), m.Hash, m.Timestamp, m.FrequencyMHz, nullString(m.StationID),
		nullString(m.Tail), nullString(m.Flight), nullString(m.ICAO), nullString(m.Label),
		nullString(m.LabelName), nullString(m.BlockID), nullString(m.Mode), nullString(m.Ack),
		m.Text, nullString(m.Airline), decoded,
	).Scan(&m.ID)
}

// InsertNotificationLog appends a push attempt, success or failure.
func (s *Store) InsertNotificationLog(l *models.NotificationLog) error {
	query := `
		INSERT INTO notification_log (config_id, subject, body, priority, sent, error, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`
	return s.conn.QueryRow(query, l.ConfigID, l.Subject, l.Body, string(l.Priority), l.Sent, l.Error, l.SentAt).Scan(&l.ID)
}

// SaveRangeCoverage persists one reception-range bearing bucket.
func (s *Store) SaveRangeCoverage(bucket int, maxNM float64, icao string, count int64) error {
	query := `
		INSERT INTO range_coverage (bearing_bucket, max_range_nm, max_range_icao, contact_count, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (bearing_bucket) DO UPDATE SET
			max_range_nm = GREATEST(range_coverage.max_range_nm, $2),
			max_range_icao = CASE WHEN $2 > range_coverage.max_range_nm THEN $3 ELSE range_coverage.max_range_icao END,
			contact_count = $4,
			updated_at = NOW()
	`
	_, err := s.conn.Exec(query, bucket, maxNM, icao, count)
	return err
}

type RangeBucket struct {
	Bearing      int
	MaxRangeNM   float64
	MaxRangeICAO string
	ContactCount int64
}

// LoadRangeCoverage restores the bearing-bucket table on startup.
func (s *Store) LoadRangeCoverage() ([]RangeBucket, error) {
	rows, err := s.conn.Query(`SELECT bearing_bucket, max_range_nm, COALESCE(max_range_icao,''), contact_count FROM range_coverage ORDER BY bearing_bucket`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RangeBucket
	for rows.Next() {
		var b RangeBucket
		if err := rows.Scan(&b.Bearing, &b.MaxRangeNM, &b.MaxRangeICAO, &b.ContactCount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SightingsBetween supports the statistics surface's range-query requirement.
func (s *Store) SightingsBetween(icao string, from, to time.Time) ([]models.AircraftSighting, error) {
	rows, err := s.conn.Query(`
		SELECT icao, COALESCE(callsign,''), lat, lon, altitude_ft, ground_speed_kt, track_deg,
		       vertical_rate_fpm, COALESCE(squawk,''), signal_dbfs, distance_nm, bearing, channel, timestamp
		FROM aircraft_sightings
		WHERE icao = $1 AND timestamp BETWEEN $2 AND $3
		ORDER BY timestamp ASC
	`, icao, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AircraftSighting
	for rows.Next() {
		var sight models.AircraftSighting
		var channel string
		if err := rows.Scan(
			&sight.ICAO, &sight.Callsign, &sight.Lat, &sight.Lon, &sight.AltitudeFt,
			&sight.GroundSpeedKt, &sight.TrackDeg, &sight.VerticalRateFpm, &sight.Squawk,
			&sight.SignalDbFS, &sight.DistanceNM, &sight.Bearing, &channel, &sight.Timestamp,
		); err != nil {
			return nil, err
		}
		sight.Channel = models.SourceChannel(channel)
		out = append(out, sight)
	}
	return out, rows.Err()
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
