// Package store is the durable sink: Postgres connection management, schema
// migration, and the persistence operations every other component needs
// (sightings, sessions, safety events, alert rules/history, ACARS messages,
// range coverage, notification log).
package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c Config) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
}

type Store struct {
	conn *sql.DB
}

func Connect(cfg Config) (*Store, error) {
	conn, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("[STORE] Connected to PostgreSQL at %s:%d", cfg.Host, cfg.Port)
	return &Store{conn: conn}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) Conn() *sql.DB {
	return s.conn
}

func (s *Store) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS aircraft_sightings (
		id SERIAL PRIMARY KEY,
		icao VARCHAR(6) NOT NULL,
		callsign VARCHAR(10),
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		altitude_ft INTEGER,
		ground_speed_kt DOUBLE PRECISION,
		track_deg DOUBLE PRECISION,
		vertical_rate_fpm INTEGER,
		squawk VARCHAR(4),
		signal_dbfs DOUBLE PRECISION,
		distance_nm DOUBLE PRECISION NOT NULL DEFAULT 0,
		bearing DOUBLE PRECISION,
		channel VARCHAR(4) NOT NULL,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sightings_icao_ts ON aircraft_sightings(icao, timestamp DESC);

	CREATE TABLE IF NOT EXISTS aircraft_sessions (
		id SERIAL PRIMARY KEY,
		icao VARCHAR(6) NOT NULL,
		channel VARCHAR(4) NOT NULL,
		callsign VARCHAR(10),
		first_seen TIMESTAMP WITH TIME ZONE NOT NULL,
		last_seen TIMESTAMP WITH TIME ZONE NOT NULL,
		total_positions INTEGER NOT NULL DEFAULT 0,
		min_altitude_ft INTEGER,
		max_altitude_ft INTEGER,
		min_distance_nm DOUBLE PRECISION,
		max_distance_nm DOUBLE PRECISION,
		min_signal_dbfs DOUBLE PRECISION,
		max_signal_dbfs DOUBLE PRECISION,
		max_abs_vertical_rate INTEGER NOT NULL DEFAULT 0,
		military BOOLEAN DEFAULT FALSE,
		aircraft_type VARCHAR(10)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_icao_last_seen ON aircraft_sessions(icao, channel, last_seen DESC);

	CREATE TABLE IF NOT EXISTS safety_events (
		db_id SERIAL PRIMARY KEY,
		event_id VARCHAR(128) NOT NULL UNIQUE,
		event_type VARCHAR(32) NOT NULL,
		severity VARCHAR(16) NOT NULL,
		icao VARCHAR(6) NOT NULL,
		peer_icao VARCHAR(6),
		message TEXT,
		details JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		last_seen TIMESTAMP WITH TIME ZONE NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_safety_events_last_seen ON safety_events(last_seen DESC);

	CREATE TABLE IF NOT EXISTS alert_rules (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(200) NOT NULL,
		description TEXT,
		owner VARCHAR(100),
		visibility VARCHAR(16) NOT NULL DEFAULT 'private',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		priority VARCHAR(16) NOT NULL DEFAULT 'info',
		rule_json JSONB NOT NULL,
		starts_at TIMESTAMP WITH TIME ZONE,
		expires_at TIMESTAMP WITH TIME ZONE,
		cooldown_seconds INTEGER NOT NULL DEFAULT 0,
		webhook_url TEXT,
		last_triggered TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS alert_history (
		id SERIAL PRIMARY KEY,
		rule_id VARCHAR(64) NOT NULL,
		icao VARCHAR(6) NOT NULL,
		callsign VARCHAR(10),
		message TEXT,
		priority VARCHAR(16) NOT NULL,
		snapshot JSONB,
		triggered_at TIMESTAMP WITH TIME ZONE NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_alert_history_rule ON alert_history(rule_id, triggered_at DESC);

	CREATE TABLE IF NOT EXISTS acars_messages (
		id SERIAL PRIMARY KEY,
		channel VARCHAR(8) NOT NULL,
		hash VARCHAR(64) NOT NULL,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		frequency_mhz DOUBLE PRECISION,
		station_id VARCHAR(32),
		tail VARCHAR(16),
		flight VARCHAR(16),
		icao VARCHAR(6),
		label VARCHAR(4),
		label_name VARCHAR(64),
		block_id VARCHAR(4),
		mode VARCHAR(4),
		ack VARCHAR(4),
		text TEXT,
		airline VARCHAR(64),
		decoded_fields JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_acars_messages_ts ON acars_messages(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_acars_messages_icao ON acars_messages(icao);

	CREATE TABLE IF NOT EXISTS range_coverage (
		bearing_bucket INTEGER PRIMARY KEY,
		max_range_nm DOUBLE PRECISION DEFAULT 0,
		max_range_icao VARCHAR(6),
		contact_count BIGINT DEFAULT 0,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS notification_log (
		id SERIAL PRIMARY KEY,
		config_id VARCHAR(64) NOT NULL,
		subject TEXT,
		body TEXT,
		priority VARCHAR(16),
		sent BOOLEAN NOT NULL,
		error TEXT,
		sent_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notification_log_config ON notification_log(config_id, sent_at DESC);
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Printf("[STORE] Database schema migrated successfully")
	return nil
}
