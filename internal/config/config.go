// Package config loads the process-wide configuration surface from the
// environment, optionally layering a local .env file over the real
// environment via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type SafetyThresholds struct {
	VSChangeFpm      int
	VSExtremeFpm     int
	TCASVSFpm        int
	ProximityNM      float64
	AltitudeDiffFt   int
}

// HealthThresholds gates when the stats monitor pushes an operator
// notification alongside its periodic "stats" fan-out publish; zero disables
// the corresponding check.
type HealthThresholds struct {
	CPUPercent    float64
	MemoryPercent float64
	TempCelsius   float64
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type NotificationConfig struct {
	AppriseURLs     []string
	CooldownSeconds int
}

type Config struct {
	FeederLat float64
	FeederLon float64

	UltrafeederURL string
	Dump978URL     string

	PollingInterval time.Duration
	DBStoreInterval time.Duration

	HTTPAddr string

	Safety SafetyThresholds
	Health HealthThresholds

	AcarsEnabled bool
	AcarsPort    int
	Vdlm2Port    int

	Notification NotificationConfig

	Database DatabaseConfig

	// RedisURL enables the Redis-backed FanOut publisher for multi-worker
	// horizontal scale when set; the in-process Hub is used otherwise.
	RedisURL string
}

// Load reads `.env` (if present, never overriding real env vars) and then
// populates Config from the environment, failing fast on a missing required
// key or an out-of-range threshold per spec.md §7's "Config invariant
// violation" error class.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	cfg := &Config{
		PollingInterval: 2 * time.Second,
		DBStoreInterval: 15 * time.Second,
		HTTPAddr:        ":8080",
		AcarsPort:       5550,
		Vdlm2Port:       5555,
		Safety: SafetyThresholds{
			VSChangeFpm:    1000,
			VSExtremeFpm:   6000,
			TCASVSFpm:      1500,
			ProximityNM:    0.5,
			AltitudeDiffFt: 500,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			DBName:  "skywatch",
			SSLMode: "disable",
		},
	}

	var err error
	if cfg.FeederLat, err = requiredFloat("FEEDER_LAT"); err != nil {
		return nil, err
	}
	if cfg.FeederLon, err = requiredFloat("FEEDER_LON"); err != nil {
		return nil, err
	}
	if cfg.UltrafeederURL, err = requiredString("ULTRAFEEDER_URL"); err != nil {
		return nil, err
	}
	cfg.Dump978URL = os.Getenv("DUMP978_URL")

	if v := os.Getenv("POLLING_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: POLLING_INTERVAL_MS: %w", err)
		}
		cfg.PollingInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("DB_STORE_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: DB_STORE_INTERVAL_MS: %w", err)
		}
		cfg.DBStoreInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	if v := os.Getenv("SAFETY_VS_CHANGE_FPM"); v != "" {
		if cfg.Safety.VSChangeFpm, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: SAFETY_VS_CHANGE_FPM: %w", err)
		}
	}
	if v := os.Getenv("SAFETY_VS_EXTREME_FPM"); v != "" {
		if cfg.Safety.VSExtremeFpm, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: SAFETY_VS_EXTREME_FPM: %w", err)
		}
	}
	if v := os.Getenv("SAFETY_TCAS_VS_FPM"); v != "" {
		if cfg.Safety.TCASVSFpm, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: SAFETY_TCAS_VS_FPM: %w", err)
		}
	}
	if v := os.Getenv("SAFETY_PROXIMITY_NM"); v != "" {
		if cfg.Safety.ProximityNM, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("config: SAFETY_PROXIMITY_NM: %w", err)
		}
	}
	if v := os.Getenv("SAFETY_ALTITUDE_DIFF_FT"); v != "" {
		if cfg.Safety.AltitudeDiffFt, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: SAFETY_ALTITUDE_DIFF_FT: %w", err)
		}
	}
	if cfg.Safety.ProximityNM <= 0 || cfg.Safety.AltitudeDiffFt <= 0 {
		return nil, fmt.Errorf("config: safety thresholds must be positive")
	}

	if v := os.Getenv("HEALTH_CPU_PERCENT"); v != "" {
		if cfg.Health.CPUPercent, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("config: HEALTH_CPU_PERCENT: %w", err)
		}
	}
	if v := os.Getenv("HEALTH_MEMORY_PERCENT"); v != "" {
		if cfg.Health.MemoryPercent, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("config: HEALTH_MEMORY_PERCENT: %w", err)
		}
	}
	if v := os.Getenv("HEALTH_TEMP_CELSIUS"); v != "" {
		if cfg.Health.TempCelsius, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("config: HEALTH_TEMP_CELSIUS: %w", err)
		}
	}

	cfg.AcarsEnabled = os.Getenv("ACARS_ENABLED") == "" || parseBool(os.Getenv("ACARS_ENABLED"), true)
	if v := os.Getenv("ACARS_PORT"); v != "" {
		if cfg.AcarsPort, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: ACARS_PORT: %w", err)
		}
	}
	if v := os.Getenv("VDLM2_PORT"); v != "" {
		if cfg.Vdlm2Port, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: VDLM2_PORT: %w", err)
		}
	}

	if v := os.Getenv("NOTIFICATION_APPRISE_URLS"); v != "" {
		cfg.Notification.AppriseURLs = splitAndTrim(v)
	}
	cfg.Notification.CooldownSeconds = 300
	if v := os.Getenv("NOTIFICATION_COOLDOWN_SECONDS"); v != "" {
		if cfg.Notification.CooldownSeconds, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: NOTIFICATION_COOLDOWN_SECONDS: %w", err)
		}
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if cfg.Database.Port, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("config: DB_PORT: %w", err)
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.Database.SSLMode = v
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")

	return cfg, nil
}

func requiredString(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("config: required env var %s is not set", key)
	}
	return v, nil
}

func requiredFloat(key string) (float64, error) {
	v, err := requiredString(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func parseBool(v string, def bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
