package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL            string
	NATSURL                string
	FixSubject             string
	EventSubjectPrefix     string
	NotifySubjectPrefix    string
	LogNATSSubjects        bool
	ThresholdKm            float64
	Fallback               bool
	CatalogFile            string
	GTFSPath               string
	// CatalogRoutes restricts the GTFS and Postgres catalogs; empty means all.
	CatalogRoutes          []string
	CatalogRefreshInterval time.Duration
	VehicleStaleAfter      time.Duration
	MetricsAddr            string
	HTTPAddr               string
	LogLevel               string
	LogFormat              string
	Env                    string
	SentryDSN              string
	Location               *time.Location
}

// Load reads the configuration from the environment, after loading .env when
// present.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars.
	// Postgres is optional when the catalog comes from a file.
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.FixSubject = getenvDefault("FIX_SUBJECT", "bus.fixes.>")
	cfg.EventSubjectPrefix = strings.TrimSuffix(getenvDefault("EVENT_SUBJECT_PREFIX", "bus.proximity"), ".")
	cfg.NotifySubjectPrefix = strings.TrimSuffix(getenvDefault("NOTIFY_SUBJECT_PREFIX", "bus.notify"), ".")

	// Debug logging for NATS publish subjects
	cfg.LogNATSSubjects = parseBool(os.Getenv("LOG_NATS_SUBJECTS"), false)

	if v := os.Getenv("PROXIMITY_THRESHOLD_KM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || !(f >= 0) || math.IsInf(f, 1) {
			return nil, fmt.Errorf("invalid PROXIMITY_THRESHOLD_KM: %q", v)
		}
		cfg.ThresholdKm = f
	} else {
		cfg.ThresholdKm = 1.0
	}
	cfg.Fallback = parseBool(os.Getenv("PROXIMITY_FALLBACK"), true)

	cfg.CatalogFile = os.Getenv("CATALOG_FILE")
	cfg.GTFSPath = os.Getenv("GTFS_PATH")
	cfg.CatalogRoutes = splitList(os.Getenv("CATALOG_ROUTES"))
	if cfg.DatabaseURL == "" && cfg.CatalogFile == "" && cfg.GTFSPath == "" {
		return nil, errors.New("one of DATABASE_URL, PGDATABASE, CATALOG_FILE or GTFS_PATH must be set")
	}

	// Catalog refresh interval (seconds), 0 disables reloading
	if v := os.Getenv("CATALOG_REFRESH_INTERVAL_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			return nil, fmt.Errorf("invalid CATALOG_REFRESH_INTERVAL_SEC: %q", v)
		}
		cfg.CatalogRefreshInterval = time.Duration(sec) * time.Second
	} else {
		cfg.CatalogRefreshInterval = 300 * time.Second
	}

	if v := os.Getenv("VEHICLE_STALE_AFTER_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("invalid VEHICLE_STALE_AFTER_SEC: %q", v)
		}
		cfg.VehicleStaleAfter = time.Duration(sec) * time.Second
	} else {
		cfg.VehicleStaleAfter = 15 * time.Minute
	}

	// Metrics listen address (e.g., ":9102"). Empty serves /metrics on HTTP_ADDR only.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":4000")

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "json")
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q", cfg.LogFormat)
	}
	cfg.Env = getenvDefault("ENV", "development")
	cfg.SentryDSN = os.Getenv("SENTRY_DSN")

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		return def
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
