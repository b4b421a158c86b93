package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managedVars = []string{
	"DATABASE_URL", "PG_DSN", "PGHOST", "PGPORT", "PGUSER", "PGPASSWORD", "PGDATABASE", "PGSSLMODE",
	"NATS_URL", "FIX_SUBJECT", "EVENT_SUBJECT_PREFIX", "NOTIFY_SUBJECT_PREFIX", "LOG_NATS_SUBJECTS",
	"PROXIMITY_THRESHOLD_KM", "PROXIMITY_FALLBACK", "CATALOG_FILE", "GTFS_PATH", "CATALOG_ROUTES",
	"CATALOG_REFRESH_INTERVAL_SEC", "VEHICLE_STALE_AFTER_SEC", "METRICS_ADDR", "HTTP_ADDR",
	"LOG_LEVEL", "LOG_FORMAT", "ENV", "SENTRY_DSN", "TZ",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range managedVars {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATALOG_FILE", "stops.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATSURL)
	assert.Equal(t, "bus.fixes.>", cfg.FixSubject)
	assert.Equal(t, "bus.proximity", cfg.EventSubjectPrefix)
	assert.Equal(t, "bus.notify", cfg.NotifySubjectPrefix)
	assert.False(t, cfg.LogNATSSubjects)
	assert.Equal(t, 1.0, cfg.ThresholdKm)
	assert.True(t, cfg.Fallback)
	assert.Equal(t, 300*time.Second, cfg.CatalogRefreshInterval)
	assert.Equal(t, 15*time.Minute, cfg.VehicleStaleAfter)
	assert.Equal(t, ":4000", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, time.Local, cfg.Location)
}

func TestLoadComposesDSNFromPGVars(t *testing.T) {
	clearEnv(t)
	t.Setenv("PGDATABASE", "transit")
	t.Setenv("PGUSER", "bus")
	t.Setenv("PGPASSWORD", "p@ss:word")
	t.Setenv("PGHOST", "db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://bus:p%40ss%3Aword@db:5432/transit?sslmode=disable", cfg.DatabaseURL)
}

func TestLoadPrefersDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://x@y/z")
	t.Setenv("PGDATABASE", "ignored")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://x@y/z", cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GTFS_PATH", "feed.zip")
	t.Setenv("CATALOG_ROUTES", " 500D, G4 ,,")
	t.Setenv("PROXIMITY_THRESHOLD_KM", "0.25")
	t.Setenv("PROXIMITY_FALLBACK", "off")
	t.Setenv("LOG_NATS_SUBJECTS", "yes")
	t.Setenv("EVENT_SUBJECT_PREFIX", "city.events.")
	t.Setenv("CATALOG_REFRESH_INTERVAL_SEC", "0")
	t.Setenv("TZ", "Asia/Kolkata")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"500D", "G4"}, cfg.CatalogRoutes)
	assert.Equal(t, 0.25, cfg.ThresholdKm)
	assert.False(t, cfg.Fallback)
	assert.True(t, cfg.LogNATSSubjects)
	assert.Equal(t, "city.events", cfg.EventSubjectPrefix)
	assert.Zero(t, cfg.CatalogRefreshInterval)
	assert.Equal(t, "Asia/Kolkata", cfg.Location.String())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"no catalog source", map[string]string{}, "must be set"},
		{"negative threshold", map[string]string{"CATALOG_FILE": "a", "PROXIMITY_THRESHOLD_KM": "-0.5"}, "invalid PROXIMITY_THRESHOLD_KM"},
		{"infinite threshold", map[string]string{"CATALOG_FILE": "a", "PROXIMITY_THRESHOLD_KM": "+Inf"}, "invalid PROXIMITY_THRESHOLD_KM"},
		{"nan threshold", map[string]string{"CATALOG_FILE": "a", "PROXIMITY_THRESHOLD_KM": "NaN"}, "invalid PROXIMITY_THRESHOLD_KM"},
		{"bad refresh", map[string]string{"CATALOG_FILE": "a", "CATALOG_REFRESH_INTERVAL_SEC": "-1"}, "invalid CATALOG_REFRESH_INTERVAL_SEC"},
		{"bad stale", map[string]string{"CATALOG_FILE": "a", "VEHICLE_STALE_AFTER_SEC": "x"}, "invalid VEHICLE_STALE_AFTER_SEC"},
		{"bad format", map[string]string{"CATALOG_FILE": "a", "LOG_FORMAT": "xml"}, "invalid LOG_FORMAT"},
		{"bad tz", map[string]string{"CATALOG_FILE": "a", "TZ": "Mars/Olympus"}, "invalid TZ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadAcceptsZeroThreshold(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATALOG_FILE", "stops.yaml")
	t.Setenv("PROXIMITY_THRESHOLD_KM", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.ThresholdKm)
}
