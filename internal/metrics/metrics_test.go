package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorHooks(t *testing.T) {
	c := NewCollector(0.75, 5*time.Minute, 15*time.Minute)

	c.FixReceived()
	c.FixReceived()
	c.FixRejected("out_of_order")
	c.Evaluated("within", "forward", time.Millisecond)
	c.Evaluated("fallback", "unknown", time.Millisecond)
	c.TrackedVehicles(3)
	c.CatalogRefreshed(true, 2, 40)
	c.CatalogRefreshed(false, 0, 0)
	c.NotificationSent("arrived")
	c.NotificationFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.FixesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FixesRejected.WithLabelValues("out_of_order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Evaluations.WithLabelValues("within")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Directions.WithLabelValues("unknown")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.TrackedBuses))
	assert.Equal(t, 40.0, testutil.ToFloat64(c.CatalogStops), "failed refresh keeps gauges")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CatalogRefreshes.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NotificationsSent.WithLabelValues("arrived")))
	assert.Equal(t, 0.75, testutil.ToFloat64(c.ThresholdKm))
	assert.Equal(t, 300.0, testutil.ToFloat64(c.RefreshInterval))
}

func TestHandlerExposesPrivateRegistry(t *testing.T) {
	c := NewCollector(1, time.Minute, time.Minute)
	c.FixReceived()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "tracker_fixes_received_total 1")
	assert.Contains(t, body, "tracker_proximity_threshold_km 1")
	assert.NotContains(t, body, "go_goroutines")
}
