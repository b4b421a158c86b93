package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Collector struct {
	reg *prometheus.Registry

	FixesReceived prometheus.Counter
	FixesRejected *prometheus.CounterVec // reason label
	Evaluations   *prometheus.CounterVec // match label: within|fallback|none
	Directions    *prometheus.CounterVec // direction label
	TrackedBuses  prometheus.Gauge

	CatalogRoutes    prometheus.Gauge
	CatalogStops     prometheus.Gauge
	CatalogRefreshes *prometheus.CounterVec // result label: ok|error

	NotificationsSent   *prometheus.CounterVec // kind label
	NotificationsFailed prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	EvalDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	ThresholdKm     prometheus.Gauge
	RefreshInterval prometheus.Gauge // seconds
	StaleAfter      prometheus.Gauge // seconds
}

func NewCollector(thresholdKm float64, refreshInterval, staleAfter time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FixesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fixes_received_total",
			Help: "Total location fixes handed to the tracker.",
		}),
		FixesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_fixes_rejected_total",
			Help: "Location fixes rejected before or during evaluation.",
		}, []string{"reason"}),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_evaluations_total",
			Help: "Proximity evaluations by match kind.",
		}, []string{"match"}),
		Directions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_direction_total",
			Help: "Inferred directions of travel.",
		}, []string{"direction"}),
		TrackedBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_tracked_vehicles",
			Help: "Vehicles with a previous fix in memory.",
		}),
		CatalogRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_catalog_routes",
			Help: "Routes in the current stop catalog.",
		}),
		CatalogStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_catalog_stops",
			Help: "Stops in the current stop catalog.",
		}),
		CatalogRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_catalog_refreshes_total",
			Help: "Stop catalog reloads by result.",
		}, []string{"result"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_notifications_sent_total",
			Help: "Notifications delivered by kind.",
		}, []string{"kind"}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_notification_errors_total",
			Help: "Notifications that could not be delivered.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		EvalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_evaluation_duration_seconds",
			Help:    "Duration of one proximity evaluation including state bookkeeping.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		ThresholdKm: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_proximity_threshold_km",
			Help: "Distance within which a bus counts as at a stop.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_catalog_refresh_interval_seconds",
			Help: "Stop catalog refresh interval in seconds.",
		}),
		StaleAfter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_vehicle_stale_after_seconds",
			Help: "Age after which a previous fix is discarded.",
		}),
	}

	// Register
	reg.MustRegister(
		c.FixesReceived, c.FixesRejected, c.Evaluations, c.Directions, c.TrackedBuses,
		c.CatalogRoutes, c.CatalogStops, c.CatalogRefreshes,
		c.NotificationsSent, c.NotificationsFailed,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.EvalDuration, c.PublishDuration,
		c.ThresholdKm, c.RefreshInterval, c.StaleAfter,
	)

	// Set static gauges
	c.ThresholdKm.Set(thresholdKm)
	c.RefreshInterval.Set(refreshInterval.Seconds())
	c.StaleAfter.Set(staleAfter.Seconds())

	return c
}

func (c *Collector) FixReceived() { c.FixesReceived.Inc() }

func (c *Collector) FixRejected(reason string) { c.FixesRejected.WithLabelValues(reason).Inc() }

func (c *Collector) Evaluated(match, direction string, d time.Duration) {
	c.Evaluations.WithLabelValues(match).Inc()
	c.Directions.WithLabelValues(direction).Inc()
	c.EvalDuration.Observe(d.Seconds())
}

func (c *Collector) TrackedVehicles(n int) { c.TrackedBuses.Set(float64(n)) }

func (c *Collector) CatalogRefreshed(ok bool, routes, stops int) {
	if !ok {
		c.CatalogRefreshes.WithLabelValues("error").Inc()
		return
	}
	c.CatalogRefreshes.WithLabelValues("ok").Inc()
	c.CatalogRoutes.Set(float64(routes))
	c.CatalogStops.Set(float64(stops))
}

func (c *Collector) NotificationSent(kind string) { c.NotificationsSent.WithLabelValues(kind).Inc() }

func (c *Collector) NotificationFailed() { c.NotificationsFailed.Inc() }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}
