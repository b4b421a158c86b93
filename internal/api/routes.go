package api

import (
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/julienschmidt/httprouter"
)

// Routes registers the endpoints and wraps them with Sentry and request
// logging.
//
//   - GET  /v1/healthcheck
//   - GET  /v1/routes/:routeID/stops
//   - GET  /v1/vehicles/:vehicleID/proximity
//   - POST /v1/evaluate
//   - POST /v1/subscriptions (only when a registry is configured)
//   - GET  /metrics (only when a metrics handler is configured)
func (app *Application) Routes() http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(app.notFoundResponse)
	router.MethodNotAllowed = http.HandlerFunc(app.methodNotAllowedResponse)

	router.HandlerFunc(http.MethodGet, "/v1/healthcheck", app.healthcheckHandler)
	router.HandlerFunc(http.MethodGet, "/v1/routes/:routeID/stops", app.routeStopsHandler)
	router.HandlerFunc(http.MethodGet, "/v1/vehicles/:vehicleID/proximity", app.vehicleProximityHandler)
	router.HandlerFunc(http.MethodPost, "/v1/evaluate", app.evaluateHandler)
	if app.Registry != nil {
		router.HandlerFunc(http.MethodPost, "/v1/subscriptions", app.createSubscriptionHandler)
	}
	if app.Metrics != nil {
		router.Handler(http.MethodGet, "/metrics", app.Metrics)
	}

	sentryHandler := sentryhttp.New(sentryhttp.Options{
		Repanic: true,
		Timeout: 2 * time.Second,
	})
	return app.logRequests(sentryHandler.Handle(router))
}

func (app *Application) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		app.Logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Str("ip", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
