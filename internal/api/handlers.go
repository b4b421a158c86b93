package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"bustracker/internal/notify"
	"bustracker/internal/proximity"
)

// HealthStatus is the body of GET /v1/healthcheck. The service is ready once
// a stop catalog with at least one route is loaded.
type HealthStatus struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
	Routes      int    `json:"routes"`
	Stops       int    `json:"stops"`
	Vehicles    int    `json:"vehicles"`
	Ready       bool   `json:"ready"`
}

func (app *Application) healthcheckHandler(w http.ResponseWriter, _ *http.Request) {
	routes, stops := app.Catalog.Counts()
	status := HealthStatus{
		Status:      "available",
		Environment: app.Env,
		Version:     app.Version,
		Routes:      routes,
		Stops:       stops,
		Ready:       routes > 0,
	}
	if app.Tracker != nil {
		status.Vehicles = app.Tracker.Vehicles()
	}
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	app.writeJSON(w, code, status)
}

func (app *Application) routeStopsHandler(w http.ResponseWriter, r *http.Request) {
	routeID := httprouter.ParamsFromContext(r.Context()).ByName("routeID")
	stops, ok := app.Catalog.Stops(routeID)
	if !ok {
		app.notFoundResponse(w, r)
		return
	}
	app.writeJSON(w, http.StatusOK, envelope{"routeId": routeID, "stops": stops})
}

func (app *Application) vehicleProximityHandler(w http.ResponseWriter, r *http.Request) {
	vehicleID := httprouter.ParamsFromContext(r.Context()).ByName("vehicleID")
	if app.Tracker == nil {
		app.notFoundResponse(w, r)
		return
	}
	ev, ok := app.Tracker.Last(vehicleID)
	if !ok {
		app.notFoundResponse(w, r)
		return
	}
	app.writeJSON(w, http.StatusOK, ev)
}

// EvaluateRequest is the body of POST /v1/evaluate. Stops come from the
// catalog when RouteID is set, otherwise from the request.
type EvaluateRequest struct {
	Current     proximity.LocationFix  `json:"current"`
	Previous    *proximity.LocationFix `json:"previous,omitempty"`
	RouteID     string                 `json:"routeId,omitempty"`
	Stops       []proximity.Stop       `json:"stops,omitempty"`
	// ThresholdKm overrides the configured threshold; 0 matches exact
	// positions only.
	ThresholdKm *float64 `json:"thresholdKm,omitempty"`
}

func (app *Application) evaluateHandler(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		app.badRequestResponse(w, err)
		return
	}

	stops := proximity.SortBySequence(req.Stops)
	if req.RouteID != "" {
		var ok bool
		stops, ok = app.Catalog.Stops(req.RouteID)
		if !ok {
			app.notFoundResponse(w, r)
			return
		}
	}
	threshold := app.ThresholdKm
	if req.ThresholdKm != nil {
		if *req.ThresholdKm < 0 {
			app.unprocessableResponse(w, "thresholdKm must not be negative")
			return
		}
		threshold = *req.ThresholdKm
	}

	res, err := proximity.Evaluate(req.Current, req.Previous, stops, threshold)
	if err != nil {
		if evaluationStatus(err) == http.StatusUnprocessableEntity {
			app.unprocessableResponse(w, err.Error())
			return
		}
		app.serverErrorResponse(w, r, err)
		return
	}
	app.writeJSON(w, http.StatusOK, res)
}

// evaluationStatus maps an Evaluate error to a response code. Non-finite
// coordinates are the caller's fault.
func evaluationStatus(err error) int {
	if errors.Is(err, proximity.ErrInvalidCoordinate) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (app *Application) createSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var sub notify.Subscription
	if err := decodeJSON(w, r, &sub); err != nil {
		app.badRequestResponse(w, err)
		return
	}
	if sub.ID == "" || sub.RouteID == "" || sub.StopID == "" || sub.Target == "" {
		app.unprocessableResponse(w, "id, routeId, stopId and target are required")
		return
	}
	stops, ok := app.Catalog.Stops(sub.RouteID)
	if !ok || !containsStop(stops, sub.StopID) {
		app.unprocessableResponse(w, fmt.Sprintf("stop %q is not on route %q", sub.StopID, sub.RouteID))
		return
	}
	if app.Subscriptions != nil {
		if err := app.Subscriptions.UpsertSubscription(r.Context(), sub); err != nil {
			app.serverErrorResponse(w, r, err)
			return
		}
	}
	app.Registry.Add(sub)
	app.writeJSON(w, http.StatusCreated, sub)
}

func containsStop(stops []proximity.Stop, id string) bool {
	for _, s := range stops {
		if s.ID == id {
			return true
		}
	}
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
