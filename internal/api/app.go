// Package api exposes the tracker over HTTP: health, metrics, stop
// snapshots, the last event per vehicle and stateless evaluation.
package api

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"bustracker/internal/notify"
	"bustracker/internal/proximity"
	"bustracker/internal/tracker"
)

type Catalog interface {
	Stops(routeID string) ([]proximity.Stop, bool)
	Counts() (routes, stops int)
}

type Tracker interface {
	Last(vehicleID string) (tracker.ProximityEvent, bool)
	Vehicles() int
}

// SubscriptionStore persists subscriptions created over HTTP.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, sub notify.Subscription) error
}

type Application struct {
	Env         string
	Version     string
	ThresholdKm float64

	Catalog       Catalog
	Tracker       Tracker
	Registry      *notify.Registry
	Subscriptions SubscriptionStore
	Metrics       http.Handler
	Logger        zerolog.Logger
}
