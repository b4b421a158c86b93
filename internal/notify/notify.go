// Package notify turns proximity events into "N stops away" notifications for
// riders subscribed to a stop.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bustracker/internal/proximity"
	"bustracker/internal/tracker"
)

// Subscription asks for notifications about buses on RouteID relative to
// StopID. Target identifies the recipient (device token, user id, topic).
type Subscription struct {
	ID      string `json:"id"`
	RouteID string `json:"routeId"`
	StopID  string `json:"stopId"`
	Target  string `json:"target"`
}

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, title, body string, data map[string]string) error
}

type Metrics interface {
	NotificationSent(kind string)
	NotificationFailed()
}

// Registry is the replaceable set of subscriptions, indexed by route.
type Registry struct {
	mu      sync.RWMutex
	byRoute map[string][]Subscription
	total   int
}

func NewRegistry() *Registry {
	return &Registry{byRoute: make(map[string][]Subscription)}
}

// Replace swaps the whole subscription set. A repeated id keeps the last entry.
func (r *Registry) Replace(subs []Subscription) {
	next := make(map[string][]Subscription)
	total := 0
	for _, s := range subs {
		if removeID(next, s.ID) {
			total--
		}
		next[s.RouteID] = append(next[s.RouteID], s)
		total++
	}
	r.mu.Lock()
	r.byRoute = next
	r.total = total
	r.mu.Unlock()
}

// Add inserts sub, replacing any subscription with the same id, on whatever
// route it was registered.
func (r *Registry) Add(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !removeID(r.byRoute, sub.ID) {
		r.total++
	}
	subs := r.byRoute[sub.RouteID]
	r.byRoute[sub.RouteID] = append(subs[:len(subs):len(subs)], sub)
}

// removeID drops the subscription with id from byRoute. Route slices are
// rebuilt, never edited in place, since ForRoute hands them out.
func removeID(byRoute map[string][]Subscription, id string) bool {
	for routeID, subs := range byRoute {
		for i, s := range subs {
			if s.ID != id {
				continue
			}
			rest := make([]Subscription, 0, len(subs)-1)
			rest = append(rest, subs[:i]...)
			rest = append(rest, subs[i+1:]...)
			if len(rest) == 0 {
				delete(byRoute, routeID)
			} else {
				byRoute[routeID] = rest
			}
			return true
		}
	}
	return false
}

func (r *Registry) ForRoute(routeID string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byRoute[routeID]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Notification kinds, used as titles and metric labels.
const (
	KindApproaching = "approaching"
	KindArrived     = "arrived"
	KindDeparted    = "departed"
)

var titles = map[string]string{
	KindApproaching: "Bus approaching",
	KindArrived:     "Bus arrived",
	KindDeparted:    "Bus departed",
}

// Kind classifies a stop-sequence difference. ok is false outside [-2, 2].
func Kind(stopsAway int) (kind string, ok bool) {
	switch stopsAway {
	case 2, 1:
		return KindApproaching, true
	case 0:
		return KindArrived, true
	case -1, -2:
		return KindDeparted, true
	}
	return "", false
}

// StopsAway is the number of stops between current and subscribed in the
// direction of travel. Negative values mean the bus has passed the stop.
func StopsAway(currentSeq, subscribedSeq int, dir proximity.Direction) int {
	if dir == proximity.Backward {
		return currentSeq - subscribedSeq
	}
	return subscribedSeq - currentSeq
}

type fireKey struct {
	subscription string
	stop         string
	vehicle      string
}

// Notifier fires a notification whenever a bus's distance to a subscribed
// stop enters {2,1,0,-1,-2} and differs from the last value sent for the
// same subscription and vehicle.
type Notifier struct {
	registry *Registry
	sender   Sender
	metrics  Metrics
	loc      *time.Location
	log      zerolog.Logger

	mu   sync.Mutex
	last map[fireKey]int
}

func NewNotifier(registry *Registry, sender Sender, metrics Metrics, loc *time.Location, logger zerolog.Logger) *Notifier {
	if loc == nil {
		loc = time.Local
	}
	return &Notifier{
		registry: registry,
		sender:   sender,
		metrics:  metrics,
		loc:      loc,
		log:      logger.With().Str("component", "notifier").Logger(),
		last:     make(map[fireKey]int),
	}
}

// Observe checks ev against every subscription on its route. Only genuine
// within-threshold matches count; the direction used is the displayed one.
// A failed send is not recorded, so the next fix retries it.
func (n *Notifier) Observe(ctx context.Context, ev tracker.ProximityEvent, stops []proximity.Stop) error {
	if !ev.WithinThreshold() {
		return nil
	}
	subs := n.registry.ForRoute(ev.RouteID)
	if len(subs) == 0 {
		return nil
	}
	seqs := make(map[string]int, len(stops))
	for _, s := range stops {
		seqs[s.ID] = s.Sequence
	}
	curSeq, ok := seqs[ev.NearestStopID]
	if !ok {
		return nil
	}

	var errs []error
	for _, sub := range subs {
		subSeq, ok := seqs[sub.StopID]
		if !ok {
			continue
		}
		away := StopsAway(curSeq, subSeq, ev.DisplayedDirection)
		kind, ok := Kind(away)
		if !ok {
			continue
		}
		key := fireKey{subscription: sub.ID, stop: sub.StopID, vehicle: ev.VehicleID}
		n.mu.Lock()
		prev, fired := n.last[key]
		n.mu.Unlock()
		if fired && prev == away {
			continue
		}

		title, body, data := n.message(kind, away, sub, ev)
		if err := n.sender.Send(ctx, title, body, data); err != nil {
			if n.metrics != nil {
				n.metrics.NotificationFailed()
			}
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		n.mu.Lock()
		n.last[key] = away
		n.mu.Unlock()
		if n.metrics != nil {
			n.metrics.NotificationSent(kind)
		}
		n.log.Debug().Str("subscription", sub.ID).Str("vehicle", ev.VehicleID).Int("stops_away", away).Msg("notification sent")
	}
	return errors.Join(errs...)
}

// Forget drops the debounce state of a vehicle.
func (n *Notifier) Forget(vehicleID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for k := range n.last {
		if k.vehicle == vehicleID {
			delete(n.last, k)
		}
	}
}

func (n *Notifier) message(kind string, away int, sub Subscription, ev tracker.ProximityEvent) (string, string, map[string]string) {
	at := ev.Time().In(n.loc)
	var body string
	switch {
	case away == 0:
		body = fmt.Sprintf("Bus %s has arrived at %s (%s).", ev.VehicleID, sub.StopID, at.Format("15:04"))
	case away > 0:
		body = fmt.Sprintf("Bus %s is %s away from %s.", ev.VehicleID, plural(away, "stop"), sub.StopID)
	default:
		body = fmt.Sprintf("Bus %s left %s and is %s past it.", ev.VehicleID, sub.StopID, plural(-away, "stop"))
	}
	data := map[string]string{
		"subscriptionId": sub.ID,
		"target":         sub.Target,
		"vehicleId":      ev.VehicleID,
		"routeId":        ev.RouteID,
		"stopId":         sub.StopID,
		"currentStopId":  ev.NearestStopID,
		"stopsAway":      strconv.Itoa(away),
		"direction":      ev.DisplayedDirection.String(),
		"kind":           kind,
		"timestamp":      at.Format(time.RFC3339),
	}
	return titles[kind], body, data
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.Itoa(n) + " " + word + "s"
}
