// Package tracker runs the location-update loop: it keeps the previous fix of
// every vehicle, evaluates new fixes against the route's stop snapshot and
// fans the resulting events out to publishers and the notifier.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bustracker/internal/ingest"
	"bustracker/internal/proximity"
)

// Catalog serves immutable stop snapshots per route and keeps the in-memory
// reached flags.
type Catalog interface {
	Stops(routeID string) ([]proximity.Stop, bool)
	MarkReached(routeID, stopID string) bool
	ResetReached(routeID string)
}

type EventPublisher interface {
	PublishProximity(ctx context.Context, ev ProximityEvent) error
}

// ReachedMarker persists reached flags outside the process.
type ReachedMarker interface {
	MarkStopReached(ctx context.Context, routeID, stopID string, at time.Time) error
	ResetReached(ctx context.Context, routeID string) error
}

type Notifier interface {
	Observe(ctx context.Context, ev ProximityEvent, stops []proximity.Stop) error
	Forget(vehicleID string)
}

type Metrics interface {
	FixReceived()
	FixRejected(reason string)
	Evaluated(match, direction string, d time.Duration)
	TrackedVehicles(n int)
}

type Options struct {
	ThresholdKm float64
	// Fallback keeps the lowest-sequence stop as ResolvedStopID when nothing
	// is within the threshold.
	Fallback   bool
	StaleAfter time.Duration

	Publishers []EventPublisher
	Reached    ReachedMarker
	Notifier   Notifier
	Metrics    Metrics
	Logger     zerolog.Logger
	// OnError is called for failures of the side effects of a fix (publish,
	// persistence, notification). The fix itself is still accepted.
	OnError func(error)
	Now     func() time.Time
}

type Manager struct {
	catalog Catalog
	cfg     evalConfig
	opts    Options
	log     zerolog.Logger

	mu       sync.Mutex
	vehicles map[string]*vehicleState

	janitorCancel context.CancelFunc
	janitorWG     sync.WaitGroup
}

func NewManager(catalog Catalog, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		catalog: catalog,
		cfg: evalConfig{
			thresholdKm: opts.ThresholdKm,
			fallback:    opts.Fallback,
			staleAfter:  opts.StaleAfter,
		},
		opts:     opts,
		log:      opts.Logger.With().Str("component", "tracker").Logger(),
		vehicles: make(map[string]*vehicleState),
	}
}

// HandleFix evaluates one fix. Fixes without a route inherit the route the
// vehicle was last seen on. Rejected fixes leave the vehicle state unchanged.
func (m *Manager) HandleFix(ctx context.Context, fix ingest.Fix) (ProximityEvent, error) {
	if m.opts.Metrics != nil {
		m.opts.Metrics.FixReceived()
	}
	ev, stops, reset, err := m.advance(fix)
	if err != nil {
		if m.opts.Metrics != nil {
			m.opts.Metrics.FixRejected(rejectReason(err))
		}
		return ProximityEvent{}, err
	}

	if reset {
		m.resetRun(ctx, ev.RouteID)
	}
	if ev.WithinThreshold() && m.catalog.MarkReached(ev.RouteID, ev.NearestStopID) && m.opts.Reached != nil {
		if err := m.opts.Reached.MarkStopReached(ctx, ev.RouteID, ev.NearestStopID, ev.Time()); err != nil {
			m.fail(fmt.Errorf("mark stop %s reached: %w", ev.NearestStopID, err), ev)
		}
	}
	for _, p := range m.opts.Publishers {
		if err := p.PublishProximity(ctx, ev); err != nil {
			m.fail(fmt.Errorf("publish proximity event: %w", err), ev)
		}
	}
	if m.opts.Notifier != nil {
		if err := m.opts.Notifier.Observe(ctx, ev, stops); err != nil {
			m.fail(fmt.Errorf("notify: %w", err), ev)
		}
	}
	return ev, nil
}

// advance steps the vehicle state. reset is true when the fix starts a new run
// and no other vehicle is active on the route, so reached flags may be cleared.
func (m *Manager) advance(fix ingest.Fix) (ProximityEvent, []proximity.Stop, bool, error) {
	start := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, known := m.vehicles[fix.VehicleID]
	if fix.RouteID == "" && known {
		fix.RouteID = st.routeID
	}
	stops, ok := m.catalog.Stops(fix.RouteID)
	if !ok {
		return ProximityEvent{}, nil, false, fmt.Errorf("vehicle %s route %q: %w", fix.VehicleID, fix.RouteID, ErrUnknownRoute)
	}
	if !known {
		st = &vehicleState{}
	}
	fresh := st.fresh(fix, m.cfg.staleAfter)
	ev, err := st.step(fix, stops, m.cfg)
	if err != nil {
		return ProximityEvent{}, nil, false, err
	}
	now := m.opts.Now()
	reset := fresh && !m.routeBusy(fix.RouteID, fix.VehicleID, now)
	st.seenAt = now
	if !known {
		m.vehicles[fix.VehicleID] = st
		if m.opts.Metrics != nil {
			m.opts.Metrics.TrackedVehicles(len(m.vehicles))
		}
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.Evaluated(ev.Match.String(), ev.Direction.String(), time.Since(start))
	}
	return ev, stops, reset, nil
}

// routeBusy reports whether a vehicle other than except was seen on routeID
// within the stale window. Callers hold m.mu.
func (m *Manager) routeBusy(routeID, except string, now time.Time) bool {
	for id, st := range m.vehicles {
		if id == except || st.routeID != routeID {
			continue
		}
		if m.cfg.staleAfter <= 0 || now.Sub(st.seenAt) <= m.cfg.staleAfter {
			return true
		}
	}
	return false
}

// resetRun clears the reached flags of a route nobody else is running on.
func (m *Manager) resetRun(ctx context.Context, routeID string) {
	m.catalog.ResetReached(routeID)
	if m.opts.Reached == nil {
		return
	}
	if err := m.opts.Reached.ResetReached(ctx, routeID); err != nil {
		m.fail(fmt.Errorf("reset reached flags of route %s: %w", routeID, err), ProximityEvent{RouteID: routeID})
	}
}

func (m *Manager) fail(err error, ev ProximityEvent) {
	m.log.Error().Err(err).Str("vehicle", ev.VehicleID).Str("route", ev.RouteID).Msg("fix side effect failed")
	if m.opts.OnError != nil {
		m.opts.OnError(err)
	}
}

// Last returns the most recent event of a vehicle.
func (m *Manager) Last(vehicleID string) (ProximityEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.vehicles[vehicleID]
	if !ok {
		return ProximityEvent{}, false
	}
	return st.last, true
}

func (m *Manager) Vehicles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vehicles)
}

// Run consumes fixes until ctx is cancelled or the channel is closed. Fixes
// are handled one at a time so per-vehicle ordering is preserved.
func (m *Manager) Run(ctx context.Context, fixes <-chan ingest.Fix) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fix, ok := <-fixes:
			if !ok {
				return nil
			}
			if _, err := m.HandleFix(ctx, fix); err != nil {
				m.log.Debug().Err(err).Str("vehicle", fix.VehicleID).Msg("fix rejected")
			}
		}
	}
}

// Prune forgets vehicles not seen since now minus the stale window and
// returns how many were dropped.
func (m *Manager) Prune(now time.Time) int {
	if m.cfg.staleAfter <= 0 {
		return 0
	}
	cutoff := now.Add(-m.cfg.staleAfter)

	m.mu.Lock()
	var dropped []string
	for id, st := range m.vehicles {
		if st.seenAt.Before(cutoff) {
			delete(m.vehicles, id)
			dropped = append(dropped, id)
		}
	}
	n := len(m.vehicles)
	m.mu.Unlock()

	if len(dropped) == 0 {
		return 0
	}
	if m.opts.Notifier != nil {
		for _, id := range dropped {
			m.opts.Notifier.Forget(id)
		}
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.TrackedVehicles(n)
	}
	m.log.Info().Int("dropped", len(dropped)).Int("tracked", n).Msg("pruned stale vehicles")
	return len(dropped)
}

// StartJanitor prunes stale vehicles every interval until Stop is called.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.janitorCancel = cancel
	m.janitorWG.Add(1)
	go func() {
		defer m.janitorWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Prune(m.opts.Now())
			}
		}
	}()
}

func (m *Manager) Stop() {
	if m.janitorCancel != nil {
		m.janitorCancel()
	}
	m.janitorWG.Wait()
}
