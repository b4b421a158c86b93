package tracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"bustracker/internal/ingest"
	"bustracker/internal/proximity"
)

// ReplayOptions configures a backtest over recorded fixes.
type ReplayOptions struct {
	ThresholdKm float64
	Fallback    bool
	// StaleAfter starts a new run after a gap between fixes, as the live
	// tracker does.
	StaleAfter time.Duration
	// Workers bounds the number of vehicles evaluated concurrently; 0 means
	// one goroutine per vehicle.
	Workers int
}

// Replay evaluates recorded fixes against a fixed stop snapshot. Fixes are
// grouped per vehicle and sorted by timestamp; vehicles are evaluated in
// parallel. Fixes that repeat a timestamp are skipped. Events are returned
// ordered by vehicle id, then timestamp.
func Replay(ctx context.Context, fixes []ingest.Fix, routes map[string][]proximity.Stop, opts ReplayOptions) ([]ProximityEvent, error) {
	byVehicle := make(map[string][]ingest.Fix)
	for _, f := range fixes {
		byVehicle[f.VehicleID] = append(byVehicle[f.VehicleID], f)
	}
	vehicleIDs := make([]string, 0, len(byVehicle))
	for id := range byVehicle {
		vehicleIDs = append(vehicleIDs, id)
	}
	sort.Strings(vehicleIDs)

	sorted := make(map[string][]proximity.Stop, len(routes))
	for id, stops := range routes {
		sorted[id] = proximity.SortBySequence(stops)
	}
	cfg := evalConfig{thresholdKm: opts.ThresholdKm, fallback: opts.Fallback, staleAfter: opts.StaleAfter}

	results := make([][]ProximityEvent, len(vehicleIDs))
	g, ctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for i, id := range vehicleIDs {
		g.Go(func() error {
			events, err := replayVehicle(ctx, byVehicle[id], sorted, cfg)
			if err != nil {
				return err
			}
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []ProximityEvent
	for _, events := range results {
		out = append(out, events...)
	}
	return out, nil
}

func replayVehicle(ctx context.Context, fixes []ingest.Fix, routes map[string][]proximity.Stop, cfg evalConfig) ([]ProximityEvent, error) {
	sort.SliceStable(fixes, func(i, j int) bool { return fixes[i].Timestamp < fixes[j].Timestamp })

	st := &vehicleState{}
	events := make([]ProximityEvent, 0, len(fixes))
	for _, fix := range fixes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if fix.RouteID == "" {
			fix.RouteID = st.routeID
		}
		stops, ok := routes[fix.RouteID]
		if !ok {
			return nil, fmt.Errorf("vehicle %s route %q: %w", fix.VehicleID, fix.RouteID, ErrUnknownRoute)
		}
		if st.previous != nil && st.routeID == fix.RouteID && fix.Timestamp == st.previous.Timestamp {
			continue
		}
		ev, err := st.step(fix, stops, cfg)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
