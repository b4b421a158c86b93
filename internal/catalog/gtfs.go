package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/jamespfennell/gtfs"

	"bustracker/internal/proximity"
)

// GTFSSource derives stop lists from a static GTFS zip. For every route the
// trip with the most stop times defines the stop order, and sequence numbers
// are renumbered 1..n so neighbours are always one apart.
type GTFSSource struct {
	Path string
	// RouteIDs restricts the catalog; empty means every route in the feed.
	RouteIDs []string
}

func (g GTFSSource) LoadRoutes(_ context.Context) (map[string][]proximity.Stop, error) {
	data, err := os.ReadFile(g.Path)
	if err != nil {
		return nil, err
	}
	static, err := gtfs.ParseStatic(data, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("parse gtfs %s: %w", g.Path, err)
	}
	return routeStopsFromStatic(static, g.RouteIDs), nil
}

func routeStopsFromStatic(static *gtfs.Static, routeIDs []string) map[string][]proximity.Stop {
	wanted := make(map[string]bool, len(routeIDs))
	for _, id := range routeIDs {
		wanted[id] = true
	}

	longest := make(map[string]*gtfs.ScheduledTrip)
	for i := range static.Trips {
		trip := &static.Trips[i]
		if trip.Route == nil {
			continue
		}
		routeID := trip.Route.Id
		if len(wanted) > 0 && !wanted[routeID] {
			continue
		}
		if cur, ok := longest[routeID]; !ok || len(trip.StopTimes) > len(cur.StopTimes) {
			longest[routeID] = trip
		}
	}

	routes := make(map[string][]proximity.Stop, len(longest))
	for routeID, trip := range longest {
		stopTimes := append([]gtfs.ScheduledStopTime(nil), trip.StopTimes...)
		sort.SliceStable(stopTimes, func(i, j int) bool {
			return stopTimes[i].StopSequence < stopTimes[j].StopSequence
		})
		stops := make([]proximity.Stop, 0, len(stopTimes))
		for _, st := range stopTimes {
			if st.Stop == nil || st.Stop.Latitude == nil || st.Stop.Longitude == nil {
				continue
			}
			stops = append(stops, proximity.Stop{
				ID: st.Stop.Id,
				Location: proximity.GeoPoint{
					Latitude:  *st.Stop.Latitude,
					Longitude: *st.Stop.Longitude,
				},
				Sequence: len(stops) + 1,
			})
		}
		if len(stops) > 0 {
			routes[routeID] = stops
		}
	}
	return routes
}
