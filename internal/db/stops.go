package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bustracker/internal/proximity"
)

// StopSource loads the stop catalog from route_stops joined with stops. It
// implements catalog.Source.
type StopSource struct {
	DB *sql.DB
	// RouteIDs restricts the catalog; empty means every route.
	RouteIDs []string
}

type routeStopRow struct {
	RouteID  string
	StopID   string
	Sequence int
	Lat, Lon float64
	Reached  bool
}

func (s StopSource) LoadRoutes(ctx context.Context) (map[string][]proximity.Stop, error) {
	// Prefer stop_lat/stop_lon, but support PostGIS stop_loc geography as fallback
	latlonExists, err := hasColumns(ctx, s.DB, "public", "stops", "stop_lat", "stop_lon")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	geography := !(latlonExists["stop_lat"] && latlonExists["stop_lon"])
	if geography {
		locExists, err := hasColumns(ctx, s.DB, "public", "stops", "stop_loc")
		if err != nil {
			return nil, fmt.Errorf("introspect stops stop_loc: %w", err)
		}
		if !locExists["stop_loc"] {
			return nil, fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
		}
	}

	var args []any
	if len(s.RouteIDs) > 0 {
		args = append(args, s.RouteIDs)
	}
	rows, err := s.DB.QueryContext(ctx, routeStopsQuery(geography, len(s.RouteIDs) > 0), args...)
	if err != nil {
		return nil, fmt.Errorf("query route_stops: %w", err)
	}
	defer rows.Close()

	var all []routeStopRow
	for rows.Next() {
		var r routeStopRow
		if err := rows.Scan(&r.RouteID, &r.StopID, &r.Sequence, &r.Lat, &r.Lon, &r.Reached); err != nil {
			return nil, err
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groupRouteStops(all), nil
}

// routeStopsQuery skips stops without coordinates so they never reach the
// engine as a (0,0) stop.
func routeStopsQuery(geography, filtered bool) string {
	lat, lon := "s.stop_lat", "s.stop_lon"
	where := []string{"s.stop_lat IS NOT NULL", "s.stop_lon IS NOT NULL"}
	if geography {
		lat, lon = "ST_Y(s.stop_loc::geometry)", "ST_X(s.stop_loc::geometry)"
		where = []string{"s.stop_loc IS NOT NULL"}
	}
	if filtered {
		where = append(where, "rs.route_id = ANY($1)")
	}
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT rs.route_id, rs.stop_id, rs.stop_sequence, %s, %s, rs.reached
FROM route_stops rs
JOIN stops s ON s.stop_id = rs.stop_id
WHERE %s
ORDER BY rs.route_id, rs.stop_sequence`, lat, lon, strings.Join(where, " AND "))
	return b.String()
}

func groupRouteStops(rows []routeStopRow) map[string][]proximity.Stop {
	routes := make(map[string][]proximity.Stop)
	for _, r := range rows {
		routes[r.RouteID] = append(routes[r.RouteID], proximity.Stop{
			ID:       r.StopID,
			Location: proximity.GeoPoint{Latitude: r.Lat, Longitude: r.Lon},
			Sequence: r.Sequence,
			Reached:  r.Reached,
		})
	}
	return routes
}

// ReachedStore persists reached flags in route_stops.
type ReachedStore struct {
	DB *sql.DB
}

func (r ReachedStore) MarkStopReached(ctx context.Context, routeID, stopID string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE route_stops SET reached = true, reached_at = $3 WHERE route_id = $1 AND stop_id = $2`,
		routeID, stopID, at)
	if err != nil {
		return fmt.Errorf("update route_stops: %w", err)
	}
	return nil
}

func (r ReachedStore) ResetReached(ctx context.Context, routeID string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE route_stops SET reached = false, reached_at = NULL WHERE route_id = $1`, routeID)
	if err != nil {
		return fmt.Errorf("reset route_stops: %w", err)
	}
	return nil
}
