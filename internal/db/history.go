package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bustracker/internal/ingest"
	"bustracker/internal/notify"
	"bustracker/internal/proximity"
	"bustracker/internal/tracker"
)

// FetchFixes returns the recorded fixes of a vehicle in [from, to), oldest
// first. An empty vehicleID selects every vehicle.
func FetchFixes(ctx context.Context, db *sql.DB, vehicleID string, from, to time.Time) ([]ingest.Fix, error) {
	q := `SELECT vehicle_id, route_id, latitude, longitude, recorded_at
FROM vehicle_fixes
WHERE recorded_at >= $1 AND recorded_at < $2 AND ($3 = '' OR vehicle_id = $3)
ORDER BY vehicle_id, recorded_at`
	rows, err := db.QueryContext(ctx, q, from, to, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("query vehicle_fixes: %w", err)
	}
	defer rows.Close()

	var fixes []ingest.Fix
	for rows.Next() {
		var f ingest.Fix
		var at time.Time
		if err := rows.Scan(&f.VehicleID, &f.RouteID, &f.Point.Latitude, &f.Point.Longitude, &at); err != nil {
			return nil, err
		}
		f.Timestamp = at.UnixMilli()
		fixes = append(fixes, f)
	}
	return fixes, rows.Err()
}

// InsertFix records an accepted fix for later replay.
func InsertFix(ctx context.Context, db *sql.DB, f ingest.Fix) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO vehicle_fixes (vehicle_id, route_id, latitude, longitude, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		f.VehicleID, f.RouteID, f.Point.Latitude, f.Point.Longitude, f.Time())
	if err != nil {
		return fmt.Errorf("insert vehicle_fixes: %w", err)
	}
	return nil
}

// SubscriptionStore keeps notification subscriptions in stop_subscriptions.
type SubscriptionStore struct {
	DB *sql.DB
}

func (s SubscriptionStore) Load(ctx context.Context) ([]notify.Subscription, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT subscription_id, route_id, stop_id, target FROM stop_subscriptions ORDER BY subscription_id`)
	if err != nil {
		return nil, fmt.Errorf("query stop_subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []notify.Subscription
	for rows.Next() {
		var sub notify.Subscription
		if err := rows.Scan(&sub.ID, &sub.RouteID, &sub.StopID, &sub.Target); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// UpsertSubscription stores a subscription, replacing one with the same id.
func (s SubscriptionStore) UpsertSubscription(ctx context.Context, sub notify.Subscription) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO stop_subscriptions (subscription_id, route_id, stop_id, target) VALUES ($1, $2, $3, $4)
ON CONFLICT (subscription_id) DO UPDATE SET route_id = EXCLUDED.route_id, stop_id = EXCLUDED.stop_id, target = EXCLUDED.target`,
		sub.ID, sub.RouteID, sub.StopID, sub.Target)
	if err != nil {
		return fmt.Errorf("upsert stop_subscriptions: %w", err)
	}
	return nil
}

// EventLog appends proximity events to proximity_events and the accepted fix
// to vehicle_fixes. It implements tracker.EventPublisher.
type EventLog struct {
	DB *sql.DB
}

func (l EventLog) PublishProximity(ctx context.Context, ev tracker.ProximityEvent) error {
	_, err := l.DB.ExecContext(ctx, `
INSERT INTO proximity_events (vehicle_id, route_id, recorded_at, latitude, longitude, nearest_stop_id,
    distance_km, direction, displayed_direction, match, resolved_stop_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		eventArgs(ev)...)
	if err != nil {
		return fmt.Errorf("insert proximity_events: %w", err)
	}
	return InsertFix(ctx, l.DB, ingest.Fix{
		VehicleID:   ev.VehicleID,
		RouteID:     ev.RouteID,
		LocationFix: proximity.LocationFix{Point: ev.Location, Timestamp: ev.Timestamp},
	})
}

func eventArgs(ev tracker.ProximityEvent) []any {
	return []any{
		ev.VehicleID,
		ev.RouteID,
		ev.Time(),
		ev.Location.Latitude,
		ev.Location.Longitude,
		nullString(ev.NearestStopID),
		ev.DistanceKm,
		ev.Direction.String(),
		ev.DisplayedDirection.String(),
		ev.Match.String(),
		nullString(ev.ResolvedStopID),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
