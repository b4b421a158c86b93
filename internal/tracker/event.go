package tracker

import (
	"time"

	"bustracker/internal/proximity"
)

// ProximityEvent is what the tracker emits for every accepted fix.
type ProximityEvent struct {
	VehicleID string             `json:"vehicleId"`
	RouteID   string             `json:"routeId"`
	Timestamp int64              `json:"timestamp"`
	Location  proximity.GeoPoint `json:"location"`
	proximity.ProximityResult
	// DisplayedDirection is the last known direction. An Unknown result keeps
	// the previous value.
	DisplayedDirection proximity.Direction `json:"displayedDirection"`
}

func (e ProximityEvent) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}
