package tracker

import (
	"errors"
	"fmt"
	"time"

	"bustracker/internal/ingest"
	"bustracker/internal/proximity"
)

var (
	ErrUnknownRoute = errors.New("unknown route")
	ErrOutOfOrder   = errors.New("fix is not newer than the previous one")
)

// Rejection reasons reported to metrics.
const (
	ReasonUnknownRoute       = "unknown_route"
	ReasonOutOfOrder         = "out_of_order"
	ReasonInvalidCoordinates = "invalid_coordinates"
)

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownRoute):
		return ReasonUnknownRoute
	case errors.Is(err, ErrOutOfOrder):
		return ReasonOutOfOrder
	case errors.Is(err, proximity.ErrInvalidCoordinate):
		return ReasonInvalidCoordinates
	default:
		return "other"
	}
}

type evalConfig struct {
	thresholdKm float64
	fallback    bool
	staleAfter  time.Duration
}

// vehicleState is the only history kept per vehicle: the previous fix and the
// direction currently on display.
type vehicleState struct {
	routeID   string
	previous  *proximity.LocationFix
	displayed proximity.Direction
	last      ProximityEvent
	seenAt    time.Time
}

// fresh reports whether fix starts a new run for this state: no previous fix,
// a route change, or a previous fix older than staleAfter.
func (s *vehicleState) fresh(fix ingest.Fix, staleAfter time.Duration) bool {
	if s.previous == nil || s.routeID != fix.RouteID {
		return true
	}
	return staleAfter > 0 && time.Duration(fix.Timestamp-s.previous.Timestamp)*time.Millisecond > staleAfter
}

// step evaluates fix against stops and advances the state. The state is left
// untouched when an error is returned.
func (s *vehicleState) step(fix ingest.Fix, stops []proximity.Stop, cfg evalConfig) (ProximityEvent, error) {
	previous := s.previous
	displayed := s.displayed
	if s.fresh(fix, cfg.staleAfter) {
		previous = nil
		displayed = proximity.Unknown
	} else if fix.Timestamp <= previous.Timestamp {
		return ProximityEvent{}, fmt.Errorf("vehicle %s at %d: %w", fix.VehicleID, fix.Timestamp, ErrOutOfOrder)
	}

	res, err := proximity.Evaluate(fix.LocationFix, previous, stops, cfg.thresholdKm)
	if err != nil {
		return ProximityEvent{}, fmt.Errorf("vehicle %s: %w", fix.VehicleID, err)
	}
	if res.Match == proximity.MatchFallback && !cfg.fallback {
		res.ResolvedStopID = ""
	}
	if res.Direction != proximity.Unknown {
		displayed = res.Direction
	}

	ev := ProximityEvent{
		VehicleID:          fix.VehicleID,
		RouteID:            fix.RouteID,
		Timestamp:          fix.Timestamp,
		Location:           fix.Point,
		ProximityResult:    res,
		DisplayedDirection: displayed,
	}
	current := fix.LocationFix
	s.routeID = fix.RouteID
	s.previous = &current
	s.displayed = displayed
	s.last = ev
	return ev, nil
}
