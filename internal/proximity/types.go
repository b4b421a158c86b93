package proximity

import "fmt"

// GeoPoint is a WGS84 coordinate in degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Stop is one physical stop on a fixed route. Sequence is the ordering key
// for direction inference and is independent of Reached.
type Stop struct {
	ID       string   `json:"id" yaml:"id"`
	Location GeoPoint `json:"location" yaml:"location"`
	Sequence int      `json:"sequenceNumber" yaml:"sequence"`
	Reached  bool     `json:"reached" yaml:"-"`
}

// LocationFix is one bus position sample. Timestamp is unix milliseconds.
type LocationFix struct {
	Point     GeoPoint `json:"point"`
	Timestamp int64    `json:"timestamp"`
}

type Direction int

const (
	Unknown Direction = iota
	Forward
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "unknown"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "forward":
		*d = Forward
	case "backward":
		*d = Backward
	case "unknown", "":
		*d = Unknown
	default:
		return fmt.Errorf("unknown direction %q", string(b))
	}
	return nil
}

// MatchKind tells a real proximity hit apart from the display fallback.
type MatchKind int

const (
	// MatchNone means the stop list was empty.
	MatchNone MatchKind = iota
	// MatchWithin means the nearest stop lies within the threshold.
	MatchWithin
	// MatchFallback means nothing was within the threshold and the stop with the
	// lowest sequence number was substituted so a display always has a stop.
	MatchFallback
)

func (k MatchKind) String() string {
	switch k {
	case MatchWithin:
		return "within"
	case MatchFallback:
		return "fallback"
	default:
		return "none"
	}
}

func (k MatchKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ProximityResult is the output of one Evaluate call.
//
// NearestStopID and DistanceKm always describe the geometrically closest
// stop. ResolvedStopID is the stop a display should highlight: the nearest
// stop for MatchWithin, the first stop in sequence for MatchFallback.
type ProximityResult struct {
	NearestStopID  string    `json:"nearestStopId"`
	DistanceKm     float64   `json:"distanceKm"`
	Direction      Direction `json:"direction"`
	Match          MatchKind `json:"match"`
	ResolvedStopID string    `json:"resolvedStopId,omitempty"`
}

// WithinThreshold reports whether the result is a genuine proximity hit.
func (r ProximityResult) WithinThreshold() bool {
	return r.Match == MatchWithin
}
