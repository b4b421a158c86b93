package proximity

import "math"

const (
	// distances closer than this are treated as equal
	distanceTieKm = 1e-9
	dotTie        = 1e-15
)

// DetectDirection infers whether the bus moves forward or backward along the
// route sequence. previous is nil for the first fix.
//
// Stage one compares the previous fix's distance to the stops one sequence
// number behind and ahead of nearest: closer to the one behind means forward.
// When that ties, or only one neighbour exists, stage two projects the raw
// coordinate displacement onto the vectors toward the neighbours.
func DetectDirection(current GeoPoint, previous *GeoPoint, stops []Stop, nearest Stop) Direction {
	if previous == nil {
		return Unknown
	}
	prevStop, hasPrev := stopBySequence(stops, nearest.Sequence-1)
	nextStop, hasNext := stopBySequence(stops, nearest.Sequence+1)

	switch {
	case !hasPrev && !hasNext:
		return Unknown
	case hasPrev && hasNext:
		dPrev := HaversineKm(*previous, prevStop.Location)
		dNext := HaversineKm(*previous, nextStop.Location)
		if math.Abs(dPrev-dNext) > distanceTieKm {
			if dPrev < dNext {
				return Forward
			}
			return Backward
		}
		return byMovement(current, *previous, prevStop, nextStop)
	case hasNext:
		return byMovementToward(current, *previous, nextStop, Forward)
	default:
		return byMovementToward(current, *previous, prevStop, Backward)
	}
}

func byMovement(current, previous GeoPoint, prevStop, nextStop Stop) Direction {
	move := delta(previous, current)
	towardNext := dot(move, delta(current, nextStop.Location))
	towardPrev := dot(move, delta(current, prevStop.Location))
	if math.Abs(towardNext-towardPrev) <= dotTie {
		return Unknown
	}
	if towardNext > towardPrev {
		return Forward
	}
	return Backward
}

// byMovementToward handles terminal stops: a positive projection on the only
// neighbour means moving toward it.
func byMovementToward(current, previous GeoPoint, neighbour Stop, toward Direction) Direction {
	d := dot(delta(previous, current), delta(current, neighbour.Location))
	switch {
	case d > dotTie:
		return toward
	case d < -dotTie:
		return opposite(toward)
	default:
		return Unknown
	}
}

func opposite(d Direction) Direction {
	switch d {
	case Forward:
		return Backward
	case Backward:
		return Forward
	default:
		return Unknown
	}
}

type vec struct{ lat, lng float64 }

// delta is the planar coordinate difference b - a, in degrees.
func delta(a, b GeoPoint) vec {
	return vec{lat: b.Latitude - a.Latitude, lng: b.Longitude - a.Longitude}
}

func dot(a, b vec) float64 {
	return a.lat*b.lat + a.lng*b.lng
}
