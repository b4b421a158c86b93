package proximity

import "math"

// Evaluate resolves the stop the bus is at and its direction of travel for one
// fix. It keeps no state between calls and is safe for concurrent use as long
// as stops is not mutated during the call.
//
// A negative or NaN thresholdKm selects DefaultThresholdKm; zero only matches
// a stop at exactly the fix position. Direction is
// inferred against the geometrically nearest stop, so a fallback match still
// carries a meaningful direction.
func Evaluate(current LocationFix, previous *LocationFix, stops []Stop, thresholdKm float64) (ProximityResult, error) {
	if err := checkPoint("current", current.Point); err != nil {
		return ProximityResult{}, err
	}
	var prevPoint *GeoPoint
	if previous != nil {
		if err := checkPoint("previous", previous.Point); err != nil {
			return ProximityResult{}, err
		}
		p := previous.Point
		prevPoint = &p
	}
	for _, s := range stops {
		if err := checkPoint("stop "+s.ID, s.Location); err != nil {
			return ProximityResult{}, err
		}
	}
	if thresholdKm < 0 || math.IsNaN(thresholdKm) {
		thresholdKm = DefaultThresholdKm
	}

	m := DetermineNearbyStop(current.Point, stops, thresholdKm)
	if m.Kind == MatchNone {
		return ProximityResult{Direction: Unknown, Match: MatchNone}, nil
	}
	return ProximityResult{
		NearestStopID:  m.Nearest.ID,
		DistanceKm:     m.NearestKm,
		Direction:      DetectDirection(current.Point, prevPoint, stops, m.Nearest),
		Match:          m.Kind,
		ResolvedStopID: m.Stop.ID,
	}, nil
}
