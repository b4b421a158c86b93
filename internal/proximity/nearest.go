package proximity

// DefaultThresholdKm is the distance within which a bus counts as at a stop.
const DefaultThresholdKm = 1.0

// NearestStop scans stops linearly and returns the closest one to current
// with its distance in km. The first stop in input order wins ties. ok is
// false when stops is empty.
func NearestStop(current GeoPoint, stops []Stop) (stop Stop, distanceKm float64, ok bool) {
	if len(stops) == 0 {
		return Stop{}, 0, false
	}
	stop = stops[0]
	distanceKm = HaversineKm(current, stop.Location)
	for _, s := range stops[1:] {
		d := HaversineKm(current, s.Location)
		if d < distanceKm {
			stop, distanceKm = s, d
		}
	}
	return stop, distanceKm, true
}

// Match is the outcome of DetermineNearbyStop.
type Match struct {
	Kind MatchKind
	// Stop is the nearest stop for MatchWithin, or the lowest-sequence stop
	// for MatchFallback.
	Stop       Stop
	DistanceKm float64

	// Nearest is always the geometrically closest stop.
	Nearest   Stop
	NearestKm float64
}

// DetermineNearbyStop gates NearestStop by thresholdKm. When no stop is within
// range the lowest-sequence stop is returned with Kind MatchFallback.
func DetermineNearbyStop(current GeoPoint, stops []Stop, thresholdKm float64) Match {
	nearest, d, ok := NearestStop(current, stops)
	if !ok {
		return Match{Kind: MatchNone}
	}
	m := Match{Nearest: nearest, NearestKm: d}
	if d <= thresholdKm {
		m.Kind = MatchWithin
		m.Stop = nearest
		m.DistanceKm = d
		return m
	}
	first, _ := firstInSequence(stops)
	m.Kind = MatchFallback
	m.Stop = first
	m.DistanceKm = HaversineKm(current, first.Location)
	return m
}
