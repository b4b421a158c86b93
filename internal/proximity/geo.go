package proximity

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used by HaversineKm.
const EarthRadiusKm = 6371.0

// ErrInvalidCoordinate is matched by every *CoordinateError.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// CoordinateError reports a non-finite latitude or longitude.
type CoordinateError struct {
	Field string
	Point GeoPoint
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("%s: non-finite coordinate (%v, %v)", e.Field, e.Point.Latitude, e.Point.Longitude)
}

func (e *CoordinateError) Is(target error) bool {
	return target == ErrInvalidCoordinate
}

// HaversineKm returns the great-circle distance between a and b in kilometers.
// Ranges are not validated.
func HaversineKm(a, b GeoPoint) float64 {
	p1 := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	p2 := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

// IsFinite reports whether both coordinates are finite numbers.
func (p GeoPoint) IsFinite() bool {
	return !math.IsNaN(p.Latitude) && !math.IsInf(p.Latitude, 0) &&
		!math.IsNaN(p.Longitude) && !math.IsInf(p.Longitude, 0)
}

func checkPoint(field string, p GeoPoint) error {
	if !p.IsFinite() {
		return &CoordinateError{Field: field, Point: p}
	}
	return nil
}
