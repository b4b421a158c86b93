// Package ingest maps the payload shapes sent by trackers into canonical
// fixes. It is the only place that knows about upstream field spellings.
package ingest

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"bustracker/internal/proximity"
)

// ErrMalformedPayload is matched by every *PayloadError.
var ErrMalformedPayload = errors.New("malformed payload")

// Rejection reasons, also used as metric labels.
const (
	ReasonInvalidJSON        = "invalid_json"
	ReasonMissingVehicle     = "missing_vehicle"
	ReasonMissingCoordinates = "missing_coordinates"
	ReasonInvalidCoordinates = "invalid_coordinates"
	ReasonInvalidTimestamp   = "invalid_timestamp"
)

// PayloadError describes why a payload could not be normalized.
type PayloadError struct {
	Reason string
	Detail string
}

func (e *PayloadError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("malformed payload: %s", e.Reason)
	}
	return fmt.Sprintf("malformed payload: %s: %s", e.Reason, e.Detail)
}

func (e *PayloadError) Is(target error) bool { return target == ErrMalformedPayload }

func reject(reason, format string, args ...any) error {
	return &PayloadError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Reason extracts the rejection reason of err, or "other".
func Reason(err error) string {
	var pe *PayloadError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return "other"
}

// Fix is a normalized position sample for one vehicle.
type Fix struct {
	VehicleID string `json:"vehicleId"`
	RouteID   string `json:"routeId,omitempty"`
	proximity.LocationFix
}

// Time returns the fix timestamp as a time.Time in UTC.
func (f Fix) Time() time.Time {
	return time.UnixMilli(f.Timestamp).UTC()
}

// ValidLatLon reports whether lat/lon are finite, in range, and not the (0,0)
// placeholder many GPS modules emit before they have a lock.
func ValidLatLon(lat, lon float64) bool {
	if !(proximity.GeoPoint{Latitude: lat, Longitude: lon}).IsFinite() {
		return false
	}
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func checkLatLon(lat, lon float64) error {
	if !ValidLatLon(lat, lon) {
		return reject(ReasonInvalidCoordinates, "(%v, %v)", lat, lon)
	}
	return nil
}

// epoch values above this are milliseconds
const millisCutoff = 1e12

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
}

// parseTimestamp accepts epoch seconds, epoch milliseconds and the textual
// layouts above, returning unix milliseconds.
func parseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochMillis(f)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, reject(ReasonInvalidTimestamp, "%q", s)
}

func epochMillis(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, reject(ReasonInvalidTimestamp, "%v", f)
	}
	if f > millisCutoff {
		return int64(f), nil
	}
	return int64(f * 1000), nil
}

// SubjectVehicle returns the last token of a NATS subject such as
// "bus.fixes.KA01F1234", used when a payload omits its vehicle id.
func SubjectVehicle(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}
