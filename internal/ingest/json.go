package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var (
	vehicleKeys   = []string{"vehicleId", "vehicle_id", "busId", "bus_id", "deviceId", "device_id", "id"}
	routeKeys     = []string{"routeId", "route_id", "route"}
	latitudeKeys  = []string{"Latitude", "latitude", "lat"}
	longitudeKeys = []string{"Longitude", "longitude", "lng", "lon"}
	timeKeys      = []string{"timestamp", "Timestamp", "ts", "time"}
	// containers some firmware nests the coordinates under
	pointParents = []string{"", "location", "position", "coords"}
)

// NormalizeJSON converts one tracker payload into a Fix. now is used when the
// payload carries no timestamp.
func NormalizeJSON(payload []byte, now time.Time) (Fix, error) {
	return normalize(payload, now, "")
}

// NormalizeSubjectJSON is NormalizeJSON with the vehicle id defaulting to the
// last token of the subject the payload arrived on.
func NormalizeSubjectJSON(subject string, payload []byte, now time.Time) (Fix, error) {
	return normalize(payload, now, SubjectVehicle(subject))
}

func normalize(payload []byte, now time.Time, defaultVehicle string) (Fix, error) {
	if !gjson.ValidBytes(payload) {
		return Fix{}, reject(ReasonInvalidJSON, "")
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return Fix{}, reject(ReasonInvalidJSON, "not an object")
	}

	fix := Fix{
		VehicleID: firstString(root, vehicleKeys),
		RouteID:   firstString(root, routeKeys),
	}
	if fix.VehicleID == "" {
		fix.VehicleID = defaultVehicle
	}
	if fix.VehicleID == "" {
		return Fix{}, reject(ReasonMissingVehicle, "")
	}

	lat, lon, found, err := coordinates(root)
	if err != nil {
		return Fix{}, err
	}
	if !found {
		return Fix{}, reject(ReasonMissingCoordinates, "")
	}
	if err := checkLatLon(lat, lon); err != nil {
		return Fix{}, err
	}
	fix.Point.Latitude = lat
	fix.Point.Longitude = lon

	fix.Timestamp = now.UnixMilli()
	if ts := first(root, timeKeys); ts.Exists() {
		ms, err := timestampValue(ts)
		if err != nil {
			return Fix{}, err
		}
		fix.Timestamp = ms
	}
	return fix, nil
}

func coordinates(root gjson.Result) (lat, lon float64, found bool, err error) {
	for _, parent := range pointParents {
		obj := root
		if parent != "" {
			obj = root.Get(parent)
			if !obj.IsObject() {
				continue
			}
		}
		latR, lonR := first(obj, latitudeKeys), first(obj, longitudeKeys)
		if !latR.Exists() || !lonR.Exists() {
			continue
		}
		if lat, err = number(latR); err != nil {
			return 0, 0, false, err
		}
		if lon, err = number(lonR); err != nil {
			return 0, 0, false, err
		}
		return lat, lon, true, nil
	}
	return 0, 0, false, nil
}

func number(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), nil
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, reject(ReasonInvalidCoordinates, "%q", r.Str)
		}
		return f, nil
	default:
		return 0, reject(ReasonInvalidCoordinates, "%s", r.Raw)
	}
}

func timestampValue(r gjson.Result) (int64, error) {
	switch r.Type {
	case gjson.Number:
		return epochMillis(r.Float())
	case gjson.String:
		return parseTimestamp(r.Str)
	default:
		return 0, reject(ReasonInvalidTimestamp, "%s", r.Raw)
	}
}

func first(obj gjson.Result, keys []string) gjson.Result {
	for _, k := range keys {
		if r := obj.Get(k); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

func firstString(obj gjson.Result, keys []string) string {
	return strings.TrimSpace(first(obj, keys).String())
}
