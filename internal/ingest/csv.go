package ingest

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"
)

type csvRow struct {
	VehicleID string `csv:"vehicle_id"`
	RouteID   string `csv:"route_id"`
	Latitude  string `csv:"latitude"`
	Longitude string `csv:"longitude"`
	Timestamp string `csv:"timestamp"`
}

// ReadCSV parses an exported fix log with the header
// vehicle_id,route_id,latitude,longitude,timestamp. A leading byte order mark
// (as written by spreadsheet exports) is ignored.
func ReadCSV(r io.Reader) ([]Fix, error) {
	var rows []*csvRow
	if err := gocsv.Unmarshal(bom.NewReader(r), &rows); err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	fixes := make([]Fix, 0, len(rows))
	for i, row := range rows {
		fix, err := row.fix()
		if err != nil {
			// +2: header line and 1-based numbering
			return nil, fmt.Errorf("csv line %d: %w", i+2, err)
		}
		fixes = append(fixes, fix)
	}
	return fixes, nil
}

func (row *csvRow) fix() (Fix, error) {
	vehicle := strings.TrimSpace(row.VehicleID)
	if vehicle == "" {
		return Fix{}, reject(ReasonMissingVehicle, "")
	}
	if strings.TrimSpace(row.Latitude) == "" || strings.TrimSpace(row.Longitude) == "" {
		return Fix{}, reject(ReasonMissingCoordinates, "")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(row.Latitude), 64)
	if err != nil {
		return Fix{}, reject(ReasonInvalidCoordinates, "latitude %q", row.Latitude)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(row.Longitude), 64)
	if err != nil {
		return Fix{}, reject(ReasonInvalidCoordinates, "longitude %q", row.Longitude)
	}
	if err := checkLatLon(lat, lon); err != nil {
		return Fix{}, err
	}
	ts, err := parseTimestamp(row.Timestamp)
	if err != nil {
		return Fix{}, err
	}

	fix := Fix{VehicleID: vehicle, RouteID: strings.TrimSpace(row.RouteID)}
	fix.Point.Latitude = lat
	fix.Point.Longitude = lon
	fix.Timestamp = ts
	return fix, nil
}
