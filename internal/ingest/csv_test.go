package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	in := "\ufeffvehicle_id,route_id,latitude,longitude,timestamp\n" +
		"bus-1,R1,12.9716,77.5946,1709281800\n" +
		"bus-1,R1,12.9720,77.5950,2024-03-01T08:30:10Z\n" +
		"bus-2,,13.0,77.7,1709281805000\n"

	fixes, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, fixes, 3)

	assert.Equal(t, "bus-1", fixes[0].VehicleID)
	assert.Equal(t, "R1", fixes[0].RouteID)
	assert.Equal(t, int64(1709281800000), fixes[0].Timestamp)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 30, 10, 0, time.UTC), fixes[1].Time())
	assert.Equal(t, "", fixes[2].RouteID)
	assert.Equal(t, int64(1709281805000), fixes[2].Timestamp)
	assert.InDelta(t, 77.7, fixes[2].Point.Longitude, 1e-12)
}

func TestReadCSVReportsLine(t *testing.T) {
	in := "vehicle_id,route_id,latitude,longitude,timestamp\n" +
		"bus-1,R1,12.9716,77.5946,1709281800\n" +
		"bus-1,R1,0,0,1709281810\n"

	_, err := ReadCSV(strings.NewReader(in))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv line 3")
	assert.True(t, errors.Is(err, ErrMalformedPayload))
	assert.Equal(t, ReasonInvalidCoordinates, Reason(err))
}

func TestReadCSVMissingVehicle(t *testing.T) {
	in := "vehicle_id,route_id,latitude,longitude,timestamp\n" +
		",R1,12.9716,77.5946,1709281800\n"

	_, err := ReadCSV(strings.NewReader(in))
	require.Error(t, err)
	assert.Equal(t, ReasonMissingVehicle, Reason(err))
}
