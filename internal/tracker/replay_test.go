package tracker

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustracker/internal/ingest"
	"bustracker/internal/proximity"
)

func nan() float64 { return math.NaN() }

func TestReplay(t *testing.T) {
	fixes := []ingest.Fix{
		fix("bus-2", "R1", 0.0199, 2000),
		fix("bus-1", "R1", 0.0104, 2000),
		fix("bus-2", "R1", 0.0201, 1000),
		fix("bus-1", "R1", 0.001, 1000),
		fix("bus-1", "R1", 0.0104, 2000),
		fix("bus-2", "", 0.0104, 3000),
	}
	routes := map[string][]proximity.Stop{"R1": abc()}

	events, err := Replay(context.Background(), fixes, routes, ReplayOptions{ThresholdKm: 0.5, Workers: 2})
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.Equal(t, "bus-1", events[0].VehicleID)
	assert.Equal(t, int64(1000), events[0].Timestamp)
	assert.Equal(t, proximity.Unknown, events[0].Direction)
	assert.Equal(t, proximity.Forward, events[1].Direction)

	assert.Equal(t, "bus-2", events[2].VehicleID)
	assert.Equal(t, "C", events[2].NearestStopID)
	assert.Equal(t, "B", events[4].NearestStopID)
	assert.Equal(t, "R1", events[4].RouteID)
	assert.Equal(t, proximity.Backward, events[4].Direction)
}

func TestReplayMatchesLiveTracker(t *testing.T) {
	fixes := []ingest.Fix{
		fix("bus-1", "R1", 0.001, 1000),
		fix("bus-1", "R1", 0.006, 2000),
		fix("bus-1", "R1", 0.0104, 3000),
		fix("bus-1", "R1", 0.015, 4000),
		fix("bus-1", "R1", 0.0199, 5000),
		// ten hours later, well past the stale window
		fix("bus-1", "R1", 0.015, 5000+10*60*60*1000),
		fix("bus-1", "R1", 0.0104, 5000+10*60*60*1000+1000),
	}
	stale := 15 * time.Minute
	replayed, err := Replay(context.Background(), fixes, map[string][]proximity.Stop{"R1": abc()},
		ReplayOptions{ThresholdKm: 0.5, StaleAfter: stale})
	require.NoError(t, err)
	require.Len(t, replayed, len(fixes))

	m, _, _ := newTestManager(t, Options{ThresholdKm: 0.5, StaleAfter: stale})
	for i, f := range fixes {
		live, err := m.HandleFix(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, replayed[i], live, "fix %d", i)
	}

	assert.Equal(t, proximity.Unknown, replayed[5].Direction, "gap starts a new run")
	assert.Equal(t, proximity.Unknown, replayed[5].DisplayedDirection)
	assert.Equal(t, proximity.Backward, replayed[6].Direction)
}

func TestReplayErrors(t *testing.T) {
	routes := map[string][]proximity.Stop{"R1": abc()}

	_, err := Replay(context.Background(), []ingest.Fix{fix("bus-1", "R2", 0, 1)}, routes, ReplayOptions{})
	assert.ErrorIs(t, err, ErrUnknownRoute)

	bad := fix("bus-1", "R1", 0, 1)
	bad.Point.Longitude = math.Inf(1)
	_, err = Replay(context.Background(), []ingest.Fix{bad}, routes, ReplayOptions{})
	assert.ErrorIs(t, err, proximity.ErrInvalidCoordinate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Replay(ctx, []ingest.Fix{fix("bus-1", "R1", 0, 1)}, routes, ReplayOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
