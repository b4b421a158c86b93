package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustracker/internal/proximity"
	"bustracker/internal/tracker"
)

type sent struct {
	title string
	body  string
	data  map[string]string
}

type fakeSender struct {
	sent []sent
	err  error
}

func (f *fakeSender) Send(_ context.Context, title, body string, data map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{title, body, data})
	return nil
}

type countingMetrics struct {
	sent   map[string]int
	failed int
}

func (m *countingMetrics) NotificationSent(kind string) { m.sent[kind]++ }
func (m *countingMetrics) NotificationFailed()          { m.failed++ }

func routeStops() []proximity.Stop {
	stops := make([]proximity.Stop, 6)
	for i := range stops {
		stops[i] = proximity.Stop{
			ID:       fmt.Sprintf("S%d", i+1),
			Location: proximity.GeoPoint{Latitude: 0, Longitude: float64(i)},
			Sequence: i + 1,
		}
	}
	return stops
}

func at(stopID string, dir proximity.Direction) tracker.ProximityEvent {
	return tracker.ProximityEvent{
		VehicleID: "bus-7",
		RouteID:   "R1",
		Timestamp: time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC).UnixMilli(),
		ProximityResult: proximity.ProximityResult{
			NearestStopID:  stopID,
			ResolvedStopID: stopID,
			Match:          proximity.MatchWithin,
			Direction:      dir,
		},
		DisplayedDirection: dir,
	}
}

func newTestNotifier(sender Sender, m Metrics) (*Notifier, *Registry) {
	reg := NewRegistry()
	reg.Replace([]Subscription{{ID: "sub-1", RouteID: "R1", StopID: "S4", Target: "device-abc"}})
	return NewNotifier(reg, sender, m, time.UTC, zerolog.Nop()), reg
}

func TestKind(t *testing.T) {
	tests := []struct {
		away int
		kind string
		ok   bool
	}{
		{3, "", false},
		{2, KindApproaching, true},
		{1, KindApproaching, true},
		{0, KindArrived, true},
		{-1, KindDeparted, true},
		{-2, KindDeparted, true},
		{-3, "", false},
	}
	for _, tt := range tests {
		kind, ok := Kind(tt.away)
		assert.Equal(t, tt.kind, kind, "away=%d", tt.away)
		assert.Equal(t, tt.ok, ok, "away=%d", tt.away)
	}
}

func TestStopsAway(t *testing.T) {
	assert.Equal(t, 2, StopsAway(2, 4, proximity.Forward))
	assert.Equal(t, 2, StopsAway(2, 4, proximity.Unknown))
	assert.Equal(t, -2, StopsAway(2, 4, proximity.Backward))
	assert.Equal(t, 1, StopsAway(5, 4, proximity.Backward))
}

func TestObserveForwardRun(t *testing.T) {
	sender := &fakeSender{}
	m := &countingMetrics{sent: map[string]int{}}
	n, _ := newTestNotifier(sender, m)
	ctx := context.Background()
	stops := routeStops()

	for _, stop := range []string{"S1", "S2", "S2", "S3", "S4", "S4", "S5", "S6"} {
		require.NoError(t, n.Observe(ctx, at(stop, proximity.Forward), stops))
	}

	require.Len(t, sender.sent, 5)
	assert.Equal(t, []string{"2", "1", "0", "-1", "-2"}, []string{
		sender.sent[0].data["stopsAway"],
		sender.sent[1].data["stopsAway"],
		sender.sent[2].data["stopsAway"],
		sender.sent[3].data["stopsAway"],
		sender.sent[4].data["stopsAway"],
	})
	assert.Equal(t, "Bus approaching", sender.sent[0].title)
	assert.Equal(t, "Bus bus-7 is 2 stops away from S4.", sender.sent[0].body)
	assert.Equal(t, "Bus bus-7 is 1 stop away from S4.", sender.sent[1].body)
	assert.Equal(t, "Bus arrived", sender.sent[2].title)
	assert.Equal(t, "Bus bus-7 has arrived at S4 (08:30).", sender.sent[2].body)
	assert.Equal(t, "Bus departed", sender.sent[3].title)
	assert.Equal(t, "device-abc", sender.sent[0].data["target"])
	assert.Equal(t, "2024-03-01T08:30:00Z", sender.sent[0].data["timestamp"])

	assert.Equal(t, map[string]int{KindApproaching: 2, KindArrived: 1, KindDeparted: 2}, m.sent)
}

func TestObserveBackwardRun(t *testing.T) {
	sender := &fakeSender{}
	n, _ := newTestNotifier(sender, nil)
	stops := routeStops()

	require.NoError(t, n.Observe(context.Background(), at("S6", proximity.Backward), stops))
	require.NoError(t, n.Observe(context.Background(), at("S3", proximity.Backward), stops))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "2", sender.sent[0].data["stopsAway"])
	assert.Equal(t, "-1", sender.sent[1].data["stopsAway"])
	assert.Equal(t, "backward", sender.sent[1].data["direction"])
}

func TestObserveIgnoresFallbackAndUnknownStops(t *testing.T) {
	sender := &fakeSender{}
	n, reg := newTestNotifier(sender, nil)
	reg.Add(Subscription{ID: "sub-2", RouteID: "R1", StopID: "missing"})
	stops := routeStops()

	ev := at("S4", proximity.Forward)
	ev.Match = proximity.MatchFallback
	require.NoError(t, n.Observe(context.Background(), ev, stops))

	other := at("S4", proximity.Forward)
	other.RouteID = "R2"
	require.NoError(t, n.Observe(context.Background(), other, stops))

	assert.Empty(t, sender.sent)
	assert.Equal(t, 2, reg.Len())
}

func TestObserveRetriesFailedSend(t *testing.T) {
	sender := &fakeSender{err: errors.New("broker down")}
	m := &countingMetrics{sent: map[string]int{}}
	n, _ := newTestNotifier(sender, m)
	stops := routeStops()

	err := n.Observe(context.Background(), at("S3", proximity.Forward), stops)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sub-1")
	assert.Equal(t, 1, m.failed)

	sender.err = nil
	require.NoError(t, n.Observe(context.Background(), at("S3", proximity.Forward), stops))
	assert.Len(t, sender.sent, 1)
}

func TestForgetResetsDebounce(t *testing.T) {
	sender := &fakeSender{}
	n, _ := newTestNotifier(sender, nil)
	stops := routeStops()

	require.NoError(t, n.Observe(context.Background(), at("S4", proximity.Forward), stops))
	require.NoError(t, n.Observe(context.Background(), at("S4", proximity.Forward), stops))
	require.Len(t, sender.sent, 1)

	n.Forget("bus-7")
	require.NoError(t, n.Observe(context.Background(), at("S4", proximity.Forward), stops))
	assert.Len(t, sender.sent, 2)
}

func TestRegistryAddReplacesSameID(t *testing.T) {
	reg := NewRegistry()
	reg.Add(Subscription{ID: "s1", RouteID: "R1", StopID: "S3", Target: "dev"})
	before := reg.ForRoute("R1")

	reg.Add(Subscription{ID: "s1", RouteID: "R1", StopID: "S5", Target: "dev"})
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, []Subscription{{ID: "s1", RouteID: "R1", StopID: "S5", Target: "dev"}}, reg.ForRoute("R1"))
	assert.Equal(t, "S3", before[0].StopID, "slices handed out earlier stay untouched")

	reg.Add(Subscription{ID: "s1", RouteID: "R2", StopID: "X", Target: "dev"})
	assert.Equal(t, 1, reg.Len())
	assert.Empty(t, reg.ForRoute("R1"))
	assert.Len(t, reg.ForRoute("R2"), 1)

	reg.Replace([]Subscription{{ID: "a", RouteID: "R1"}, {ID: "a", RouteID: "R2"}, {ID: "b", RouteID: "R1"}})
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, []Subscription{{ID: "b", RouteID: "R1"}}, reg.ForRoute("R1"))
}

func TestObserveAfterSubscriptionMoved(t *testing.T) {
	sender := &fakeSender{}
	n, reg := newTestNotifier(sender, nil)
	stops := routeStops()

	require.NoError(t, n.Observe(context.Background(), at("S2", proximity.Forward), stops))
	reg.Add(Subscription{ID: "sub-1", RouteID: "R1", StopID: "S6", Target: "device-abc"})
	require.NoError(t, n.Observe(context.Background(), at("S4", proximity.Forward), stops))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "S4", sender.sent[0].data["stopId"])
	assert.Equal(t, "S6", sender.sent[1].data["stopId"])
	assert.Equal(t, "2", sender.sent[1].data["stopsAway"])
}
