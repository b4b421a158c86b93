package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustracker/internal/ingest"
	"bustracker/internal/tracker"
)

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"500D":        "500D",
		" KA 01.F*>":  "KA_01_F__",
		"city/route":  "city_route",
		"":            "_",
		"\tG4 ":       "G4",
	}
	for in, want := range tests {
		assert.Equal(t, want, subjectToken(in), "input %q", in)
	}
}

func TestSubjects(t *testing.T) {
	ev := tracker.ProximityEvent{VehicleID: "KA.01", RouteID: "500 D"}
	assert.Equal(t, "bus.proximity.500_D.KA_01", eventSubject("bus.proximity", ev))
	assert.Equal(t, "bus.notify.device-1", notifySubject("bus.notify", "device-1"))
	assert.Equal(t, "bus.notify._", notifySubject("bus.notify", ""))
}

func TestFixHandler(t *testing.T) {
	out := make(chan ingest.Fix, 1)
	var rejected []error
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	h := fixHandler(context.Background(), out, func() time.Time { return now }, func(err error) { rejected = append(rejected, err) })

	h(&nats.Msg{Subject: "bus.fixes.KA01", Data: []byte(`{"routeId":"500D","lat":12.97,"lng":77.59}`)})
	require.Len(t, out, 1)
	fix := <-out
	assert.Equal(t, "KA01", fix.VehicleID)
	assert.Equal(t, "500D", fix.RouteID)
	assert.Equal(t, now.UnixMilli(), fix.Timestamp)

	h(&nats.Msg{Subject: "bus.fixes.KA01", Data: []byte(`{"lat":0,"lng":0}`)})
	assert.Empty(t, out)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0], ingest.ErrMalformedPayload)
	assert.Contains(t, rejected[0].Error(), "bus.fixes.KA01")
}

func TestFixHandlerDropsAfterShutdown(t *testing.T) {
	out := make(chan ingest.Fix, 1)
	out <- ingest.Fix{VehicleID: "queued"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rejected []error
	h := fixHandler(ctx, out, time.Now, func(err error) { rejected = append(rejected, err) })

	done := make(chan struct{})
	go func() {
		h(&nats.Msg{Subject: "bus.fixes.KA01", Data: []byte(`{"routeId":"500D","lat":12.97,"lng":77.59}`)})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler blocked on a full channel")
	}

	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0], ErrFixDropped)
	assert.Len(t, out, 1)
}
