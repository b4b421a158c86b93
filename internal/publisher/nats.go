package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"bustracker/internal/ingest"
	"bustracker/internal/tracker"
)

type NATSPublisher struct {
	nc          *nats.Conn
	subjects    Subjects
	logSubjects bool
	metrics     PublisherMetrics
	log         zerolog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Subjects holds the subject prefixes events and notifications go to.
type Subjects struct {
	Events string
	Notify string
}

func NewNATSPublisher(url string, subjects Subjects, logSubjects bool, m PublisherMetrics, logger zerolog.Logger) (*NATSPublisher, error) {
	log := logger.With().Str("component", "nats").Logger()
	nc, err := nats.Connect(url,
		nats.Name("bustracker"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info().Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, subjects: subjects, logSubjects: logSubjects, metrics: m, log: log}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// PublishProximity publishes ev on <events>.<route>.<vehicle>.
func (p *NATSPublisher) PublishProximity(_ context.Context, ev tracker.ProximityEvent) error {
	return p.publish(eventSubject(p.subjects.Events, ev), ev)
}

// NotificationMessage is the payload published for every notification.
type NotificationMessage struct {
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
	SentAt time.Time         `json:"sentAt"`
}

// Send publishes a notification on <notify>.<target>, so delivery workers
// can subscribe per recipient or to the whole prefix.
func (p *NATSPublisher) Send(_ context.Context, title, body string, data map[string]string) error {
	msg := NotificationMessage{Title: title, Body: body, Data: data, SentAt: time.Now().UTC()}
	return p.publish(notifySubject(p.subjects.Notify, data["target"]), msg)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.log.Debug().Str("subject", subject).Msg("nats publish")
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// ErrFixDropped is reported for fixes that arrive after the consumer stopped.
var ErrFixDropped = errors.New("fix dropped: consumer stopped")

// SubscribeFixes normalizes every message on subject into a fix and sends it
// to out. Payloads that cannot be normalized go to onReject. Messages are
// delivered one at a time, so out preserves the broker's order. Once ctx is
// done, fixes are dropped and reported with ErrFixDropped instead of blocking
// the NATS callback.
func (p *NATSPublisher) SubscribeFixes(ctx context.Context, subject string, out chan<- ingest.Fix, onReject func(error)) (*nats.Subscription, error) {
	sub, err := p.nc.Subscribe(subject, fixHandler(ctx, out, time.Now, onReject))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	p.log.Info().Str("subject", subject).Msg("subscribed to fixes")
	return sub, nil
}

func fixHandler(ctx context.Context, out chan<- ingest.Fix, now func() time.Time, onReject func(error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		fix, err := ingest.NormalizeSubjectJSON(msg.Subject, msg.Data, now())
		if err != nil {
			if onReject != nil {
				onReject(fmt.Errorf("%s: %w", msg.Subject, err))
			}
			return
		}
		select {
		case out <- fix:
		case <-ctx.Done():
			if onReject != nil {
				onReject(fmt.Errorf("%s: %w", msg.Subject, ErrFixDropped))
			}
		}
	}
}

func eventSubject(prefix string, ev tracker.ProximityEvent) string {
	return fmt.Sprintf("%s.%s.%s", prefix, subjectToken(ev.RouteID), subjectToken(ev.VehicleID))
}

func notifySubject(prefix, target string) string {
	return fmt.Sprintf("%s.%s", prefix, subjectToken(target))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
