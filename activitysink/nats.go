package activitysink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/karpithal/go-accounts"
	nats "github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the event type to build the subject
const DefaultSubjectPrefix = "karpithal"

// Publisher is satisfied by *nats.Conn
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes normalized activity events, one subject per event
// type, e.g. karpithal.account.registered.
type NATSSink struct {
	pub    Publisher
	prefix string
	opts   []NormalizeOption
}

// NewNATSSink wraps a connection. An empty prefix uses DefaultSubjectPrefix.
func NewNATSSink(pub Publisher, prefix string, opts ...NormalizeOption) (*NATSSink, error) {
	if pub == nil {
		return nil, errors.New("nats publisher is nil")
	}
	if prefix = strings.Trim(strings.TrimSpace(prefix), "."); prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix, opts: opts}, nil
}

// Connect dials url and returns a sink publishing on the new connection.
// The caller drains the returned connection on shutdown.
func Connect(url, prefix string, opts ...NormalizeOption) (*NATSSink, *nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("karpithal-accounts"))
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	sink, err := NewNATSSink(nc, prefix, opts...)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return sink, nc, nil
}

// Subject returns the subject an event type is published on
func (s *NATSSink) Subject(eventType accounts.ActivityEventType) string {
	return s.prefix + "." + string(eventType)
}

// Record implements accounts.ActivitySink
func (s *NATSSink) Record(ctx context.Context, event accounts.ActivityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Normalize(event, s.opts...))
	if err != nil {
		return fmt.Errorf("encode activity %s: %w", event.EventType, err)
	}
	if err := s.pub.Publish(s.Subject(event.EventType), data); err != nil {
		return fmt.Errorf("publish activity %s: %w", event.EventType, err)
	}
	return nil
}
