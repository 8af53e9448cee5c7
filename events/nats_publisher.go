package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const natsLogPrefix = "events:nats_publisher"

// Connect opens a NATS connection with reconnect handling.
func Connect(url, name string) (*nats.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to NATS at %s as %s", natsLogPrefix, url, name))

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - NATS disconnected: %v", natsLogPrefix, err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info(fmt.Sprintf("%s - NATS reconnected to %s", natsLogPrefix, nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info(fmt.Sprintf("%s - NATS connection closed", natsLogPrefix))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to NATS: %w", natsLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", natsLogPrefix, nc.ConnectedUrl()))
	return nc, nil
}

// NatsPublisher publishes result events as JSON to a NATS subject.
type NatsPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNatsPublisher creates a publisher for subject.
func NewNatsPublisher(nc *nats.Conn, subject string) *NatsPublisher {
	return &NatsPublisher{nc: nc, subject: subject}
}

// Subject returns the subject events are published on.
func (p *NatsPublisher) Subject() string {
	return p.subject
}

// PublishResult publishes one event. Delivery is fire-and-forget.
func (p *NatsPublisher) PublishResult(_ context.Context, event *ResultEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", natsLogPrefix, err)
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("%s - failed to publish to %s: %w", natsLogPrefix, p.subject, err)
	}
	return nil
}
