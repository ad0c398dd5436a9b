package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject notifications are published on.
const DefaultSubject = "trackpoll.condition_met"

// NATSPublisher is a [Notifier] that publishes JSON notifications to NATS.
//
// Publishing is fire-and-forget: nats.go buffers the message and flushes it
// asynchronously, so Notify never blocks on the network. Publish errors (for
// example while reconnecting with a full buffer) are logged and the
// notification is dropped.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	owned   bool
	logger  *slog.Logger
}

var _ Notifier = (*NATSPublisher)(nil)

// NewNATSPublisher connects to the NATS server at url and returns a
// publisher for subject. An empty subject uses [DefaultSubject].
//
// The connection retries indefinitely on disconnect. Call
// [NATSPublisher.Close] to drain and close it.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if url == "" {
		return nil, errors.New("nats url cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("trackpoll"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}

	p := NewNATSPublisherFromConn(conn, subject, logger)
	p.owned = true
	return p, nil
}

// NewNATSPublisherFromConn wraps an existing connection. The caller keeps
// ownership: Close does not close conn.
func NewNATSPublisherFromConn(conn *nats.Conn, subject string, logger *slog.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}
}

// Subject returns the subject notifications are published on.
func (p *NATSPublisher) Subject() string {
	return p.subject
}

// Notify publishes n as JSON.
func (p *NATSPublisher) Notify(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		p.logger.Error("failed to encode notification", "id", n.ID, "error", err)
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.logger.Warn("notification publish failed", "id", n.ID, "subject", p.subject, "error", err)
	}
}

// Close drains the connection if the publisher opened it.
func (p *NATSPublisher) Close() error {
	if !p.owned || p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
