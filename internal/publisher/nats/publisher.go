// Package nats publishes imagery events to NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// flushTimeout bounds the flush when the caller's context has no deadline.
const flushTimeout = 5 * time.Second

// Publisher implements event publishing on a core NATS connection.
type Publisher struct {
	conn   *nats.Conn
	prefix string
}

// Connect dials url and returns a Publisher whose subjects are prefix + "." + topic.
func Connect(url, prefix string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("streetview-ingestor"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return New(conn, prefix), nil
}

// New wraps an existing connection.
func New(conn *nats.Conn, prefix string) *Publisher {
	return &Publisher{conn: conn, prefix: strings.Trim(prefix, ".")}
}

// Subject returns the NATS subject used for topic.
func (p *Publisher) Subject(topic string) string {
	switch {
	case p.prefix == "":
		return topic
	case topic == "":
		return p.prefix
	default:
		return p.prefix + "." + topic
	}
}

// Publish marshals payload to JSON and publishes it, flushing so delivery
// errors surface before returning. The returned ID is the subject.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.conn == nil {
		return "", fmt.Errorf("nats connection is not configured")
	}
	subject := p.Subject(topic)
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return "", fmt.Errorf("nats publish %s: %w", subject, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return "", fmt.Errorf("nats flush %s: %w", subject, err)
	}
	return subject, nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
