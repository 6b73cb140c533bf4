// Package notify publishes completion events for stored audio artifacts over NATS.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const flushTimeout = 2 * time.Second

// ErrSubjectEmpty indicates a notifier created without a subject.
var ErrSubjectEmpty = errors.New("subject cannot be empty")

// Nop is a core.Notifier that drops every event. It is used when no NATS URL is configured.
type Nop struct{}

// AudioCreated does nothing.
func (Nop) AudioCreated(context.Context, string) error {
	return nil
}

// NatsNotifier implements the core.Notifier interface using a NATS connection.
type NatsNotifier struct {
	natsConnection *nats.Conn
	subject        string
	now            func() time.Time
}

// Connect dials url and returns a notifier publishing on subject.
func Connect(url, subject string) (*NatsNotifier, error) {
	natsConnection, err := nats.Connect(url, nats.Name("tts-lambda"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	notifier, err := New(natsConnection, subject)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	return notifier, nil
}

// New creates a NatsNotifier around an existing connection.
func New(natsConnection *nats.Conn, subject string) (*NatsNotifier, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &NatsNotifier{
		natsConnection: natsConnection,
		subject:        subject,
		now:            time.Now,
	}, nil
}

// AudioCreated publishes an AudioChunkCreatedEvent for key and flushes it.
func (n *NatsNotifier) AudioCreated(ctx context.Context, key string) error {
	event := &events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  n.now().UTC(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		AudioKey:   key,
		PageNumber: 0,
		TotalPages: 0,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audio created event: %w", err)
	}

	err = n.natsConnection.Publish(n.subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", n.subject, err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	err = n.natsConnection.FlushWithContext(flushCtx)
	if err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}

	return nil
}

// Close drains and closes the underlying connection.
func (n *NatsNotifier) Close() error {
	err := n.natsConnection.Drain()
	if err != nil {
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	return nil
}
