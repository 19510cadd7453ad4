// Package bus relays sidebar telemetry out of process. Deployments point it
// at NATS; single-process runs and tests use the in-memory bus.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by a bus after Close.
var ErrClosed = errors.New("bus closed")

// MessageBus publishes opaque payloads on dotted subjects.
type MessageBus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe delivers messages whose subject matches pattern. A "*"
	// token matches one subject token and a trailing ">" matches the rest.
	Subscribe(ctx context.Context, pattern string, handler MessageHandler) (Subscription, error)
	Close() error
}

// MessageHandler receives one delivered message.
type MessageHandler func(msg *Message)

// Message is a delivered payload. Data is owned by the handler.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription is a registered handler.
type Subscription interface {
	// Unsubscribe is idempotent.
	Unsubscribe() error
	Subject() string
}

// Config configures the NATS connection.
type Config struct {
	URL     string
	Name    string
	Timeout time.Duration
}

// DefaultConfig is a local NATS server with a 5s connect timeout.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "sidebar",
		Timeout: 5 * time.Second,
	}
}
