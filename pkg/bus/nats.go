package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	sberrors "github.com/odvcencio/sidebar/pkg/errors"
)

// NATSBus relays over core NATS. Delivery is at-most-once, which is all
// telemetry needs.
type NATSBus struct {
	conn   *nats.Conn
	closed atomic.Bool
}

// NewNATSBus dials cfg.URL. Missing fields fall back to DefaultConfig and
// reconnects are retried forever.
func NewNATSBus(cfg Config) (*NATSBus, error) {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrCodeTransport, "connect to nats").
			WithContext("url", cfg.URL).
			WithRetryable(true)
	}
	return NewNATSBusFromConn(conn), nil
}

// NewNATSBusFromConn adopts an open connection. Close drains it.
func NewNATSBusFromConn(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn}
}

func (b *NATSBus) Publish(_ context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return sberrors.Wrap(err, sberrors.ErrCodeTransport, "nats publish").WithContext("subject", subject)
	}
	return nil
}

// Subscribe maps the bus wildcards directly onto NATS subjects, which use
// the same syntax. ctx is unused; NATS subscriptions end on Unsubscribe.
func (b *NATSBus) Subscribe(_ context.Context, pattern string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := b.conn.Subscribe(pattern, func(msg *nats.Msg) {
		handler(&Message{Subject: msg.Subject, Data: msg.Data})
	})
	if err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrCodeTransport, "nats subscribe").WithContext("subject", pattern)
	}
	return natsSub{sub}, nil
}

// Close drains pending publishes, falling back to a hard close.
func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	return nil
}

// Conn exposes the connection, mainly so tests can Flush.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

type natsSub struct {
	sub *nats.Subscription
}

func (s natsSub) Unsubscribe() error {
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s natsSub) Subject() string {
	return s.sub.Subject
}
