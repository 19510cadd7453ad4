package bus

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// queueDepth bounds each subscriber's backlog. Publishing never blocks; a
// full queue drops the message.
const queueDepth = 256

// MemoryBus delivers messages inside the process. Each subscription owns a
// queue drained by its own goroutine.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]*memorySub
	closed bool
}

// NewMemoryBus returns an open in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]*memorySub)}
}

// Publish copies data to every matching subscriber.
func (b *MemoryBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.subs {
		if !sub.pattern.matches(subject) {
			continue
		}
		select {
		case sub.queue <- &Message{Subject: subject, Data: bytes.Clone(data)}:
		default:
		}
	}
	return nil
}

// Subscribe starts delivering to handler until ctx ends, the
// subscription is dropped or the bus closes.
func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, handler MessageHandler) (Subscription, error) {
	sub := &memorySub{
		id:      ulid.Make().String(),
		subject: pattern,
		pattern: parsePattern(pattern),
		queue:   make(chan *Message, queueDepth),
		bus:     b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.deliver(ctx, handler)
	return sub, nil
}

// Close drops every subscription. Closing twice returns ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.queue)
		delete(b.subs, id)
	}
	return nil
}

// memorySub queues are closed only under the bus write lock, so a
// publisher holding the read lock never sends on a closed channel.
type memorySub struct {
	id      string
	subject string
	pattern subjectPattern
	queue   chan *Message
	bus     *MemoryBus
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s.id]; !ok {
		return nil
	}
	delete(s.bus.subs, s.id)
	close(s.queue)
	return nil
}

func (s *memorySub) Subject() string { return s.subject }

func (s *memorySub) deliver(ctx context.Context, handler MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.queue:
			if !ok {
				return
			}
			handler(msg)
		}
	}
}

// subjectPattern is a subscription subject split into tokens.
type subjectPattern []string

func parsePattern(pattern string) subjectPattern {
	return strings.Split(pattern, ".")
}

func (p subjectPattern) matches(subject string) bool {
	tokens := strings.Split(subject, ".")
	for i, tok := range p {
		switch {
		case tok == ">":
			return len(tokens) > i
		case i >= len(tokens):
			return false
		case tok != "*" && tok != tokens[i]:
			return false
		}
	}
	return len(tokens) == len(p)
}

func matchSubject(pattern, subject string) bool {
	return parsePattern(pattern).matches(subject)
}
