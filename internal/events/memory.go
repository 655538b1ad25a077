package events

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrPublisherClosed is returned when publishing after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// MemoryPublisher fans events out to in-process subscribers.
type MemoryPublisher struct {
	prefix string

	mu     sync.RWMutex
	closed bool
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	filter string
	ch     chan Event
}

// NewMemoryPublisher creates an in-process publisher. Subjects are
// prefix + "." + Event.Subject().
func NewMemoryPublisher(prefix string) *MemoryPublisher {
	return &MemoryPublisher{
		prefix: prefix,
		subs:   make(map[int]*subscription),
	}
}

// Subscribe returns a channel of events whose full subject starts with
// filter; an empty filter matches everything. The channel is closed by
// cancel or Close.
func (p *MemoryPublisher) Subscribe(filter string, buffer int) (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Event, buffer)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	id := p.nextID
	p.nextID++
	p.subs[id] = &subscription{filter: filter, ch: ch}
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub.ch)
		}
	}
}

// Publish delivers evt to every matching subscriber, blocking until each
// has room or ctx is done.
func (p *MemoryPublisher) Publish(ctx context.Context, evt Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	subject := p.subject(evt)
	for _, sub := range p.subs {
		if !strings.HasPrefix(subject, sub.filter) {
			continue
		}
		select {
		case sub.ch <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *MemoryPublisher) subject(evt Event) string {
	if p.prefix == "" {
		return evt.Subject()
	}
	return p.prefix + "." + evt.Subject()
}

// Close closes every subscription channel.
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for id, sub := range p.subs {
		close(sub.ch)
		delete(p.subs, id)
	}
	return nil
}
