// Package broadcast carries session events between the managers of sibling
// panels, either inside one process (Hub) or across service instances
// (ValkeyBus).
package broadcast

import (
	"context"
	"errors"
	"sync"

	slogctx "github.com/veqryn/slog-context"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
)

const defaultBufferLength = 8

var ErrClosed = errors.New("broadcast bus closed")

// Hub fans session events out to in-process subscribers. Publishing never
// blocks, a subscriber whose buffer is full misses the event.
type Hub struct {
	mu           sync.Mutex
	nextID       int64
	subscribers  map[int64]chan session.Event
	closed       bool
	bufferLength int
}

var _ = session.Bus(&Hub{})

type HubOption func(*Hub)

func WithBufferLength(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferLength = n
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subscribers:  make(map[int64]chan session.Event),
		bufferLength: defaultBufferLength,
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *Hub) Subscribe(_ context.Context) (<-chan session.Event, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, ErrClosed
	}

	id := h.nextID
	h.nextID++
	ch := make(chan session.Event, h.bufferLength)
	h.subscribers[id] = ch

	var once sync.Once
	return ch, func() { once.Do(func() { h.remove(id) }) }, nil
}

func (h *Hub) Publish(ctx context.Context, event session.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			slogctx.Warn(ctx, "Dropping session event", "reason", "slow subscriber", "subscriber", id, "kind", event.Kind)
		}
	}

	return nil
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subscribers)
}

// Close closes all subscriber channels. Publishing afterwards fails.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

func (h *Hub) remove(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}
