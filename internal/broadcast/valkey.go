package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/Blackwoodproductions/webstackceo-sub000/internal/session"
)

const (
	channelSuffix       = "session-events"
	resubscribeInterval = time.Second
)

// ValkeyBus carries session events between service instances over Valkey
// pub/sub. Events are JSON encoded on the channel <prefix>:session-events.
type ValkeyBus struct {
	client       valkey.Client
	channel      string
	bufferLength int
}

var _ = session.Bus(&ValkeyBus{})

func NewValkeyBus(client valkey.Client, prefix string) *ValkeyBus {
	return &ValkeyBus{
		client:       client,
		channel:      strings.TrimSuffix(prefix, ":") + ":" + channelSuffix,
		bufferLength: defaultBufferLength,
	}
}

func (b *ValkeyBus) Channel() string {
	return b.channel
}

func (b *ValkeyBus) Publish(ctx context.Context, event session.Event) error {
	bytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	cmd := b.client.B().Publish().Channel(b.channel).Message(valkey.BinaryString(bytes)).Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("executing publish command: %w", err)
	}

	return nil
}

// Subscribe listens on the channel until the returned function is called or
// ctx is done. A lost connection is resubscribed.
func (b *ValkeyBus) Subscribe(ctx context.Context) (<-chan session.Event, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{events: make(chan session.Event, b.bufferLength)}
	done := make(chan struct{})

	go func() {
		defer close(done)
		b.receive(ctx, sub)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			<-done
			sub.close()
		})
	}

	return sub.events, release, nil
}

func (b *ValkeyBus) receive(ctx context.Context, sub *subscription) {
	cmd := b.client.B().Subscribe().Channel(b.channel).Build()
	for {
		err := b.client.Receive(ctx, cmd, func(msg valkey.PubSubMessage) {
			var event session.Event
			if err := json.Unmarshal([]byte(msg.Message), &event); err != nil {
				slogctx.Warn(ctx, "Ignoring undecodable session event", "channel", msg.Channel, "error", err)
				return
			}
			sub.deliver(ctx, event)
		})
		if ctx.Err() != nil {
			return
		}
		slogctx.Warn(ctx, "Session event subscription lost", "channel", b.channel, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeInterval):
		}
	}
}

type subscription struct {
	mu     sync.Mutex
	closed bool
	events chan session.Event
}

func (s *subscription) deliver(ctx context.Context, event session.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.events <- event:
	default:
		slogctx.Warn(ctx, "Dropping session event", "reason", "slow subscriber", "kind", event.Kind)
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
