package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Bus distributes events to subscribers over buffered Go channels. It is
// the engine's only cross-component signaling path: PriceStore publishes
// PriceUpdated, TradeExecutor/HumanMatcher publish TradeExecuted,
// IntakeService publishes order_created/order_cancelled, MarginWatcher
// publishes Liquidation and AuditSink publishes AuditDrained.
// ConditionalMatcher and MarginWatcher consume PriceUpdated; no engine
// component subscribes to the other channels.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Channel][]chan Event
	bufferSize  int
	logger      zerolog.Logger

	metricsLock    sync.RWMutex
	publishedCount map[Channel]int64
	droppedCount   map[Channel]int64
}

// NewBus creates a bus whose per-subscriber channels are buffered to
// bufferSize.
func NewBus(bufferSize int, logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers:    make(map[Channel][]chan Event),
		bufferSize:     bufferSize,
		logger:         logger.With().Str("component", "events.Bus").Logger(),
		publishedCount: make(map[Channel]int64),
		droppedCount:   make(map[Channel]int64),
	}
}

// Subscribe returns a read-only channel receiving every event published on
// ch from now on.
func (b *Bus) Subscribe(ch Channel) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(chan Event, b.bufferSize)
	b.subscribers[ch] = append(b.subscribers[ch], sub)

	b.logger.Info().
		Str("channel", string(ch)).
		Int("subscribers", len(b.subscribers[ch])).
		Msg("subscriber registered")

	return sub
}

// Publish fans event out to every subscriber of its channel without
// blocking; a subscriber whose buffer is full drops that one event instead
// of stalling the publisher.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := b.subscribers[event.Channel()]
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var dropped int
	for _, sub := range subs {
		select {
		case sub <- event:
		case <-ctx.Done():
			return
		default:
			dropped++
			b.logger.Warn().Str("channel", string(event.Channel())).Msg("subscriber buffer full, event dropped")
		}
	}

	b.updateMetrics(event.Channel(), len(subs)-dropped, dropped)
}

// PublishBlocking sends event to every subscriber, blocking until each has
// room. Used for events that must never be silently dropped, such as
// audit_queue drains.
func (b *Bus) PublishBlocking(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := b.subscribers[event.Channel()]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- event:
		case <-ctx.Done():
			return fmt.Errorf("publish canceled: %w", ctx.Err())
		}
	}
	b.updateMetrics(event.Channel(), len(subs), 0)
	return nil
}

// Close closes every subscriber channel and resets the subscriber table.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch, subs := range b.subscribers {
		for _, sub := range subs {
			close(sub)
		}
		b.logger.Info().Str("channel", string(ch)).Int("subscribers", len(subs)).Msg("channel closed")
	}
	b.subscribers = make(map[Channel][]chan Event)
}

// ChannelMetrics reports published/dropped counters per channel.
type ChannelMetrics struct {
	Channel   Channel
	Published int64
	Dropped   int64
}

func (b *Bus) Metrics() map[Channel]ChannelMetrics {
	b.metricsLock.RLock()
	defer b.metricsLock.RUnlock()

	out := make(map[Channel]ChannelMetrics, len(b.publishedCount))
	for ch := range b.publishedCount {
		out[ch] = ChannelMetrics{Channel: ch, Published: b.publishedCount[ch], Dropped: b.droppedCount[ch]}
	}
	return out
}

func (b *Bus) updateMetrics(ch Channel, published, dropped int) {
	b.metricsLock.Lock()
	defer b.metricsLock.Unlock()
	b.publishedCount[ch] += int64(published)
	b.droppedCount[ch] += int64(dropped)
}

// SubscriberCount returns the number of live subscribers on ch.
func (b *Bus) SubscriberCount(ch Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[ch])
}
