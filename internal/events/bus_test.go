package events

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus(4, zerolog.Nop())
	a := bus.Subscribe(ChannelPriceUpdates)
	b := bus.Subscribe(ChannelPriceUpdates)

	bus.Publish(context.Background(), NewPriceUpdated("XYZ", decimal.NewFromInt(100)))

	for _, sub := range []<-chan Event{a, b} {
		select {
		case ev := <-sub:
			tick, ok := ev.(*PriceUpdated)
			require.True(t, ok)
			assert.Equal(t, "XYZ", tick.TickerID)
		default:
			t.Fatal("expected both subscribers to receive the event")
		}
	}
}

func TestBus_PublishNeverBlocksOnAFullSubscriberBuffer(t *testing.T) {
	bus := NewBus(1, zerolog.Nop())
	sub := bus.Subscribe(ChannelPriceUpdates)

	bus.Publish(context.Background(), NewPriceUpdated("XYZ", decimal.NewFromInt(1)))
	bus.Publish(context.Background(), NewPriceUpdated("XYZ", decimal.NewFromInt(2))) // must not block even though sub's one slot is full

	metrics := bus.Metrics()[ChannelPriceUpdates]
	assert.Equal(t, int64(1), metrics.Dropped)

	first := <-sub
	tick := first.(*PriceUpdated)
	assert.Equal(t, "1", tick.Price.String())
}

func TestBus_PublishBlockingWaitsForRoom(t *testing.T) {
	bus := NewBus(1, zerolog.Nop())
	sub := bus.Subscribe(ChannelPriceUpdates)
	require.NoError(t, bus.PublishBlocking(context.Background(), NewPriceUpdated("XYZ", decimal.NewFromInt(1))))

	errCh := make(chan error, 1)
	go func() {
		errCh <- bus.PublishBlocking(context.Background(), NewPriceUpdated("XYZ", decimal.NewFromInt(2)))
	}()

	<-sub // drain the first event, freeing a slot for the blocked publish
	require.NoError(t, <-errCh)
}

func TestBus_CloseClosesEverySubscriberChannel(t *testing.T) {
	bus := NewBus(1, zerolog.Nop())
	sub := bus.Subscribe(ChannelPriceUpdates)
	bus.Close()

	_, open := <-sub
	assert.False(t, open)
}

func TestBus_SubscriberCount(t *testing.T) {
	bus := NewBus(1, zerolog.Nop())
	assert.Equal(t, 0, bus.SubscriberCount(ChannelPriceUpdates))
	bus.Subscribe(ChannelPriceUpdates)
	bus.Subscribe(ChannelPriceUpdates)
	assert.Equal(t, 2, bus.SubscriberCount(ChannelPriceUpdates))
}
