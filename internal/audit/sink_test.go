package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
	"github.com/bikeshrana/sim-exchange-core/internal/events"
	"github.com/bikeshrana/sim-exchange-core/internal/store"
)

func TestSink_DrainOnceAcksAndPublishes(t *testing.T) {
	db := store.NewFake()
	userID := uuid.New()
	db.SeedWallet(domain.Wallet{UserID: userID, Balance: decimal.Zero})

	err := db.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.SaveWallet(context.Background(), domain.Wallet{UserID: userID}, domain.Wallet{UserID: userID, Balance: decimal.NewFromInt(100)}, domain.WalletReasonTradeBuy)
	})
	require.NoError(t, err)

	before, err := db.DrainOutbox(context.Background(), 200)
	require.NoError(t, err)
	require.Len(t, before, 1)

	bus := events.NewBus(4, zerolog.Nop())
	sub := bus.Subscribe(events.ChannelAuditQueue)
	sink := NewSink(db, bus, zerolog.Nop(), 0)

	require.NoError(t, sink.drainOnce(context.Background()))

	after, err := db.DrainOutbox(context.Background(), 200)
	require.NoError(t, err)
	assert.Empty(t, after, "drained rows must be acked")

	select {
	case ev := <-sub:
		drained, ok := ev.(*events.AuditDrained)
		require.True(t, ok)
		assert.Equal(t, 1, drained.Count)
	default:
		t.Fatal("expected an AuditDrained event")
	}
}

func TestSink_DrainOnceNoopWhenEmpty(t *testing.T) {
	db := store.NewFake()
	bus := events.NewBus(4, zerolog.Nop())
	sink := NewSink(db, bus, zerolog.Nop(), 0)
	assert.NoError(t, sink.drainOnce(context.Background()))
}
