package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

func TestFake_UpsertCandle_TracksHighLowCloseVolumeAcrossBuckets(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)

	require.NoError(t, f.UpsertCandle(ctx, "XYZ", base, decimal.NewFromInt(100), decimal.NewFromInt(1)))
	require.NoError(t, f.UpsertCandle(ctx, "XYZ", base.Add(10*time.Second), decimal.NewFromInt(110), decimal.NewFromInt(2)))
	require.NoError(t, f.UpsertCandle(ctx, "XYZ", base.Add(20*time.Second), decimal.NewFromInt(90), decimal.NewFromInt(3)))

	var oneMin *Candle
	for _, c := range f.Candles() {
		if c.Interval == "1m" {
			cc := c
			oneMin = &cc
			break
		}
	}
	require.NotNil(t, oneMin, "expected a 1m bucket")
	assert.True(t, oneMin.Open.Equal(decimal.NewFromInt(100)))
	assert.True(t, oneMin.High.Equal(decimal.NewFromInt(110)))
	assert.True(t, oneMin.Low.Equal(decimal.NewFromInt(90)))
	assert.True(t, oneMin.Close.Equal(decimal.NewFromInt(90)))
	assert.True(t, oneMin.Volume.Equal(decimal.NewFromInt(6)))
}

func TestFake_UpsertCandle_SeparatesDistinctMinuteBuckets(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	require.NoError(t, f.UpsertCandle(ctx, "XYZ", t1, decimal.NewFromInt(100), decimal.NewFromInt(1)))
	require.NoError(t, f.UpsertCandle(ctx, "XYZ", t2, decimal.NewFromInt(200), decimal.NewFromInt(1)))

	var oneMinCount int
	for _, c := range f.Candles() {
		if c.Interval == "1m" {
			oneMinCount++
		}
	}
	assert.Equal(t, 2, oneMinCount, "each distinct minute should get its own 1m bucket")
}

func TestFake_GetWallet_DefaultsToZeroBalance(t *testing.T) {
	f := NewFake()
	w, err := f.GetWallet(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
}

func TestFake_DrainOutboxThenAck_RemovesDrainedRows(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	userID := uuid.New()

	err := f.WithTx(ctx, func(tx Tx) error {
		prev := domain.Wallet{UserID: userID, Balance: decimal.Zero}
		next := domain.Wallet{UserID: userID, Balance: decimal.NewFromInt(50)}
		return tx.SaveWallet(ctx, prev, next, domain.WalletReasonTradeBuy)
	})
	require.NoError(t, err)

	batch, err := f.DrainOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	ids := []int64{batch[0].ID}
	require.NoError(t, f.AckOutbox(ctx, ids))

	remaining, err := f.DrainOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
