package margin

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

type stubPrices struct {
	prices map[string]decimal.Decimal
}

func (s stubPrices) Get(ctx context.Context, tickerID string) (decimal.Decimal, error) {
	p, ok := s.prices[tickerID]
	if !ok {
		return decimal.Zero, domain.Reject(domain.RejectionMarketDataUnavailable, "no price")
	}
	return p, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// S7: wallet 2,000,000, portfolio (-100, avg=10,000), price rises to
// 19,500 -> liquidates, wallet -> 50,000, portfolio gone.
func TestWatcher_S7_MarginLiquidation(t *testing.T) {
	db := store.NewFake()
	userID := uuid.New()
	db.SeedWallet(domain.Wallet{UserID: userID, Balance: dec("2000000")})
	db.SeedPortfolio(domain.Portfolio{UserID: userID, TickerID: "XYZ", Quantity: dec("-100"), AveragePrice: dec("10000")})

	bus := events.NewBus(4, zerolog.Nop())
	sub := bus.Subscribe(events.ChannelLiquidationEvents)
	prices := stubPrices{prices: map[string]decimal.Decimal{"XYZ": dec("19500")}}

	w := NewWatcher(db, prices, bus, zerolog.Nop())
	w.OnTick(context.Background(), "XYZ")

	wallet, err := db.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(dec("50000")), "got %s", wallet.Balance)

	_, ok, err := db.GetPortfolio(context.Background(), userID, "XYZ")
	require.NoError(t, err)
	assert.False(t, ok, "portfolio should be deleted after liquidation")

	select {
	case ev := <-sub:
		liq, ok := ev.(*events.Liquidation)
		require.True(t, ok)
		assert.Equal(t, userID, liq.UserID)
	default:
		t.Fatal("expected a liquidation event to be published")
	}
}

// P6: liquidation monotonicity — no negative-quantity rows and a
// non-negative wallet balance survive a liquidation, even when the
// liquidation proceeds don't cover the liability.
func TestWatcher_P6_LiquidationNeverLeavesNegativeBalance(t *testing.T) {
	db := store.NewFake()
	userID := uuid.New()
	db.SeedWallet(domain.Wallet{UserID: userID, Balance: dec("1000")})
	db.SeedPortfolio(domain.Portfolio{UserID: userID, TickerID: "XYZ", Quantity: dec("-100"), AveragePrice: dec("100")})

	bus := events.NewBus(4, zerolog.Nop())
	prices := stubPrices{prices: map[string]decimal.Decimal{"XYZ": dec("500")}}
	w := NewWatcher(db, prices, bus, zerolog.Nop())
	w.OnTick(context.Background(), "XYZ")

	wallet, err := db.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.GreaterThanOrEqual(decimal.Zero), "got %s", wallet.Balance)

	_, ok, err := db.GetPortfolio(context.Background(), userID, "XYZ")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatcher_NoLiquidationWhenEquityHealthy(t *testing.T) {
	db := store.NewFake()
	userID := uuid.New()
	db.SeedWallet(domain.Wallet{UserID: userID, Balance: dec("2000000")})
	db.SeedPortfolio(domain.Portfolio{UserID: userID, TickerID: "XYZ", Quantity: dec("-100"), AveragePrice: dec("10000")})

	bus := events.NewBus(4, zerolog.Nop())
	sub := bus.Subscribe(events.ChannelLiquidationEvents)
	prices := stubPrices{prices: map[string]decimal.Decimal{"XYZ": dec("10100")}}

	w := NewWatcher(db, prices, bus, zerolog.Nop())
	w.OnTick(context.Background(), "XYZ")

	_, ok, err := db.GetPortfolio(context.Background(), userID, "XYZ")
	require.NoError(t, err)
	assert.True(t, ok, "healthy short position should survive the tick")

	select {
	case <-sub:
		t.Fatal("no liquidation event expected")
	default:
	}
}
