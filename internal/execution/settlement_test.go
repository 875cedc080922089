package execution

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

// stubPrices is a fixed PriceResolver for tests that never touch Redis.
type stubPrices struct {
	price   decimal.Decimal
	feeRate decimal.Decimal
	vwapOK  bool
}

func (s stubPrices) Get(ctx context.Context, tickerID string) (decimal.Decimal, error) {
	return s.price, nil
}

func (s stubPrices) VWAP(ctx context.Context, tickerID string, side domain.OrderSide, qty decimal.Decimal) (decimal.Decimal, bool) {
	if !s.vwapOK {
		return decimal.Zero, false
	}
	return s.price, true
}

func (s stubPrices) FeeRate(ctx context.Context) decimal.Decimal { return s.feeRate }

func newTestExecutor(price, feeRate decimal.Decimal, db store.DB, bus *events.Bus) *Executor {
	return NewExecutor(db, stubPrices{price: price, feeRate: feeRate}, bus, nil)
}

// S1: market long round-trip, end to end through Execute.
func TestExecutor_S1_MarketLongRoundTrip(t *testing.T) {
	db := store.NewFake()
	userID := uuid.New()
	db.SeedTicker(domain.Ticker{ID: "XYZ", MarketType: domain.MarketUS, IsActive: true})
	db.SeedWallet(domain.Wallet{UserID: userID, Balance: dec("1000000")})

	bus := events.NewBus(4, zerolog.Nop())
	sub := bus.Subscribe(events.ChannelTradeEvents)

	buyOrder := domain.Order{
		ID: uuid.New(), UserID: userID, TickerID: "XYZ",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket,
		Quantity: dec("10"), UnfilledQuantity: dec("10"), Status: domain.OrderStatusAccepted,
	}
	db.SeedOrder(buyOrder)

	exec := newTestExecutor(dec("100"), dec("0.001"), db, bus)
	res, err := exec.Execute(context.Background(), buyOrder, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, res.Order.Status)

	wallet, err := db.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(dec("998999")), "got %s", wallet.Balance)

	pf, ok, err := db.GetPortfolio(context.Background(), userID, "XYZ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, pf.Quantity.Equal(dec("10")))
	assert.True(t, pf.AveragePrice.Equal(dec("100.1")))

	select {
	case ev := <-sub:
		_, ok := ev.(*events.TradeExecuted)
		assert.True(t, ok, "expected a TradeExecuted event")
	default:
		t.Fatal("expected Execute to publish a trade event on fill")
	}

	sellOrder := domain.Order{
		ID: uuid.New(), UserID: userID, TickerID: "XYZ",
		Side: domain.OrderSideSell, Type: domain.OrderTypeMarket,
		Quantity: dec("10"), UnfilledQuantity: dec("10"), Status: domain.OrderStatusAccepted,
	}
	db.SeedOrder(sellOrder)

	exec2 := newTestExecutor(dec("120"), dec("0.001"), db, bus)
	res2, err := exec2.Execute(context.Background(), sellOrder, nil)
	require.NoError(t, err)
	require.NotNil(t, res2.Order.RealizedPnL)
	assert.True(t, res2.Order.RealizedPnL.Equal(dec("197.8")), "got %s", res2.Order.RealizedPnL)

	wallet, err = db.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(dec("1000197.8")), "got %s", wallet.Balance)

	_, ok, err = db.GetPortfolio(context.Background(), userID, "XYZ")
	require.NoError(t, err)
	assert.False(t, ok, "portfolio should be dust-deleted after the round trip")
}

// A buy that cannot afford the notional commits as a FAILED order rather
// than surfacing an error to the caller (§7 propagation policy).
func TestExecutor_InsufficientFundsCommitsFailedOrder(t *testing.T) {
	db := store.NewFake()
	userID := uuid.New()
	db.SeedTicker(domain.Ticker{ID: "XYZ", MarketType: domain.MarketUS, IsActive: true})
	db.SeedWallet(domain.Wallet{UserID: userID, Balance: dec("10")})

	bus := events.NewBus(4, zerolog.Nop())
	order := domain.Order{
		ID: uuid.New(), UserID: userID, TickerID: "XYZ",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket,
		Quantity: dec("10"), UnfilledQuantity: dec("10"), Status: domain.OrderStatusAccepted,
	}
	db.SeedOrder(order)

	exec := newTestExecutor(dec("100"), dec("0.001"), db, bus)
	res, err := exec.Execute(context.Background(), order, nil)
	require.NoError(t, err, "a business-level rejection never surfaces as a caller error")
	assert.Equal(t, domain.OrderStatusFailed, res.Order.Status)
	assert.NotEmpty(t, res.Order.FailReason)
}

// A HUMAN-market ticker never settles through Execute; it's accepted into
// the P2P book instead.
func TestExecutor_HumanTickerDefersToP2PBook(t *testing.T) {
	db := store.NewFake()
	userID := uuid.New()
	db.SeedTicker(domain.Ticker{ID: "H1", MarketType: domain.MarketHuman, IsActive: true})

	bus := events.NewBus(4, zerolog.Nop())
	order := domain.Order{
		ID: uuid.New(), UserID: userID, TickerID: "H1",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		TargetPrice: dec("10"), Quantity: dec("1"), UnfilledQuantity: dec("1"),
		Status: domain.OrderStatusPending,
	}
	db.SeedOrder(order)

	exec := newTestExecutor(dec("10"), decimal.Zero, db, bus)
	res, err := exec.Execute(context.Background(), order, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, res.Order.Status, "HumanMatcher's own ListPendingOrdersByTicker only ever sees PENDING rows")
}

// A MARKET order against a HUMAN-market ticker also defers to the P2P book
// rather than settling immediately — dispatchMarket queues it ACCEPTED, but
// Execute must still route it to HumanMatcher instead of treating ACCEPTED
// as "already queued, nothing to do."
func TestExecutor_HumanTickerMarketOrderAlsoDefersToP2PBook(t *testing.T) {
	db := store.NewFake()
	userID := uuid.New()
	db.SeedTicker(domain.Ticker{ID: "H1", MarketType: domain.MarketHuman, IsActive: true})

	bus := events.NewBus(4, zerolog.Nop())
	order := domain.Order{
		ID: uuid.New(), UserID: userID, TickerID: "H1",
		Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket,
		Quantity: dec("1"), UnfilledQuantity: dec("1"),
		Status: domain.OrderStatusAccepted,
	}
	db.SeedOrder(order)

	exec := newTestExecutor(dec("10"), decimal.Zero, db, bus)
	res, err := exec.Execute(context.Background(), order, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, res.Order.Status, "must reach HumanMatcher's book, not stick at ACCEPTED forever")
}
