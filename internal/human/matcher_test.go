package human

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func limitOrder(side domain.OrderSide, price string, qty string, at time.Time) domain.Order {
	return domain.Order{
		ID: uuid.New(), UserID: uuid.New(), TickerID: "HUMAN1",
		Side: side, Type: domain.OrderTypeLimit,
		TargetPrice: dec(price), Quantity: dec(qty), UnfilledQuantity: dec(qty),
		Status: domain.OrderStatusPending, CreatedAt: at,
	}
}

// S6 / P7: of two resting buys at the same price, the older fills first.
func TestSplitAndSort_FIFOFairnessAtSamePrice(t *testing.T) {
	t1 := time.Unix(1, 0)
	t2 := time.Unix(2, 0)
	b1 := limitOrder(domain.OrderSideBuy, "100", "1", t1)
	b2 := limitOrder(domain.OrderSideBuy, "100", "1", t2)
	s1 := limitOrder(domain.OrderSideSell, "100", "1", t1)

	b := splitAndSort([]domain.Order{b2, b1, s1})
	require.Len(t, b.buys, 2)
	assert.Equal(t, b1.ID, b.buys[0].ID, "older buy at the same price must sort first")
	assert.Equal(t, b2.ID, b.buys[1].ID)
}

func TestSplitAndSort_PriceDescForBuysAscForSells(t *testing.T) {
	now := time.Now()
	cheap := limitOrder(domain.OrderSideBuy, "90", "1", now)
	rich := limitOrder(domain.OrderSideBuy, "110", "1", now)
	high := limitOrder(domain.OrderSideSell, "120", "1", now)
	low := limitOrder(domain.OrderSideSell, "95", "1", now)

	b := splitAndSort([]domain.Order{cheap, rich, high, low})
	require.Len(t, b.buys, 2)
	assert.Equal(t, rich.ID, b.buys[0].ID, "highest bid first")
	require.Len(t, b.sells, 2)
	assert.Equal(t, low.ID, b.sells[0].ID, "lowest ask first")
}

func TestEffectivePrice_MarketOrdersActAsInfinityAndZero(t *testing.T) {
	now := time.Now()
	marketBuy := domain.Order{Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, CreatedAt: now}
	marketSell := domain.Order{Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, CreatedAt: now}
	limit := limitOrder(domain.OrderSideBuy, "100", "1", now)

	assert.True(t, effectivePrice(marketBuy).GreaterThan(effectivePrice(limit)))
	assert.True(t, effectivePrice(marketSell).IsZero())
}

func TestCrossPrice_BothLimitOlderWins(t *testing.T) {
	older := limitOrder(domain.OrderSideBuy, "101", "1", time.Unix(1, 0))
	newer := limitOrder(domain.OrderSideSell, "99", "1", time.Unix(2, 0))

	price, ok := crossPrice(older, newer)
	require.True(t, ok)
	assert.True(t, price.Equal(dec("101")), "maker (older order) sets the price")
}

func TestCrossPrice_OneMarketUsesLimitSide(t *testing.T) {
	now := time.Now()
	marketBuy := domain.Order{Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, CreatedAt: now}
	limitSell := limitOrder(domain.OrderSideSell, "88", "1", now)

	price, ok := crossPrice(marketBuy, limitSell)
	require.True(t, ok)
	assert.True(t, price.Equal(dec("88")))
}

func TestCrossPrice_BothMarketSkipsCycle(t *testing.T) {
	now := time.Now()
	marketBuy := domain.Order{Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, CreatedAt: now}
	marketSell := domain.Order{Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, CreatedAt: now}

	_, ok := crossPrice(marketBuy, marketSell)
	assert.False(t, ok)
}

func TestApplyFillToOrder_PartialThenFull(t *testing.T) {
	o := limitOrder(domain.OrderSideBuy, "100", "3", time.Now())

	o = applyFillToOrder(o, dec("1"), dec("100"), dec("0.1"), nil)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.True(t, o.UnfilledQuantity.Equal(dec("2")))

	o = applyFillToOrder(o, dec("2"), dec("100"), dec("0.1"), nil)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.True(t, o.UnfilledQuantity.IsZero())
	assert.NotNil(t, o.FilledAt)
}
