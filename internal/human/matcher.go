// Package human implements HumanMatcher: the price-time priority P2P book
// for market_type=HUMAN tickers (§4.4).
package human

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
	"github.com/bikeshrana/sim-exchange-core/internal/events"
	"github.com/bikeshrana/sim-exchange-core/internal/execution"
	"github.com/bikeshrana/sim-exchange-core/internal/pricefeed"
	"github.com/bikeshrana/sim-exchange-core/internal/store"
)

// CandleSink records 1m/1d OHLCV buckets for a HUMAN ticker after every
// settled cross (§4.4 step 4).
type CandleSink interface {
	UpsertCandle(ctx context.Context, tickerID string, at time.Time, price, qty decimal.Decimal) error
}

// FeeRateResolver supplies the taker fee rate applied to each P2P leg.
// *pricefeed.PriceStore satisfies this; tests can stub it instead of
// standing up a real Redis-backed store.
type FeeRateResolver interface {
	FeeRate(ctx context.Context) decimal.Decimal
}

// Matcher is HumanMatcher.
type Matcher struct {
	db      store.DB
	prices  FeeRateResolver
	bus     *events.Bus
	candles CandleSink
	logger  zerolog.Logger
	period  time.Duration
}

func NewMatcher(db store.DB, prices *pricefeed.PriceStore, bus *events.Bus, candles CandleSink, logger zerolog.Logger, period time.Duration) *Matcher {
	if period <= 0 {
		period = time.Second
	}
	return &Matcher{db: db, prices: prices, bus: bus, candles: candles, logger: logger.With().Str("component", "human.Matcher").Logger(), period: period}
}

// Run drives the ≈1Hz matching loop until ctx is canceled.
func (m *Matcher) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Matcher) tick(ctx context.Context) {
	tickers, err := m.db.ListActiveHumanTickers(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("list human tickers failed")
		return
	}
	for _, t := range tickers {
		m.matchTicker(ctx, t.ID)
	}
}

// book holds one side's resting orders for a ticker, already sorted per
// §4.4 step 2.
type book struct {
	buys  []domain.Order
	sells []domain.Order
}

func (m *Matcher) matchTicker(ctx context.Context, tickerID string) {
	orders, err := m.db.ListPendingOrdersByTicker(ctx, tickerID)
	if err != nil {
		m.logger.Error().Err(err).Str("ticker_id", tickerID).Msg("list pending orders failed")
		return
	}

	b := splitAndSort(orders)
	for len(b.buys) > 0 && len(b.sells) > 0 {
		topBuy, topSell := b.buys[0], b.sells[0]
		buyPrice := effectivePrice(topBuy)
		sellPrice := effectivePrice(topSell)
		if buyPrice.LessThan(sellPrice) {
			break // no more crossing pairs
		}

		price, ok := crossPrice(topBuy, topSell)
		if !ok {
			m.logger.Info().Str("ticker_id", tickerID).Msg("both sides market, skipping cycle")
			break
		}

		qty := decimal.Min(topBuy.UnfilledQuantity, topSell.UnfilledQuantity)
		filledBuy, filledSell, err := m.executeP2P(ctx, topBuy, topSell, price, qty)
		if err != nil {
			m.logger.Error().Err(err).Str("ticker_id", tickerID).Msg("p2p settlement failed")
			break
		}

		if err := m.candles.UpsertCandle(ctx, tickerID, time.Now(), price, qty); err != nil {
			m.logger.Warn().Err(err).Str("ticker_id", tickerID).Msg("candle upsert failed")
		}

		b.buys[0], b.sells[0] = filledBuy, filledSell
		if filledBuy.Status.IsTerminal() {
			b.buys = b.buys[1:]
		}
		if filledSell.Status.IsTerminal() {
			b.sells = b.sells[1:]
		}
	}
}

func splitAndSort(orders []domain.Order) book {
	var b book
	for _, o := range orders {
		switch o.Side {
		case domain.OrderSideBuy:
			b.buys = append(b.buys, o)
		case domain.OrderSideSell:
			b.sells = append(b.sells, o)
		}
	}
	sort.SliceStable(b.buys, func(i, j int) bool {
		pi, pj := effectivePrice(b.buys[i]), effectivePrice(b.buys[j])
		if !pi.Equal(pj) {
			return pi.GreaterThan(pj) // price DESC
		}
		return b.buys[i].CreatedAt.Before(b.buys[j].CreatedAt) // then created_at ASC
	})
	sort.SliceStable(b.sells, func(i, j int) bool {
		pi, pj := effectivePrice(b.sells[i]), effectivePrice(b.sells[j])
		if !pi.Equal(pj) {
			return pi.LessThan(pj) // price ASC
		}
		return b.sells[i].CreatedAt.Before(b.sells[j].CreatedAt)
	})
	return b
}

// effectivePrice treats a MARKET order as +inf on the buy side and 0 on
// the sell side, per §4.4 step 2's sort rule.
func effectivePrice(o domain.Order) decimal.Decimal {
	if o.Type != domain.OrderTypeMarket {
		return o.TargetPrice
	}
	if o.Side == domain.OrderSideBuy {
		return decimal.New(1, 18) // effectively +inf among real prices
	}
	return decimal.Zero
}

// crossPrice determines the trade price for (buy, sell): both LIMIT uses
// the older order's target_price (maker-wins); one MARKET uses the
// LIMIT side's price; both MARKET skips the cycle.
func crossPrice(buy, sell domain.Order) (decimal.Decimal, bool) {
	buyIsMarket := buy.Type == domain.OrderTypeMarket
	sellIsMarket := sell.Type == domain.OrderTypeMarket

	switch {
	case buyIsMarket && sellIsMarket:
		return decimal.Zero, false
	case !buyIsMarket && !sellIsMarket:
		if buy.CreatedAt.Before(sell.CreatedAt) {
			return buy.TargetPrice, true
		}
		return sell.TargetPrice, true
	case buyIsMarket:
		return sell.TargetPrice, true
	default:
		return buy.TargetPrice, true
	}
}

// executeP2P locks both wallets (ascending user-id order per §5) and both
// portfolios/orders, applies §4.2's per-side math to each leg, and
// transitions both orders.
func (m *Matcher) executeP2P(ctx context.Context, buyOrder, sellOrder domain.Order, price, qty decimal.Decimal) (domain.Order, domain.Order, error) {
	var outBuy, outSell domain.Order
	feeRate := m.prices.FeeRate(ctx)

	first, second := buyOrder, sellOrder
	if sellOrder.UserID.String() < buyOrder.UserID.String() {
		first, second = sellOrder, buyOrder
	}

	err := m.db.WithTx(ctx, func(tx store.Tx) error {
		firstWallet, err := tx.LockWallet(ctx, first.UserID)
		if err != nil {
			return err
		}
		secondWallet, err := tx.LockWallet(ctx, second.UserID)
		if err != nil {
			return err
		}
		wallets := map[string]domain.Wallet{first.UserID.String(): firstWallet, second.UserID.String(): secondWallet}

		buyWallet := wallets[buyOrder.UserID.String()]
		sellWallet := wallets[sellOrder.UserID.String()]

		buyPF, buyExisted, err := tx.LockPortfolio(ctx, buyOrder.UserID, buyOrder.TickerID)
		if err != nil {
			return err
		}
		sellPF, sellExisted, err := tx.LockPortfolio(ctx, sellOrder.UserID, sellOrder.TickerID)
		if err != nil {
			return err
		}

		firstOrderID, secondOrderID := buyOrder.ID, sellOrder.ID
		if secondOrderID.String() < firstOrderID.String() {
			firstOrderID, secondOrderID = secondOrderID, firstOrderID
		}
		lockedFirst, err := tx.LockOrder(ctx, firstOrderID)
		if err != nil {
			return err
		}
		lockedSecond, err := tx.LockOrder(ctx, secondOrderID)
		if err != nil {
			return err
		}
		lockedBuy, lockedSell := lockedFirst, lockedSecond
		if firstOrderID != buyOrder.ID {
			lockedBuy, lockedSell = lockedSecond, lockedFirst
		}
		if lockedBuy.Status.IsTerminal() || lockedSell.Status.IsTerminal() {
			// one side was cancelled or filled by a concurrent match since listing; skip this cycle.
			outBuy, outSell = lockedBuy, lockedSell
			return nil
		}

		buyFill := execution.ApplyFill(domain.OrderSideBuy, qty, buyWallet, buyPF, feeRate, price)
		sellFill := execution.ApplyFill(domain.OrderSideSell, qty, sellWallet, sellPF, feeRate, price)
		if buyFill.Failed {
			return m.failBoth(ctx, tx, lockedBuy, lockedSell, "buyer "+buyFill.FailReason)
		}
		if sellFill.Failed {
			return m.failBoth(ctx, tx, lockedBuy, lockedSell, "seller "+sellFill.FailReason)
		}

		if err := tx.SaveWallet(ctx, buyWallet, buyFill.Wallet, buyFill.WalletReason); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, sellWallet, sellFill.Wallet, sellFill.WalletReason); err != nil {
			return err
		}

		if err := upsertOrDelete(ctx, tx, buyPF, buyExisted, buyFill.Portfolio, "p2p settlement"); err != nil {
			return err
		}
		if err := upsertOrDelete(ctx, tx, sellPF, sellExisted, sellFill.Portfolio, "p2p settlement"); err != nil {
			return err
		}

		outBuy = applyFillToOrder(lockedBuy, qty, price, buyFill.Fee, buyFill.RealizedPnL)
		outSell = applyFillToOrder(lockedSell, qty, price, sellFill.Fee, sellFill.RealizedPnL)
		if err := tx.SaveOrder(ctx, lockedBuy.Status, outBuy, "p2p fill"); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, lockedSell.Status, outSell, "p2p fill"); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, domain.Order{}, err
	}

	if outBuy.Status == domain.OrderStatusFilled || outBuy.UnfilledQuantity.LessThan(buyOrder.UnfilledQuantity) {
		m.bus.Publish(ctx, events.NewTradeExecuted(outBuy))
	}
	if outSell.Status == domain.OrderStatusFilled || outSell.UnfilledQuantity.LessThan(sellOrder.UnfilledQuantity) {
		m.bus.Publish(ctx, events.NewTradeExecuted(outSell))
	}
	return outBuy, outSell, nil
}

func (m *Matcher) failBoth(ctx context.Context, tx store.Tx, buy, sell domain.Order, reason string) error {
	buy.Status, buy.FailReason = domain.OrderStatusFailed, reason
	sell.Status, sell.FailReason = domain.OrderStatusFailed, reason
	if err := tx.SaveOrder(ctx, domain.OrderStatusPending, buy, reason); err != nil {
		return err
	}
	return tx.SaveOrder(ctx, domain.OrderStatusPending, sell, reason)
}

func upsertOrDelete(ctx context.Context, tx store.Tx, prev domain.Portfolio, existed bool, next domain.Portfolio, reason string) error {
	if domain.IsDust(next.Quantity) {
		if existed {
			return tx.DeletePortfolio(ctx, prev, reason)
		}
		return nil
	}
	return tx.UpsertPortfolio(ctx, prev, existed, next, reason)
}

func applyFillToOrder(o domain.Order, qty, price, fee decimal.Decimal, pnl *decimal.Decimal) domain.Order {
	o.UnfilledQuantity = domain.Normalize(o.UnfilledQuantity.Sub(qty))
	o.Price = price
	o.Fee = fee
	o.RealizedPnL = pnl
	if o.UnfilledQuantity.LessThanOrEqual(decimal.Zero) {
		o.Status = domain.OrderStatusFilled
		o.UnfilledQuantity = decimal.Zero
		now := time.Now()
		o.FilledAt = &now
	}
	return o
}
