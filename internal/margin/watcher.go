// Package margin implements MarginWatcher: equity checks for short
// holders on every price tick, and forced liquidation when maintenance
// margin is breached (§4.5).
package margin

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
	"github.com/bikeshrana/sim-exchange-core/internal/events"
	"github.com/bikeshrana/sim-exchange-core/internal/execution"
	"github.com/bikeshrana/sim-exchange-core/internal/store"
)

// PriceResolver is the subset of PriceStore the watcher needs.
type PriceResolver interface {
	Get(ctx context.Context, tickerID string) (decimal.Decimal, error)
}

// Watcher is MarginWatcher.
type Watcher struct {
	db     store.DB
	prices PriceResolver
	bus    *events.Bus
	logger zerolog.Logger
}

func NewWatcher(db store.DB, prices PriceResolver, bus *events.Bus, logger zerolog.Logger) *Watcher {
	return &Watcher{db: db, prices: prices, bus: bus, logger: logger.With().Str("component", "margin.Watcher").Logger()}
}

// Run subscribes to price_updated and evaluates short holders of the
// ticked symbol until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	sub := w.bus.Subscribe(events.ChannelPriceUpdates)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			tick, ok := ev.(*events.PriceUpdated)
			if !ok {
				continue
			}
			w.OnTick(ctx, tick.TickerID)
		}
	}
}

// OnTick is §4.5 steps 1-4 for one ticker's price update.
func (w *Watcher) OnTick(ctx context.Context, tickerID string) {
	userIDs, err := w.shortHolders(ctx, tickerID)
	if err != nil {
		w.logger.Error().Err(err).Str("ticker_id", tickerID).Msg("short holder scan failed")
		return
	}
	for _, uid := range userIDs {
		if err := w.evaluate(ctx, uid, tickerID); err != nil {
			w.logger.Error().Err(err).Str("user_id", uid.String()).Msg("margin evaluation failed")
		}
	}
}

func (w *Watcher) shortHolders(ctx context.Context, tickerID string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := w.db.WithTx(ctx, func(tx store.Tx) error {
		pfs, err := tx.ListShortPortfolios(ctx, tickerID)
		if err != nil {
			return err
		}
		for _, pf := range pfs {
			ids = append(ids, pf.UserID)
		}
		return nil
	})
	return ids, err
}

// priceOrAvg resolves a ticker's current price, falling back to the
// position's average price on any lookup failure (§4.5 step 2/4).
func (w *Watcher) priceOrAvg(ctx context.Context, tickerID string, avg decimal.Decimal) decimal.Decimal {
	p, err := w.prices.Get(ctx, tickerID)
	if err != nil {
		return avg
	}
	return p
}

// evaluate recomputes net equity for userID under a wallet row lock
// (§4.5's reentrancy guarantee) and liquidates if maintenance margin is
// breached.
func (w *Watcher) evaluate(ctx context.Context, userID uuid.UUID, triggerTicker string) error {
	return w.db.WithTx(ctx, func(tx store.Tx) error {
		wallet, err := tx.LockWallet(ctx, userID)
		if err != nil {
			return err
		}
		portfolios, err := tx.ListPortfoliosByUser(ctx, userID)
		if err != nil {
			return err
		}

		var longValue, shortLiability decimal.Decimal
		prices := make(map[string]decimal.Decimal, len(portfolios))
		for _, pf := range portfolios {
			price := w.priceOrAvg(ctx, pf.TickerID, pf.AveragePrice)
			prices[pf.TickerID] = price
			if pf.IsLong() {
				longValue = longValue.Add(pf.Quantity.Mul(price))
			} else if pf.IsShort() {
				shortLiability = shortLiability.Add(pf.Quantity.Abs().Mul(price))
			}
		}
		if shortLiability.IsZero() {
			return nil // nothing short left to protect against
		}

		netEquity := wallet.Balance.Add(longValue).Sub(shortLiability)
		maintenance := shortLiability.Mul(domain.MaintenanceMarginRate)
		if netEquity.GreaterThanOrEqual(maintenance) {
			return nil
		}

		return w.liquidateAll(ctx, tx, userID, triggerTicker, wallet, portfolios, prices, netEquity, shortLiability)
	})
}

// liquidateAll closes every position at its mark-to-market price,
// zero-fee, and posts a single cash settlement (§4.5 step 4).
func (w *Watcher) liquidateAll(ctx context.Context, tx store.Tx, userID uuid.UUID, triggerTicker string, wallet domain.Wallet, portfolios []domain.Portfolio, prices map[string]decimal.Decimal, equity, liability decimal.Decimal) error {
	cur := wallet
	for _, pf := range portfolios {
		price := prices[pf.TickerID]
		closeSide := domain.OrderSideSell
		if pf.IsShort() {
			closeSide = domain.OrderSideBuy
		}
		fr := execution.ApplyFill(closeSide, pf.Quantity.Abs(), cur, pf, decimal.Zero, price)
		if fr.Failed {
			// ApplyFill refuses a buy-back the balance cannot cover; the
			// forced close still settles and any deficit is floored below.
			cur = domain.Wallet{UserID: userID, Balance: cur.Balance.Sub(pf.Quantity.Abs().Mul(price))}
		} else {
			cur = fr.Wallet
		}
		if err := tx.DeletePortfolio(ctx, pf, "liquidated"); err != nil {
			return err
		}
	}

	finalBalance := domain.Normalize(cur.Balance)
	reason := domain.WalletReasonLiquidation
	if finalBalance.IsNegative() {
		finalBalance = decimal.Zero
		reason = domain.WalletReasonLiquidityReset
	}
	if err := tx.SaveWallet(ctx, wallet, domain.Wallet{UserID: userID, Balance: finalBalance}, reason); err != nil {
		return err
	}

	w.bus.Publish(ctx, events.NewLiquidation(userID, triggerTicker, equity, liability))
	return nil
}
