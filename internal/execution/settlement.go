// Package execution is the Ledger's settlement core: TradeExecutor
// applies §4.2's BUY/SELL position math inside one row-locked
// transaction per trade.
package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
	"github.com/bikeshrana/sim-exchange-core/internal/events"
	"github.com/bikeshrana/sim-exchange-core/internal/store"
)

// PriceResolver supplies execution price and fee rate to the executor
// (PriceStore in production; a fixed stub in tests).
type PriceResolver interface {
	Get(ctx context.Context, tickerID string) (decimal.Decimal, error)
	VWAP(ctx context.Context, tickerID string, side domain.OrderSide, qty decimal.Decimal) (decimal.Decimal, bool)
	FeeRate(ctx context.Context) decimal.Decimal
}

// DividendWithholder is the external DividendService collaborator (§4.2
// post-settlement rule). Withhold returns the amount kept from pnl before
// it reaches the seller's wallet.
type DividendWithholder interface {
	Withhold(ctx context.Context, issuerTickerID string, user domain.User, pnl decimal.Decimal) (decimal.Decimal, error)
}

// noDividend is used when no issuer collaborator is wired; it withholds
// nothing, matching the behavior for any ticker that is not a Human-ETF
// issue.
type noDividend struct{}

func (noDividend) Withhold(ctx context.Context, issuerTickerID string, user domain.User, pnl decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// Result is returned to every caller of Execute — both the queue-driven
// path and ConditionalMatcher's direct invocation.
type Result struct {
	Order domain.Order
}

// Executor settles MARKET orders (and triggered conditionals) against the
// Ledger.
type Executor struct {
	db        store.DB
	prices    PriceResolver
	bus       *events.Bus
	dividends DividendWithholder
}

func NewExecutor(db store.DB, prices PriceResolver, bus *events.Bus, dividends DividendWithholder) *Executor {
	if dividends == nil {
		dividends = noDividend{}
	}
	return &Executor{db: db, prices: prices, bus: bus, dividends: dividends}
}

// ExecuteByID loads orderID, resolves its execution price and settles it.
// priceHint, when non-nil, overrides PriceResolver.Get — this is how
// ConditionalMatcher injects the triggering tick as the fill price (§4.3
// step 4) while still allowing VWAP to consume book depth.
func (e *Executor) ExecuteByID(ctx context.Context, orderID uuid.UUID, priceHint *decimal.Decimal) (Result, error) {
	order, err := e.db.GetOrder(ctx, orderID)
	if err != nil {
		return Result{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return e.Execute(ctx, order, priceHint)
}

// Execute is `executeTrade` from §4.2: the atomic settlement unit. It
// always commits — even a fund-shortfall failure is a committed FAILED
// order, never a caller-visible error, per §7's propagation policy.
func (e *Executor) Execute(ctx context.Context, order domain.Order, priceHint *decimal.Decimal) (Result, error) {
	ticker, err := e.db.GetTicker(ctx, order.TickerID)
	if err != nil {
		return e.fail(ctx, order, "ticker lookup failed: "+err.Error())
	}

	// P1: Human-ETF tickers settle exclusively through HumanMatcher's P2P
	// book, whether the order arrived here as a MARKET dispatch (queued
	// ACCEPTED) or a promoted conditional (PENDING/TRIGGERED) — either way
	// the row goes to PENDING, since HumanMatcher's own
	// ListPendingOrdersByTicker rehydration only ever sees PENDING rows.
	if ticker.IsHuman() {
		if order.Status.IsTerminal() {
			return Result{Order: order}, nil // already settled/cancelled by a concurrent path
		}
		return e.acceptForHumanBook(ctx, order)
	}

	// P2: resolve execution price.
	price, err := e.resolvePrice(ctx, order, priceHint)
	if err != nil {
		return e.fail(ctx, order, "price resolution failed: "+err.Error())
	}
	// P3: fee rate.
	feeRate := e.prices.FeeRate(ctx)

	var result Result
	txErr := e.db.WithTx(ctx, func(tx store.Tx) error {
		w, err := tx.LockWallet(ctx, order.UserID)
		if err != nil {
			return err
		}
		pf, existed, err := tx.LockPortfolio(ctx, order.UserID, order.TickerID)
		if err != nil {
			return err
		}
		locked, err := tx.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			result = Result{Order: locked}
			return nil // lost the race to a concurrent settlement/cancel
		}
		u, err := tx.LockUser(ctx, order.UserID)
		if err != nil {
			return err
		}

		settled, outcome, err := settle(order, w, pf, existed, price, feeRate)
		if err != nil {
			return err
		}

		if outcome.Failed {
			prevStatus := locked.Status
			settled.order.Status = domain.OrderStatusFailed
			settled.order.FailReason = outcome.FailReason
			if err := tx.SaveOrder(ctx, prevStatus, settled.order, outcome.FailReason); err != nil {
				return err
			}
			result = Result{Order: settled.order}
			return nil
		}

		if outcome.RealizedPnL != nil && outcome.RealizedPnL.IsPositive() && u.IsDividendIssuer() {
			withheld, err := e.dividends.Withhold(ctx, order.TickerID, u, *outcome.RealizedPnL)
			if err != nil {
				return fmt.Errorf("dividend withholding: %w", err)
			}
			if withheld.IsPositive() && order.Side == domain.OrderSideSell {
				settled.wallet.Balance = settled.wallet.Balance.Sub(withheld)
				e.bus.Publish(ctx, events.NewDividendPaid(order.TickerID, withheld))
			}
		}

		if err := tx.SaveWallet(ctx, w, settled.wallet, settled.walletReason); err != nil {
			return err
		}

		if domain.IsDust(settled.portfolio.Quantity) {
			if existed {
				if err := tx.DeletePortfolio(ctx, pf, "dust cleanup after settlement"); err != nil {
					return err
				}
			}
		} else {
			if err := tx.UpsertPortfolio(ctx, pf, existed, settled.portfolio, "trade settlement"); err != nil {
				return err
			}
		}

		prevStatus := locked.Status
		settled.order.Status = domain.OrderStatusFilled
		settled.order.UnfilledQuantity = decimal.Zero
		if err := tx.SaveOrder(ctx, prevStatus, settled.order, "filled"); err != nil {
			return err
		}

		result = Result{Order: settled.order}
		return nil
	})
	if txErr != nil {
		// The settlement transaction rolled back; mark the order FAILED in a
		// fresh one.
		return e.fail(ctx, order, "settlement failed: "+txErr.Error())
	}

	if result.Order.Status == domain.OrderStatusFilled {
		e.bus.Publish(ctx, events.NewTradeExecuted(result.Order))
	}
	return result, nil
}

// acceptForHumanBook queues order for HumanMatcher. The row stays (or
// returns to, if it arrived here via conditional promotion) PENDING: that
// is the only status ListPendingOrdersByTicker filters for, so a
// transition to anything else would make the order structurally
// invisible to the P2P book.
func (e *Executor) acceptForHumanBook(ctx context.Context, order domain.Order) (Result, error) {
	var out domain.Order
	err := e.db.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		prevStatus := locked.Status
		locked.Status = domain.OrderStatusPending
		if err := tx.SaveOrder(ctx, prevStatus, locked, "queued for P2P book"); err != nil {
			return err
		}
		out = locked
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("accept human order %s: %w", order.ID, err)
	}
	return Result{Order: out}, nil
}

func (e *Executor) resolvePrice(ctx context.Context, order domain.Order, priceHint *decimal.Decimal) (decimal.Decimal, error) {
	if vwap, ok := e.prices.VWAP(ctx, order.TickerID, order.Side, order.Quantity); ok {
		return vwap, nil
	}
	if priceHint != nil {
		return *priceHint, nil
	}
	return e.prices.Get(ctx, order.TickerID)
}

func (e *Executor) fail(ctx context.Context, order domain.Order, reason string) (Result, error) {
	err := e.db.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			return nil
		}
		prevStatus := locked.Status
		locked.Status = domain.OrderStatusFailed
		locked.FailReason = reason
		return tx.SaveOrder(ctx, prevStatus, locked, reason)
	})
	if err != nil {
		return Result{}, fmt.Errorf("mark order %s failed: %w", order.ID, err)
	}
	order.Status = domain.OrderStatusFailed
	order.FailReason = reason
	return Result{Order: order}, nil
}
