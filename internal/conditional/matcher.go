// Package conditional implements ConditionalMatcher: a PriceUpdated
// subscriber that scans OrderBookCache candidates on every tick,
// re-validates against the Ledger, and fires execution or re-indexing
// (§4.3).
package conditional

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
	"github.com/bikeshrana/sim-exchange-core/internal/events"
	"github.com/bikeshrana/sim-exchange-core/internal/execution"
	"github.com/bikeshrana/sim-exchange-core/internal/pricefeed"
	"github.com/bikeshrana/sim-exchange-core/internal/store"
)

// allGroups is iterated once per tick; order mirrors §4.3's four
// structures.
var allGroups = []pricefeed.Group{
	pricefeed.GroupLimitBuy, pricefeed.GroupLimitSell, pricefeed.GroupStopBuy, pricefeed.GroupStopSell,
}

// Matcher is ConditionalMatcher.
type Matcher struct {
	db       store.DB
	cache    *pricefeed.OrderBookCache
	executor *execution.Executor
	bus      *events.Bus
	logger   zerolog.Logger
}

func NewMatcher(db store.DB, cache *pricefeed.OrderBookCache, executor *execution.Executor, bus *events.Bus, logger zerolog.Logger) *Matcher {
	return &Matcher{db: db, cache: cache, executor: executor, bus: bus, logger: logger.With().Str("component", "conditional.Matcher").Logger()}
}

// Run subscribes to price_updates and processes ticks until ctx is
// canceled.
func (m *Matcher) Run(ctx context.Context) {
	sub := m.bus.Subscribe(events.ChannelPriceUpdates)
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
			m.OnTick(ctx, tick.TickerID, tick.Price)
		}
	}
}

// OnTick is ConditionalMatcher's per-tick pass: trigger scan across all
// four groups, then trailing-stop maintenance.
func (m *Matcher) OnTick(ctx context.Context, tickerID string, cur decimal.Decimal) {
	if err := m.cache.EnsureHydrated(ctx, tickerID, func(ctx context.Context) ([]domain.Order, error) {
		return m.db.ListPendingOrdersByTicker(ctx, tickerID)
	}); err != nil {
		m.logger.Error().Err(err).Str("ticker_id", tickerID).Msg("hydration failed")
		return
	}

	for _, g := range allGroups {
		m.scanGroup(ctx, tickerID, g, cur)
	}
	m.maintainTrailingStops(ctx, tickerID, cur)
}

func (m *Matcher) scanGroup(ctx context.Context, tickerID string, g pricefeed.Group, cur decimal.Decimal) {
	candidates, err := m.cache.Candidates(ctx, tickerID, g, cur)
	if err != nil {
		m.logger.Error().Err(err).Str("ticker_id", tickerID).Msg("candidate scan failed")
		return
	}

	for _, orderID := range candidates {
		m.tryTrigger(ctx, tickerID, g, orderID, cur)
	}
}

func (m *Matcher) tryTrigger(ctx context.Context, tickerID string, g pricefeed.Group, orderID uuid.UUID, cur decimal.Decimal) {
	order, err := m.db.GetOrder(ctx, orderID) // step 1: re-read
	if err != nil {
		m.logger.Warn().Err(err).Str("order_id", orderID.String()).Msg("candidate lookup failed")
		return
	}
	if order.Status != domain.OrderStatusPending {
		return // skip: cache drift, order already left PENDING
	}
	if !conditionHolds(order, cur) { // step 2: re-verify
		return
	}

	if order.Type == domain.OrderTypeStopLimit { // step 3: promote to LIMIT
		order.Type = domain.OrderTypeLimit
		if err := m.db.WithTx(ctx, func(tx store.Tx) error {
			locked, err := tx.LockOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			locked.Type = domain.OrderTypeLimit
			return tx.SaveOrder(ctx, locked.Status, locked, "stop-limit promoted to limit")
		}); err != nil {
			m.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("stop-limit promotion failed")
			return
		}
		if err := m.cache.Reindex(ctx, tickerID, g, order); err != nil {
			m.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("reindex after promotion failed")
		}
		return
	}

	// step 4: invoke executor directly with the tick as price hint.
	hint := cur
	result, err := m.executor.Execute(ctx, order, &hint)
	if err != nil {
		m.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("conditional execution errored")
		return
	}
	if result.Order.Status.IsTerminal() { // step 5: success -> drop from cache
		if err := m.cache.Remove(ctx, tickerID, g, order.ID); err != nil {
			m.logger.Warn().Err(err).Str("order_id", order.ID.String()).Msg("cache removal after trigger failed")
		}
	}
}

func conditionHolds(o domain.Order, cur decimal.Decimal) bool {
	switch pricefeed.GroupFor(o) {
	case pricefeed.GroupLimitBuy:
		return o.TargetPrice.GreaterThanOrEqual(cur)
	case pricefeed.GroupLimitSell:
		return o.TargetPrice.LessThanOrEqual(cur)
	case pricefeed.GroupStopBuy:
		return o.StopPrice.LessThanOrEqual(cur)
	default: // GroupStopSell
		return o.StopPrice.GreaterThanOrEqual(cur)
	}
}

func (m *Matcher) maintainTrailingStops(ctx context.Context, tickerID string, cur decimal.Decimal) {
	for _, g := range []pricefeed.Group{pricefeed.GroupStopBuy, pricefeed.GroupStopSell} {
		ids, err := m.cache.Trailing(ctx, tickerID, g)
		if err != nil {
			m.logger.Error().Err(err).Str("ticker_id", tickerID).Msg("trailing scan failed")
			continue
		}
		for _, orderID := range ids {
			m.updateTrailing(ctx, tickerID, g, orderID, cur)
		}
	}
}

func (m *Matcher) updateTrailing(ctx context.Context, tickerID string, g pricefeed.Group, orderID uuid.UUID, cur decimal.Decimal) {
	order, err := m.db.GetOrder(ctx, orderID)
	if err != nil || order.Status != domain.OrderStatusPending || order.Type != domain.OrderTypeTrailingStop {
		return
	}

	var newStop decimal.Decimal
	var moved bool
	if order.Side == domain.OrderSideSell {
		newStop = cur.Sub(order.TrailingGap)
		moved = newStop.GreaterThan(order.StopPrice)
	} else {
		newStop = cur.Add(order.TrailingGap)
		moved = newStop.LessThan(order.StopPrice)
	}
	if !moved {
		return
	}

	err = m.db.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status != domain.OrderStatusPending {
			return nil
		}
		locked.StopPrice = domain.Normalize(newStop)
		locked.HighWaterMark = cur
		return tx.SaveOrder(ctx, locked.Status, locked, "trailing stop updated")
	})
	if err != nil {
		m.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("trailing stop update failed")
		return
	}

	order.StopPrice = domain.Normalize(newStop)
	if err := m.cache.Reindex(ctx, tickerID, g, order); err != nil {
		m.logger.Warn().Err(err).Str("order_id", order.ID.String()).Msg("trailing stop reindex failed")
	}
}
