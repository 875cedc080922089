// Package events implements the engine's internal pub/sub bus: the
// price_updates, trade_events, human_events, liquidation_events and
// audit_queue channels described in §6.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

// Channel names the bus's topics (§6).
type Channel string

const (
	ChannelPriceUpdates      Channel = "price_updates"
	ChannelTradeEvents       Channel = "trade_events"
	ChannelHumanEvents       Channel = "human_events"
	ChannelLiquidationEvents Channel = "liquidation_events"
	ChannelAuditQueue        Channel = "audit_queue"
)

// Event is the base interface for everything published on the bus.
type Event interface {
	Channel() Channel
	Timestamp() time.Time
}

// BaseEvent provides the common Channel/Timestamp pair.
type BaseEvent struct {
	Ch   Channel
	When time.Time
}

func (e BaseEvent) Channel() Channel     { return e.Ch }
func (e BaseEvent) Timestamp() time.Time { return e.When }

// PriceUpdated is published by PriceStore on every tick.
type PriceUpdated struct {
	BaseEvent
	TickerID string
	Price    decimal.Decimal
}

func NewPriceUpdated(tickerID string, price decimal.Decimal) *PriceUpdated {
	return &PriceUpdated{
		BaseEvent: BaseEvent{Ch: ChannelPriceUpdates, When: time.Now()},
		TickerID:  tickerID,
		Price:     price,
	}
}

// TradeExecuted is published by TradeExecutor and HumanMatcher on every
// successful fill.
type TradeExecuted struct {
	BaseEvent
	UserID      uuid.UUID
	OrderID     uuid.UUID
	TickerID    string
	Side        domain.OrderSide
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Fee         decimal.Decimal
	RealizedPnL *decimal.Decimal
	Status      domain.OrderStatus
}

func NewTradeExecuted(o domain.Order) *TradeExecuted {
	return &TradeExecuted{
		BaseEvent:   BaseEvent{Ch: ChannelTradeEvents, When: time.Now()},
		UserID:      o.UserID,
		OrderID:     o.ID,
		TickerID:    o.TickerID,
		Side:        o.Side,
		Quantity:    o.Quantity,
		Price:       o.Price,
		Fee:         o.Fee,
		RealizedPnL: o.RealizedPnL,
		Status:      o.Status,
	}
}

// OrderLifecycle covers order_created / order_cancelled, published on
// trade_events by IntakeService. Nothing in the engine subscribes to them:
// OrderBookCache entries are added and removed by direct calls from
// IntakeService and ConditionalMatcher.
type OrderLifecycle struct {
	BaseEvent
	Kind  string // "order_created" | "order_cancelled"
	Order domain.Order
}

func NewOrderCreated(o domain.Order) *OrderLifecycle {
	return &OrderLifecycle{BaseEvent: BaseEvent{Ch: ChannelTradeEvents, When: time.Now()}, Kind: "order_created", Order: o}
}

func NewOrderCancelled(o domain.Order) *OrderLifecycle {
	return &OrderLifecycle{BaseEvent: BaseEvent{Ch: ChannelTradeEvents, When: time.Now()}, Kind: "order_cancelled", Order: o}
}

// HumanLifecycle covers ipo_listed / dividend_paid / bailout_processed.
// The engine only ever emits dividend_paid from within settlement; the
// other two kinds belong to the Human-ETF lifecycle collaborator
// (explicitly out of scope) and exist here so a future owner of that
// surface has a channel to publish on.
type HumanLifecycle struct {
	BaseEvent
	Kind     string
	TickerID string
	Detail   string
}

func NewDividendPaid(tickerID string, amount decimal.Decimal) *HumanLifecycle {
	return &HumanLifecycle{
		BaseEvent: BaseEvent{Ch: ChannelHumanEvents, When: time.Now()},
		Kind:      "dividend_paid",
		TickerID:  tickerID,
		Detail:    amount.String(),
	}
}

// Liquidation is published by MarginWatcher whenever a user is force-closed.
type Liquidation struct {
	BaseEvent
	UserID    uuid.UUID
	TickerID  string
	Equity    decimal.Decimal
	Liability decimal.Decimal
}

func NewLiquidation(userID uuid.UUID, tickerID string, equity, liability decimal.Decimal) *Liquidation {
	return &Liquidation{
		BaseEvent: BaseEvent{Ch: ChannelLiquidationEvents, When: time.Now()},
		UserID:    userID,
		TickerID:  tickerID,
		Equity:    equity,
		Liability: liability,
	}
}

// AuditDrained is published by AuditSink on audit_queue once it has
// logged and acked a batch of domain.AuditEvent outbox rows.
type AuditDrained struct {
	BaseEvent
	Count int
}

func NewAuditDrained(count int) *AuditDrained {
	return &AuditDrained{BaseEvent: BaseEvent{Ch: ChannelAuditQueue, When: time.Now()}, Count: count}
}
