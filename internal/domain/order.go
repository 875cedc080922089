package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide is BUY or SELL.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType enumerates every order shape the conditional matcher and
// executor understand.
type OrderType string

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStopLoss     OrderType = "STOP_LOSS"
	OrderTypeTakeProfit   OrderType = "TAKE_PROFIT"
	OrderTypeStopLimit    OrderType = "STOP_LIMIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
)

// IsConditional reports whether this type rests in OrderBookCache awaiting
// a price condition, as opposed to MARKET which is queued for immediate
// execution.
func (t OrderType) IsConditional() bool { return t != OrderTypeMarket }

// IsStopFamily reports whether this type is scored by stop_price rather
// than target_price in OrderBookCache.
func (t OrderType) IsStopFamily() bool {
	switch t {
	case OrderTypeStopLoss, OrderTypeTakeProfit, OrderTypeStopLimit, OrderTypeTrailingStop:
		return true
	}
	return false
}

// OrderStatus is the order's lifecycle state.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusAccepted  OrderStatus = "ACCEPTED"
	OrderStatusTriggered OrderStatus = "TRIGGERED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// IsTerminal reports whether the order can no longer transition.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// Order is the engine's full order row. Immutable fields are set once at
// creation (ID, UserID, TickerID, Side, Type, Quantity); everything else
// mutates under the order's row lock.
type Order struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	TickerID string
	Side     OrderSide
	Type     OrderType
	Quantity decimal.Decimal

	Status           OrderStatus
	UnfilledQuantity decimal.Decimal
	TargetPrice      decimal.Decimal // LIMIT / STOP_LIMIT
	StopPrice        decimal.Decimal // stop family; updated for trailing
	TrailingGap      decimal.Decimal
	HighWaterMark    decimal.Decimal
	RealizedPnL      *decimal.Decimal
	Price            decimal.Decimal // execution price, once filled
	Fee              decimal.Decimal
	FailReason       string

	CreatedAt   time.Time
	FilledAt    *time.Time
	CancelledAt *time.Time
}

// OrderStatusHistory is the audit row produced by every status transition.
type OrderStatusHistory struct {
	OrderID uuid.UUID
	Prev    OrderStatus
	New     OrderStatus
	Reason  string
}
