// Package intake implements IntakeService: order validation (V1-V6),
// dispatch to OrderBookCache or TradeQueue, and the 24h idempotency-key
// dedupe at the queue boundary (§4.1).
package intake

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
	"github.com/bikeshrana/sim-exchange-core/internal/events"
	"github.com/bikeshrana/sim-exchange-core/internal/pricefeed"
	"github.com/bikeshrana/sim-exchange-core/internal/store"
)

// Request is a caller-submitted order, shape-matching the REST surface's
// POST /orders body (§6).
type Request struct {
	IdempotencyKey string
	UserID         uuid.UUID
	TickerID       string
	Side           domain.OrderSide
	Type           domain.OrderType
	Quantity       decimal.Decimal
	TargetPrice    decimal.Decimal
	StopPrice      decimal.Decimal
	TrailingGap    decimal.Decimal
}

// Response is what submitOrder returns the caller.
type Response struct {
	OrderID uuid.UUID          `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
	Message string             `json:"message,omitempty"`
}

// CacheIndexer is the subset of OrderBookCache IntakeService needs.
type CacheIndexer interface {
	Put(ctx context.Context, o domain.Order) error
	Remove(ctx context.Context, tickerID string, g pricefeed.Group, orderID uuid.UUID) error
}

// PriceResolver is the subset of PriceStore IntakeService needs for V3/V4 —
// narrowed the same way execution.PriceResolver and margin.PriceResolver
// already narrow it, so tests can stub a fee rate and current price
// without live Redis.
type PriceResolver interface {
	FeeRate(ctx context.Context) decimal.Decimal
	Get(ctx context.Context, tickerID string) (decimal.Decimal, error)
}

// Service is IntakeService.
type Service struct {
	db     store.DB
	prices PriceResolver
	cache  CacheIndexer
	bus    *events.Bus
	logger zerolog.Logger

	idemMu  sync.Mutex
	idemSet mapset.Set[string]
	idemTTL time.Duration
}

func NewService(db store.DB, prices *pricefeed.PriceStore, cache CacheIndexer, bus *events.Bus, logger zerolog.Logger, idemTTL time.Duration) *Service {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Service{
		db:      db,
		prices:  prices,
		cache:   cache,
		bus:     bus,
		logger:  logger.With().Str("component", "intake.Service").Logger(),
		idemSet: mapset.NewSet[string](),
		idemTTL: idemTTL,
	}
}

// SubmitOrder is §4.1's public operation.
func (s *Service) SubmitOrder(ctx context.Context, req Request) (Response, error) {
	if req.IdempotencyKey != "" {
		s.idemMu.Lock()
		seen := s.idemSet.Contains(req.IdempotencyKey)
		if !seen {
			s.idemSet.Add(req.IdempotencyKey)
		}
		s.idemMu.Unlock()
		if seen {
			return Response{}, domain.Reject(domain.RejectionConflictState, "duplicate submission for idempotency key")
		}
		time.AfterFunc(s.idemTTL, func() {
			s.idemMu.Lock()
			s.idemSet.Remove(req.IdempotencyKey)
			s.idemMu.Unlock()
		})
	}

	if err := validateBounds(req); err != nil { // V1
		return Response{}, err
	}

	wallet, err := s.db.GetWallet(ctx, req.UserID) // V2
	if err != nil {
		return Response{}, domain.Wrap(domain.RejectionSystemError, "wallet lookup failed", err)
	}
	portfolio, _, err := s.db.GetPortfolio(ctx, req.UserID, req.TickerID) // V2
	if err != nil {
		return Response{}, domain.Wrap(domain.RejectionSystemError, "portfolio lookup failed", err)
	}

	feeRate := s.prices.FeeRate(ctx) // V3

	var currentPrice decimal.Decimal
	needsCurrent := req.Type == domain.OrderTypeMarket || req.Type == domain.OrderTypeTrailingStop
	if needsCurrent { // V4
		currentPrice, err = s.prices.Get(ctx, req.TickerID)
		if err != nil {
			return Response{}, err // a missing price is already a RejectionMarketDataUnavailable
		}
	}

	referencePrice := referencePriceFor(req, currentPrice)
	if err := checkFunds(req, wallet, portfolio, referencePrice, feeRate); err != nil { // V5
		return Response{}, err
	}

	order := domain.Order{
		ID:               uuid.New(),
		UserID:           req.UserID,
		TickerID:         req.TickerID,
		Side:             req.Side,
		Type:             req.Type,
		Quantity:         domain.Normalize(req.Quantity),
		UnfilledQuantity: domain.Normalize(req.Quantity),
		TargetPrice:      domain.Normalize(req.TargetPrice),
		StopPrice:        domain.Normalize(req.StopPrice),
		TrailingGap:      domain.Normalize(req.TrailingGap),
		CreatedAt:        time.Now(),
	}

	if req.Type == domain.OrderTypeTrailingStop { // V6
		switch req.Side {
		case domain.OrderSideSell:
			order.StopPrice = domain.Normalize(currentPrice.Sub(req.TrailingGap))
			order.HighWaterMark = currentPrice
		case domain.OrderSideBuy:
			order.StopPrice = domain.Normalize(currentPrice.Add(req.TrailingGap))
			order.HighWaterMark = currentPrice
		}
	}

	if req.Type.IsConditional() {
		return s.dispatchConditional(ctx, order)
	}
	return s.dispatchMarket(ctx, order)
}

func (s *Service) dispatchConditional(ctx context.Context, order domain.Order) (Response, error) {
	order.Status = domain.OrderStatusPending
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		return tx.CreateOrderInTx(ctx, order)
	})
	if err != nil {
		return Response{}, domain.Wrap(domain.RejectionSystemError, "could not persist order", err)
	}
	if err := s.cache.Put(ctx, order); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("cache index failed, next hydration will repair")
	}
	s.bus.Publish(ctx, events.NewOrderCreated(order))
	return Response{OrderID: order.ID, Status: domain.OrderStatusPending, Message: "order resting, awaiting trigger"}, nil
}

func (s *Service) dispatchMarket(ctx context.Context, order domain.Order) (Response, error) {
	order.Status = domain.OrderStatusAccepted
	err := s.db.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateOrderInTx(ctx, order); err != nil {
			return err
		}
		return tx.EnqueueTrade(ctx, store.TradeQueueMessage{
			OrderID: order.ID, UserID: order.UserID, TickerID: order.TickerID,
			Side: order.Side, Quantity: order.Quantity.String(),
		})
	})
	if err != nil {
		// Backpressure rule (§5): the submission is not partially
		// persisted — the transaction covers both the order row and the
		// enqueue, so a failure here leaves nothing behind.
		return Response{}, domain.Wrap(domain.RejectionSystemError, "could not enqueue order", err)
	}
	s.bus.Publish(ctx, events.NewOrderCreated(order))
	return Response{OrderID: order.ID, Status: domain.OrderStatusAccepted, Message: "order queued for execution"}, nil
}

// CancelOrder marks a PENDING/ACCEPTED/TRIGGERED order CANCELLED. A
// cancellation racing a fill is resolved by the order row lock in
// store.CancelOrder; the loser observes a ConflictState rejection.
func (s *Service) CancelOrder(ctx context.Context, orderID uuid.UUID) (Response, error) {
	order, err := s.db.CancelOrder(ctx, orderID, "cancelled by user")
	if err != nil {
		return Response{}, err
	}

	if g := pricefeed.GroupFor(order); order.Type.IsConditional() {
		if err := s.cache.Remove(ctx, order.TickerID, g, order.ID); err != nil {
			s.logger.Warn().Err(err).Str("order_id", order.ID.String()).Msg("cache removal failed on cancel")
		}
	}
	s.bus.Publish(ctx, events.NewOrderCancelled(order))
	return Response{OrderID: order.ID, Status: domain.OrderStatusCancelled}, nil
}

func validateBounds(req Request) error {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return domain.Reject(domain.RejectionValidationFailure, "quantity must be positive")
	}
	switch req.Type {
	case domain.OrderTypeLimit, domain.OrderTypeStopLimit:
		if req.TargetPrice.LessThanOrEqual(decimal.Zero) {
			return domain.Reject(domain.RejectionValidationFailure, "target_price must be positive")
		}
	}
	if req.Type.IsStopFamily() && req.Type != domain.OrderTypeTrailingStop {
		if req.StopPrice.LessThanOrEqual(decimal.Zero) {
			return domain.Reject(domain.RejectionValidationFailure, "stop_price must be positive")
		}
	}
	if req.Type == domain.OrderTypeTrailingStop && req.TrailingGap.LessThanOrEqual(decimal.Zero) {
		return domain.Reject(domain.RejectionValidationFailure, "trailing_gap must be positive")
	}
	return nil
}

func referencePriceFor(req Request, currentPrice decimal.Decimal) decimal.Decimal {
	switch req.Type {
	case domain.OrderTypeLimit, domain.OrderTypeStopLimit:
		return req.TargetPrice
	case domain.OrderTypeStopLoss, domain.OrderTypeTakeProfit:
		return req.StopPrice
	default: // MARKET, TRAILING_STOP
		return currentPrice
	}
}

func checkFunds(req Request, wallet domain.Wallet, pf domain.Portfolio, referencePrice, feeRate decimal.Decimal) error {
	if req.Side == domain.OrderSideSell {
		availableQty := pf.Quantity
		if availableQty.IsPositive() {
			if availableQty.LessThan(req.Quantity) {
				return domain.Reject(domain.RejectionPreTradeFundsShortfall, "insufficient holdings to sell")
			}
			return nil
		}
		requiredMargin := referencePrice.Mul(req.Quantity)
		if wallet.Balance.LessThan(requiredMargin) {
			return domain.Reject(domain.RejectionPreTradeFundsShortfall, "insufficient balance for short margin")
		}
		return nil
	}

	requiredCost := referencePrice.Mul(req.Quantity).Mul(decimal.NewFromInt(1).Add(feeRate))
	if wallet.Balance.LessThan(requiredCost) {
		return domain.Reject(domain.RejectionPreTradeFundsShortfall, "insufficient balance for buy")
	}
	return nil
}
