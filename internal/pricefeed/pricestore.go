// Package pricefeed implements the price store and the conditional-order
// book cache, both backed by Redis per the key contract in §6:
// price:{ticker_id}, orderbook:{ticker_id}, config:trading_fee_rate.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/circuitbreaker"
	"github.com/bikeshrana/sim-exchange-core/internal/domain"
	"github.com/bikeshrana/sim-exchange-core/internal/events"
)

// priceRecord is the wire shape behind key price:{ticker_id}.
type priceRecord struct {
	TickerID  string  `json:"ticker_id"`
	Price     string  `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// bookLevel is one price/qty pair in an orderbookSnapshot.
type bookLevel struct {
	Price string `json:"price"`
	Qty   string `json:"qty"`
}

// orderbookSnapshot is the wire shape behind key orderbook:{ticker_id},
// consumed by TradeExecutor's VWAP resolution (§4.2 P2).
type orderbookSnapshot struct {
	Asks []bookLevel `json:"asks"`
	Bids []bookLevel `json:"bids"`
}

// PriceStore is the current-price cache: every Set publishes a
// PriceUpdated event for ConditionalMatcher and MarginWatcher to consume.
type PriceStore struct {
	rdb     *redis.Client
	bus     *events.Bus
	logger  zerolog.Logger
	breaker *circuitbreaker.CircuitBreaker
}

func NewPriceStore(rdb *redis.Client, bus *events.Bus, logger zerolog.Logger, cbMgr *circuitbreaker.Manager) *PriceStore {
	return &PriceStore{
		rdb:     rdb,
		bus:     bus,
		logger:  logger.With().Str("component", "pricefeed.PriceStore").Logger(),
		breaker: cbMgr.GetOrCreate("redis", circuitbreaker.DefaultExternalAPIConfig()),
	}
}

// Set records ticker's latest price and publishes PriceUpdated. This is
// the engine's only price-tick ingress; the external market-data feed
// that calls it is a collaborator per §1.
func (s *PriceStore) Set(ctx context.Context, tickerID string, price decimal.Decimal) error {
	rec := priceRecord{TickerID: tickerID, Price: price.String(), Timestamp: time.Now().Unix()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal price record: %w", err)
	}

	err = s.breaker.Execute(func() error {
		return s.rdb.Set(ctx, priceKey(tickerID), payload, 0).Err()
	})
	if err != nil {
		return fmt.Errorf("set price: %w", err)
	}

	s.bus.Publish(ctx, events.NewPriceUpdated(tickerID, price))
	return nil
}

// Get returns the current price, or MarketDataUnavailable if none has
// ever been set for tickerID (V4).
func (s *PriceStore) Get(ctx context.Context, tickerID string) (decimal.Decimal, error) {
	var raw string
	err := s.breaker.Execute(func() error {
		var err error
		raw, err = s.rdb.Get(ctx, priceKey(tickerID)).Result()
		return err
	})
	if err == redis.Nil {
		return decimal.Zero, domain.Reject(domain.RejectionMarketDataUnavailable, "no price recorded for "+tickerID)
	}
	if err != nil {
		return decimal.Zero, domain.Wrap(domain.RejectionSystemError, "price store unavailable", err)
	}

	var rec priceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return decimal.Zero, fmt.Errorf("unmarshal price record: %w", err)
	}
	p, err := decimal.NewFromString(rec.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price: %w", err)
	}
	return p, nil
}

// VWAP resolves an execution price for qty against the cached book depth
// on the opposite side of side (§4.2 P2): BUY consumes asks cheap→
// expensive, SELL consumes bids expensive→cheap. ok is false when no
// snapshot exists or depth is insufficient, signaling the caller to fall
// back to the current ticker price.
func (s *PriceStore) VWAP(ctx context.Context, tickerID string, side domain.OrderSide, qty decimal.Decimal) (price decimal.Decimal, ok bool) {
	var raw string
	err := s.breaker.Execute(func() error {
		var err error
		raw, err = s.rdb.Get(ctx, orderbookKey(tickerID)).Result()
		return err
	})
	if err != nil {
		return decimal.Zero, false
	}

	var book orderbookSnapshot
	if err := json.Unmarshal([]byte(raw), &book); err != nil {
		s.logger.Warn().Err(err).Str("ticker_id", tickerID).Msg("malformed orderbook snapshot")
		return decimal.Zero, false
	}

	levels := book.Asks
	if side == domain.OrderSideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return decimal.Zero, false
	}

	remaining := qty
	notional := decimal.Zero
	filled := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		lp, err1 := decimal.NewFromString(lvl.Price)
		lq, err2 := decimal.NewFromString(lvl.Qty)
		if err1 != nil || err2 != nil {
			continue
		}
		take := decimal.Min(remaining, lq)
		notional = notional.Add(take.Mul(lp))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
	}
	if filled.IsZero() || remaining.GreaterThan(decimal.Zero) {
		return decimal.Zero, false
	}
	return domain.Normalize(notional.Div(filled)), true
}

// FeeRate reads config:trading_fee_rate, defaulting to
// domain.DefaultFeeRate when absent (V3).
func (s *PriceStore) FeeRate(ctx context.Context) decimal.Decimal {
	var raw string
	err := s.breaker.Execute(func() error {
		var err error
		raw, err = s.rdb.Get(ctx, feeRateKey).Result()
		return err
	})
	if err != nil {
		return domain.DefaultFeeRate
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.DefaultFeeRate
	}
	return rate
}

func priceKey(tickerID string) string     { return "price:" + tickerID }
func orderbookKey(tickerID string) string { return "orderbook:" + tickerID }

const feeRateKey = "config:trading_fee_rate"
