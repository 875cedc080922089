package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

// Group names one of the four score-ordered structures OrderBookCache
// keeps per ticker (§4.3).
type Group string

const (
	GroupLimitBuy  Group = "limit-buy"
	GroupLimitSell Group = "limit-sell"
	GroupStopBuy   Group = "stop-buy"
	GroupStopSell  Group = "stop-sell"
)

// GroupFor returns the cache group a PENDING conditional order belongs to.
func GroupFor(o domain.Order) Group {
	switch {
	case !o.Type.IsStopFamily() && o.Side == domain.OrderSideBuy:
		return GroupLimitBuy
	case !o.Type.IsStopFamily() && o.Side == domain.OrderSideSell:
		return GroupLimitSell
	case o.Type.IsStopFamily() && o.Side == domain.OrderSideBuy:
		return GroupStopBuy
	default:
		return GroupStopSell
	}
}

func score(o domain.Order) decimal.Decimal {
	if o.Type.IsStopFamily() {
		return o.StopPrice
	}
	return o.TargetPrice
}

// OrderBookCache is the hot Redis-backed index of PENDING conditional
// orders. Its sorted sets mirror the Ledger's PENDING rows per I4.
type OrderBookCache struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

func NewOrderBookCache(rdb *redis.Client, logger zerolog.Logger) *OrderBookCache {
	return &OrderBookCache{rdb: rdb, logger: logger.With().Str("component", "pricefeed.OrderBookCache").Logger()}
}

func groupKey(g Group, tickerID string) string { return fmt.Sprintf("obcache:%s:%s", g, tickerID) }
func attrKey(orderID uuid.UUID) string          { return "obcache:order:" + orderID.String() }
func hydratedKey(tickerID string) string        { return "obcache:hydrated:" + tickerID }
func hydrationLockKey(tickerID string) string   { return "obcache:hydrating:" + tickerID }

// attrs is the subset of an order's fields the cache needs to re-verify a
// trigger condition without a Ledger round trip.
type attrs struct {
	OrderID       uuid.UUID       `json:"order_id"`
	Group         Group           `json:"group"`
	TargetPrice   decimal.Decimal `json:"target_price"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	TrailingGap   decimal.Decimal `json:"trailing_gap"`
	HighWaterMark decimal.Decimal `json:"high_water_mark"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Put indexes or re-indexes order under its cache group.
func (c *OrderBookCache) Put(ctx context.Context, o domain.Order) error {
	g := GroupFor(o)
	a := attrs{OrderID: o.ID, Group: g, TargetPrice: o.TargetPrice, StopPrice: o.StopPrice,
		TrailingGap: o.TrailingGap, HighWaterMark: o.HighWaterMark, CreatedAt: o.CreatedAt}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal cache attrs: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, attrKey(o.ID), payload, 0)
	pipe.ZAdd(ctx, groupKey(g, o.TickerID), redis.Z{Score: score(o).InexactFloat64(), Member: o.ID.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index order %s: %w", o.ID, err)
	}
	return nil
}

// Reindex moves order to a new group at its current score — used for
// STOP_LIMIT promotion and trailing-stop re-scoring.
func (c *OrderBookCache) Reindex(ctx context.Context, tickerID string, oldGroup Group, o domain.Order) error {
	pipe := c.rdb.TxPipeline()
	pipe.ZRem(ctx, groupKey(oldGroup, tickerID), o.ID.String())
	if err := c.addToPipe(ctx, pipe, o); err != nil {
		return err
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("reindex order %s: %w", o.ID, err)
	}
	return nil
}

func (c *OrderBookCache) addToPipe(ctx context.Context, pipe redis.Pipeliner, o domain.Order) error {
	g := GroupFor(o)
	a := attrs{OrderID: o.ID, Group: g, TargetPrice: o.TargetPrice, StopPrice: o.StopPrice,
		TrailingGap: o.TrailingGap, HighWaterMark: o.HighWaterMark, CreatedAt: o.CreatedAt}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal cache attrs: %w", err)
	}
	pipe.Set(ctx, attrKey(o.ID), payload, 0)
	pipe.ZAdd(ctx, groupKey(g, o.TickerID), redis.Z{Score: score(o).InexactFloat64(), Member: o.ID.String()})
	return nil
}

// Remove drops order from every structure (terminal transition or fill).
func (c *OrderBookCache) Remove(ctx context.Context, tickerID string, g Group, orderID uuid.UUID) error {
	pipe := c.rdb.TxPipeline()
	pipe.ZRem(ctx, groupKey(g, tickerID), orderID.String())
	pipe.Del(ctx, attrKey(orderID))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("remove order %s from cache: %w", orderID, err)
	}
	return nil
}

// candidate pairs a cached order id with its CreatedAt for tie-breaking.
type candidate struct {
	OrderID   uuid.UUID
	CreatedAt time.Time
}

// Candidates returns cache members satisfying group's price condition at
// cur, ordered by creation time ascending (§4.3 ordering rule).
func (c *OrderBookCache) Candidates(ctx context.Context, tickerID string, g Group, cur decimal.Decimal) ([]uuid.UUID, error) {
	min, max := scoreRange(g, cur)
	members, err := c.rdb.ZRangeByScore(ctx, groupKey(g, tickerID), &redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	cands := make([]candidate, 0, len(members))
	for _, m := range members {
		raw, err := c.rdb.Get(ctx, "obcache:order:"+m).Result()
		if err != nil {
			continue // attrs evicted/raced with removal; skip, next hydration will repair
		}
		var a attrs
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		cands = append(cands, candidate{OrderID: a.OrderID, CreatedAt: a.CreatedAt})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].CreatedAt.Before(cands[j].CreatedAt) })

	out := make([]uuid.UUID, len(cands))
	for i, c := range cands {
		out[i] = c.OrderID
	}
	return out, nil
}

func scoreRange(g Group, cur decimal.Decimal) (min, max string) {
	c := cur.String()
	switch g {
	case GroupLimitBuy: // target_price >= cur
		return c, "+inf"
	case GroupLimitSell: // target_price <= cur
		return "-inf", c
	case GroupStopBuy: // stop_price <= cur
		return "-inf", c
	default: // GroupStopSell: stop_price >= cur
		return c, "+inf"
	}
}

// Trailing returns every order id currently indexed under g for tickerID,
// used by the trailing-stop maintenance pass which must inspect every
// PENDING TRAILING_STOP order on a tick, not just triggered ones.
func (c *OrderBookCache) Trailing(ctx context.Context, tickerID string, g Group) ([]uuid.UUID, error) {
	members, err := c.rdb.ZRange(ctx, groupKey(g, tickerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list trailing candidates: %w", err)
	}
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if id, err := uuid.Parse(m); err == nil {
			out = append(out, id)
		}
	}
	return out, nil
}

// EnsureHydrated lazily loads tickerID's PENDING conditionals from load on
// first access, guarded by a short-TTL distributed lock so concurrent
// matcher ticks don't race the same cold hydration (§4.3).
func (c *OrderBookCache) EnsureHydrated(ctx context.Context, tickerID string, load func(context.Context) ([]domain.Order, error)) error {
	hydrated, err := c.rdb.Exists(ctx, hydratedKey(tickerID)).Result()
	if err != nil {
		return fmt.Errorf("check hydrated marker: %w", err)
	}
	if hydrated == 1 {
		return nil
	}

	acquired, err := c.rdb.SetNX(ctx, hydrationLockKey(tickerID), "1", 5*time.Second).Result()
	if err != nil {
		return fmt.Errorf("acquire hydration lock: %w", err)
	}
	if !acquired {
		// Another worker is hydrating; this tick proceeds against a
		// possibly-empty cache and the next tick will see it hydrated.
		return nil
	}
	defer c.rdb.Del(ctx, hydrationLockKey(tickerID))

	orders, err := load(ctx)
	if err != nil {
		return fmt.Errorf("load pending conditionals for %s: %w", tickerID, err)
	}
	for _, o := range orders {
		if err := c.Put(ctx, o); err != nil {
			return err
		}
	}
	if err := c.rdb.Set(ctx, hydratedKey(tickerID), "1", 0).Err(); err != nil {
		return fmt.Errorf("set hydrated marker: %w", err)
	}
	c.logger.Info().Str("ticker_id", tickerID).Int("count", len(orders)).Msg("orderbook cache hydrated")
	return nil
}
