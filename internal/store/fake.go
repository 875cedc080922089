package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

// Candle is a fake-store OHLCV bucket, exposed for test assertions.
type Candle struct {
	TickerID string
	Interval string
	Bucket   time.Time
	Open, High, Low, Close, Volume decimal.Decimal
}

type candleKey struct {
	tickerID string
	interval string
	bucket   time.Time
}

// Fake is an in-memory DB used by package tests across execution,
// conditional, human, margin and intake — it implements the same interface
// the pgx-backed PGStore does, so those packages' tests never need a live
// Postgres.
type Fake struct {
	mu         sync.Mutex
	wallets    map[uuid.UUID]domain.Wallet
	portfolios map[uuid.UUID]map[string]domain.Portfolio
	orders     map[uuid.UUID]domain.Order
	tickers    map[string]domain.Ticker
	users      map[uuid.UUID]domain.User
	queue      []TradeQueueMessage
	outbox     []domain.AuditEvent
	nextQueue  int64
	nextOutbox int64
	config     map[string]string
	candles    map[candleKey]Candle
}

func NewFake() *Fake {
	return &Fake{
		wallets:    make(map[uuid.UUID]domain.Wallet),
		portfolios: make(map[uuid.UUID]map[string]domain.Portfolio),
		orders:     make(map[uuid.UUID]domain.Order),
		tickers:    make(map[string]domain.Ticker),
		users:      make(map[uuid.UUID]domain.User),
		config:     make(map[string]string),
		candles:    make(map[candleKey]Candle),
	}
}

// Candles returns every bucket recorded so far, for test assertions.
func (f *Fake) Candles() []Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Candle, 0, len(f.candles))
	for _, c := range f.candles {
		out = append(out, c)
	}
	return out
}

func (f *Fake) SeedTicker(t domain.Ticker)    { f.mu.Lock(); defer f.mu.Unlock(); f.tickers[t.ID] = t }
func (f *Fake) SeedUser(u domain.User)        { f.mu.Lock(); defer f.mu.Unlock(); f.users[u.ID] = u }
func (f *Fake) SeedWallet(w domain.Wallet)    { f.mu.Lock(); defer f.mu.Unlock(); f.wallets[w.UserID] = w }
func (f *Fake) SeedConfig(k, v string)        { f.mu.Lock(); defer f.mu.Unlock(); f.config[k] = v }
func (f *Fake) SeedPortfolio(p domain.Portfolio) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.portfolios[p.UserID] == nil {
		f.portfolios[p.UserID] = make(map[string]domain.Portfolio)
	}
	f.portfolios[p.UserID][p.TickerID] = p
}
func (f *Fake) SeedOrder(o domain.Order) { f.mu.Lock(); defer f.mu.Unlock(); f.orders[o.ID] = o }

// WithTx runs fn against the same fake under a single lock, giving callers
// the same serialized-commit illusion a real transaction provides.
func (f *Fake) WithTx(ctx context.Context, fn func(Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(&fakeTx{f: f})
}

func (f *Fake) GetWallet(ctx context.Context, userID uuid.UUID) (domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return domain.Wallet{UserID: userID, Balance: decimal.Zero}, nil
	}
	return w, nil
}

func (f *Fake) GetPortfolio(ctx context.Context, userID uuid.UUID, tickerID string) (domain.Portfolio, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.portfolios[userID][tickerID]
	return p, ok, nil
}

func (f *Fake) GetTicker(ctx context.Context, tickerID string) (domain.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tickers[tickerID]
	if !ok {
		return domain.Ticker{}, domain.Reject(domain.RejectionNotFound, "ticker not found")
	}
	return t, nil
}

func (f *Fake) GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.Reject(domain.RejectionNotFound, "order not found")
	}
	return o, nil
}

func (f *Fake) CreateOrder(ctx context.Context, order domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = order
	return nil
}

func (f *Fake) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.Reject(domain.RejectionNotFound, "order not found")
	}
	if o.Status != domain.OrderStatusAccepted && o.Status != domain.OrderStatusTriggered && o.Status != domain.OrderStatusPending {
		return domain.Order{}, domain.Reject(domain.RejectionConflictState, "order already terminal or racing a fill")
	}
	o.Status = domain.OrderStatusCancelled
	o.FailReason = reason
	f.orders[orderID] = o
	return o, nil
}

func (f *Fake) ListPendingOrdersByTicker(ctx context.Context, tickerID string) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingOrdersLocked(tickerID), nil
}

func (f *Fake) pendingOrdersLocked(tickerID string) []domain.Order {
	var out []domain.Order
	for _, o := range f.orders {
		if o.TickerID == tickerID && o.Status == domain.OrderStatusPending {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f *Fake) ListActiveHumanTickers(ctx context.Context) ([]domain.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Ticker
	for _, t := range f.tickers {
		if t.MarketType == domain.MarketHuman && t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *Fake) ListShortTickers(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, byTicker := range f.portfolios {
		for tickerID, p := range byTicker {
			if p.Quantity.IsNegative() && !seen[tickerID] {
				seen[tickerID] = true
				out = append(out, tickerID)
			}
		}
	}
	return out, nil
}

func (f *Fake) PopTradeQueue(ctx context.Context) (*TradeQueueMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.queue {
		if f.queue[i].ID != 0 {
			msg := f.queue[i]
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			return &msg, nil
		}
	}
	return nil, nil
}

func (f *Fake) AckTradeQueue(ctx context.Context, id int64) error  { return nil }
func (f *Fake) NackTradeQueue(ctx context.Context, id int64) error { return nil }

func (f *Fake) DrainOutbox(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.outbox) {
		limit = len(f.outbox)
	}
	out := make([]domain.AuditEvent, limit)
	copy(out, f.outbox[:limit])
	return out, nil
}

func (f *Fake) AckOutbox(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ackSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		ackSet[id] = true
	}
	var remaining []domain.AuditEvent
	for _, ev := range f.outbox {
		if !ackSet[ev.ID] {
			remaining = append(remaining, ev)
		}
	}
	f.outbox = remaining
	return nil
}

func (f *Fake) UpsertCandle(ctx context.Context, tickerID string, at time.Time, price, qty decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, iv := range []struct {
		name   string
		bucket time.Time
	}{
		{"1m", at.Truncate(time.Minute)},
		{"1d", at.Truncate(24 * time.Hour)},
	} {
		key := candleKey{tickerID: tickerID, interval: iv.name, bucket: iv.bucket}
		c, ok := f.candles[key]
		if !ok {
			f.candles[key] = Candle{TickerID: tickerID, Interval: iv.name, Bucket: iv.bucket, Open: price, High: price, Low: price, Close: price, Volume: qty}
			continue
		}
		if price.GreaterThan(c.High) {
			c.High = price
		}
		if price.LessThan(c.Low) {
			c.Low = price
		}
		c.Close = price
		c.Volume = c.Volume.Add(qty)
		f.candles[key] = c
	}
	return nil
}

func (f *Fake) GetConfigDecimal(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.config[key]
	return v, ok, nil
}

// fakeTx implements Tx against the Fake's maps while the outer lock is held.
type fakeTx struct{ f *Fake }

func (t *fakeTx) LockWallet(ctx context.Context, userID uuid.UUID) (domain.Wallet, error) {
	w, ok := t.f.wallets[userID]
	if !ok {
		w = domain.Wallet{UserID: userID, Balance: decimal.Zero}
		t.f.wallets[userID] = w
	}
	return w, nil
}

func (t *fakeTx) SaveWallet(ctx context.Context, prev, next domain.Wallet, reason domain.WalletReason) error {
	t.f.wallets[next.UserID] = next
	t.f.nextOutbox++
	t.f.outbox = append(t.f.outbox, domain.AuditEvent{
		ID: t.f.nextOutbox, Type: domain.AuditEventWalletTx,
		WalletTx: &domain.WalletTx{UserID: next.UserID, Prev: prev.Balance, New: next.Balance, Reason: reason},
	})
	return nil
}

func (t *fakeTx) LockPortfolio(ctx context.Context, userID uuid.UUID, tickerID string) (domain.Portfolio, bool, error) {
	p, ok := t.f.portfolios[userID][tickerID]
	if !ok {
		return domain.Portfolio{UserID: userID, TickerID: tickerID, Quantity: decimal.Zero, AveragePrice: decimal.Zero}, false, nil
	}
	return p, true, nil
}

func (t *fakeTx) UpsertPortfolio(ctx context.Context, prev domain.Portfolio, prevExisted bool, next domain.Portfolio, reason string) error {
	if t.f.portfolios[next.UserID] == nil {
		t.f.portfolios[next.UserID] = make(map[string]domain.Portfolio)
	}
	t.f.portfolios[next.UserID][next.TickerID] = next

	action := domain.PortfolioActionUpdate
	if !prevExisted {
		action = domain.PortfolioActionInsert
	}
	t.f.nextOutbox++
	t.f.outbox = append(t.f.outbox, domain.AuditEvent{
		ID: t.f.nextOutbox, Type: domain.AuditEventPortfolioHistory,
		PortfolioTx: &domain.PortfolioHistory{
			UserID: next.UserID, TickerID: next.TickerID, Action: action,
			PrevQuantity: prev.Quantity, NewQuantity: next.Quantity,
			PrevAvgPrice: prev.AveragePrice, NewAvgPrice: next.AveragePrice, Reason: reason,
		},
	})
	return nil
}

func (t *fakeTx) DeletePortfolio(ctx context.Context, prev domain.Portfolio, reason string) error {
	delete(t.f.portfolios[prev.UserID], prev.TickerID)
	t.f.nextOutbox++
	t.f.outbox = append(t.f.outbox, domain.AuditEvent{
		ID: t.f.nextOutbox, Type: domain.AuditEventPortfolioHistory,
		PortfolioTx: &domain.PortfolioHistory{
			UserID: prev.UserID, TickerID: prev.TickerID, Action: domain.PortfolioActionDelete,
			PrevQuantity: prev.Quantity, NewQuantity: decimal.Zero,
			PrevAvgPrice: prev.AveragePrice, NewAvgPrice: decimal.Zero, Reason: reason,
		},
	})
	return nil
}

func (t *fakeTx) LockOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	o, ok := t.f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.Reject(domain.RejectionNotFound, "order not found")
	}
	return o, nil
}

func (t *fakeTx) SaveOrder(ctx context.Context, prevStatus domain.OrderStatus, order domain.Order, reason string) error {
	t.f.orders[order.ID] = order
	if prevStatus == order.Status {
		return nil
	}
	t.f.nextOutbox++
	t.f.outbox = append(t.f.outbox, domain.AuditEvent{
		ID: t.f.nextOutbox, Type: domain.AuditEventOrderStatusHistory,
		OrderStatusTx: &domain.OrderStatusHistory{OrderID: order.ID, Prev: prevStatus, New: order.Status, Reason: reason},
	})
	return nil
}

func (t *fakeTx) CreateOrderInTx(ctx context.Context, order domain.Order) error {
	t.f.orders[order.ID] = order
	t.f.nextOutbox++
	t.f.outbox = append(t.f.outbox, domain.AuditEvent{
		ID: t.f.nextOutbox, Type: domain.AuditEventOrderStatusHistory,
		OrderStatusTx: &domain.OrderStatusHistory{OrderID: order.ID, Prev: order.Status, New: order.Status, Reason: "created"},
	})
	return nil
}

func (t *fakeTx) LockUser(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	u, ok := t.f.users[userID]
	if !ok {
		return domain.User{ID: userID, IsActive: true}, nil
	}
	return u, nil
}

func (t *fakeTx) ListShortPortfolios(ctx context.Context, tickerID string) ([]domain.Portfolio, error) {
	var out []domain.Portfolio
	for _, byTicker := range t.f.portfolios {
		if p, ok := byTicker[tickerID]; ok && p.Quantity.IsNegative() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

func (t *fakeTx) ListPortfoliosByUser(ctx context.Context, userID uuid.UUID) ([]domain.Portfolio, error) {
	var out []domain.Portfolio
	for _, p := range t.f.portfolios[userID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TickerID < out[j].TickerID })
	return out, nil
}

func (t *fakeTx) ListPendingOrders(ctx context.Context, tickerID string) ([]domain.Order, error) {
	out := t.f.pendingOrdersLocked(tickerID)
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (t *fakeTx) EnqueueTrade(ctx context.Context, msg TradeQueueMessage) error {
	t.f.nextQueue++
	msg.ID = t.f.nextQueue
	t.f.queue = append(t.f.queue, msg)
	return nil
}

func (t *fakeTx) StageAudit(ctx context.Context, ev domain.AuditEvent) error {
	t.f.nextOutbox++
	ev.ID = t.f.nextOutbox
	t.f.outbox = append(t.f.outbox, ev)
	return nil
}
