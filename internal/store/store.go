// Package store is the Ledger's transactional persistence layer: wallets,
// portfolios, orders, the transactional outbox and the durable trade
// queue, all backed by a single Postgres pool (pgx).
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

// Tx is the row-locked view of the store available inside a single
// settlement transaction. Every method that mutates state also stages the
// matching audit row in the same transaction (I1/I2), so a rollback
// discards both.
//
// Callers MUST acquire locks in the fixed order required by §5: wallet
// first, then portfolio rows ordered by ticker ascending, then order rows
// ordered by id ascending.
type Tx interface {
	LockWallet(ctx context.Context, userID uuid.UUID) (domain.Wallet, error)
	SaveWallet(ctx context.Context, prev domain.Wallet, next domain.Wallet, reason domain.WalletReason) error

	LockPortfolio(ctx context.Context, userID uuid.UUID, tickerID string) (pf domain.Portfolio, existed bool, err error)
	UpsertPortfolio(ctx context.Context, prev domain.Portfolio, prevExisted bool, next domain.Portfolio, reason string) error
	DeletePortfolio(ctx context.Context, prev domain.Portfolio, reason string) error

	LockOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error)
	SaveOrder(ctx context.Context, prevStatus domain.OrderStatus, order domain.Order, reason string) error
	CreateOrderInTx(ctx context.Context, order domain.Order) error

	LockUser(ctx context.Context, userID uuid.UUID) (domain.User, error)

	ListShortPortfolios(ctx context.Context, tickerID string) ([]domain.Portfolio, error)
	ListPortfoliosByUser(ctx context.Context, userID uuid.UUID) ([]domain.Portfolio, error)
	ListPendingOrders(ctx context.Context, tickerID string) ([]domain.Order, error)

	EnqueueTrade(ctx context.Context, msg TradeQueueMessage) error

	StageAudit(ctx context.Context, ev domain.AuditEvent) error
}

// DB is the store's public entry point. WithTx runs fn inside one
// transaction, committing on nil return and rolling back otherwise.
type DB interface {
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetWallet(ctx context.Context, userID uuid.UUID) (domain.Wallet, error)
	GetPortfolio(ctx context.Context, userID uuid.UUID, tickerID string) (domain.Portfolio, bool, error)
	GetTicker(ctx context.Context, tickerID string) (domain.Ticker, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error)

	CreateOrder(ctx context.Context, order domain.Order) error
	CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) (domain.Order, error)

	ListPendingOrdersByTicker(ctx context.Context, tickerID string) ([]domain.Order, error)
	ListActiveHumanTickers(ctx context.Context) ([]domain.Ticker, error)
	ListShortTickers(ctx context.Context) ([]string, error)

	PopTradeQueue(ctx context.Context) (*TradeQueueMessage, error)
	AckTradeQueue(ctx context.Context, id int64) error
	NackTradeQueue(ctx context.Context, id int64) error

	DrainOutbox(ctx context.Context, limit int) ([]domain.AuditEvent, error)
	AckOutbox(ctx context.Context, ids []int64) error

	GetConfigDecimal(ctx context.Context, key string) (string, bool, error)

	// UpsertCandle folds one trade into the 1m and 1d bucket covering at
	// (open=first-seen, high=max, low=min, close=last, volume+=qty), per
	// §4.4 step 4.
	UpsertCandle(ctx context.Context, tickerID string, at time.Time, price, qty decimal.Decimal) error
}

// TradeQueueMessage is the durable FIFO row for an accepted MARKET order
// (§6 queue message shape).
type TradeQueueMessage struct {
	ID       int64
	OrderID  uuid.UUID
	UserID   uuid.UUID
	TickerID string
	Side     domain.OrderSide
	Quantity string // decimal-string, per the wire contract
}
