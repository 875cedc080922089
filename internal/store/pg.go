package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/circuitbreaker"
	"github.com/bikeshrana/sim-exchange-core/internal/domain"
	"github.com/bikeshrana/sim-exchange-core/internal/metrics"
)

// PGStore is the pgx-backed implementation of DB. decimal.Decimal values
// are passed straight through to pgx: shopspring's type implements
// driver.Valuer/sql.Scanner, which pgx's default type map accepts for NUMERIC
// columns without a dedicated codec.
type PGStore struct {
	pool    *pgxpool.Pool
	logger  zerolog.Logger
	metrics *metrics.Metrics
	breaker *circuitbreaker.CircuitBreaker
}

func NewPGStore(pool *pgxpool.Pool, logger zerolog.Logger, m *metrics.Metrics, cbMgr *circuitbreaker.Manager) *PGStore {
	return &PGStore{
		pool:    pool,
		logger:  logger.With().Str("component", "store").Logger(),
		metrics: m,
		breaker: cbMgr.GetOrCreate("postgres", circuitbreaker.DefaultDatabaseConfig()),
	}
}

func (s *PGStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	s.logger.Info().Msg("store schema initialized")
	return nil
}

func (s *PGStore) observe(operation, table string, start time.Time, err error) {
	s.metrics.DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		s.metrics.DBErrorsTotal.WithLabelValues(operation, table).Inc()
	}
}

// WithTx runs fn inside a single serializable-enough transaction (row
// locks give us the isolation we need at READ COMMITTED) guarded by the
// postgres circuit breaker.
func (s *PGStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return s.breaker.Execute(func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		ptx := &pgTx{tx: tx, logger: s.logger}
		if err := fn(ptx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func (s *PGStore) GetWallet(ctx context.Context, userID uuid.UUID) (domain.Wallet, error) {
	start := time.Now()
	var w domain.Wallet
	w.UserID = userID
	err := s.pool.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1`, userID).Scan(&w.Balance)
	s.observe("select", "wallets", start, err)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	return w, nil
}

func (s *PGStore) GetPortfolio(ctx context.Context, userID uuid.UUID, tickerID string) (domain.Portfolio, bool, error) {
	start := time.Now()
	var p domain.Portfolio
	p.UserID, p.TickerID = userID, tickerID
	err := s.pool.QueryRow(ctx,
		`SELECT quantity, average_price FROM portfolios WHERE user_id = $1 AND ticker_id = $2`,
		userID, tickerID).Scan(&p.Quantity, &p.AveragePrice)
	s.observe("select", "portfolios", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Portfolio{UserID: userID, TickerID: tickerID}, false, nil
	}
	if err != nil {
		return domain.Portfolio{}, false, fmt.Errorf("get portfolio: %w", err)
	}
	return p, true, nil
}

func (s *PGStore) GetTicker(ctx context.Context, tickerID string) (domain.Ticker, error) {
	start := time.Now()
	var t domain.Ticker
	err := s.pool.QueryRow(ctx,
		`SELECT id, symbol, name, market_type, currency, is_active FROM tickers WHERE id = $1`, tickerID).
		Scan(&t.ID, &t.Symbol, &t.Name, &t.MarketType, &t.Currency, &t.IsActive)
	s.observe("select", "tickers", start, err)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("get ticker: %w", err)
	}
	return t, nil
}

func (s *PGStore) GetOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	start := time.Now()
	o, err := scanOrder(s.pool.QueryRow(ctx, selectOrderSQL+` WHERE id = $1`, orderID))
	s.observe("select", "orders", start, err)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *PGStore) CreateOrder(ctx context.Context, order domain.Order) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, insertOrderSQL, orderInsertArgs(order)...)
	s.observe("insert", "orders", start, err)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (s *PGStore) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) (domain.Order, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = $1, cancelled_at = NOW(), fail_reason = $2
		WHERE id = $3 AND status IN ($4, $5, $6)`,
		domain.OrderStatusCancelled, reason, orderID,
		domain.OrderStatusPending, domain.OrderStatusAccepted, domain.OrderStatusTriggered)
	s.observe("update", "orders", start, err)
	if err != nil {
		return domain.Order{}, fmt.Errorf("cancel order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Order{}, domain.Reject(domain.RejectionConflictState, "order already terminal or racing a fill")
	}
	return s.GetOrder(ctx, orderID)
}

func (s *PGStore) ListPendingOrdersByTicker(ctx context.Context, tickerID string) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, selectOrderSQL+` WHERE ticker_id = $1 AND status = $2 ORDER BY created_at ASC`,
		tickerID, domain.OrderStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *PGStore) ListActiveHumanTickers(ctx context.Context) ([]domain.Ticker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, name, market_type, currency, is_active FROM tickers WHERE market_type = $1 AND is_active`,
		domain.MarketHuman)
	if err != nil {
		return nil, fmt.Errorf("list human tickers: %w", err)
	}
	defer rows.Close()

	var out []domain.Ticker
	for rows.Next() {
		var t domain.Ticker
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Name, &t.MarketType, &t.Currency, &t.IsActive); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) ListShortTickers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT ticker_id FROM portfolios WHERE quantity < 0`)
	if err != nil {
		return nil, fmt.Errorf("list short tickers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ticker id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PGStore) PopTradeQueue(ctx context.Context) (*TradeQueueMessage, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin pop tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var msg TradeQueueMessage
	var qty decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT id, order_id, user_id, ticker_id, side, quantity FROM trade_queue
		WHERE locked_by IS NULL
		ORDER BY id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`).
		Scan(&msg.ID, &msg.OrderID, &msg.UserID, &msg.TickerID, &msg.Side, &qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop trade queue: %w", err)
	}
	msg.Quantity = qty.String()

	if _, err := tx.Exec(ctx,
		`UPDATE trade_queue SET locked_by = 'executor', locked_at = NOW(), attempts = attempts + 1 WHERE id = $1`,
		msg.ID); err != nil {
		return nil, fmt.Errorf("lock trade queue row: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit pop: %w", err)
	}
	return &msg, nil
}

func (s *PGStore) AckTradeQueue(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM trade_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ack trade queue: %w", err)
	}
	return nil
}

func (s *PGStore) NackTradeQueue(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE trade_queue SET locked_by = NULL, locked_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("nack trade queue: %w", err)
	}
	return nil
}

func (s *PGStore) DrainOutbox(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, created_at, user_id, ticker_id, order_id,
		       prev_balance, new_balance, wallet_reason,
		       portfolio_action, prev_quantity, new_quantity, prev_avg_price, new_avg_price, portfolio_reason,
		       prev_status, new_status, status_reason
		FROM audit_outbox
		WHERE NOT drained
		ORDER BY id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("drain outbox: %w", err)
	}
	defer rows.Close()
	return scanAuditEvents(rows)
}

func (s *PGStore) AckOutbox(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE audit_outbox SET drained = TRUE WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("ack outbox: %w", err)
	}
	return nil
}

func (s *PGStore) UpsertCandle(ctx context.Context, tickerID string, at time.Time, price, qty decimal.Decimal) error {
	for _, b := range []struct {
		interval string
		bucket   time.Time
	}{
		{"1m", at.Truncate(time.Minute)},
		{"1d", at.Truncate(24 * time.Hour)},
	} {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO candles (ticker_id, interval, bucket_start, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $4, $4, $4, $5)
			ON CONFLICT (ticker_id, interval, bucket_start) DO UPDATE SET
				high = GREATEST(candles.high, $4),
				low = LEAST(candles.low, $4),
				close = $4,
				volume = candles.volume + $5`,
			tickerID, b.interval, b.bucket, price, qty)
		if err != nil {
			return fmt.Errorf("upsert %s candle: %w", b.interval, err)
		}
	}
	return nil
}

func (s *PGStore) GetConfigDecimal(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM runtime_config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get runtime config %s: %w", key, err)
	}
	return value, true, nil
}

const selectOrderSQL = `
	SELECT id, user_id, ticker_id, side, type, quantity, status, unfilled_quantity,
	       target_price, stop_price, trailing_gap, high_water_mark, realized_pnl,
	       price, fee, fail_reason, created_at, filled_at, cancelled_at
	FROM orders`

const insertOrderSQL = `
	INSERT INTO orders (id, user_id, ticker_id, side, type, quantity, status, unfilled_quantity,
		target_price, stop_price, trailing_gap, high_water_mark, realized_pnl,
		price, fee, fail_reason, created_at, filled_at, cancelled_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

func orderInsertArgs(o domain.Order) []any {
	return []any{
		o.ID, o.UserID, o.TickerID, o.Side, o.Type, o.Quantity, o.Status, o.UnfilledQuantity,
		o.TargetPrice, o.StopPrice, o.TrailingGap, o.HighWaterMark, o.RealizedPnL,
		o.Price, o.Fee, o.FailReason, o.CreatedAt, o.FilledAt, o.CancelledAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.UserID, &o.TickerID, &o.Side, &o.Type, &o.Quantity, &o.Status, &o.UnfilledQuantity,
		&o.TargetPrice, &o.StopPrice, &o.TrailingGap, &o.HighWaterMark, &o.RealizedPnL,
		&o.Price, &o.Fee, &o.FailReason, &o.CreatedAt, &o.FilledAt, &o.CancelledAt)
	return o, err
}

func scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanAuditEvents(rows pgx.Rows) ([]domain.AuditEvent, error) {
	var out []domain.AuditEvent
	for rows.Next() {
		var (
			ev                                domain.AuditEvent
			userID, orderID                   *uuid.UUID
			tickerID                          *string
			prevBalance, newBalance           *decimal.Decimal
			walletReason                      *string
			portfolioAction                   *string
			prevQty, newQty, prevAvg, newAvg  *decimal.Decimal
			portfolioReason                   *string
			prevStatus, newStatus, statusRsn  *string
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.CreatedAt, &userID, &tickerID, &orderID,
			&prevBalance, &newBalance, &walletReason,
			&portfolioAction, &prevQty, &newQty, &prevAvg, &newAvg, &portfolioReason,
			&prevStatus, &newStatus, &statusRsn); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		switch ev.Type {
		case domain.AuditEventWalletTx:
			ev.WalletTx = &domain.WalletTx{UserID: deref(userID), Prev: derefDec(prevBalance), New: derefDec(newBalance), Reason: domain.WalletReason(derefStr(walletReason))}
		case domain.AuditEventPortfolioHistory:
			ev.PortfolioTx = &domain.PortfolioHistory{
				UserID: deref(userID), TickerID: derefStr(tickerID), Action: domain.PortfolioAction(derefStr(portfolioAction)),
				PrevQuantity: derefDec(prevQty), NewQuantity: derefDec(newQty),
				PrevAvgPrice: derefDec(prevAvg), NewAvgPrice: derefDec(newAvg), Reason: derefStr(portfolioReason),
			}
		case domain.AuditEventOrderStatusHistory:
			ev.OrderStatusTx = &domain.OrderStatusHistory{
				OrderID: deref(orderID), Prev: domain.OrderStatus(derefStr(prevStatus)), New: domain.OrderStatus(derefStr(newStatus)), Reason: derefStr(statusRsn),
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func deref(p *uuid.UUID) uuid.UUID {
	if p == nil {
		return uuid.Nil
	}
	return *p
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefDec(p *decimal.Decimal) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return *p
}
