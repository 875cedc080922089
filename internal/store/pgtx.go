package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

// pgTx is Tx bound to one in-flight pgx.Tx. Every mutation also inserts its
// matching audit_outbox row, so the two write sets commit or roll back
// together (I1/I2).
type pgTx struct {
	tx     pgx.Tx
	logger zerolog.Logger
}

func (t *pgTx) LockWallet(ctx context.Context, userID uuid.UUID) (domain.Wallet, error) {
	var w domain.Wallet
	w.UserID = userID
	err := t.tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, userID).Scan(&w.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := t.tx.Exec(ctx, `INSERT INTO wallets (user_id, balance) VALUES ($1, 0)`, userID); err != nil {
			return domain.Wallet{}, fmt.Errorf("seed wallet: %w", err)
		}
		return domain.Wallet{UserID: userID, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("lock wallet: %w", err)
	}
	return w, nil
}

func (t *pgTx) SaveWallet(ctx context.Context, prev, next domain.Wallet, reason domain.WalletReason) error {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance = $2`,
		next.UserID, next.Balance); err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO audit_outbox (event_type, user_id, prev_balance, new_balance, wallet_reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		domain.AuditEventWalletTx, next.UserID, prev.Balance, next.Balance, reason)
	if err != nil {
		return fmt.Errorf("stage wallet audit: %w", err)
	}
	return nil
}

func (t *pgTx) LockPortfolio(ctx context.Context, userID uuid.UUID, tickerID string) (domain.Portfolio, bool, error) {
	var p domain.Portfolio
	p.UserID, p.TickerID = userID, tickerID
	err := t.tx.QueryRow(ctx,
		`SELECT quantity, average_price FROM portfolios WHERE user_id = $1 AND ticker_id = $2 FOR UPDATE`,
		userID, tickerID).Scan(&p.Quantity, &p.AveragePrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Portfolio{UserID: userID, TickerID: tickerID, Quantity: decimal.Zero, AveragePrice: decimal.Zero}, false, nil
	}
	if err != nil {
		return domain.Portfolio{}, false, fmt.Errorf("lock portfolio: %w", err)
	}
	return p, true, nil
}

func (t *pgTx) UpsertPortfolio(ctx context.Context, prev domain.Portfolio, prevExisted bool, next domain.Portfolio, reason string) error {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO portfolios (user_id, ticker_id, quantity, average_price) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, ticker_id) DO UPDATE SET quantity = $3, average_price = $4`,
		next.UserID, next.TickerID, next.Quantity, next.AveragePrice); err != nil {
		return fmt.Errorf("upsert portfolio: %w", err)
	}

	action := domain.PortfolioActionUpdate
	if !prevExisted {
		action = domain.PortfolioActionInsert
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO audit_outbox (event_type, user_id, ticker_id, portfolio_action,
			prev_quantity, new_quantity, prev_avg_price, new_avg_price, portfolio_reason)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		domain.AuditEventPortfolioHistory, next.UserID, next.TickerID, action,
		prev.Quantity, next.Quantity, prev.AveragePrice, next.AveragePrice, reason)
	if err != nil {
		return fmt.Errorf("stage portfolio audit: %w", err)
	}
	return nil
}

func (t *pgTx) DeletePortfolio(ctx context.Context, prev domain.Portfolio, reason string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM portfolios WHERE user_id = $1 AND ticker_id = $2`,
		prev.UserID, prev.TickerID); err != nil {
		return fmt.Errorf("delete portfolio: %w", err)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO audit_outbox (event_type, user_id, ticker_id, portfolio_action,
			prev_quantity, new_quantity, prev_avg_price, new_avg_price, portfolio_reason)
		 VALUES ($1,$2,$3,$4,$5,0,$6,0,$7)`,
		domain.AuditEventPortfolioHistory, prev.UserID, prev.TickerID, domain.PortfolioActionDelete,
		prev.Quantity, prev.AveragePrice, reason)
	if err != nil {
		return fmt.Errorf("stage portfolio delete audit: %w", err)
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, selectOrderSQL+` WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return domain.Order{}, fmt.Errorf("lock order: %w", err)
	}
	return o, nil
}

func (t *pgTx) SaveOrder(ctx context.Context, prevStatus domain.OrderStatus, order domain.Order, reason string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $1, unfilled_quantity = $2, stop_price = $3, high_water_mark = $4,
			realized_pnl = $5, price = $6, fee = $7, fail_reason = $8, filled_at = $9, cancelled_at = $10,
			type = $11
		WHERE id = $12`,
		order.Status, order.UnfilledQuantity, order.StopPrice, order.HighWaterMark,
		order.RealizedPnL, order.Price, order.Fee, order.FailReason, order.FilledAt, order.CancelledAt,
		order.Type, order.ID)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}

	if prevStatus == order.Status {
		return nil
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO audit_outbox (event_type, order_id, prev_status, new_status, status_reason)
		 VALUES ($1,$2,$3,$4,$5)`,
		domain.AuditEventOrderStatusHistory, order.ID, prevStatus, order.Status, reason)
	if err != nil {
		return fmt.Errorf("stage order status audit: %w", err)
	}
	return nil
}

func (t *pgTx) CreateOrderInTx(ctx context.Context, order domain.Order) error {
	if _, err := t.tx.Exec(ctx, insertOrderSQL, orderInsertArgs(order)...); err != nil {
		return fmt.Errorf("create order in tx: %w", err)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO audit_outbox (event_type, order_id, prev_status, new_status, status_reason)
		 VALUES ($1,$2,$3,$4,'created')`,
		domain.AuditEventOrderStatusHistory, order.ID, order.Status, order.Status)
	if err != nil {
		return fmt.Errorf("stage order create audit: %w", err)
	}
	return nil
}

func (t *pgTx) LockUser(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	var u domain.User
	u.ID = userID
	err := t.tx.QueryRow(ctx,
		`SELECT is_active, is_bankrupt, bankrupt_count, dividend_rate FROM users WHERE id = $1 FOR UPDATE`,
		userID).Scan(&u.IsActive, &u.IsBankrupt, &u.BankruptCount, &u.DividendRate)
	if err != nil {
		return domain.User{}, fmt.Errorf("lock user: %w", err)
	}
	return u, nil
}

func (t *pgTx) ListShortPortfolios(ctx context.Context, tickerID string) ([]domain.Portfolio, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT user_id, ticker_id, quantity, average_price FROM portfolios
		 WHERE ticker_id = $1 AND quantity < 0 ORDER BY user_id ASC FOR UPDATE`, tickerID)
	if err != nil {
		return nil, fmt.Errorf("list short portfolios: %w", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		var p domain.Portfolio
		if err := rows.Scan(&p.UserID, &p.TickerID, &p.Quantity, &p.AveragePrice); err != nil {
			return nil, fmt.Errorf("scan portfolio: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) ListPortfoliosByUser(ctx context.Context, userID uuid.UUID) ([]domain.Portfolio, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT user_id, ticker_id, quantity, average_price FROM portfolios
		 WHERE user_id = $1 ORDER BY ticker_id ASC FOR UPDATE`, userID)
	if err != nil {
		return nil, fmt.Errorf("list portfolios by user: %w", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		var p domain.Portfolio
		if err := rows.Scan(&p.UserID, &p.TickerID, &p.Quantity, &p.AveragePrice); err != nil {
			return nil, fmt.Errorf("scan portfolio: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) ListPendingOrders(ctx context.Context, tickerID string) ([]domain.Order, error) {
	rows, err := t.tx.Query(ctx,
		selectOrderSQL+` WHERE ticker_id = $1 AND status = $2 ORDER BY id ASC FOR UPDATE`,
		tickerID, domain.OrderStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending orders (tx): %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (t *pgTx) EnqueueTrade(ctx context.Context, msg TradeQueueMessage) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trade_queue (order_id, user_id, ticker_id, side, quantity) VALUES ($1,$2,$3,$4,$5)`,
		msg.OrderID, msg.UserID, msg.TickerID, msg.Side, msg.Quantity)
	if err != nil {
		return fmt.Errorf("enqueue trade: %w", err)
	}
	return nil
}

func (t *pgTx) StageAudit(ctx context.Context, ev domain.AuditEvent) error {
	switch ev.Type {
	case domain.AuditEventWalletTx:
		_, err := t.tx.Exec(ctx,
			`INSERT INTO audit_outbox (event_type, user_id, prev_balance, new_balance, wallet_reason)
			 VALUES ($1,$2,$3,$4,$5)`,
			ev.Type, ev.WalletTx.UserID, ev.WalletTx.Prev, ev.WalletTx.New, ev.WalletTx.Reason)
		if err != nil {
			return fmt.Errorf("stage audit (wallet): %w", err)
		}
	case domain.AuditEventPortfolioHistory:
		_, err := t.tx.Exec(ctx,
			`INSERT INTO audit_outbox (event_type, user_id, ticker_id, portfolio_action,
				prev_quantity, new_quantity, prev_avg_price, new_avg_price, portfolio_reason)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			ev.Type, ev.PortfolioTx.UserID, ev.PortfolioTx.TickerID, ev.PortfolioTx.Action,
			ev.PortfolioTx.PrevQuantity, ev.PortfolioTx.NewQuantity, ev.PortfolioTx.PrevAvgPrice, ev.PortfolioTx.NewAvgPrice, ev.PortfolioTx.Reason)
		if err != nil {
			return fmt.Errorf("stage audit (portfolio): %w", err)
		}
	case domain.AuditEventOrderStatusHistory:
		_, err := t.tx.Exec(ctx,
			`INSERT INTO audit_outbox (event_type, order_id, prev_status, new_status, status_reason)
			 VALUES ($1,$2,$3,$4,$5)`,
			ev.Type, ev.OrderStatusTx.OrderID, ev.OrderStatusTx.Prev, ev.OrderStatusTx.New, ev.OrderStatusTx.Reason)
		if err != nil {
			return fmt.Errorf("stage audit (order status): %w", err)
		}
	}
	return nil
}
