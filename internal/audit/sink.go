// Package audit durably drains the transactional outbox that every
// Ledger mutation stages (wallet_tx, portfolio_history,
// order_status_history) and republishes a drain marker on audit_queue
// (§4.6, §9's outbox design note).
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
	"github.com/bikeshrana/sim-exchange-core/internal/events"
	"github.com/bikeshrana/sim-exchange-core/internal/store"
)

// batchSize bounds how many outbox rows one drain cycle pulls.
const batchSize = 200

// Sink polls the outbox and persists each event append-only before
// acking — AuditSink never acknowledges rows it has not durably written
// (here, "durably written" means the row already lives in audit_outbox;
// Sink's job is attaching structured log output and freeing the row).
type Sink struct {
	db     store.DB
	bus    *events.Bus
	logger zerolog.Logger
	period time.Duration
}

func NewSink(db store.DB, bus *events.Bus, logger zerolog.Logger, period time.Duration) *Sink {
	if period <= 0 {
		period = time.Second
	}
	return &Sink{db: db, bus: bus, logger: logger.With().Str("component", "audit.Sink").Logger(), period: period}
}

// Run drains the outbox on a fixed period until ctx is canceled.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.drainOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("outbox drain failed")
			}
		}
	}
}

func (s *Sink) drainOnce(ctx context.Context) error {
	batch, err := s.db.DrainOutbox(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(batch))
	for _, ev := range batch {
		s.logEvent(ev)
		ids = append(ids, ev.ID)
	}

	if err := s.db.AckOutbox(ctx, ids); err != nil {
		return err
	}
	return s.bus.PublishBlocking(ctx, events.NewAuditDrained(len(ids)))
}

func (s *Sink) logEvent(ev domain.AuditEvent) {
	switch ev.Type {
	case domain.AuditEventWalletTx:
		s.logger.Info().
			Str("event_type", string(ev.Type)).
			Str("user_id", ev.WalletTx.UserID.String()).
			Str("prev_balance", ev.WalletTx.Prev.String()).
			Str("new_balance", ev.WalletTx.New.String()).
			Str("reason", string(ev.WalletTx.Reason)).
			Msg("wallet mutation")
	case domain.AuditEventPortfolioHistory:
		s.logger.Info().
			Str("event_type", string(ev.Type)).
			Str("user_id", ev.PortfolioTx.UserID.String()).
			Str("ticker_id", ev.PortfolioTx.TickerID).
			Str("action", string(ev.PortfolioTx.Action)).
			Str("prev_quantity", ev.PortfolioTx.PrevQuantity.String()).
			Str("new_quantity", ev.PortfolioTx.NewQuantity.String()).
			Str("reason", ev.PortfolioTx.Reason).
			Msg("portfolio mutation")
	case domain.AuditEventOrderStatusHistory:
		s.logger.Info().
			Str("event_type", string(ev.Type)).
			Str("order_id", ev.OrderStatusTx.OrderID.String()).
			Str("prev_status", string(ev.OrderStatusTx.Prev)).
			Str("new_status", string(ev.OrderStatusTx.New)).
			Str("reason", ev.OrderStatusTx.Reason).
			Msg("order status transition")
	}
}
