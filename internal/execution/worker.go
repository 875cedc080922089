package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/bikeshrana/sim-exchange-core/internal/store"
)

// Worker drains store.DB's durable trade_queue with a bounded pool of
// concurrent settlements, acking on success and backing a failed row off
// for retry on the next poll.
type Worker struct {
	db       store.DB
	executor *Executor
	logger   zerolog.Logger
	workers  int
	pollIdle time.Duration
}

func NewWorker(db store.DB, executor *Executor, logger zerolog.Logger, workers int) *Worker {
	if workers <= 0 {
		workers = 8
	}
	return &Worker{
		db:       db,
		executor: executor,
		logger:   logger.With().Str("component", "execution.Worker").Logger(),
		workers:  workers,
		pollIdle: 50 * time.Millisecond,
	}
}

// Run pops trade_queue messages and settles them through Executor.Execute
// until ctx is canceled, never running more than w.workers settlements at
// once. The pool is not configured to cancel siblings on error — a single
// settlement's infra failure nacks that row for redelivery without
// disturbing the rest of the batch.
func (w *Worker) Run(ctx context.Context) {
	p := pool.New().WithMaxGoroutines(w.workers).WithContext(ctx)
	defer p.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := w.db.PopTradeQueue(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("trade queue pop failed")
			time.Sleep(w.pollIdle)
			continue
		}
		if msg == nil {
			time.Sleep(w.pollIdle)
			continue
		}

		id := msg.ID
		orderID := msg.OrderID
		p.Go(func(ctx context.Context) error {
			if _, err := w.executor.ExecuteByID(ctx, orderID, nil); err != nil {
				w.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("settlement failed, nacking for retry")
				if nackErr := w.db.NackTradeQueue(ctx, id); nackErr != nil {
					w.logger.Error().Err(nackErr).Int64("queue_id", id).Msg("nack failed")
				}
				return nil
			}
			if ackErr := w.db.AckTradeQueue(ctx, id); ackErr != nil {
				w.logger.Error().Err(ackErr).Int64("queue_id", id).Msg("ack failed")
			}
			return nil
		})
	}
}
