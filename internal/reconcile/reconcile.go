// Package reconcile implements the stuck-delivery safety net: a periodic
// sweep over the ledger for PENDING deliveries that should have progressed
// but did not, because an enqueue was lost or a worker died mid-attempt.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/paystrand/hookrelay/internal/delivery"
	"github.com/paystrand/hookrelay/internal/logging"
	"github.com/paystrand/hookrelay/internal/metrics"
	"github.com/paystrand/hookrelay/internal/queue"
	"github.com/paystrand/hookrelay/internal/tracing"
)

const abandonReason = "Exceeded maximum retry attempts (safety net)"

// Reconciler periodically re-enqueues stuck deliveries and terminally fails
// the ones that already burned their attempt budget. Only one instance
// should run per sweep interval; a duplicate sweep is wasteful but safe,
// because the worker's AlreadyDelivered check absorbs double enqueues.
type Reconciler struct {
	ledger    delivery.Ledger
	enqueuer  queue.Enqueuer
	topic     string
	policy    delivery.RetryPolicy
	interval  time.Duration
	staleness time.Duration
	batchSize int
	logger    *logging.Logger
	now       func() time.Time
}

// New builds a Reconciler sweeping every interval for deliveries untouched
// for at least staleness, at most batchSize per sweep.
func New(ledger delivery.Ledger, enqueuer queue.Enqueuer, topic string, policy delivery.RetryPolicy, interval, staleness time.Duration, batchSize int) *Reconciler {
	return &Reconciler{
		ledger:    ledger,
		enqueuer:  enqueuer,
		topic:     topic,
		policy:    policy,
		interval:  interval,
		staleness: staleness,
		batchSize: batchSize,
		logger:    logging.New("hookrelay-reconciler"),
		now:       time.Now,
	}
}

// Run loops until ctx is cancelled, sweeping once per interval. It is the
// process's whole job: start on boot, cancel on shutdown.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Plain().WithField("interval", r.interval.String()).Info("reconciler started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Plain().Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, _, err := r.Sweep(ctx); err != nil {
				r.logger.WithContext(ctx).WithError(err).Error("sweep failed")
			}
		}
	}
}

// Sweep finds stuck deliveries and repairs them: exhausted ones are
// terminally failed without counting an attempt, the rest are re-enqueued
// under a fresh idempotency key so the runtime treats them as new work.
// Returns the number re-enqueued and the number failed.
func (r *Reconciler) Sweep(ctx context.Context) (requeued, failed int, err error) {
	ctx, span := tracing.StartSpan(ctx, "reconciler.sweep")
	defer span.End()
	metrics.ReconcilerSweepsTotal.Inc()

	cutoff := r.now().Add(-r.staleness)
	stuck, err := r.ledger.FindStuck(ctx, cutoff, r.batchSize)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, 0, fmt.Errorf("find stuck deliveries: %w", err)
	}
	span.SetAttributes(attribute.Int("candidates", len(stuck)))

	for _, d := range stuck {
		if r.policy.Exhausted(d.Attempts) {
			if err := r.ledger.Abandon(ctx, d.ID, abandonReason); err != nil {
				tracing.SetSpanError(ctx, err)
				r.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("abandon failed")
				continue
			}
			metrics.ReconcilerFailedTotal.Inc()
			failed++
			r.logger.WithContext(ctx).WithDelivery(d.ID).
				WithField("attempts", d.Attempts).Warn("stuck delivery abandoned")
			continue
		}

		key := uuid.New().String()
		if err := r.enqueuer.Enqueue(ctx, d.ID, key, r.topic); err != nil {
			tracing.SetSpanError(ctx, err)
			r.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("re-enqueue failed")
			continue
		}
		metrics.ReconcilerRequeuedTotal.Inc()
		requeued++
		r.logger.WithContext(ctx).WithDelivery(d.ID).WithFields(map[string]any{
			"attempts":        d.Attempts,
			"idempotency_key": key,
		}).Info("stuck delivery re-enqueued")
	}

	if requeued+failed > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"requeued": requeued,
			"failed":   failed,
		}).Info("sweep complete")
	}
	return requeued, failed, nil
}
