package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paystrand/hookrelay/internal/delivery"
)

// DeliveryLedger is the pgx implementation of delivery.Ledger. Every mutation
// is a single-row update keyed by primary key; attempt increments happen in
// SQL (attempts = attempts + 1) so concurrent writers cannot lose a count.
type DeliveryLedger struct {
	pool *pgxpool.Pool
}

func NewDeliveryLedger(pool *pgxpool.Pool) *DeliveryLedger {
	return &DeliveryLedger{pool: pool}
}

func (l *DeliveryLedger) Create(ctx context.Context, endpointID, eventID string, nextAttemptAt time.Time) (*delivery.Delivery, error) {
	d := &delivery.Delivery{
		EndpointID:    endpointID,
		EventID:       eventID,
		Status:        delivery.StatusPending,
		NextAttemptAt: &nextAttemptAt,
	}
	err := l.pool.QueryRow(ctx, `
		INSERT INTO hookrelay.deliveries(endpoint_id, event_id, status, attempts, next_attempt_at)
		VALUES ($1, $2, 'pending', 0, $3)
		RETURNING id, created_at, updated_at`,
		endpointID, eventID, nextAttemptAt,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (l *DeliveryLedger) Get(ctx context.Context, id string) (*delivery.Delivery, error) {
	var (
		d         delivery.Delivery
		lastError *string
	)
	err := l.pool.QueryRow(ctx, `
		SELECT id, endpoint_id, event_id, status, attempts, next_attempt_at,
		       last_code, last_error, delivered_at, created_at, updated_at
		FROM hookrelay.deliveries
		WHERE id = $1`, id,
	).Scan(&d.ID, &d.EndpointID, &d.EventID, &d.Status, &d.Attempts, &d.NextAttemptAt,
		&d.LastCode, &lastError, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if lastError != nil {
		d.LastError = *lastError
	}
	return &d, nil
}

func (l *DeliveryLedger) MarkDelivered(ctx context.Context, id string, httpStatus int) error {
	// Guard on status: DELIVERED and FAILED are absorbing states.
	ct, err := l.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status = 'delivered', delivered_at = now(), attempts = attempts + 1,
		    last_code = $2, last_error = NULL, next_attempt_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, httpStatus,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("delivery %s not pending: %w", id, ErrNotFound)
	}
	return nil
}

func (l *DeliveryLedger) MarkFailed(ctx context.Context, id string, httpStatus *int, lastError string) error {
	ct, err := l.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status = 'failed', attempts = attempts + 1,
		    last_code = $2, last_error = $3, next_attempt_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, httpStatus, lastError,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("delivery %s not pending: %w", id, ErrNotFound)
	}
	return nil
}

func (l *DeliveryLedger) ScheduleRetry(ctx context.Context, id string, httpStatus *int, lastError string, nextAttemptAt time.Time) error {
	ct, err := l.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status = 'pending', attempts = attempts + 1,
		    last_code = $2, last_error = $3, next_attempt_at = $4, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, httpStatus, lastError, nextAttemptAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("delivery %s not pending: %w", id, ErrNotFound)
	}
	return nil
}

func (l *DeliveryLedger) Abandon(ctx context.Context, id string, lastError string) error {
	// No attempt increment: the reconciler never made a network call.
	ct, err := l.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status = 'failed', last_error = $2, next_attempt_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, lastError,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("delivery %s not pending: %w", id, ErrNotFound)
	}
	return nil
}

func (l *DeliveryLedger) FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]*delivery.Delivery, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, endpoint_id, event_id, status, attempts, next_attempt_at,
		       last_code, last_error, delivered_at, created_at, updated_at
		FROM hookrelay.deliveries
		WHERE status = 'pending'
		  AND created_at < $1
		  AND updated_at < $1
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= now()
		ORDER BY created_at ASC
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*delivery.Delivery
	for rows.Next() {
		var (
			d         delivery.Delivery
			lastError *string
		)
		if err := rows.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.Status, &d.Attempts, &d.NextAttemptAt,
			&d.LastCode, &lastError, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if lastError != nil {
			d.LastError = *lastError
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
