// Package delivery holds the per-(event, endpoint) delivery ledger and the
// attempt state machine that drives outbound webhook calls.
package delivery

import (
	"context"
	"time"
)

// Status is the delivery state machine. DELIVERED and FAILED are absorbing:
// a delivery never transitions out of them.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Delivery is one unit of work: a single event bound for a single endpoint,
// plus its retry state. Rows are never deleted; the ledger is the audit trail.
type Delivery struct {
	ID         string     `json:"id"`
	EndpointID string     `json:"endpoint_id"`
	EventID    string     `json:"event_id"`
	Status     Status     `json:"status"`
	// Attempts is the sole source of truth for how many network calls have
	// been made. It only ever grows.
	Attempts      int        `json:"attempts"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastCode      *int       `json:"last_code,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Terminal reports whether the delivery is in an absorbing state.
func (d *Delivery) Terminal() bool {
	return d.Status == StatusDelivered || d.Status == StatusFailed
}

// Ledger is the persistence contract for deliveries. All mutations are
// single-row updates keyed by ID; there is no locking across them, so every
// write must be tolerable under at-least-once re-invocation.
type Ledger interface {
	// Create inserts a new PENDING delivery with zero attempts.
	Create(ctx context.Context, endpointID, eventID string, nextAttemptAt time.Time) (*Delivery, error)

	// Get returns the delivery with the given ID.
	Get(ctx context.Context, id string) (*Delivery, error)

	// MarkDelivered records a successful attempt: status DELIVERED,
	// delivered_at now, attempts+1, last error cleared, next attempt cleared.
	MarkDelivered(ctx context.Context, id string, httpStatus int) error

	// MarkFailed records a terminally failed attempt: status FAILED,
	// attempts+1, next attempt cleared. httpStatus may be nil for transport
	// failures and configuration errors.
	MarkFailed(ctx context.Context, id string, httpStatus *int, lastError string) error

	// ScheduleRetry records a failed but retryable attempt: status stays
	// PENDING, attempts+1, next_attempt_at set.
	ScheduleRetry(ctx context.Context, id string, httpStatus *int, lastError string, nextAttemptAt time.Time) error

	// Abandon terminally fails a delivery without counting an attempt. Used
	// only by the stuck-delivery reconciler, which never touches the network.
	Abandon(ctx context.Context, id string, lastError string) error

	// FindStuck returns up to limit PENDING deliveries, oldest first, that
	// were created and last touched before cutoff and whose next attempt is
	// already due. These are the candidates lost by the execution runtime.
	FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]*Delivery, error)
}

// truncate caps s at n bytes for storage in the ledger's error column.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
