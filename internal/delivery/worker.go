package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/paystrand/hookrelay/internal/endpoint"
	"github.com/paystrand/hookrelay/internal/event"
	"github.com/paystrand/hookrelay/internal/logging"
	"github.com/paystrand/hookrelay/internal/metrics"
	"github.com/paystrand/hookrelay/internal/signer"
	"github.com/paystrand/hookrelay/internal/tracing"
)

// Result is the outcome of one call to Worker.Attempt.
type Result int

const (
	// ResultDelivered means the endpoint acknowledged with a 2xx.
	ResultDelivered Result = iota
	// ResultAlreadyDelivered means the delivery was already in DELIVERED
	// state and nothing was mutated.
	ResultAlreadyDelivered
	// ResultFailed means the delivery reached a terminal FAILED state.
	ResultFailed
	// ResultRetrying means the attempt failed, state was recorded, and a
	// retry was scheduled. Attempt also returns a *RetryAfterError.
	ResultRetrying
	// ResultNotDue means next_attempt_at is still in the future. Nothing was
	// mutated and no attempt was counted; the caller should redeliver later.
	ResultNotDue
)

func (r Result) String() string {
	switch r {
	case ResultDelivered:
		return "delivered"
	case ResultAlreadyDelivered:
		return "already_delivered"
	case ResultFailed:
		return "failed"
	case ResultRetrying:
		return "retrying"
	case ResultNotDue:
		return "not_due"
	}
	return "unknown"
}

// RetryAfterError signals the execution runtime that the attempt failed but
// should be retried after Delay. All retry state is already persisted in the
// ledger before this is returned; the delay is advisory scheduling only.
type RetryAfterError struct {
	Delay time.Duration
	Cause error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry in %s: %v", e.Delay, e.Cause)
}

func (e *RetryAfterError) Unwrap() error { return e.Cause }

const (
	maxTransportErrorLen = 1000
	maxResponseSnippet   = 500
	httpTimeout          = 15 * time.Second
)

// Worker executes single delivery attempts. Many workers run concurrently;
// correctness under duplicate invocation of the same delivery rests on the
// AlreadyDelivered short-circuit, not on locking.
type Worker struct {
	ledger    Ledger
	endpoints endpoint.Registry
	events    event.Store
	policy    RetryPolicy
	client    *http.Client
	logger    *logging.Logger
	now       func() time.Time
}

// NewWorker builds a Worker. A nil client gets the default 15s-timeout client.
func NewWorker(ledger Ledger, endpoints endpoint.Registry, events event.Store, policy RetryPolicy, client *http.Client) *Worker {
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	return &Worker{
		ledger:    ledger,
		endpoints: endpoints,
		events:    events,
		policy:    policy,
		client:    client,
		logger:    logging.New("hookrelay-worker"),
		now:       time.Now,
	}
}

// Attempt performs one delivery attempt. Every code path increments the
// ledger's attempt counter exactly once, except the AlreadyDelivered
// short-circuit which mutates nothing. A load failure is a caller bug and is
// returned as a plain error with no retry signal.
func (w *Worker) Attempt(ctx context.Context, deliveryID string) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "worker.attempt",
		attribute.String("delivery_id", deliveryID),
	)
	defer span.End()

	d, err := w.ledger.Get(ctx, deliveryID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		w.logger.WithContext(ctx).WithDelivery(deliveryID).WithError(err).Error("delivery not found")
		return ResultFailed, fmt.Errorf("load delivery %s: %w", deliveryID, err)
	}

	// Idempotent re-invocation: a delivery never leaves DELIVERED, and a
	// duplicate enqueue must not touch the row.
	if d.Status == StatusDelivered {
		tracing.AddSpanEvent(ctx, "delivery.already_delivered")
		metrics.RecordAttempt(ResultAlreadyDelivered.String(), 0)
		return ResultAlreadyDelivered, nil
	}
	// FAILED is absorbing too: a stale enqueue must not resurrect it.
	if d.Status == StatusFailed {
		tracing.AddSpanEvent(ctx, "delivery.already_failed")
		return ResultFailed, nil
	}

	// The queue can redeliver earlier than the scheduled retry time; honor
	// next_attempt_at by bouncing the task without counting an attempt.
	if d.NextAttemptAt != nil {
		if remaining := d.NextAttemptAt.Sub(w.now()); remaining > 0 {
			tracing.AddSpanEvent(ctx, "delivery.not_due", attribute.String("remaining", remaining.String()))
			return ResultNotDue, &RetryAfterError{Delay: remaining, Cause: fmt.Errorf("next attempt at %s", d.NextAttemptAt.Format(time.RFC3339))}
		}
	}

	ep, err := w.endpoints.Get(ctx, d.EndpointID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		w.logger.WithContext(ctx).WithDelivery(deliveryID).WithEndpoint(d.EndpointID).WithError(err).Error("endpoint not found")
		return ResultFailed, fmt.Errorf("load endpoint %s: %w", d.EndpointID, err)
	}
	ev, err := w.events.Get(ctx, d.EventID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		w.logger.WithContext(ctx).WithDelivery(deliveryID).WithEvent(d.EventID).WithError(err).Error("event not found")
		return ResultFailed, fmt.Errorf("load event %s: %w", d.EventID, err)
	}

	span.SetAttributes(
		attribute.String("tenant_id", ev.TenantID),
		attribute.String("event_type", ev.Type),
		attribute.String("endpoint_id", ep.ID),
		attribute.Int("attempt", d.Attempts+1),
	)

	// Configuration errors are terminal on the spot: retrying cannot fix a
	// plaintext URL or an oversized body.
	if !ep.IsHTTPS() {
		return w.failTerminal(ctx, d, nil, "HTTPS required")
	}

	body, err := BuildPayload(ev, d.Attempts+1)
	if err != nil {
		return w.failTerminal(ctx, d, nil, truncate(fmt.Sprintf("payload serialization failed: %v", err), maxTransportErrorLen))
	}
	if len(body) > MaxPayloadBytes {
		return w.failTerminal(ctx, d, nil, fmt.Sprintf("payload exceeds %d bytes (got %d)", MaxPayloadBytes, len(body)))
	}

	ts := w.now().Unix()
	sig := signer.Sign(ep.Secret, body, ts)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return w.failTerminal(ctx, d, nil, truncate(fmt.Sprintf("invalid endpoint URL: %v", err), maxTransportErrorLen))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(HeaderID, ev.ID)
	req.Header.Set(HeaderEvent, ev.Type)
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSpecVersion, SpecVersion)

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	start := w.now()
	resp, doErr := w.client.Do(req)
	latency := time.Since(start)

	if doErr != nil {
		span.SetAttributes(attribute.String("http.error", doErr.Error()))
		metrics.RecordRetry(classifyReason(doErr, 0))
		return w.recordFailure(ctx, d, nil, truncate(doErr.Error(), maxTransportErrorLen), latency, doErr)
	}

	snippet := readSnippet(resp.Body, maxResponseSnippet)
	status := resp.StatusCode
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	if status >= 200 && status < 300 {
		if err := w.ledger.MarkDelivered(ctx, d.ID, status); err != nil {
			tracing.SetSpanError(ctx, err)
			w.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("mark delivered failed")
			return ResultDelivered, err
		}
		metrics.RecordAttempt(ResultDelivered.String(), latency)
		w.logger.WithContext(ctx).WithDelivery(d.ID).WithEndpoint(ep.ID).WithField("code", status).Info("delivered")
		return ResultDelivered, nil
	}

	metrics.RecordRetry(classifyReason(nil, status))
	lastErr := fmt.Sprintf("HTTP %d: %s", status, snippet)
	return w.recordFailure(ctx, d, &status, lastErr, latency, fmt.Errorf("endpoint returned HTTP %d", status))
}

// failTerminal records a non-retryable configuration failure. The attempt
// counter still increments: the worker was invoked and made its decision.
func (w *Worker) failTerminal(ctx context.Context, d *Delivery, httpStatus *int, lastErr string) (Result, error) {
	tracing.AddSpanEvent(ctx, "delivery.terminal_failure", attribute.String("reason", lastErr))
	if err := w.ledger.MarkFailed(ctx, d.ID, httpStatus, lastErr); err != nil {
		tracing.SetSpanError(ctx, err)
		w.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("mark failed failed")
		return ResultFailed, err
	}
	metrics.RecordAttempt(ResultFailed.String(), 0)
	w.logger.WithContext(ctx).WithDelivery(d.ID).WithField("reason", lastErr).Warn("delivery terminally failed")
	return ResultFailed, nil
}

// recordFailure handles both transport-level and non-2xx failures: either the
// attempt cap is hit and the delivery goes terminal, or a retry is scheduled
// and the caller gets a RetryAfterError to act on.
func (w *Worker) recordFailure(ctx context.Context, d *Delivery, httpStatus *int, lastErr string, latency time.Duration, cause error) (Result, error) {
	attempts := d.Attempts + 1
	if w.policy.Exhausted(attempts) {
		tracing.AddSpanEvent(ctx, "delivery.attempts_exhausted", attribute.Int("attempts", attempts))
		if err := w.ledger.MarkFailed(ctx, d.ID, httpStatus, lastErr); err != nil {
			tracing.SetSpanError(ctx, err)
			w.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("mark failed failed")
			return ResultFailed, err
		}
		metrics.RecordAttempt(ResultFailed.String(), latency)
		w.logger.WithContext(ctx).WithDelivery(d.ID).WithFields(map[string]any{
			"attempts": attempts,
			"reason":   lastErr,
		}).Warn("delivery exhausted retries")
		return ResultFailed, nil
	}

	delay := w.policy.NextDelay(attempts)
	nextAt := w.now().Add(delay)
	if err := w.ledger.ScheduleRetry(ctx, d.ID, httpStatus, lastErr, nextAt); err != nil {
		tracing.SetSpanError(ctx, err)
		w.logger.WithContext(ctx).WithDelivery(d.ID).WithError(err).Error("schedule retry failed")
		return ResultRetrying, err
	}
	metrics.RecordAttempt(ResultRetrying.String(), latency)
	tracing.AddSpanEvent(ctx, "delivery.retry_scheduled",
		attribute.Int("attempt", attempts),
		attribute.String("delay", delay.String()),
	)
	w.logger.WithContext(ctx).WithDelivery(d.ID).WithFields(map[string]any{
		"attempt": attempts,
		"delay":   delay.String(),
	}).Info("retry scheduled")
	return ResultRetrying, &RetryAfterError{Delay: delay, Cause: cause}
}

// readSnippet drains and closes body, keeping at most n bytes.
func readSnippet(body io.ReadCloser, n int) string {
	defer body.Close()
	b, _ := io.ReadAll(io.LimitReader(body, int64(n)))
	_, _ = io.Copy(io.Discard, body)
	return string(b)
}

// classifyReason buckets a failure for the retry metrics labels.
func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		if strings.Contains(errLower, "tls") || strings.Contains(errLower, "certificate") {
			return "tls_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == http.StatusTooManyRequests {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}
