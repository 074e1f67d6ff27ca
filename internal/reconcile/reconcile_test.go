package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paystrand/hookrelay/internal/delivery"
)

type memLedger struct {
	stuck     []*delivery.Delivery
	abandoned map[string]string
	findErr   error
}

func (l *memLedger) Create(ctx context.Context, endpointID, eventID string, nextAttemptAt time.Time) (*delivery.Delivery, error) {
	return nil, errors.New("not implemented")
}
func (l *memLedger) Get(ctx context.Context, id string) (*delivery.Delivery, error) {
	return nil, errors.New("not implemented")
}
func (l *memLedger) MarkDelivered(ctx context.Context, id string, httpStatus int) error {
	return errors.New("not implemented")
}
func (l *memLedger) MarkFailed(ctx context.Context, id string, httpStatus *int, lastError string) error {
	return errors.New("not implemented")
}
func (l *memLedger) ScheduleRetry(ctx context.Context, id string, httpStatus *int, lastError string, nextAttemptAt time.Time) error {
	return errors.New("not implemented")
}

func (l *memLedger) Abandon(ctx context.Context, id string, lastError string) error {
	if l.abandoned == nil {
		l.abandoned = make(map[string]string)
	}
	l.abandoned[id] = lastError
	return nil
}

func (l *memLedger) FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]*delivery.Delivery, error) {
	if l.findErr != nil {
		return nil, l.findErr
	}
	if len(l.stuck) > limit {
		return l.stuck[:limit], nil
	}
	return l.stuck, nil
}

type enqueueCall struct {
	deliveryID     string
	idempotencyKey string
	topic          string
}

type memEnqueuer struct {
	calls   []enqueueCall
	failFor map[string]bool
}

func (q *memEnqueuer) Enqueue(ctx context.Context, deliveryID, idempotencyKey, topic string) error {
	if q.failFor[deliveryID] {
		return errors.New("nsqd unreachable")
	}
	q.calls = append(q.calls, enqueueCall{deliveryID, idempotencyKey, topic})
	return nil
}

func stuckDelivery(id string, attempts int) *delivery.Delivery {
	past := time.Now().Add(-time.Hour)
	return &delivery.Delivery{
		ID:            id,
		EndpointID:    "ep_1",
		EventID:       "evt_1",
		Status:        delivery.StatusPending,
		Attempts:      attempts,
		NextAttemptAt: &past,
		CreatedAt:     past,
		UpdatedAt:     past,
	}
}

func TestSweepRequeuesWithFreshKey(t *testing.T) {
	ledger := &memLedger{stuck: []*delivery.Delivery{
		stuckDelivery("del_1", 0),
		stuckDelivery("del_2", 3),
	}}
	enqueuer := &memEnqueuer{}
	r := New(ledger, enqueuer, "webhook_attempts", delivery.DefaultRetryPolicy(), time.Minute, 10*time.Minute, 50)

	requeued, failed, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if requeued != 2 || failed != 0 {
		t.Fatalf("Sweep() = (%d, %d), want (2, 0)", requeued, failed)
	}
	if len(enqueuer.calls) != 2 {
		t.Fatalf("enqueued %d tasks, want 2", len(enqueuer.calls))
	}
	seen := make(map[string]bool)
	for _, call := range enqueuer.calls {
		if call.topic != "webhook_attempts" {
			t.Errorf("topic = %s", call.topic)
		}
		// Re-enqueues must not reuse the delivery ID as their key, or the
		// runtime could drop them as duplicates of the lost first enqueue.
		if call.idempotencyKey == call.deliveryID {
			t.Errorf("re-enqueue of %s reused the delivery ID as idempotency key", call.deliveryID)
		}
		if _, err := uuid.Parse(call.idempotencyKey); err != nil {
			t.Errorf("idempotency key %q is not a uuid", call.idempotencyKey)
		}
		if seen[call.idempotencyKey] {
			t.Errorf("idempotency key %q minted twice", call.idempotencyKey)
		}
		seen[call.idempotencyKey] = true
	}
	if len(ledger.abandoned) != 0 {
		t.Errorf("abandoned %d deliveries with budget remaining", len(ledger.abandoned))
	}
}

func TestSweepAbandonsExhausted(t *testing.T) {
	policy := delivery.DefaultRetryPolicy()
	ledger := &memLedger{stuck: []*delivery.Delivery{
		stuckDelivery("del_exhausted", policy.MaxAttempts),
		stuckDelivery("del_live", policy.MaxAttempts-1),
	}}
	enqueuer := &memEnqueuer{}
	r := New(ledger, enqueuer, "webhook_attempts", policy, time.Minute, 10*time.Minute, 50)

	requeued, failed, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if requeued != 1 || failed != 1 {
		t.Fatalf("Sweep() = (%d, %d), want (1, 1)", requeued, failed)
	}
	reason, ok := ledger.abandoned["del_exhausted"]
	if !ok {
		t.Fatal("exhausted delivery not abandoned")
	}
	if reason == "" {
		t.Error("abandon reason empty")
	}
	for _, call := range enqueuer.calls {
		if call.deliveryID == "del_exhausted" {
			t.Error("exhausted delivery re-enqueued")
		}
	}
}

func TestSweepContinuesPastEnqueueFailure(t *testing.T) {
	ledger := &memLedger{stuck: []*delivery.Delivery{
		stuckDelivery("del_1", 1),
		stuckDelivery("del_2", 1),
	}}
	enqueuer := &memEnqueuer{failFor: map[string]bool{"del_1": true}}
	r := New(ledger, enqueuer, "webhook_attempts", delivery.DefaultRetryPolicy(), time.Minute, 10*time.Minute, 50)

	requeued, failed, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if requeued != 1 || failed != 0 {
		t.Fatalf("Sweep() = (%d, %d), want (1, 0)", requeued, failed)
	}
	if len(enqueuer.calls) != 1 || enqueuer.calls[0].deliveryID != "del_2" {
		t.Errorf("expected del_2 to be re-enqueued despite del_1 failure")
	}
}

func TestSweepHonorsBatchSize(t *testing.T) {
	ledger := &memLedger{}
	for i := 0; i < 80; i++ {
		ledger.stuck = append(ledger.stuck, stuckDelivery(uuid.New().String(), 1))
	}
	enqueuer := &memEnqueuer{}
	r := New(ledger, enqueuer, "webhook_attempts", delivery.DefaultRetryPolicy(), time.Minute, 10*time.Minute, 50)

	requeued, _, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if requeued != 50 {
		t.Fatalf("requeued = %d, want batch size 50", requeued)
	}
}

func TestSweepPropagatesQueryError(t *testing.T) {
	ledger := &memLedger{findErr: errors.New("connection reset")}
	r := New(ledger, &memEnqueuer{}, "webhook_attempts", delivery.DefaultRetryPolicy(), time.Minute, 10*time.Minute, 50)

	if _, _, err := r.Sweep(context.Background()); err == nil {
		t.Fatal("Sweep() returned nil error on ledger query failure")
	}
}
