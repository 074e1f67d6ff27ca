package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/paystrand/hookrelay/internal/delivery"
	"github.com/paystrand/hookrelay/internal/endpoint"
	"github.com/paystrand/hookrelay/internal/event"
)

type memEvents struct {
	created []*event.Event
}

func (s *memEvents) Create(ctx context.Context, tenantID, eventType, resource, resourceID string, payload map[string]any) (*event.Event, error) {
	ev := &event.Event{
		ID:         fmt.Sprintf("evt_%d", len(s.created)+1),
		TenantID:   tenantID,
		Type:       eventType,
		Resource:   resource,
		ResourceID: resourceID,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
	s.created = append(s.created, ev)
	return ev, nil
}

func (s *memEvents) Get(ctx context.Context, id string) (*event.Event, error) {
	for _, ev := range s.created {
		if ev.ID == id {
			return ev, nil
		}
	}
	return nil, errors.New("not found")
}

type memRegistry struct {
	endpoints []*endpoint.Endpoint
}

func (r *memRegistry) FindMatching(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	var out []*endpoint.Endpoint
	for _, ep := range r.endpoints {
		if ep.TenantID == tenantID && ep.Enabled && ep.SubscribesTo(eventType) {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (r *memRegistry) Get(ctx context.Context, id string) (*endpoint.Endpoint, error) {
	for _, ep := range r.endpoints {
		if ep.ID == id {
			return ep, nil
		}
	}
	return nil, errors.New("not found")
}

type memLedger struct {
	created []*delivery.Delivery
}

func (l *memLedger) Create(ctx context.Context, endpointID, eventID string, nextAttemptAt time.Time) (*delivery.Delivery, error) {
	d := &delivery.Delivery{
		ID:            fmt.Sprintf("del_%d", len(l.created)+1),
		EndpointID:    endpointID,
		EventID:       eventID,
		Status:        delivery.StatusPending,
		NextAttemptAt: &nextAttemptAt,
	}
	l.created = append(l.created, d)
	return d, nil
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
	return errors.New("not implemented")
}
func (l *memLedger) FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]*delivery.Delivery, error) {
	return nil, nil
}

type enqueueCall struct {
	deliveryID     string
	idempotencyKey string
	topic          string
}

type memEnqueuer struct {
	calls []enqueueCall
	fail  bool
}

func (q *memEnqueuer) Enqueue(ctx context.Context, deliveryID, idempotencyKey, topic string) error {
	if q.fail {
		return errors.New("nsqd unreachable")
	}
	q.calls = append(q.calls, enqueueCall{deliveryID, idempotencyKey, topic})
	return nil
}

func subscriber(id, tenant string, types []string, categoryFilter string, resourceFilters []string) *endpoint.Endpoint {
	return &endpoint.Endpoint{
		ID:              id,
		TenantID:        tenant,
		URL:             "https://example.com/" + id,
		Secret:          "whsec_" + id,
		Enabled:         true,
		EventTypes:      types,
		CategoryFilter:  categoryFilter,
		ResourceFilters: resourceFilters,
	}
}

func TestDispatchFanout(t *testing.T) {
	events := &memEvents{}
	registry := &memRegistry{endpoints: []*endpoint.Endpoint{
		subscriber("ep_a", "tenant_1", []string{"invoice.created"}, "", nil),
		subscriber("ep_b", "tenant_1", []string{"invoice.created", "invoice.paid"}, "", nil),
		subscriber("ep_other_type", "tenant_1", []string{"invoice.paid"}, "", nil),
		subscriber("ep_other_tenant", "tenant_2", []string{"invoice.created"}, "", nil),
	}}
	ledger := &memLedger{}
	enqueuer := &memEnqueuer{}

	d := New(events, registry, ledger, enqueuer, "webhook_attempts")
	ev, created, err := d.Dispatch(context.Background(), Input{
		TenantID:   "tenant_1",
		Type:       "invoice.created",
		Resource:   "invoice",
		ResourceID: "inv_1",
		Payload:    map[string]any{"total": 4200.0},
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if ev == nil || ev.ID == "" {
		t.Fatal("event not persisted")
	}
	if len(created) != 2 {
		t.Fatalf("fanout = %d deliveries, want 2", len(created))
	}
	for _, del := range created {
		if del.EventID != ev.ID {
			t.Errorf("delivery %s bound to event %s, want %s", del.ID, del.EventID, ev.ID)
		}
		if del.Status != delivery.StatusPending {
			t.Errorf("delivery %s status = %s, want pending", del.ID, del.Status)
		}
	}
	if len(enqueuer.calls) != 2 {
		t.Fatalf("enqueued %d tasks, want 2", len(enqueuer.calls))
	}
	for i, call := range enqueuer.calls {
		if call.deliveryID != created[i].ID {
			t.Errorf("enqueue %d delivery = %s, want %s", i, call.deliveryID, created[i].ID)
		}
		if call.idempotencyKey != created[i].ID {
			t.Errorf("first enqueue idempotency key = %s, want the delivery ID", call.idempotencyKey)
		}
		if call.topic != "webhook_attempts" {
			t.Errorf("topic = %s", call.topic)
		}
	}
}

func TestDispatchResourceFilterExclusion(t *testing.T) {
	events := &memEvents{}
	registry := &memRegistry{endpoints: []*endpoint.Endpoint{
		subscriber("ep_all", "tenant_1", []string{"invoice.created"}, "", nil),
		subscriber("ep_filtered_in", "tenant_1", []string{"invoice.created"}, "invoice", []string{"inv_1", "inv_2"}),
		subscriber("ep_filtered_out", "tenant_1", []string{"invoice.created"}, "invoice", []string{"inv_99"}),
	}}
	ledger := &memLedger{}
	enqueuer := &memEnqueuer{}

	d := New(events, registry, ledger, enqueuer, "webhook_attempts")
	_, created, err := d.Dispatch(context.Background(), Input{
		TenantID:   "tenant_1",
		Type:       "invoice.created",
		Resource:   "invoice",
		ResourceID: "inv_1",
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("fanout = %d deliveries, want 2 (filtered endpoint silently excluded)", len(created))
	}
	for _, del := range created {
		if del.EndpointID == "ep_filtered_out" {
			t.Error("delivery created for endpoint excluded by resource filter")
		}
	}
}

func TestDispatchZeroSubscribers(t *testing.T) {
	events := &memEvents{}
	d := New(events, &memRegistry{}, &memLedger{}, &memEnqueuer{}, "webhook_attempts")

	ev, created, err := d.Dispatch(context.Background(), Input{
		TenantID: "tenant_1",
		Type:     "invoice.created",
	})
	if err != nil {
		t.Fatalf("Dispatch() with zero subscribers errored: %v", err)
	}
	if ev == nil {
		t.Fatal("event must still be persisted with zero subscribers")
	}
	if len(created) != 0 {
		t.Fatalf("fanout = %d, want 0", len(created))
	}
}

func TestDispatchEnqueueFailureKeepsLedgerRow(t *testing.T) {
	events := &memEvents{}
	registry := &memRegistry{endpoints: []*endpoint.Endpoint{
		subscriber("ep_a", "tenant_1", []string{"invoice.created"}, "", nil),
	}}
	ledger := &memLedger{}
	enqueuer := &memEnqueuer{fail: true}

	d := New(events, registry, ledger, enqueuer, "webhook_attempts")
	_, created, err := d.Dispatch(context.Background(), Input{
		TenantID: "tenant_1",
		Type:     "invoice.created",
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("fanout = %d, want 1", len(created))
	}
	if len(ledger.created) != 1 {
		t.Fatal("ledger row rolled back on enqueue failure; reconciler can never find it")
	}
}

func TestInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		wantErr bool
	}{
		{"complete", Input{TenantID: "t", Type: "invoice.created"}, false},
		{"missing tenant", Input{Type: "invoice.created"}, true},
		{"missing type", Input{TenantID: "t"}, true},
		{"empty", Input{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
