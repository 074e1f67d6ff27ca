// Package dispatch fans a domain event out to every matching endpoint,
// creating one ledger row per endpoint and scheduling the first attempt.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/paystrand/hookrelay/internal/delivery"
	"github.com/paystrand/hookrelay/internal/endpoint"
	"github.com/paystrand/hookrelay/internal/event"
	"github.com/paystrand/hookrelay/internal/logging"
	"github.com/paystrand/hookrelay/internal/metrics"
	"github.com/paystrand/hookrelay/internal/queue"
	"github.com/paystrand/hookrelay/internal/tracing"
)

// Input is the narrow emit surface the event source calls. The dispatcher
// does not deduplicate events; only deliveries are idempotent downstream.
type Input struct {
	TenantID   string         `json:"tenant_id"`
	Type       string         `json:"type"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Payload    map[string]any `json:"payload"`
}

// Validate checks the required fields.
func (in Input) Validate() error {
	if in.TenantID == "" || in.Type == "" {
		return fmt.Errorf("tenant_id and type are required")
	}
	return nil
}

// Dispatcher persists events and fans them out.
type Dispatcher struct {
	events    event.Store
	endpoints endpoint.Registry
	ledger    delivery.Ledger
	enqueuer  queue.Enqueuer
	topic     string
	logger    *logging.Logger
	now       func() time.Time
}

// New builds a Dispatcher publishing attempt tasks to the given topic.
func New(events event.Store, endpoints endpoint.Registry, ledger delivery.Ledger, enqueuer queue.Enqueuer, topic string) *Dispatcher {
	return &Dispatcher{
		events:    events,
		endpoints: endpoints,
		ledger:    ledger,
		enqueuer:  enqueuer,
		topic:     topic,
		logger:    logging.New("hookrelay-dispatcher"),
		now:       time.Now,
	}
}

// Dispatch persists the event and creates one PENDING delivery per matching
// enabled endpoint. Zero subscribers is a valid outcome. An enqueue failure
// is logged but never rolls back the ledger row; the stuck-delivery
// reconciler exists precisely to pick those up.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) (*event.Event, []*delivery.Delivery, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch.event",
		attribute.String("tenant_id", in.TenantID),
		attribute.String("event_type", in.Type),
	)
	defer span.End()

	if err := in.Validate(); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, nil, err
	}

	ev, err := d.events.Create(ctx, in.TenantID, in.Type, in.Resource, in.ResourceID, in.Payload)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, nil, fmt.Errorf("create event: %w", err)
	}
	span.SetAttributes(attribute.String("event_id", ev.ID))

	eps, err := d.endpoints.FindMatching(ctx, in.TenantID, in.Type)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, nil, fmt.Errorf("find endpoints: %w", err)
	}

	var created []*delivery.Delivery
	for _, ep := range eps {
		if !ep.AllowsResource(ev.ResourceID) {
			// Silent exclusion: not an error, just invisible to this endpoint.
			metrics.RecordFiltered(in.TenantID)
			d.logger.WithContext(ctx).WithEvent(ev.ID).WithEndpoint(ep.ID).
				WithField("resource_id", ev.ResourceID).Debug("endpoint excluded by resource filter")
			continue
		}

		del, err := d.ledger.Create(ctx, ep.ID, ev.ID, d.now())
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return ev, created, fmt.Errorf("create delivery: %w", err)
		}
		created = append(created, del)

		// First enqueue uses the delivery ID as its idempotency key; the
		// reconciler mints fresh keys for re-enqueues.
		if err := d.enqueuer.Enqueue(ctx, del.ID, del.ID, d.topic); err != nil {
			tracing.SetSpanError(ctx, err)
			d.logger.WithContext(ctx).WithDelivery(del.ID).WithError(err).
				Error("enqueue failed, reconciler will recover")
		}
	}

	metrics.RecordDispatch(in.TenantID)
	span.SetAttributes(attribute.Int("fanout_count", len(created)))
	d.logger.WithContext(ctx).WithTenant(in.TenantID).WithEvent(ev.ID).
		WithField("fanout", len(created)).Info("event dispatched")
	return ev, created, nil
}
