// Package queue is the boundary to the execution runtime that invokes
// delivery attempts. Enqueue is fire-and-forget: the ledger, not the queue,
// is the source of truth for retry state, and the stuck-delivery reconciler
// recovers anything the queue loses.
package queue

import (
	"context"
	"encoding/json"

	"github.com/nsqio/go-nsq"

	"github.com/paystrand/hookrelay/internal/tracing"
)

// Task is the message envelope published for one delivery attempt. It
// deliberately carries no payload or endpoint data: the worker re-reads the
// ledger so a stale envelope can never overwrite fresher state.
type Task struct {
	DeliveryID     string            `json:"delivery_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	TraceHeaders   map[string]string `json:"trace_headers,omitempty"`
}

// Enqueuer schedules a delivery attempt with the execution runtime.
type Enqueuer interface {
	Enqueue(ctx context.Context, deliveryID, idempotencyKey, topic string) error
}

// NSQEnqueuer publishes tasks to an nsqd instance.
type NSQEnqueuer struct {
	producer *nsq.Producer
}

// NewNSQEnqueuer connects a producer to the given nsqd TCP address.
func NewNSQEnqueuer(nsqdTCPAddr string) (*NSQEnqueuer, error) {
	prod, err := nsq.NewProducer(nsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, err
	}
	return &NSQEnqueuer{producer: prod}, nil
}

// Enqueue publishes a Task for the delivery, propagating trace context
// through the envelope headers.
func (e *NSQEnqueuer) Enqueue(ctx context.Context, deliveryID, idempotencyKey, topic string) error {
	t := Task{
		DeliveryID:     deliveryID,
		IdempotencyKey: idempotencyKey,
		TraceHeaders:   tracing.InjectCarrier(ctx),
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return e.producer.Publish(topic, b)
}

// Stop flushes and stops the underlying producer.
func (e *NSQEnqueuer) Stop() {
	e.producer.Stop()
}
