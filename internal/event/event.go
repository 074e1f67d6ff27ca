package event

import (
	"context"
	"time"
)

// Event is an immutable record that something happened in the domain. It is
// the unit fanned out to subscriber endpoints and is never mutated after
// creation.
type Event struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Type       string         `json:"type"` // dot-namespaced, e.g. payment.transaction.succeeded
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Store is the append-only event record.
type Store interface {
	// Create persists a new event and returns it with ID and CreatedAt set.
	Create(ctx context.Context, tenantID, eventType, resource, resourceID string, payload map[string]any) (*Event, error)
	// Get returns the event with the given ID.
	Get(ctx context.Context, id string) (*Event, error)
}
