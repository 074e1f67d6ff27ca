package endpoint

import (
	"context"
	"strings"
)

// Endpoint is a tenant-configured subscriber URL plus its signing secret and
// filters. This subsystem only ever reads endpoints; management lives
// elsewhere.
type Endpoint struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	URL      string `json:"url"`
	// Secret is the HMAC signing key. Never logged, never serialized.
	Secret  string `json:"-"`
	Enabled bool   `json:"enabled"`
	// EventTypes is the set of event types this endpoint subscribes to.
	EventTypes []string `json:"event_types"`
	// CategoryFilter optionally narrows the endpoint to one resource
	// category, e.g. "products".
	CategoryFilter string `json:"category_filter,omitempty"`
	// ResourceFilters is an allow-list of resource IDs, applied only when
	// CategoryFilter is set.
	ResourceFilters []string `json:"resource_filters,omitempty"`
}

// SubscribesTo reports whether the endpoint's event-type set contains typ.
func (e *Endpoint) SubscribesTo(typ string) bool {
	for _, t := range e.EventTypes {
		if t == typ {
			return true
		}
	}
	return false
}

// AllowsResource applies the optional category/resource filter. An endpoint
// with no category filter, or with an empty allow-list, accepts everything.
// A filter miss is a silent exclusion, not an error.
func (e *Endpoint) AllowsResource(resourceID string) bool {
	if e.CategoryFilter == "" || len(e.ResourceFilters) == 0 {
		return true
	}
	for _, id := range e.ResourceFilters {
		if id == resourceID {
			return true
		}
	}
	return false
}

// IsHTTPS reports whether the endpoint URL uses the required https scheme.
func (e *Endpoint) IsHTTPS() bool {
	return strings.HasPrefix(e.URL, "https://")
}

// Registry is the read side of the tenant-scoped endpoint set.
type Registry interface {
	// FindMatching returns enabled endpoints for the tenant whose event-type
	// set contains eventType. Category/resource filtering is applied by the
	// caller, which has the event payload in hand.
	FindMatching(ctx context.Context, tenantID, eventType string) ([]*Endpoint, error)
	// Get returns the endpoint with the given ID.
	Get(ctx context.Context, id string) (*Endpoint, error)
}
