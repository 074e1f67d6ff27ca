package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paystrand/hookrelay/internal/endpoint"
)

// EndpointRegistry is the pgx implementation of endpoint.Registry. This
// subsystem only reads endpoints; writes belong to the management surface.
type EndpointRegistry struct {
	pool *pgxpool.Pool
}

func NewEndpointRegistry(pool *pgxpool.Pool) *EndpointRegistry {
	return &EndpointRegistry{pool: pool}
}

func (r *EndpointRegistry) FindMatching(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, url, secret, enabled, event_types, category_filter, resource_filters
		FROM hookrelay.endpoints
		WHERE tenant_id = $1 AND enabled = true AND $2 = ANY(event_types)`,
		tenantID, eventType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*endpoint.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (r *EndpointRegistry) Get(ctx context.Context, id string) (*endpoint.Endpoint, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, url, secret, enabled, event_types, category_filter, resource_filters
		FROM hookrelay.endpoints
		WHERE id = $1`, id,
	)
	ep, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("endpoint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return ep, nil
}

func scanEndpoint(row pgx.Row) (*endpoint.Endpoint, error) {
	var (
		ep             endpoint.Endpoint
		categoryFilter *string
	)
	if err := row.Scan(&ep.ID, &ep.TenantID, &ep.URL, &ep.Secret, &ep.Enabled,
		&ep.EventTypes, &categoryFilter, &ep.ResourceFilters); err != nil {
		return nil, err
	}
	if categoryFilter != nil {
		ep.CategoryFilter = *categoryFilter
	}
	return &ep, nil
}
