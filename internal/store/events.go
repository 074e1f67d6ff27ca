package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paystrand/hookrelay/internal/event"
)

// EventStore is the pgx implementation of event.Store.
type EventStore struct {
	pool *pgxpool.Pool
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) Create(ctx context.Context, tenantID, eventType, resource, resourceID string, payload map[string]any) (*event.Event, error) {
	// Marshal once, pass as TEXT and cast to ::jsonb in SQL (avoids some
	// driver type ambiguity issues)
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	ev := &event.Event{
		TenantID:   tenantID,
		Type:       eventType,
		Resource:   resource,
		ResourceID: resourceID,
		Payload:    payload,
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO hookrelay.events(tenant_id, event_type, resource, resource_id, payload)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING id, created_at`,
		tenantID, eventType, resource, resourceID, string(payloadJSON),
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *EventStore) Get(ctx context.Context, id string) (*event.Event, error) {
	var (
		ev          event.Event
		payloadJSON []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, event_type, resource, resource_id, payload, created_at
		FROM hookrelay.events
		WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.TenantID, &ev.Type, &ev.Resource, &ev.ResourceID, &payloadJSON, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for event %s: %w", id, err)
		}
	}
	return &ev, nil
}
