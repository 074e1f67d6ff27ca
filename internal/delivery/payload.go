package delivery

import (
	"encoding/json"
	"time"

	"github.com/paystrand/hookrelay/internal/event"
)

// Wire protocol constants. Header names and the spec version are part of the
// receiver contract and must not drift between releases.
const (
	SpecVersion = "1.0"
	UserAgent   = "Paystrand-Webhooks/1.0"

	HeaderID          = "X-Webhook-Id"
	HeaderEvent       = "X-Webhook-Event"
	HeaderSignature   = "X-Webhook-Signature"
	HeaderTimestamp   = "X-Webhook-Timestamp"
	HeaderSpecVersion = "X-Webhook-Spec-Version"

	// MaxPayloadBytes caps the serialized request body. Oversized payloads
	// can never succeed on retry, so they fail terminally.
	MaxPayloadBytes = 1 << 20
)

// Payload is the JSON document POSTed to a subscriber endpoint. The receiver
// deduplicates on IdempotencyKey, which is the event ID for every attempt of
// every delivery of that event.
type Payload struct {
	SpecVersion    string         `json:"specVersion"`
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	CreatedAt      string         `json:"createdAt"` // ISO-8601
	Attempt        int            `json:"attempt"`   // 1-based
	IdempotencyKey string         `json:"idempotencyKey"`
	TenantID       string         `json:"tenantId"`
	Resource       string         `json:"resource"`
	Data           map[string]any `json:"data"`
}

// BuildPayload serializes the wire document for the given attempt number.
// The returned bytes are serialized exactly once; the caller must sign and
// send these same bytes.
func BuildPayload(ev *event.Event, attempt int) ([]byte, error) {
	p := Payload{
		SpecVersion:    SpecVersion,
		ID:             ev.ID,
		Type:           ev.Type,
		CreatedAt:      ev.CreatedAt.UTC().Format(time.RFC3339),
		Attempt:        attempt,
		IdempotencyKey: ev.ID,
		TenantID:       ev.TenantID,
		Resource:       ev.Resource,
		Data:           ev.Payload,
	}
	return json.Marshal(p)
}
