// Package store holds the pgx-backed implementations of the event store,
// endpoint registry, and delivery ledger interfaces.
package store

import "errors"

// ErrNotFound is returned when a row does not exist. Callers treat this as a
// fatal programming error for deliveries, endpoints, and events: this
// subsystem is never invoked with IDs it did not hand out.
var ErrNotFound = errors.New("not found")
