// Package remote defines the client for the authoritative backend and a
// JSON-over-HTTP implementation of it.
package remote

import (
	"context"
	"encoding/json"
)

// DTO is an entity as the server represents it: the server-assigned
// identifier plus the full JSON object the server returned. The payload is
// opaque to the sync core.
type DTO struct {
	ID      string
	Payload json.RawMessage
}

// Client exposes create/read/update/delete against the authoritative
// backend. Every call can fail with a NETWORK_FAILURE (no connection,
// timeout) or SERVER_FAILURE (4xx/5xx, carrying the status code) from the
// syncerrors package; context cancellation is propagated as-is.
type Client interface {
	// FetchAll returns every entity the server knows about.
	FetchAll(ctx context.Context) ([]DTO, error)

	// FetchByID returns one entity by its server id.
	FetchByID(ctx context.Context, serverID string) (*DTO, error)

	// Create stores a new entity and returns it with the assigned server id.
	Create(ctx context.Context, payload json.RawMessage) (*DTO, error)

	// Update overwrites an existing entity.
	Update(ctx context.Context, serverID string, payload json.RawMessage) (*DTO, error)

	// Delete removes an entity by its server id.
	Delete(ctx context.Context, serverID string) error
}
