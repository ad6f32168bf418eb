// Package presence binds connection IDs to the display names clients
// announce when they join a room.
package presence

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Unknown is the name reported for connections without a binding.
const Unknown = "unknown"

// ErrNotFound is returned by Get for connections without a binding.
var ErrNotFound = errors.New("presence: not found")

// Registry maps (namespace, connection ID) to a display name.
type Registry interface {
	// Set binds name to the connection. A connection keeps the first name it
	// was bound to; later calls leave it unchanged.
	Set(ctx context.Context, namespace, connID, name string) error

	// Get returns the bound name or ErrNotFound.
	Get(ctx context.Context, namespace, connID string) (string, error)

	// GetMany resolves several connections at once, in order. Connections
	// without a binding resolve to Unknown.
	GetMany(ctx context.Context, namespace string, connIDs []string) ([]string, error)

	// Remove drops the binding. Removing a missing binding is not an error.
	Remove(ctx context.Context, namespace, connID string) error
}

// Name resolves a connection's display name, degrading to Unknown on a miss
// or a registry failure.
func Name(ctx context.Context, r Registry, log zerolog.Logger, namespace, connID string) string {
	name, err := r.Get(ctx, namespace, connID)
	switch {
	case errors.Is(err, ErrNotFound):
		return Unknown
	case err != nil:
		log.Error().Err(err).Str("sid", connID).Msg("presence lookup")
		return Unknown
	}
	return name
}

// Names resolves a list of connections, degrading every entry to Unknown if
// the registry fails.
func Names(ctx context.Context, r Registry, log zerolog.Logger, namespace string, connIDs []string) []string {
	names, err := r.GetMany(ctx, namespace, connIDs)
	if err != nil {
		log.Error().Err(err).Int("count", len(connIDs)).Msg("presence batch lookup")
		names = make([]string, len(connIDs))
		for i := range names {
			names[i] = Unknown
		}
	}
	return names
}
