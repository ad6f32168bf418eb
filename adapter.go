package roomrelay

import "context"

// Adapter stores room membership for one namespace and fans packets out to it.
//
// Membership calls may cross a network boundary, so they take a context and
// report failures. Broadcast is fire-and-forget: it returns once the packet
// has been handed off and never waits for receivers.
type Adapter interface {
	// Add adds a socket to a room. Adding twice is a no-op.
	Add(ctx context.Context, socketID, room string) error

	// Remove removes a socket from a room. Removing an absent member is a no-op.
	Remove(ctx context.Context, socketID, room string) error

	// RemoveAll removes a socket from every room it joined.
	RemoveAll(ctx context.Context, socketID string) error

	// Sockets returns a snapshot of the socket IDs in a room.
	Sockets(ctx context.Context, room string) ([]string, error)

	// SocketRooms returns the rooms a locally held socket is in.
	SocketRooms(socketID string) []string

	// Broadcast sends a packet to every member of rooms except the excluded
	// sockets. With no rooms it targets every socket in the namespace.
	Broadcast(packet *Packet, rooms []string, except []string) error

	// Close releases the adapter's resources.
	Close() error
}

// AdapterFactory builds the adapter for a newly created namespace.
type AdapterFactory func(ns *Namespace) Adapter
