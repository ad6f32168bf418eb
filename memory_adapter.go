package roomrelay

import (
	"context"
	"sync"
)

// MemoryAdapter keeps membership in process memory. It only sees sockets held
// by this process, which makes it the adapter of a single-node deployment and
// the local index underneath a distributed one.
type MemoryAdapter struct {
	rooms       map[string]map[string]struct{} // room -> socketIDs
	socketRooms map[string]map[string]struct{} // socketID -> rooms
	mu          sync.RWMutex
	namespace   *Namespace
}

// NewMemoryAdapter creates a new in-memory adapter
func NewMemoryAdapter(namespace *Namespace) *MemoryAdapter {
	return &MemoryAdapter{
		rooms:       make(map[string]map[string]struct{}),
		socketRooms: make(map[string]map[string]struct{}),
		namespace:   namespace,
	}
}

// Add adds a socket to a room
func (a *MemoryAdapter) Add(_ context.Context, socketID, room string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rooms[room] == nil {
		a.rooms[room] = make(map[string]struct{})
	}
	a.rooms[room][socketID] = struct{}{}

	if a.socketRooms[socketID] == nil {
		a.socketRooms[socketID] = make(map[string]struct{})
	}
	a.socketRooms[socketID][room] = struct{}{}
	return nil
}

// Remove removes a socket from a room
func (a *MemoryAdapter) Remove(_ context.Context, socketID, room string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.removeLocked(socketID, room)
	return nil
}

// RemoveAll removes a socket from all rooms
func (a *MemoryAdapter) RemoveAll(_ context.Context, socketID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for room := range a.socketRooms[socketID] {
		a.removeLocked(socketID, room)
	}
	delete(a.socketRooms, socketID)
	return nil
}

func (a *MemoryAdapter) removeLocked(socketID, room string) {
	if members := a.rooms[room]; members != nil {
		delete(members, socketID)
		if len(members) == 0 {
			delete(a.rooms, room)
		}
	}
	if rooms := a.socketRooms[socketID]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(a.socketRooms, socketID)
		}
	}
}

// Sockets returns all socket IDs in a room
func (a *MemoryAdapter) Sockets(_ context.Context, room string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	members := a.rooms[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out, nil
}

// SocketRooms returns all rooms a socket is in
func (a *MemoryAdapter) SocketRooms(socketID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rooms := a.socketRooms[socketID]
	out := make([]string, 0, len(rooms))
	for room := range rooms {
		out = append(out, room)
	}
	return out
}

// Broadcast delivers a packet to the local members of rooms.
func (a *MemoryAdapter) Broadcast(packet *Packet, rooms []string, except []string) error {
	encoded, err := packet.Encode()
	if err != nil {
		return err
	}

	excluded := make(map[string]struct{}, len(except))
	for _, id := range except {
		excluded[id] = struct{}{}
	}

	targets := make(map[string]struct{})
	if len(rooms) == 0 {
		for _, s := range a.namespace.Sockets() {
			if _, skip := excluded[s.ID()]; !skip {
				targets[s.ID()] = struct{}{}
			}
		}
	} else {
		a.mu.RLock()
		for _, room := range rooms {
			for id := range a.rooms[room] {
				if _, skip := excluded[id]; !skip {
					targets[id] = struct{}{}
				}
			}
		}
		a.mu.RUnlock()
	}

	for id := range targets {
		if s, ok := a.namespace.GetSocket(id); ok {
			s.sendRaw(encoded)
		}
	}
	return nil
}

// Close cleans up the adapter
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rooms = make(map[string]map[string]struct{})
	a.socketRooms = make(map[string]map[string]struct{})
	return nil
}
