package roomrelay

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Namespace represents a Socket.IO namespace
type Namespace struct {
	name      string
	server    *Server
	adapter   Adapter
	sockets   map[string]*Socket
	mu        sync.RWMutex
	onConnect func(*Socket)
	log       zerolog.Logger
}

// NewNamespace creates a namespace. The adapter comes from the server's
// factory, or is a MemoryAdapter when none is configured.
func NewNamespace(name string, server *Server) *Namespace {
	ns := &Namespace{
		name:    name,
		server:  server,
		sockets: make(map[string]*Socket),
		log:     server.log.With().Str("nsp", name).Logger(),
	}

	if server.adapterFactory != nil {
		ns.adapter = server.adapterFactory(ns)
	} else {
		ns.adapter = NewMemoryAdapter(ns)
	}

	return ns
}

// Name returns the namespace name
func (ns *Namespace) Name() string {
	return ns.name
}

// Adapter returns the room adapter of this namespace.
func (ns *Namespace) Adapter() Adapter {
	return ns.adapter
}

// Logger returns the namespace logger.
func (ns *Namespace) Logger() zerolog.Logger {
	return ns.log
}

// OnConnect sets the connection handler for this namespace. It runs on the
// new socket's event worker before any of its events.
func (ns *Namespace) OnConnect(handler func(*Socket)) {
	ns.mu.Lock()
	ns.onConnect = handler
	ns.mu.Unlock()
}

// To returns a BroadcastOperator for emitting to specific rooms
func (ns *Namespace) To(rooms ...string) *BroadcastOperator {
	return &BroadcastOperator{
		namespace: ns,
		rooms:     rooms,
	}
}

// Emit broadcasts an event to all sockets in the namespace
func (ns *Namespace) Emit(event string, data ...any) error {
	return ns.To().Emit(event, data...)
}

// Members lists the socket IDs in a room across every process sharing the adapter.
func (ns *Namespace) Members(ctx context.Context, room string) ([]string, error) {
	return ns.adapter.Sockets(ctx, room)
}

// Sockets returns all connected sockets
func (ns *Namespace) Sockets() []*Socket {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	sockets := make([]*Socket, 0, len(ns.sockets))
	for _, socket := range ns.sockets {
		sockets = append(sockets, socket)
	}
	return sockets
}

// GetSocket retrieves a socket by ID
func (ns *Namespace) GetSocket(id string) (*Socket, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	socket, ok := ns.sockets[id]
	return socket, ok
}

// SetAdapter replaces the adapter. It must be called before the namespace
// accepts connections.
func (ns *Namespace) SetAdapter(adapter Adapter) {
	ns.adapter = adapter
}

func (ns *Namespace) addSocket(c *client, auth any) *Socket {
	socket := newSocket(uuid.NewString(), c, ns, auth)

	ns.mu.Lock()
	ns.sockets[socket.ID()] = socket
	handler := ns.onConnect
	ns.mu.Unlock()

	// Every socket is a member of its own room so it can be addressed
	// directly from any process.
	if err := socket.Join(socket.Context(), socket.ID()); err != nil {
		ns.log.Error().Err(err).Str("sid", socket.ID()).Msg("join own room")
	}

	socket.sendPacket(&Packet{
		Type:      PacketTypeConnect,
		Namespace: ns.name,
		Data:      map[string]any{"sid": socket.ID()},
	})

	socket.start()
	if handler != nil {
		socket.enqueue(func() { handler(socket) })
	}

	ns.log.Debug().Str("sid", socket.ID()).Msg("socket connected")
	return socket
}

// isSocketRoom reports whether room is the own room of a live socket on any
// process. Every socket is the first member of the room named after it.
func (ns *Namespace) isSocketRoom(ctx context.Context, room string) (bool, error) {
	if _, ok := ns.GetSocket(room); ok {
		return true, nil
	}
	members, err := ns.adapter.Sockets(ctx, room)
	if err != nil {
		return false, err
	}
	return slices.Contains(members, room), nil
}

// drain waits until every socket of the namespace has been torn down.
func (ns *Namespace) drain(ctx context.Context) error {
	for _, socket := range ns.Sockets() {
		select {
		case <-socket.Context().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (ns *Namespace) removeSocket(id string) {
	ns.mu.Lock()
	delete(ns.sockets, id)
	ns.mu.Unlock()
}

// BroadcastOperator provides methods for broadcasting to specific rooms
type BroadcastOperator struct {
	namespace *Namespace
	rooms     []string
	except    []string
}

// To adds rooms to broadcast to
func (b *BroadcastOperator) To(rooms ...string) *BroadcastOperator {
	b.rooms = append(b.rooms, rooms...)
	return b
}

// Except excludes specific socket IDs from the broadcast
func (b *BroadcastOperator) Except(socketIDs ...string) *BroadcastOperator {
	b.except = append(b.except, socketIDs...)
	return b
}

// Emit broadcasts an event
func (b *BroadcastOperator) Emit(event string, data ...any) error {
	packet := EventPacket(b.namespace.name, event, data...)
	return b.namespace.adapter.Broadcast(packet, b.rooms, b.except)
}
