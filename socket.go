package roomrelay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ramory-l/roomrelay/engineio"
)

const inboxSize = 64

// ErrReservedRoom is returned when joining a room that belongs to a socket.
var ErrReservedRoom = errors.New("room is reserved for a socket")

// Socket is one client's attachment to a namespace.
//
// Event handlers, the connect handler and disconnect handlers all run on the
// socket's own worker goroutine, one at a time, in arrival order. Handlers of
// different sockets run concurrently.
type Socket struct {
	id        string
	client    *client
	namespace *Namespace
	auth      any
	log       zerolog.Logger

	rooms   map[string]struct{}
	roomsMu sync.RWMutex

	handlers   map[string][]EventHandler
	handlersMu sync.RWMutex

	ackID       atomic.Int64
	ackHandlers sync.Map
	data        sync.Map

	onDisconnect []func(string)
	disconnectMu sync.RWMutex

	inbox     chan func()
	closing   chan struct{}
	closeOnce sync.Once
	reason    string

	ctx    context.Context
	cancel context.CancelFunc
}

// EventHandler handles Socket.IO events. When the client asked for an
// acknowledgment the last argument is a func(...any).
type EventHandler func(...any)

// AckHandler handles acknowledgment responses
type AckHandler func(...any)

func newSocket(id string, c *client, ns *Namespace, auth any) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		id:        id,
		client:    c,
		namespace: ns,
		auth:      auth,
		log:       ns.log.With().Str("sid", id).Logger(),
		rooms:     make(map[string]struct{}),
		handlers:  make(map[string][]EventHandler),
		inbox:     make(chan func(), inboxSize),
		closing:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ID returns the socket ID
func (s *Socket) ID() string {
	return s.id
}

// Namespace returns the namespace the socket is attached to.
func (s *Socket) Namespace() *Namespace {
	return s.namespace
}

// Context is cancelled once the socket has been torn down.
func (s *Socket) Context() context.Context {
	return s.ctx
}

// Query returns the query string of the transport handshake.
func (s *Socket) Query() url.Values {
	return s.client.session.Query()
}

// Auth returns the payload the client sent with its namespace CONNECT.
func (s *Socket) Auth() any {
	return s.auth
}

// Logger returns a logger tagged with the namespace and socket ID.
func (s *Socket) Logger() zerolog.Logger {
	return s.log
}

// Emit sends an event to the client
func (s *Socket) Emit(event string, data ...any) error {
	return s.sendPacket(EventPacket(s.namespace.name, event, data...))
}

// EmitWithAck sends an event and expects an acknowledgment
func (s *Socket) EmitWithAck(event string, ack AckHandler, data ...any) error {
	id := int(s.ackID.Add(1))

	packet := EventPacket(s.namespace.name, event, data...)
	packet.ID = &id

	s.ackHandlers.Store(id, ack)

	return s.sendPacket(packet)
}

// To broadcasts to rooms, leaving this socket out.
func (s *Socket) To(rooms ...string) *BroadcastOperator {
	return s.namespace.To(rooms...).Except(s.id)
}

// On registers an event handler
func (s *Socket) On(event string, handler EventHandler) {
	s.handlersMu.Lock()
	s.handlers[event] = append(s.handlers[event], handler)
	s.handlersMu.Unlock()
}

// Off removes event handlers
func (s *Socket) Off(event string) {
	s.handlersMu.Lock()
	delete(s.handlers, event)
	s.handlersMu.Unlock()
}

// Join adds the socket to a room. The local view only changes when the
// adapter accepted the join. A room named after another live socket of the
// namespace is refused with ErrReservedRoom.
func (s *Socket) Join(ctx context.Context, room string) error {
	if room != s.id {
		owned, err := s.namespace.isSocketRoom(ctx, room)
		if err != nil {
			return err
		}
		if owned {
			return fmt.Errorf("join %s: %w", room, ErrReservedRoom)
		}
	}

	if err := s.namespace.adapter.Add(ctx, s.id, room); err != nil {
		return err
	}

	s.roomsMu.Lock()
	s.rooms[room] = struct{}{}
	s.roomsMu.Unlock()
	return nil
}

// Leave removes the socket from a room
func (s *Socket) Leave(ctx context.Context, room string) error {
	if err := s.namespace.adapter.Remove(ctx, s.id, room); err != nil {
		return err
	}

	s.roomsMu.Lock()
	delete(s.rooms, room)
	s.roomsMu.Unlock()
	return nil
}

// Rooms returns all rooms the socket is in
func (s *Socket) Rooms() []string {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Set stores arbitrary data on the socket
func (s *Socket) Set(key string, value any) {
	s.data.Store(key, value)
}

// Get retrieves data from the socket
func (s *Socket) Get(key string) (any, bool) {
	return s.data.Load(key)
}

// OnDisconnect registers a disconnect handler
func (s *Socket) OnDisconnect(handler func(string)) {
	s.disconnectMu.Lock()
	s.onDisconnect = append(s.onDisconnect, handler)
	s.disconnectMu.Unlock()
}

// Disconnect detaches the socket from its namespace. The transport session
// stays open for the client's other namespaces.
func (s *Socket) Disconnect() {
	s.sendPacket(&Packet{Type: PacketTypeDisconnect, Namespace: s.namespace.name})
	s.close("server namespace disconnect")
}

// SplitAck separates a trailing acknowledgment callback from event arguments.
// The callback is nil when the client did not ask for one.
func SplitAck(args []any) ([]any, func(...any)) {
	if n := len(args); n > 0 {
		if ack, ok := args[n-1].(func(...any)); ok {
			return args[:n-1], ack
		}
	}
	return args, nil
}

func (s *Socket) sendPacket(packet *Packet) error {
	encoded, err := packet.Encode()
	if err != nil {
		return err
	}
	return s.sendRaw(encoded)
}

func (s *Socket) sendRaw(encoded string) error {
	select {
	case <-s.closing:
		return engineio.ErrSessionClosed
	default:
	}

	err := s.client.session.Send(engineio.Message(encoded))
	if err != nil {
		s.log.Debug().Err(err).Msg("send dropped")
	}
	return err
}

func (s *Socket) start() {
	go s.run()
}

func (s *Socket) run() {
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.closing:
			s.teardown()
			return
		}
	}
}

// enqueue schedules fn on the worker. It reports false once the socket is closing.
func (s *Socket) enqueue(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.closing:
		return false
	}
}

func (s *Socket) close(reason string) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.closing)
	})
}

func (s *Socket) teardown() {
	s.disconnectMu.RLock()
	handlers := s.onDisconnect
	s.disconnectMu.RUnlock()

	for _, handler := range handlers {
		handler(s.reason)
	}

	if err := s.namespace.adapter.RemoveAll(s.ctx, s.id); err != nil {
		s.log.Error().Err(err).Msg("leave rooms on disconnect")
	}

	s.roomsMu.Lock()
	s.rooms = make(map[string]struct{})
	s.roomsMu.Unlock()

	// Acks that never arrived will not arrive now.
	s.ackHandlers.Clear()

	s.namespace.removeSocket(s.id)
	s.client.removeSocket(s.namespace.name, s)
	s.cancel()

	s.log.Debug().Str("reason", s.reason).Msg("socket disconnected")
}

func (s *Socket) handleEvent(packet *Packet) {
	event, args, ok := packet.Event()
	if !ok {
		s.log.Debug().Msg("dropping malformed event")
		return
	}

	if packet.ID != nil {
		id := *packet.ID
		args = append(args, func(ackData ...any) {
			if ackData == nil {
				ackData = []any{}
			}
			s.sendPacket(&Packet{
				Type:      PacketTypeAck,
				Namespace: s.namespace.name,
				Data:      ackData,
				ID:        &id,
			})
		})
	}

	s.enqueue(func() {
		s.handlersMu.RLock()
		handlers := s.handlers[event]
		s.handlersMu.RUnlock()

		for _, handler := range handlers {
			handler(args...)
		}
	})
}

func (s *Socket) handleAck(packet *Packet) {
	if packet.ID == nil {
		return
	}

	val, ok := s.ackHandlers.LoadAndDelete(*packet.ID)
	if !ok {
		return
	}

	handler := val.(AckHandler)

	var args []any
	if dataArray, ok := packet.Data.([]any); ok {
		args = dataArray
	}

	s.enqueue(func() { handler(args...) })
}
