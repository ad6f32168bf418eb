package roomrelay

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ramory-l/roomrelay/engineio"
)

// ErrInvalidNamespace is reported to clients connecting to a namespace the
// server does not serve.
var ErrInvalidNamespace = errors.New("invalid namespace")

// client multiplexes the namespace sockets of one Engine.IO session.
type client struct {
	server  *Server
	session *engineio.Session
	log     zerolog.Logger

	mu      sync.Mutex
	sockets map[string]*Socket // namespace -> socket
}

func newClient(server *Server, session *engineio.Session) *client {
	return &client{
		server:  server,
		session: session,
		log:     server.log.With().Str("session", session.ID()).Logger(),
		sockets: make(map[string]*Socket),
	}
}

func (c *client) handleMessage(data []byte) {
	packet, err := DecodePacket(string(data))
	if err != nil {
		c.log.Debug().Err(err).Msg("dropping packet")
		return
	}

	switch packet.Type {
	case PacketTypeConnect:
		c.connect(packet)
	case PacketTypeDisconnect:
		if s := c.socket(packet.Namespace); s != nil {
			s.close("client namespace disconnect")
		}
	case PacketTypeEvent:
		if s := c.socket(packet.Namespace); s != nil {
			s.handleEvent(packet)
		}
	case PacketTypeAck:
		if s := c.socket(packet.Namespace); s != nil {
			s.handleAck(packet)
		}
	default:
		c.log.Debug().Stringer("type", packet.Type).Msg("unsupported packet")
	}
}

func (c *client) connect(packet *Packet) {
	ns, ok := c.server.lookup(packet.Namespace)
	if !ok {
		c.log.Debug().Err(ErrInvalidNamespace).Str("nsp", packet.Namespace).Msg("connect refused")
		c.sendError(packet.Namespace, "Invalid namespace")
		return
	}

	c.mu.Lock()
	if _, exists := c.sockets[ns.name]; exists {
		c.mu.Unlock()
		return
	}
	// Reserve the slot so a duplicate CONNECT cannot race the setup below.
	c.sockets[ns.name] = nil
	c.mu.Unlock()

	socket := ns.addSocket(c, packet.Data)

	c.mu.Lock()
	c.sockets[ns.name] = socket
	c.mu.Unlock()

	// The session may have closed while the socket was being set up, in
	// which case handleClose skipped the reserved slot.
	select {
	case <-c.session.Done():
		socket.close("transport close")
	default:
	}
}

func (c *client) sendError(namespace, message string) {
	p := &Packet{
		Type:      PacketTypeConnectError,
		Namespace: namespace,
		Data:      map[string]any{"message": message},
	}
	encoded, encErr := p.Encode()
	if encErr != nil {
		return
	}
	c.session.Send(engineio.Message(encoded))
}

func (c *client) socket(namespace string) *Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sockets[namespace]
}

func (c *client) removeSocket(namespace string, s *Socket) {
	c.mu.Lock()
	if c.sockets[namespace] == s {
		delete(c.sockets, namespace)
	}
	c.mu.Unlock()
}

func (c *client) handleClose(reason string) {
	c.mu.Lock()
	sockets := make([]*Socket, 0, len(c.sockets))
	for _, s := range c.sockets {
		if s != nil {
			sockets = append(sockets, s)
		}
	}
	c.mu.Unlock()

	for _, s := range sockets {
		s.close(reason)
	}
}
