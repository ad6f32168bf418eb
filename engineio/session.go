package engineio

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Session represents an Engine.IO session
type Session struct {
	id       string
	conn     *websocket.Conn
	query    url.Values
	remote   string
	server   *Server
	outgoing chan *Packet

	closeOnce sync.Once
	closed    chan struct{}

	mu        sync.Mutex
	pingTimer *time.Timer
	pongTimer *time.Timer
	onMessage func([]byte)
	onClose   []func(string)
	lastSeen  time.Time
}

// NewSession creates a new Engine.IO session
func NewSession(id string, conn *websocket.Conn, r *http.Request, server *Server) *Session {
	s := &Session{
		id:       id,
		conn:     conn,
		server:   server,
		outgoing: make(chan *Packet, server.config.QueueSize),
		closed:   make(chan struct{}),
		lastSeen: time.Now(),
	}
	if r != nil {
		s.query = r.URL.Query()
		s.remote = r.RemoteAddr
	}
	return s
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// Query returns the query string of the handshake request.
func (s *Session) Query() url.Values {
	return s.query
}

// RemoteAddr returns the peer address of the handshake request.
func (s *Session) RemoteAddr() string {
	return s.remote
}

// LastSeen reports when a frame was last read from the peer.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Start starts the session loops
func (s *Session) Start() {
	go s.writeLoop()
	go s.readLoop()
	s.schedulePing()
}

// Send queues a packet without blocking.
func (s *Session) Send(packet *Packet) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outgoing <- packet:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		return ErrSlowClient
	}
}

// Close closes the session. Only the first call has any effect.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		if s.pingTimer != nil {
			s.pingTimer.Stop()
		}
		if s.pongTimer != nil {
			s.pongTimer.Stop()
		}
		handlers := s.onClose
		s.mu.Unlock()

		for _, fn := range handlers {
			fn(reason)
		}
	})
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// OnMessage sets the message handler
func (s *Session) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnClose registers a close handler. Handlers run in registration order.
func (s *Session) OnClose(fn func(string)) {
	s.mu.Lock()
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	defer s.Close("transport close")

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.lastSeen = time.Now()
		s.mu.Unlock()

		packet, err := DecodePacket(data)
		if err != nil {
			s.server.log.Debug().Err(err).Str("sid", s.id).Msg("dropping frame")
			continue
		}

		s.handlePacket(packet)
	}
}

// writeLoop owns every write on the connection, including the final close frame.
func (s *Session) writeLoop() {
	defer s.conn.Close()

	for {
		select {
		case packet := <-s.outgoing:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, packet.Encode()); err != nil {
				s.Close("write error")
				return
			}
		case <-s.closed:
			closing := &Packet{Type: PacketTypeClose}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.TextMessage, closing.Encode())
			return
		}
	}
}

func (s *Session) handlePacket(packet *Packet) {
	switch packet.Type {
	case PacketTypePing:
		s.Send(&Packet{Type: PacketTypePong, Data: packet.Data})
	case PacketTypePong:
		s.handlePong()
	case PacketTypeMessage:
		s.mu.Lock()
		handler := s.onMessage
		s.mu.Unlock()
		if handler != nil {
			handler(packet.Data)
		}
	case PacketTypeClose:
		s.Close("client closed")
	}
}

func (s *Session) handlePong() {
	s.mu.Lock()
	if s.pongTimer != nil {
		s.pongTimer.Stop()
	}
	s.mu.Unlock()
	s.schedulePing()
}

func (s *Session) schedulePing() {
	cfg := s.server.config
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pingTimer = time.AfterFunc(cfg.PingInterval, func() {
		if err := s.Send(&Packet{Type: PacketTypePing}); err != nil {
			return
		}
		s.mu.Lock()
		s.pongTimer = time.AfterFunc(cfg.PingTimeout, func() {
			s.Close("ping timeout")
		})
		s.mu.Unlock()
	})
}
