package engineio

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowClient    = errors.New("slow client")
)

// Config holds Engine.IO server configuration
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int64 // bytes
	QueueSize    int   // outgoing frames buffered per session

	// CheckOrigin reports whether the upgrade request may proceed.
	// Nil accepts every origin.
	CheckOrigin func(*http.Request) bool

	Logger zerolog.Logger
}

// DefaultConfig returns default Engine.IO configuration
func DefaultConfig() *Config {
	return &Config{
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		MaxPayload:   1e6,
		QueueSize:    256,
		Logger:       zerolog.Nop(),
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.PingInterval <= 0 {
		out.PingInterval = d.PingInterval
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = d.PingTimeout
	}
	if out.MaxPayload <= 0 {
		out.MaxPayload = d.MaxPayload
	}
	if out.QueueSize <= 0 {
		out.QueueSize = d.QueueSize
	}
	return &out
}

// Server upgrades HTTP requests to Engine.IO sessions.
type Server struct {
	config    *Config
	log       zerolog.Logger
	upgrader  websocket.Upgrader
	sessions  sync.Map
	onConnect func(*Session)
}

// NewServer creates a new Engine.IO server
func NewServer(config *Config) *Server {
	config = config.withDefaults()

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Server{
		config: config,
		log:    config.Logger.With().Str("component", "engineio").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP handles HTTP requests and upgrades to WebSocket
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("transport") != "websocket" {
		http.Error(w, "Only WebSocket transport is supported", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	conn.SetReadLimit(s.config.MaxPayload)

	sid := uuid.NewString()
	session := NewSession(sid, conn, r, s)

	handshake, err := EncodeHandshake(sid, s.config)
	if err != nil {
		conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, handshake); err != nil {
		conn.Close()
		return
	}

	s.sessions.Store(sid, session)
	session.OnClose(func(reason string) {
		s.sessions.Delete(sid)
		s.log.Debug().Str("sid", sid).Str("reason", reason).Msg("session closed")
	})

	// Handlers must be in place before the read loop delivers anything.
	if s.onConnect != nil {
		s.onConnect(session)
	}
	session.Start()

	s.log.Debug().Str("sid", sid).Str("remote", r.RemoteAddr).Msg("session opened")
}

// OnConnect sets the connection handler
func (s *Server) OnConnect(fn func(*Session)) {
	s.onConnect = fn
}

// GetSession retrieves a session by ID
func (s *Server) GetSession(sid string) (*Session, bool) {
	val, ok := s.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

// Close closes all sessions
func (s *Server) Close() {
	s.sessions.Range(func(_, value any) bool {
		value.(*Session).Close("server shutdown")
		return true
	})
}
