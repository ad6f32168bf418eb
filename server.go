package roomrelay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ramory-l/roomrelay/engineio"
)

// Server represents a Socket.IO server
type Server struct {
	eio            *engineio.Server
	namespaces     map[string]*Namespace
	nsMu           sync.RWMutex
	adapterFactory AdapterFactory
	log            zerolog.Logger
}

// Config represents Socket.IO server configuration
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int64
	CheckOrigin  func(*http.Request) bool

	// AdapterFactory builds each namespace's adapter. Nil means MemoryAdapter.
	AdapterFactory AdapterFactory

	Logger zerolog.Logger
}

// NewServer creates a new Socket.IO server
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{Logger: zerolog.Nop()}
	}

	server := &Server{
		eio: engineio.NewServer(&engineio.Config{
			PingInterval: config.PingInterval,
			PingTimeout:  config.PingTimeout,
			MaxPayload:   config.MaxPayload,
			CheckOrigin:  config.CheckOrigin,
			Logger:       config.Logger,
		}),
		namespaces:     make(map[string]*Namespace),
		adapterFactory: config.AdapterFactory,
		log:            config.Logger.With().Str("component", "socketio").Logger(),
	}

	// Create default namespace
	server.Of("/")

	server.eio.OnConnect(server.handleConnection)

	return server
}

// Of returns a namespace, creating it if it doesn't exist
func (s *Server) Of(name string) *Namespace {
	if name == "" {
		name = "/"
	}
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}

	if ns, ok := s.lookup(name); ok {
		return ns
	}

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	// Double-check after acquiring write lock
	if ns, exists := s.namespaces[name]; exists {
		return ns
	}

	ns := NewNamespace(name, s)
	s.namespaces[name] = ns

	return ns
}

func (s *Server) lookup(name string) (*Namespace, bool) {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	ns, ok := s.namespaces[name]
	return ns, ok
}

// OnConnect sets the connection handler for the default namespace
func (s *Server) OnConnect(handler func(*Socket)) {
	s.Of("/").OnConnect(handler)
}

// Emit broadcasts to all clients in the default namespace
func (s *Server) Emit(event string, data ...any) error {
	return s.Of("/").Emit(event, data...)
}

// To returns a BroadcastOperator for the default namespace
func (s *Server) To(rooms ...string) *BroadcastOperator {
	return s.Of("/").To(rooms...)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/socket.io/") {
		http.NotFound(w, r)
		return
	}

	s.eio.ServeHTTP(w, r)
}

// Close is Shutdown without a deadline.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

// Shutdown closes every session and waits until each socket has run its
// disconnect handlers and left its rooms, or until ctx is done. The
// namespace adapters are closed last, so shared membership and presence
// are cleared before the broker connection goes away.
func (s *Server) Shutdown(ctx context.Context) error {
	s.eio.Close()

	s.nsMu.RLock()
	namespaces := make([]*Namespace, 0, len(s.namespaces))
	for _, ns := range s.namespaces {
		namespaces = append(namespaces, ns)
	}
	s.nsMu.RUnlock()

	var waitErr error
	for _, ns := range namespaces {
		if err := ns.drain(ctx); err != nil {
			s.log.Warn().Err(err).Str("nsp", ns.name).Msg("sockets still tearing down")
			waitErr = err
			break
		}
	}

	var firstErr error
	for _, ns := range namespaces {
		if err := ns.adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return errors.Join(waitErr, firstErr)
}

func (s *Server) handleConnection(session *engineio.Session) {
	c := newClient(s, session)
	session.OnMessage(c.handleMessage)
	session.OnClose(c.handleClose)
}
