package protocol

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ramory-l/roomrelay"
	"github.com/ramory-l/roomrelay/presence"
)

// GuestName is bound to lobby connections that do not announce a userName.
const GuestName = "guest"

// LobbyMessage is relayed to the other members of a lobby for every BROADCAST.
type LobbyMessage struct {
	From    string `json:"from"`
	Message any    `json:"message"`
}

type broadcastRequest struct {
	Message any `json:"message"`
}

// lobbyState is either unjoined (the zero value) or joined to exactly one room.
type lobbyState struct {
	joined bool
	room   string
}

type lobbyConn struct {
	socket *roomrelay.Socket
	name   string
	state  lobbyState
}

// Lobby lets each connection sit in at most one room, announces arrivals and
// departures to the room and relays WebRTC signaling between members.
//
// Connections must pass lobbyId in the handshake query and are placed in
// that room on connect.
type Lobby struct {
	registry presence.Registry
	log      zerolog.Logger
}

// NewLobby returns a Lobby. While a connection sits in a room its userName
// (or GuestName) is bound in registry.
func NewLobby(registry presence.Registry, log zerolog.Logger) *Lobby {
	return &Lobby{
		registry: registry,
		log:      log.With().Str("protocol", "lobby").Logger(),
	}
}

// Attach serves the protocol on ns.
func (l *Lobby) Attach(ns *roomrelay.Namespace) {
	ns.OnConnect(l.onConnect)
}

func (l *Lobby) onConnect(s *roomrelay.Socket) {
	query := s.Query()
	lobbyID := query.Get("lobbyId")
	if lobbyID == "" {
		l.log.Debug().Str("sid", s.ID()).Msg("connect without lobbyId")
		s.Disconnect()
		return
	}

	conn := &lobbyConn{socket: s, name: query.Get("userName")}
	if conn.name == "" {
		conn.name = GuestName
	}

	handle(s, "JOIN", func(args []any, ack func(...any)) {
		id, ok := identifier(arg(args, 0))
		if !ok {
			l.log.Error().Str("sid", s.ID()).Msg("JOIN: missing lobby id")
			return
		}
		reply(ack, l.join(conn, id))
	})
	handle(s, "LEAVE", func(args []any, ack func(...any)) {
		id, ok := identifier(arg(args, 0))
		if !ok {
			l.log.Error().Str("sid", s.ID()).Msg("LEAVE: missing lobby id")
			return
		}
		reply(ack, l.leave(conn, id))
	})
	handle(s, "BROADCAST", func(args []any, _ func(...any)) { l.broadcast(conn, arg(args, 0)) })
	handle(s, "RTCSIGNAL", func(args []any, _ func(...any)) { l.signal(conn, arg(args, 0)) })

	s.OnDisconnect(func(string) {
		if conn.state.joined {
			if err := l.leave(conn, conn.state.room); err != nil {
				l.log.Error().Err(err).Str("sid", s.ID()).Msg("leave on disconnect")
			}
		}
	})

	if err := l.join(conn, lobbyID); err != nil {
		l.log.Error().Err(err).Str("sid", s.ID()).Str("lobby", lobbyID).Msg("auto-join")
		return
	}
	l.sendPeers(conn, lobbyID)
}

func (l *Lobby) join(conn *lobbyConn, id string) error {
	s := conn.socket

	if conn.state.joined {
		if conn.state.room == id {
			return nil
		}
		return fmt.Errorf("cannot join lobby %s, %s: %w %s",
			id, s.ID(), ErrAlreadyInRoom, conn.state.room)
	}

	ctx := s.Context()
	if err := s.Join(ctx, id); err != nil {
		return err
	}
	conn.state = lobbyState{joined: true, room: id}

	if err := l.registry.Set(ctx, s.Namespace().Name(), s.ID(), conn.name); err != nil {
		l.log.Error().Err(err).Str("sid", s.ID()).Msg("bind name")
	}

	if err := s.Namespace().To(id).Emit("JOINED", s.ID()); err != nil {
		l.log.Error().Err(err).Str("lobby", id).Msg("JOINED")
	}

	l.log.Debug().Str("sid", s.ID()).Str("lobby", id).Msg("JOIN")
	return nil
}

func (l *Lobby) leave(conn *lobbyConn, id string) error {
	s := conn.socket

	if !conn.state.joined || conn.state.room != id {
		return fmt.Errorf("%s: %w %s", s.ID(), ErrNotInRoom, id)
	}

	ctx := s.Context()
	if err := s.Leave(ctx, id); err != nil {
		return err
	}
	conn.state = lobbyState{}

	if err := l.registry.Remove(ctx, s.Namespace().Name(), s.ID()); err != nil {
		l.log.Error().Err(err).Str("sid", s.ID()).Msg("unbind name")
	}

	if err := s.Namespace().To(id).Emit("LEFT", s.ID()); err != nil {
		l.log.Error().Err(err).Str("lobby", id).Msg("LEFT")
	}

	l.log.Debug().Str("sid", s.ID()).Str("lobby", id).Msg("LEAVE")
	return nil
}

// sendPeers tells a fresh member who else is in the room, so it can open a
// direct link to each of them.
func (l *Lobby) sendPeers(conn *lobbyConn, id string) {
	s := conn.socket
	peers := []string{}

	ids, err := s.Namespace().Members(s.Context(), id)
	if err != nil {
		l.log.Error().Err(err).Str("lobby", id).Msg("PEERS")
	}
	for _, peer := range ids {
		if peer != s.ID() {
			peers = append(peers, peer)
		}
	}

	s.Emit("PEERS", peers)
}

func (l *Lobby) broadcast(conn *lobbyConn, data any) {
	s := conn.socket
	if !conn.state.joined {
		l.log.Debug().Str("sid", s.ID()).Msg("BROADCAST outside a lobby")
		return
	}

	var req broadcastRequest
	if err := decode(data, &req); err != nil {
		l.log.Error().Err(err).Str("sid", s.ID()).Msg("BROADCAST: malformed request")
		return
	}

	err := s.To(conn.state.room).Emit("MESSAGE", LobbyMessage{From: s.ID(), Message: req.Message})
	if err != nil {
		l.log.Error().Err(err).Str("lobby", conn.state.room).Msg("BROADCAST")
	}
}

// signal relays a signaling payload to the single connection named in "to".
func (l *Lobby) signal(conn *lobbyConn, data any) {
	s := conn.socket

	var msg map[string]any
	if err := decode(data, &msg); err != nil {
		l.log.Error().Err(err).Str("sid", s.ID()).Msg("RTCSIGNAL: malformed request")
		return
	}
	to, ok := msg["to"].(string)
	if !ok || to == "" || to == s.ID() {
		return
	}
	if _, set := msg["from"]; !set {
		msg["from"] = s.ID()
	}

	// Each socket sits in a room named after its ID, wherever it is connected.
	if err := s.To(to).Emit("RTCSIGNAL", msg); err != nil {
		l.log.Error().Err(err).Str("to", to).Msg("RTCSIGNAL")
	}
}
