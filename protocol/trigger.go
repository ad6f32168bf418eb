package protocol

import (
	"github.com/rs/zerolog"

	"github.com/ramory-l/roomrelay"
)

// relays maps inbound Trigger events to the event their payload is relayed as.
var relays = map[string]string{
	"BROADCAST_EVENTS":  "EVENTS",
	"BROADCAST_UPDATES": "UPDATES",
	"BROADCAST_STATUS":  "STATUS",
}

type triggerConn struct {
	socket  *roomrelay.Socket
	channel string // most recently joined channel
}

// Trigger relays EVENTS, UPDATES and STATUS payloads between the members of
// a channel. It tracks no names.
type Trigger struct {
	log zerolog.Logger
}

func NewTrigger(log zerolog.Logger) *Trigger {
	return &Trigger{log: log.With().Str("protocol", "trigger").Logger()}
}

// Attach serves the protocol on ns.
func (t *Trigger) Attach(ns *roomrelay.Namespace) {
	ns.OnConnect(t.onConnect)
}

func (t *Trigger) onConnect(s *roomrelay.Socket) {
	conn := &triggerConn{socket: s}

	handle(s, "JOIN", func(args []any, ack func(...any)) {
		id, ok := identifier(arg(args, 0))
		if !ok {
			t.log.Error().Str("sid", s.ID()).Msg("JOIN: missing channel id")
			return
		}
		reply(ack, t.join(conn, id))
	})
	handle(s, "LEAVE", func(args []any, ack func(...any)) {
		id, ok := identifier(arg(args, 0))
		if !ok {
			t.log.Error().Str("sid", s.ID()).Msg("LEAVE: missing channel id")
			return
		}
		reply(ack, t.leave(conn, id))
	})

	for in, out := range relays {
		handle(s, in, func(args []any, _ func(...any)) {
			id, ok := identifier(arg(args, 0))
			if !ok {
				t.log.Error().Str("sid", s.ID()).Str("event", in).Msg("missing channel id")
				return
			}
			t.relay(s, id, out, arg(args, 1))
		})
	}
}

func (t *Trigger) join(conn *triggerConn, id string) error {
	s := conn.socket
	if err := s.Join(s.Context(), id); err != nil {
		t.log.Error().Err(err).Str("channel", id).Msg("JOIN")
		return err
	}
	conn.channel = id
	t.log.Debug().Str("sid", s.ID()).Str("channel", id).Msg("joined channel")
	return nil
}

func (t *Trigger) leave(conn *triggerConn, id string) error {
	s := conn.socket
	if err := s.Leave(s.Context(), id); err != nil {
		t.log.Error().Err(err).Str("channel", id).Msg("LEAVE")
		return err
	}
	if conn.channel == id {
		conn.channel = ""
	}
	t.log.Debug().Str("sid", s.ID()).Str("channel", id).Msg("left channel")
	return nil
}

func (t *Trigger) relay(s *roomrelay.Socket, id, event string, data any) {
	t.log.Debug().Str("channel", id).Str("event", event).Msg("forwarding")
	if err := s.To(id).Emit(event, data); err != nil {
		t.log.Error().Err(err).Str("channel", id).Str("event", event).Msg("relay")
	}
}
