package protocol

import (
	"slices"

	"github.com/rs/zerolog"

	"github.com/ramory-l/roomrelay"
	"github.com/ramory-l/roomrelay/presence"
)

// Event is fanned out to a room for every NOTIFY.
type Event struct {
	Sender  string `json:"sender"`
	Room    string `json:"room"`
	Message any    `json:"message"`
}

// ClientsReply answers a CLIENTS request.
type ClientsReply struct {
	Room    string   `json:"room"`
	Clients []string `json:"clients"`
}

type joinRequest struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

type roomRequest struct {
	Room string `json:"room"`
}

type notifyRequest struct {
	Room    string `json:"room"`
	Message any    `json:"message"`
}

// Bus is the general session protocol: named members join rooms, NOTIFY
// fans a message out to a room and CLIENTS lists a room's members by name.
type Bus struct {
	registry presence.Registry
	log      zerolog.Logger
}

// NewBus returns a Bus resolving display names through registry.
func NewBus(registry presence.Registry, log zerolog.Logger) *Bus {
	return &Bus{
		registry: registry,
		log:      log.With().Str("protocol", "bus").Logger(),
	}
}

// Attach serves the protocol on ns.
func (b *Bus) Attach(ns *roomrelay.Namespace) {
	ns.OnConnect(b.onConnect)
}

func (b *Bus) onConnect(s *roomrelay.Socket) {
	handle(s, "JOIN", func(args []any, ack func(...any)) { b.join(s, arg(args, 0), ack) })
	handle(s, "LEAVE", func(args []any, ack func(...any)) { b.leave(s, arg(args, 0), ack) })
	handle(s, "NOTIFY", func(args []any, _ func(...any)) { b.notify(s, arg(args, 0)) })
	handle(s, "CLIENTS", func(args []any, _ func(...any)) { b.clients(s, arg(args, 0)) })

	s.OnDisconnect(func(reason string) { b.disconnect(s, reason) })
}

func (b *Bus) join(s *roomrelay.Socket, data any, ack func(...any)) {
	var req joinRequest
	if err := decode(data, &req); err != nil {
		b.log.Error().Err(err).Str("sid", s.ID()).Msg("JOIN: malformed request")
		return
	}
	if req.Name == "" || req.Room == "" {
		return
	}

	ctx := s.Context()
	nsp := s.Namespace().Name()

	member := slices.Contains(s.Rooms(), req.Room)

	if err := s.Join(ctx, req.Room); err != nil {
		b.log.Error().Err(err).Str("sid", s.ID()).Str("room", req.Room).Msg("JOIN")
		reply(ack, err)
		return
	}
	if err := b.registry.Set(ctx, nsp, s.ID(), req.Name); err != nil {
		b.log.Error().Err(err).Str("sid", s.ID()).Msg("JOIN: bind name")
		// A failed JOIN leaves no membership behind.
		if !member {
			if lerr := s.Leave(ctx, req.Room); lerr != nil {
				b.log.Error().Err(lerr).Str("sid", s.ID()).Str("room", req.Room).Msg("JOIN: roll back")
			}
		}
		reply(ack, err)
		return
	}

	reply(ack, nil)
	b.log.Debug().Str("sid", s.ID()).Str("room", req.Room).Str("name", req.Name).Msg("JOIN")
}

func (b *Bus) leave(s *roomrelay.Socket, data any, ack func(...any)) {
	var req roomRequest
	if err := decode(data, &req); err != nil {
		b.log.Error().Err(err).Str("sid", s.ID()).Msg("LEAVE: malformed request")
		return
	}
	if req.Room == "" {
		return
	}

	if err := s.Leave(s.Context(), req.Room); err != nil {
		b.log.Error().Err(err).Str("sid", s.ID()).Str("room", req.Room).Msg("LEAVE")
		reply(ack, err)
		return
	}

	reply(ack, nil)
	b.log.Debug().Str("sid", s.ID()).Str("room", req.Room).Msg("LEAVE")
}

func (b *Bus) notify(s *roomrelay.Socket, data any) {
	var req notifyRequest
	if err := decode(data, &req); err != nil {
		b.log.Error().Err(err).Str("sid", s.ID()).Msg("NOTIFY: malformed request")
		return
	}
	if req.Room == "" {
		return
	}

	sender := presence.Name(s.Context(), b.registry, b.log, s.Namespace().Name(), s.ID())

	err := s.To(req.Room).Emit("EVENT", Event{
		Sender:  sender,
		Room:    req.Room,
		Message: req.Message,
	})
	if err != nil {
		b.log.Error().Err(err).Str("room", req.Room).Msg("NOTIFY")
		return
	}

	b.log.Debug().Str("room", req.Room).Str("sender", sender).Msg("NOTIFY")
}

func (b *Bus) clients(s *roomrelay.Socket, data any) {
	var req roomRequest
	if err := decode(data, &req); err != nil {
		b.log.Error().Err(err).Str("sid", s.ID()).Msg("CLIENTS: malformed request")
		return
	}
	if req.Room == "" {
		return
	}

	ctx := s.Context()
	ns := s.Namespace()

	ids, err := ns.Members(ctx, req.Room)
	if err != nil {
		b.log.Error().Err(err).Str("room", req.Room).Msg("CLIENTS")
		return
	}

	names := presence.Names(ctx, b.registry, b.log, ns.Name(), dedupe(ids))
	s.Emit("CLIENTS", ClientsReply{Room: req.Room, Clients: names})

	b.log.Debug().Str("room", req.Room).Strs("clients", names).Msg("CLIENTS")
}

func (b *Bus) disconnect(s *roomrelay.Socket, reason string) {
	// Room membership is cleared by the adapter once this returns.
	if err := b.registry.Remove(s.Context(), s.Namespace().Name(), s.ID()); err != nil {
		b.log.Error().Err(err).Str("sid", s.ID()).Msg("DISCONNECT: unbind name")
	}
	b.log.Debug().Str("sid", s.ID()).Str("reason", reason).Msg("DISCONNECT")
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
