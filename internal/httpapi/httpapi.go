// Package httpapi serves the relay's plain HTTP endpoints next to the
// Socket.IO transport.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ramory-l/roomrelay"
	"github.com/ramory-l/roomrelay/protocol"
)

const maxBody = 1 << 20

// PostSender is the sender of events injected over HTTP.
const PostSender = "POST"

type handler struct {
	bus *roomrelay.Namespace
	log zerolog.Logger
}

// New routes /socket.io/ to sio, and serves /healthcheck and
// POST /bus-message/{roomId}, which injects an EVENT into a room of bus.
func New(sio http.Handler, bus *roomrelay.Namespace, log zerolog.Logger) http.Handler {
	h := &handler{bus: bus, log: log.With().Str("component", "http").Logger()}

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", sio)
	mux.HandleFunc("GET /healthcheck", h.healthcheck)
	mux.HandleFunc("POST /bus-message/{roomId}", h.busMessage)
	return mux
}

func (h *handler) healthcheck(w http.ResponseWriter, _ *http.Request) {
	io.WriteString(w, "OK")
}

func (h *handler) busMessage(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("roomId")

	var body any
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(&body); err != nil || body == nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.bus.To(room).Emit("EVENT", protocol.Event{
		Sender:  PostSender,
		Room:    room,
		Message: body,
	})
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("HTTP POST NOTIFY")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	h.log.Debug().Str("room", room).Msg("HTTP POST NOTIFY")
	io.WriteString(w, "OK")
}
