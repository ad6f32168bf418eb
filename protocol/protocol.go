// Package protocol implements the event vocabularies served on the relay's
// namespaces: the general session protocol (Bus), the single-room Lobby and
// the channel relay Trigger.
//
// Every protocol runs its handlers on the socket's event worker, so the
// per-connection state here needs no locking.
package protocol

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/ramory-l/roomrelay"
)

var (
	// ErrAlreadyInRoom rejects a Lobby JOIN while the connection sits in another room.
	ErrAlreadyInRoom = errors.New("already a member of another lobby")

	// ErrNotInRoom rejects a Lobby LEAVE for a room the connection is not in.
	ErrNotInRoom = errors.New("not a member of lobby")

	errMissingArgument = errors.New("missing argument")
)

// AckError is the acknowledgment payload of a rejected request.
type AckError struct {
	Error string `json:"error"`
}

// decode reads a request payload. Clients send either a JSON document as a
// string or a structured value.
func decode(arg any, v any) error {
	switch x := arg.(type) {
	case nil:
		return errMissingArgument
	case string:
		return json.Unmarshal([]byte(x), v)
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, v)
	}
}

// identifier reads a room or channel ID argument.
func identifier(arg any) (string, bool) {
	switch x := arg.(type) {
	case string:
		return x, x != ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// handle registers an event handler that receives its arguments with any
// acknowledgment callback split off.
func handle(s *roomrelay.Socket, event string, fn func(args []any, ack func(...any))) {
	s.On(event, func(raw ...any) {
		args, ack := roomrelay.SplitAck(raw)
		fn(args, ack)
	})
}

// reply acknowledges a request. A nil err acknowledges with no arguments.
func reply(ack func(...any), err error) {
	if ack == nil {
		return
	}
	if err != nil {
		ack(AckError{Error: err.Error()})
		return
	}
	ack()
}
