package engineio

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// PacketType represents Engine.IO packet types
type PacketType byte

const (
	PacketTypeOpen PacketType = iota
	PacketTypeClose
	PacketTypePing
	PacketTypePong
	PacketTypeMessage
	PacketTypeUpgrade
	PacketTypeNoop
)

// Packet is a single Engine.IO frame.
type Packet struct {
	Type PacketType
	Data []byte
}

// Message wraps a Socket.IO payload in a message frame.
func Message(data string) *Packet {
	return &Packet{Type: PacketTypeMessage, Data: []byte(data)}
}

// Encode renders the packet as a text frame: one type digit followed by the payload.
func (p *Packet) Encode() []byte {
	out := make([]byte, 0, len(p.Data)+1)
	out = append(out, byte('0'+p.Type))
	return append(out, p.Data...)
}

// DecodePacket parses a text frame.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty packet")
	}

	t := data[0]
	if t < '0' || t > '6' {
		return nil, fmt.Errorf("invalid packet type: %q", t)
	}

	p := &Packet{Type: PacketType(t - '0')}
	if len(data) > 1 {
		p.Data = data[1:]
	}
	return p, nil
}

// HandshakeData is the body of the open packet.
type HandshakeData struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

// EncodeHandshake builds the open packet sent right after the upgrade.
// Intervals are reported in milliseconds as the protocol requires.
func EncodeHandshake(sid string, cfg *Config) ([]byte, error) {
	body, err := json.Marshal(HandshakeData{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: cfg.PingInterval.Milliseconds(),
		PingTimeout:  cfg.PingTimeout.Milliseconds(),
		MaxPayload:   cfg.MaxPayload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode handshake: %w", err)
	}

	p := &Packet{Type: PacketTypeOpen, Data: body}
	return p.Encode(), nil
}

// String returns the packet type as a string
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeOpen:
		return "open"
	case PacketTypeClose:
		return "close"
	case PacketTypePing:
		return "ping"
	case PacketTypePong:
		return "pong"
	case PacketTypeMessage:
		return "message"
	case PacketTypeUpgrade:
		return "upgrade"
	case PacketTypeNoop:
		return "noop"
	default:
		return "unknown(" + strconv.Itoa(int(pt)) + ")"
	}
}
