package roomrelay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PacketType represents Socket.IO packet types
type PacketType int

const (
	PacketTypeConnect PacketType = iota
	PacketTypeDisconnect
	PacketTypeEvent
	PacketTypeAck
	PacketTypeConnectError
	PacketTypeBinaryEvent
	PacketTypeBinaryAck
)

// Packet represents a Socket.IO packet
type Packet struct {
	Type      PacketType
	Namespace string
	Data      any
	ID        *int
}

// EventPacket builds an EVENT packet for the given namespace.
func EventPacket(namespace, event string, data ...any) *Packet {
	args := make([]any, 0, len(data)+1)
	args = append(args, event)
	args = append(args, data...)

	return &Packet{
		Type:      PacketTypeEvent,
		Namespace: namespace,
		Data:      args,
	}
}

// Event returns the event name and arguments of an EVENT packet.
func (p *Packet) Event() (string, []any, bool) {
	args, ok := p.Data.([]any)
	if !ok || len(args) == 0 {
		return "", nil, false
	}
	name, ok := args[0].(string)
	if !ok {
		return "", nil, false
	}
	return name, args[1:], true
}

// Encode encodes a Socket.IO packet to string
func (p *Packet) Encode() (string, error) {
	var builder strings.Builder

	// Packet type
	builder.WriteString(strconv.Itoa(int(p.Type)))

	// Namespace (if not default)
	if p.Namespace != "" && p.Namespace != "/" {
		builder.WriteString(p.Namespace)
		builder.WriteByte(',')
	}

	// Ack ID
	if p.ID != nil {
		builder.WriteString(strconv.Itoa(*p.ID))
	}

	// Data
	if p.Data != nil {
		jsonData, err := json.Marshal(p.Data)
		if err != nil {
			return "", fmt.Errorf("failed to marshal packet data: %w", err)
		}
		builder.Write(jsonData)
	}

	return builder.String(), nil
}

// DecodePacket decodes a Socket.IO packet from string
func DecodePacket(data string) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty packet")
	}

	packet := &Packet{
		Namespace: "/",
	}

	pos := 0

	// Parse packet type
	if data[pos] < '0' || data[pos] > '6' {
		return nil, fmt.Errorf("invalid packet type: %c", data[pos])
	}
	packet.Type = PacketType(data[pos] - '0')
	pos++

	if pos >= len(data) {
		return packet, nil
	}

	// Parse namespace
	if data[pos] == '/' {
		end := strings.IndexByte(data[pos:], ',')
		if end == -1 {
			// Namespace without data
			packet.Namespace = data[pos:]
			return packet, nil
		}
		packet.Namespace = data[pos : pos+end]
		pos += end + 1
	}

	if pos >= len(data) {
		return packet, nil
	}

	// Parse ack ID
	if data[pos] >= '0' && data[pos] <= '9' {
		end := pos
		for end < len(data) && data[end] >= '0' && data[end] <= '9' {
			end++
		}
		id, err := strconv.Atoi(data[pos:end])
		if err != nil {
			return nil, fmt.Errorf("invalid ack id: %w", err)
		}
		packet.ID = &id
		pos = end
	}

	if pos >= len(data) {
		return packet, nil
	}

	if err := json.Unmarshal([]byte(data[pos:]), &packet.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal packet data: %w", err)
	}

	return packet, nil
}

// String returns the packet type as a string
func (pt PacketType) String() string {
	switch pt {
	case PacketTypeConnect:
		return "connect"
	case PacketTypeDisconnect:
		return "disconnect"
	case PacketTypeEvent:
		return "event"
	case PacketTypeAck:
		return "ack"
	case PacketTypeConnectError:
		return "connect_error"
	case PacketTypeBinaryEvent:
		return "binary_event"
	case PacketTypeBinaryAck:
		return "binary_ack"
	default:
		return "unknown"
	}
}
