package engineio

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketEncode(t *testing.T) {
	tests := []struct {
		name   string
		packet *Packet
		want   string
	}{
		{"ping", &Packet{Type: PacketTypePing}, "2"},
		{"ping probe", &Packet{Type: PacketTypePing, Data: []byte("probe")}, "2probe"},
		{"message", Message(`2["hello"]`), `42["hello"]`},
		{"close", &Packet{Type: PacketTypeClose}, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.packet.Encode()))
		})
	}
}

func TestDecodePacket(t *testing.T) {
	p, err := DecodePacket([]byte(`40/bus,`))
	require.NoError(t, err)
	assert.Equal(t, PacketTypeMessage, p.Type)
	assert.Equal(t, "0/bus,", string(p.Data))

	p, err = DecodePacket([]byte("3"))
	require.NoError(t, err)
	assert.Equal(t, PacketTypePong, p.Type)
	assert.Nil(t, p.Data)

	_, err = DecodePacket(nil)
	assert.Error(t, err)

	_, err = DecodePacket([]byte("9x"))
	assert.Error(t, err)
}

func TestEncodeHandshake(t *testing.T) {
	cfg := &Config{
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		MaxPayload:   1e6,
	}

	frame, err := EncodeHandshake("abc", cfg)
	require.NoError(t, err)
	require.Equal(t, byte('0'), frame[0])

	var hs HandshakeData
	require.NoError(t, json.Unmarshal(frame[1:], &hs))
	assert.Equal(t, "abc", hs.SID)
	assert.Equal(t, int64(25000), hs.PingInterval)
	assert.Equal(t, int64(20000), hs.PingTimeout)
	assert.Equal(t, int64(1e6), hs.MaxPayload)
	assert.Empty(t, hs.Upgrades)
	assert.NotNil(t, hs.Upgrades)
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "message", PacketTypeMessage.String())
	assert.Equal(t, "unknown(9)", PacketType(9).String())
}
