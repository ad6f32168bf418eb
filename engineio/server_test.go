package engineio

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket.io/?EIO=4&transport=websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) *Packet {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	p, err := DecodePacket(frame)
	require.NoError(t, err)
	return p
}

func TestServerRejectsPolling(t *testing.T) {
	srv := httptest.NewServer(NewServer(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/socket.io/?EIO=4&transport=polling")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerSession(t *testing.T) {
	server := NewServer(nil)

	received := make(chan string, 1)
	sessions := make(chan *Session, 1)
	server.OnConnect(func(s *Session) {
		s.OnMessage(func(data []byte) { received <- string(data) })
		sessions <- s
	})

	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv)

	open := read(t, conn)
	require.Equal(t, PacketTypeOpen, open.Type)

	var session *Session
	select {
	case session = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("no session")
	}
	assert.Equal(t, "websocket", session.Query().Get("transport"))

	got, ok := server.GetSession(session.ID())
	require.True(t, ok)
	assert.Same(t, session, got)

	t.Run("ping is answered with pong", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("2probe")))
		p := read(t, conn)
		assert.Equal(t, PacketTypePong, p.Type)
		assert.Equal(t, "probe", string(p.Data))
	})

	t.Run("messages reach the handler", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`42["hi"]`)))
		select {
		case msg := <-received:
			assert.Equal(t, `2["hi"]`, msg)
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	})

	t.Run("send queues a frame", func(t *testing.T) {
		require.NoError(t, session.Send(Message("3")))
		p := read(t, conn)
		assert.Equal(t, PacketTypeMessage, p.Type)
		assert.Equal(t, "3", string(p.Data))
	})

	t.Run("close sends a close frame", func(t *testing.T) {
		session.Close("test")
		p := read(t, conn)
		assert.Equal(t, PacketTypeClose, p.Type)
		assert.ErrorIs(t, session.Send(Message("x")), ErrSessionClosed)

		_, ok := server.GetSession(session.ID())
		assert.False(t, ok)
	})
}

func TestSessionPingTimeout(t *testing.T) {
	server := NewServer(&Config{
		PingInterval: 50 * time.Millisecond,
		PingTimeout:  50 * time.Millisecond,
	})

	reasons := make(chan string, 1)
	server.OnConnect(func(s *Session) {
		s.OnClose(func(reason string) { reasons <- reason })
	})

	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv)
	require.Equal(t, PacketTypeOpen, read(t, conn).Type)
	require.Equal(t, PacketTypePing, read(t, conn).Type)

	// No pong: the server gives up.
	select {
	case reason := <-reasons:
		assert.Equal(t, "ping timeout", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed")
	}
}

func TestSessionHeartbeat(t *testing.T) {
	server := NewServer(&Config{
		PingInterval: 30 * time.Millisecond,
		PingTimeout:  100 * time.Millisecond,
	})

	srv := httptest.NewServer(server)
	defer srv.Close()

	conn := dial(t, srv)
	require.Equal(t, PacketTypeOpen, read(t, conn).Type)

	for range 3 {
		require.Equal(t, PacketTypePing, read(t, conn).Type)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("3")))
	}
}
