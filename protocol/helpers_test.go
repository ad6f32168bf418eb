package protocol_test

import (
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/roomrelay"
	"github.com/ramory-l/roomrelay/internal/sockettest"
	"github.com/ramory-l/roomrelay/presence"
	"github.com/ramory-l/roomrelay/protocol"
)

const quiet = 150 * time.Millisecond

// startRelay serves every protocol the way relayd wires them.
func startRelay(t *testing.T, registry presence.Registry, adapters roomrelay.AdapterFactory) *httptest.Server {
	t.Helper()

	log := zerolog.Nop()
	server := roomrelay.NewServer(&roomrelay.Config{AdapterFactory: adapters, Logger: log})

	protocol.NewBus(registry, log).Attach(server.Of("/bus"))
	protocol.NewBus(registry, log).Attach(server.Of("/layout"))
	protocol.NewLobby(registry, log).Attach(server.Of("/lobby"))
	protocol.NewTrigger(log).Attach(server.Of("/trigger"))

	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		srv.Close()
		server.Close()
	})
	return srv
}

func connect(t *testing.T, srv *httptest.Server, nsp string, query url.Values) (*sockettest.Client, string) {
	t.Helper()

	c := sockettest.Dial(t, srv.URL, query)
	sid, err := c.Connect(nsp)
	require.NoError(t, err)
	return c, sid
}

// expectOK sends a request and asserts a plain acknowledgment.
func expectOK(t *testing.T, c *sockettest.Client, nsp, event string, args ...any) {
	t.Helper()

	got, err := c.EmitWithAck(nsp, event, args...)
	require.NoError(t, err)
	require.Empty(t, got)
}

// expectAckError sends a request and asserts an acknowledgment carrying an error.
func expectAckError(t *testing.T, c *sockettest.Client, nsp, event string, args ...any) protocol.AckError {
	t.Helper()

	got, err := c.EmitWithAck(nsp, event, args...)
	require.NoError(t, err)
	require.Len(t, got, 1)

	var ackErr protocol.AckError
	require.NoError(t, sockettest.Decode(got[0], &ackErr))
	require.NotEmpty(t, ackErr.Error)
	return ackErr
}
