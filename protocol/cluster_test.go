package protocol_test

import (
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramory-l/roomrelay"
	"github.com/ramory-l/roomrelay/internal/sockettest"
	"github.com/ramory-l/roomrelay/presence"
	"github.com/ramory-l/roomrelay/protocol"
	"github.com/ramory-l/roomrelay/redisadapter"
)

// startNode runs a relay process attached to the shared broker.
func startNode(t *testing.T, mr *miniredis.Miniredis) *httptest.Server {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return startRelay(t,
		presence.NewRedis(client, "relay"),
		redisadapter.Factory(client, redisadapter.Options{Prefix: "relay", Logger: zerolog.Nop()}),
	)
}

func TestClusterBus(t *testing.T) {
	mr := miniredis.RunT(t)
	node1 := startNode(t, mr)
	node2 := startNode(t, mr)

	alice, _ := connect(t, node1, "/bus", nil)
	bob, _ := connect(t, node2, "/bus", nil)

	expectOK(t, alice, "/bus", "JOIN", map[string]any{"room": "r1", "name": "alice"})
	expectOK(t, bob, "/bus", "JOIN", map[string]any{"room": "r1", "name": "bob"})

	t.Run("notify crosses nodes", func(t *testing.T) {
		require.NoError(t, alice.Emit("/bus", "NOTIFY", map[string]any{"room": "r1", "message": "hi"}))

		args, err := bob.Expect("/bus", "EVENT")
		require.NoError(t, err)

		var ev protocol.Event
		require.NoError(t, sockettest.Decode(args[0], &ev))
		assert.Equal(t, "alice", ev.Sender)
		assert.Equal(t, "hi", ev.Message)

		assert.True(t, alice.ExpectNone("/bus", "EVENT", quiet), "sender excluded on its own node")
	})

	t.Run("clients sees every node", func(t *testing.T) {
		assert.ElementsMatch(t, []string{"alice", "bob"}, clients(t, alice, "/bus", "r1").Clients)
		assert.ElementsMatch(t, []string{"alice", "bob"}, clients(t, bob, "/bus", "r1").Clients)
	})
}

func TestClusterLobbySignal(t *testing.T) {
	mr := miniredis.RunT(t)
	node1 := startNode(t, mr)
	node2 := startNode(t, mr)

	a, aID, _ := enterLobby(t, node1, "L1", "ann")
	b, bID, peers := enterLobby(t, node2, "L1", "bo")
	assert.Equal(t, []string{aID}, peers, "peers include members on other nodes")

	args, err := a.Expect("/lobby", "JOINED")
	require.NoError(t, err)
	assert.Equal(t, []any{bID}, args)

	require.NoError(t, b.Emit("/lobby", "RTCSIGNAL", map[string]any{"to": aID, "candidate": "c"}))

	args, err = a.Expect("/lobby", "RTCSIGNAL")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"to": aID, "from": bID, "candidate": "c"}, args[0])

	t.Run("a socket on another node keeps its own room", func(t *testing.T) {
		expectOK(t, b, "/lobby", "LEAVE", "L1")
		ackErr := expectAckError(t, b, "/lobby", "JOIN", aID)
		assert.Contains(t, ackErr.Error, roomrelay.ErrReservedRoom.Error())
	})
}

func TestClusterTrigger(t *testing.T) {
	mr := miniredis.RunT(t)
	node1 := startNode(t, mr)
	node2 := startNode(t, mr)

	a, _ := connect(t, node1, "/trigger", nil)
	b, _ := connect(t, node2, "/trigger", nil)
	expectOK(t, a, "/trigger", "JOIN", "c1")
	expectOK(t, b, "/trigger", "JOIN", "c1")

	require.NoError(t, b.Emit("/trigger", "BROADCAST_UPDATES", "c1", []any{1.0, 2.0}))

	args, err := a.Expect("/trigger", "UPDATES")
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{1.0, 2.0}}, args)
}

func TestShutdownClearsBrokerState(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := zerolog.Nop()
	registry := presence.NewRedis(client, "relay")
	server := roomrelay.NewServer(&roomrelay.Config{
		AdapterFactory: redisadapter.Factory(client, redisadapter.Options{Prefix: "relay", Logger: log}),
		Logger:         log,
	})
	protocol.NewBus(registry, log).Attach(server.Of("/bus"))
	protocol.NewLobby(registry, log).Attach(server.Of("/lobby"))

	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)

	bob, _ := connect(t, srv, "/bus", nil)
	expectOK(t, bob, "/bus", "JOIN", map[string]any{"room": "r1", "name": "bob"})
	enterLobby(t, srv, "L1", "ann")
	require.NotEmpty(t, mr.Keys())

	// relayd closes the broker client right after this returns.
	require.NoError(t, server.Close())
	assert.Empty(t, mr.Keys(), "memberships and names are released on shutdown")
}
