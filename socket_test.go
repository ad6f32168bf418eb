package roomrelay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeardownDropsPendingAcks(t *testing.T) {
	server := NewServer(nil)
	ns := server.Of("/x")
	c := &client{server: server, sockets: make(map[string]*Socket)}

	s := newSocket("s1", c, ns, nil)
	ns.sockets[s.id] = s
	c.sockets[ns.name] = s
	s.ackHandlers.Store(1, AckHandler(func(...any) {}))
	s.ackHandlers.Store(2, AckHandler(func(...any) {}))

	s.start()
	s.close("test")

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not finish")
	}

	pending := 0
	s.ackHandlers.Range(func(any, any) bool {
		pending++
		return true
	})
	assert.Zero(t, pending)

	_, ok := ns.GetSocket("s1")
	require.False(t, ok)
	assert.Empty(t, c.sockets)
}
