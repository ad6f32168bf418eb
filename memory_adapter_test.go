package roomrelay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdapterMembership(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryAdapter(nil)

	require.NoError(t, a.Add(ctx, "s1", "r1"))
	require.NoError(t, a.Add(ctx, "s1", "r1"))
	require.NoError(t, a.Add(ctx, "s2", "r1"))
	require.NoError(t, a.Add(ctx, "s1", "r2"))

	members, err := a.Sockets(ctx, "r1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2"}, members)
	assert.ElementsMatch(t, []string{"r1", "r2"}, a.SocketRooms("s1"))

	require.NoError(t, a.Remove(ctx, "s2", "r1"))
	require.NoError(t, a.Remove(ctx, "s2", "r1"))
	members, _ = a.Sockets(ctx, "r1")
	assert.Equal(t, []string{"s1"}, members)

	require.NoError(t, a.RemoveAll(ctx, "s1"))
	assert.Empty(t, a.SocketRooms("s1"))
	members, _ = a.Sockets(ctx, "r1")
	assert.Empty(t, members)
	assert.NotNil(t, members)

	assert.Empty(t, a.rooms)
	assert.Empty(t, a.socketRooms)
}

func TestMemoryAdapterUnknownRoom(t *testing.T) {
	a := NewMemoryAdapter(nil)

	members, err := a.Sockets(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.NoError(t, a.RemoveAll(context.Background(), "ghost"))
}
