// Package redisadapter shares room membership and broadcasts between server
// processes through Redis.
//
// Membership lives in two Redis sets per socket and room:
//
//	<prefix>#<nsp>#room#<room>  socket IDs in the room
//	<prefix>#<nsp>#sid#<sid>    rooms the socket joined
//
// A broadcast is delivered to local members straight away and published once
// on <prefix>#<nsp>#. Every other process subscribed to that channel hands the
// packet to its own local members. Each process keeps a MemoryAdapter as the
// index of the sockets it holds.
package redisadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ramory-l/roomrelay"
)

const (
	DefaultPrefix  = "socket.io"
	requestTimeout = 5 * time.Second
)

// Options configures the adapter.
type Options struct {
	// Prefix namespaces every key and channel. Defaults to DefaultPrefix.
	Prefix string

	// Node identifies this process on the channel. Defaults to a random UUID.
	Node string

	Logger zerolog.Logger
}

// envelope is what travels over the pub/sub channel.
type envelope struct {
	Node   string   `cbor:"node"`
	Packet string   `cbor:"packet"`
	Rooms  []string `cbor:"rooms,omitempty"`
	Except []string `cbor:"except,omitempty"`
}

// Adapter implements roomrelay.Adapter on top of Redis.
type Adapter struct {
	client  redis.UniversalClient
	local   *roomrelay.MemoryAdapter
	nsp     string
	prefix  string
	node    string
	channel string
	log     zerolog.Logger

	pubsub    *redis.PubSub
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Factory returns an AdapterFactory creating one Adapter per namespace, all
// sharing client.
func Factory(client redis.UniversalClient, opts Options) roomrelay.AdapterFactory {
	if opts.Node == "" {
		opts.Node = uuid.NewString()
	}
	return func(ns *roomrelay.Namespace) roomrelay.Adapter {
		return New(ns, client, opts)
	}
}

// New subscribes to the namespace channel and starts relaying remote
// broadcasts to local sockets. The subscription is confirmed before New
// returns; if Redis is unreachable the error is logged and the client keeps
// retrying in the background.
func New(ns *roomrelay.Namespace, client redis.UniversalClient, opts Options) *Adapter {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Node == "" {
		opts.Node = uuid.NewString()
	}

	a := &Adapter{
		client:  client,
		local:   roomrelay.NewMemoryAdapter(ns),
		nsp:     ns.Name(),
		prefix:  opts.Prefix,
		node:    opts.Node,
		channel: opts.Prefix + "#" + ns.Name() + "#",
		log: opts.Logger.With().
			Str("component", "redisadapter").
			Str("nsp", ns.Name()).
			Str("node", opts.Node).
			Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	a.pubsub = client.Subscribe(ctx, a.channel)
	if _, err := a.pubsub.Receive(ctx); err != nil {
		a.log.Error().Err(err).Str("channel", a.channel).Msg("subscribe")
	}

	a.wg.Add(1)
	go a.relay()

	return a
}

func (a *Adapter) roomKey(room string) string {
	return a.prefix + "#" + a.nsp + "#room#" + room
}

func (a *Adapter) sidKey(socketID string) string {
	return a.prefix + "#" + a.nsp + "#sid#" + socketID
}

// Add adds a socket to a room
func (a *Adapter) Add(ctx context.Context, socketID, room string) error {
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, a.roomKey(room), socketID)
		pipe.SAdd(ctx, a.sidKey(socketID), room)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis join %s: %w", room, err)
	}
	return a.local.Add(ctx, socketID, room)
}

// Remove removes a socket from a room
func (a *Adapter) Remove(ctx context.Context, socketID, room string) error {
	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, a.roomKey(room), socketID)
		pipe.SRem(ctx, a.sidKey(socketID), room)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis leave %s: %w", room, err)
	}
	return a.local.Remove(ctx, socketID, room)
}

// RemoveAll removes a socket from every room it joined on any process.
func (a *Adapter) RemoveAll(ctx context.Context, socketID string) error {
	// The local index is always cleared, even when Redis is unreachable.
	defer a.local.RemoveAll(ctx, socketID)

	rooms, err := a.client.SMembers(ctx, a.sidKey(socketID)).Result()
	if err != nil {
		return fmt.Errorf("redis rooms of %s: %w", socketID, err)
	}

	seen := make(map[string]struct{}, len(rooms))
	for _, room := range rooms {
		seen[room] = struct{}{}
	}
	for _, room := range a.local.SocketRooms(socketID) {
		if _, ok := seen[room]; !ok {
			rooms = append(rooms, room)
		}
	}

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, room := range rooms {
			pipe.SRem(ctx, a.roomKey(room), socketID)
		}
		pipe.Del(ctx, a.sidKey(socketID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis leave all %s: %w", socketID, err)
	}
	return nil
}

// Sockets asks Redis for the members of a room, wherever they are connected.
func (a *Adapter) Sockets(ctx context.Context, room string) ([]string, error) {
	ids, err := a.client.SMembers(ctx, a.roomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis members of %s: %w", room, err)
	}
	return ids, nil
}

// SocketRooms returns the rooms of a socket held by this process.
func (a *Adapter) SocketRooms(socketID string) []string {
	return a.local.SocketRooms(socketID)
}

// Broadcast delivers locally, then publishes for the other processes.
func (a *Adapter) Broadcast(packet *roomrelay.Packet, rooms []string, except []string) error {
	if err := a.local.Broadcast(packet, rooms, except); err != nil {
		return err
	}

	encoded, err := packet.Encode()
	if err != nil {
		return err
	}

	msg, err := cbor.Marshal(envelope{
		Node:   a.node,
		Packet: encoded,
		Rooms:  rooms,
		Except: except,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := a.client.Publish(ctx, a.channel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (a *Adapter) relay() {
	defer a.wg.Done()

	for msg := range a.pubsub.Channel() {
		var env envelope
		if err := cbor.Unmarshal([]byte(msg.Payload), &env); err != nil {
			a.log.Warn().Err(err).Msg("dropping undecodable envelope")
			continue
		}
		if env.Node == a.node {
			continue
		}

		packet, err := roomrelay.DecodePacket(env.Packet)
		if err != nil {
			a.log.Warn().Err(err).Msg("dropping undecodable packet")
			continue
		}

		if err := a.local.Broadcast(packet, env.Rooms, env.Except); err != nil {
			a.log.Warn().Err(err).Msg("local delivery")
		}
	}
}

// Close stops the subscription. The Redis client is left open for its owner.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.pubsub.Close()
		a.wg.Wait()
		a.local.Close()
	})
	return err
}
