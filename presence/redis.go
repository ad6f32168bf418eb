package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keeps bindings in Redis so every process can resolve every
// connection. Keys look like <prefix>:presence:<namespace>:<connID>.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis returns a registry backed by client. An empty prefix defaults to
// "socket.io".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "socket.io"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(namespace, connID string) string {
	return r.prefix + ":presence:" + namespace + ":" + connID
}

func (r *Redis) Set(ctx context.Context, namespace, connID, name string) error {
	// SETNX keeps the name fixed at the first join.
	if err := r.client.SetNX(ctx, r.key(namespace, connID), name, 0).Err(); err != nil {
		return fmt.Errorf("presence set: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, namespace, connID string) (string, error) {
	name, err := r.client.Get(ctx, r.key(namespace, connID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("presence get: %w", err)
	}
	return name, nil
}

func (r *Redis) GetMany(ctx context.Context, namespace string, connIDs []string) ([]string, error) {
	if len(connIDs) == 0 {
		return []string{}, nil
	}

	keys := make([]string, len(connIDs))
	for i, id := range connIDs {
		keys[i] = r.key(namespace, id)
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence mget: %w", err)
	}

	out := make([]string, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = s
		} else {
			out[i] = Unknown
		}
	}
	return out, nil
}

func (r *Redis) Remove(ctx context.Context, namespace, connID string) error {
	if err := r.client.Del(ctx, r.key(namespace, connID)).Err(); err != nil {
		return fmt.Errorf("presence remove: %w", err)
	}
	return nil
}
