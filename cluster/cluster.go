// Package cluster connects a relay process to the shared Redis broker and
// hands out the distributed adapter and presence registry built on it.
package cluster

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ramory-l/roomrelay"
	"github.com/ramory-l/roomrelay/presence"
	"github.com/ramory-l/roomrelay/redisadapter"
)

// Options describes how to reach the broker.
type Options struct {
	// Redis is either host:port or the name of a service registered in Consul.
	Redis    string
	Database int

	// ConsulURL is the agent queried when Redis is a service name.
	ConsulURL string

	// Prefix namespaces every key and channel.
	Prefix string

	// Resolver overrides the Consul lookup.
	Resolver Resolver

	Logger zerolog.Logger
}

// Cluster is an established broker connection.
type Cluster struct {
	Addr     string
	Client   *redis.Client
	Registry *presence.Redis
	Adapters roomrelay.AdapterFactory
}

// Bootstrap resolves the broker, connects and verifies the connection. Any
// error is fatal for the caller: the process must not serve traffic with a
// local adapter when it was asked to run clustered.
func Bootstrap(ctx context.Context, opts Options) (*Cluster, error) {
	log := opts.Logger.With().Str("component", "cluster").Logger()

	addr, err := resolve(ctx, opts, log)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("addr", addr).Int("db", opts.Database).Msg("connecting to redis")

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           opts.Database,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = redisadapter.DefaultPrefix
	}

	log.Info().Str("addr", addr).Msg("redis connected")

	return &Cluster{
		Addr:     addr,
		Client:   client,
		Registry: presence.NewRedis(client, prefix),
		Adapters: redisadapter.Factory(client, redisadapter.Options{
			Prefix: prefix,
			Logger: opts.Logger,
		}),
	}, nil
}

func resolve(ctx context.Context, opts Options, log zerolog.Logger) (string, error) {
	target := strings.TrimSpace(opts.Redis)
	if target == "" {
		return "", fmt.Errorf("%w: no redis address configured", ErrBrokerNotFound)
	}

	if strings.Contains(target, ":") {
		host, port, ok := splitAddress(target)
		if !ok {
			return "", fmt.Errorf("%w: invalid address %q", ErrBrokerNotFound, target)
		}
		return net.JoinHostPort(host, strconv.Itoa(port)), nil
	}

	resolver := opts.Resolver
	if resolver == nil {
		r, err := NewConsulResolver(opts.ConsulURL)
		if err != nil {
			return "", err
		}
		resolver = r
	}

	log.Debug().Str("service", target).Str("consul", opts.ConsulURL).Msg("looking up redis service")

	host, port, err := resolver.Resolve(ctx, target)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// Close shuts the broker connection.
func (c *Cluster) Close() error {
	return c.Client.Close()
}
