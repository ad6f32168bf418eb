package cluster

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	consul "github.com/hashicorp/consul/api"
)

// ErrBrokerNotFound means no broker address could be resolved.
var ErrBrokerNotFound = errors.New("redis service not found")

// Resolver looks up the address of a named service.
type Resolver interface {
	Resolve(ctx context.Context, service string) (host string, port int, err error)
}

// ConsulResolver resolves services through the Consul catalog.
type ConsulResolver struct {
	catalog *consul.Catalog
}

// NewConsulResolver connects to the Consul agent at rawURL, e.g.
// https://consul.service.consul:8500. Certificates are not verified, the
// agent usually serves a cluster-internal one.
func NewConsulResolver(rawURL string) (*ConsulResolver, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse consul url: %w", err)
	}

	cfg := consul.DefaultConfig()
	cfg.Address = u.Host
	cfg.Scheme = u.Scheme
	if u.Scheme == "https" {
		cfg.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		}
	}

	client, err := consul.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulResolver{catalog: client.Catalog()}, nil
}

// Resolve returns the first catalog entry of service.
func (r *ConsulResolver) Resolve(ctx context.Context, service string) (string, int, error) {
	opts := (&consul.QueryOptions{}).WithContext(ctx)

	nodes, _, err := r.catalog.Service(service, "", opts)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %s: %v", ErrBrokerNotFound, service, err)
	}
	if len(nodes) == 0 {
		return "", 0, fmt.Errorf("%w: %s", ErrBrokerNotFound, service)
	}

	host := nodes[0].ServiceAddress
	if host == "" {
		host = nodes[0].Address
	}
	return host, nodes[0].ServicePort, nil
}

// splitAddress reports whether target is a literal host:port.
func splitAddress(target string) (string, int, bool) {
	if !strings.Contains(target, ":") {
		return "", 0, false
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}
