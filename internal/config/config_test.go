package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv("LOG_NAME", "")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":3000", cfg.Addr())
	assert.False(t, cfg.HTTPS)
	assert.False(t, cfg.Clustered())
	assert.Equal(t, "https://consul.service.consul:8500", cfg.ConsulHost)
	assert.Equal(t, "socket.io", cfg.KeyPrefix)
	assert.Equal(t, "info", cfg.LogLevel())
	assert.Equal(t, "roomrelay", cfg.LogName)
}

func TestLogNameFromEnvironment(t *testing.T) {
	t.Setenv("LOG_NAME", "relay-7")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "relay-7", cfg.LogName)
}

func TestFlags(t *testing.T) {
	cfg, err := Load([]string{"-p", "8080", "-S", "-r", "redis", "-d", "2", "-v", "--log-format", "json"})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.HTTPS)
	assert.True(t, cfg.Clustered())
	assert.Equal(t, "redis", cfg.Redis)
	assert.Equal(t, 2, cfg.Database)
	assert.Equal(t, "debug", cfg.LogLevel())
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestFileThenFlags(t *testing.T) {
	path := writeFile(t, `
port: 4000
redis: 127.0.0.1:6379
key_prefix: relay
log_format: json
`)

	cfg, err := Load([]string{"--config", path, "--port", "5000"})
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Port, "flag wins over file")
	assert.Equal(t, "127.0.0.1:6379", cfg.Redis, "file wins over default")
	assert.Equal(t, "relay", cfg.KeyPrefix)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "certs/server.pem", cfg.KeyPath, "untouched defaults survive")
}

func TestInvalid(t *testing.T) {
	tests := map[string][]string{
		"port":       {"-p", "70000"},
		"database":   {"-d", "-1"},
		"log format": {"--log-format", "xml"},
		"tls paths":  {"-S", "--key-path", ""},
		"flag":       {"--nope"},
		"missing":    {"--config", filepath.Join(t.TempDir(), "absent.yaml")},
		"bad yaml":   {"--config", writeFile(t, "port: [")},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(args)
			assert.Error(t, err)
		})
	}
}

func TestHelp(t *testing.T) {
	_, err := Load([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}
