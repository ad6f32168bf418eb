// Package config builds the relay's immutable configuration from defaults,
// an optional YAML file and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is constructed once at startup and passed by value.
type Config struct {
	Port     int    `yaml:"port"`
	HTTPS    bool   `yaml:"https"`
	KeyPath  string `yaml:"key_path"`
	CertPath string `yaml:"cert_path"`

	// Redis enables clustering: host:port, or a service name looked up in Consul.
	Redis      string `yaml:"redis"`
	Database   int    `yaml:"database"`
	ConsulHost string `yaml:"consul_host"`
	KeyPrefix  string `yaml:"key_prefix"`

	Verbose   bool   `yaml:"verbose"`
	LogFormat string `yaml:"log_format"` // console | json
	LogName   string `yaml:"log_name"`
}

// Default returns the built-in configuration.
func Default() Config {
	name := os.Getenv("LOG_NAME")
	if name == "" {
		name = "roomrelay"
	}
	return Config{
		Port:       3000,
		KeyPath:    "certs/server.pem",
		CertPath:   "certs/server.crt",
		ConsulHost: "https://consul.service.consul:8500",
		KeyPrefix:  "socket.io",
		LogFormat:  "console",
		LogName:    name,
	}
}

// Clustered reports whether a broker was configured.
func (c Config) Clustered() bool {
	return c.Redis != ""
}

// Addr is the listen address.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// LogLevel maps Verbose to a level name.
func (c Config) LogLevel() string {
	if c.Verbose {
		return "debug"
	}
	return "info"
}

// Validate checks the values that cannot be caught by flag parsing.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Database < 0 {
		errs = append(errs, fmt.Errorf("database %d must not be negative", c.Database))
	}
	if c.HTTPS && (c.KeyPath == "" || c.CertPath == "") {
		errs = append(errs, errors.New("https needs both key_path and cert_path"))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Load parses args (without the program name).
func Load(args []string) (Config, error) {
	var (
		flagged = Default()
		file    string
	)

	fs := pflag.NewFlagSet("relayd", pflag.ContinueOnError)
	fs.IntVarP(&flagged.Port, "port", "p", flagged.Port, "Port to listen on")
	fs.BoolVarP(&flagged.HTTPS, "https", "S", false, "Serve HTTPS with the configured certificate")
	fs.StringVar(&flagged.KeyPath, "key-path", flagged.KeyPath, "TLS private key file")
	fs.StringVar(&flagged.CertPath, "cert-path", flagged.CertPath, "TLS certificate file")
	fs.StringVarP(&flagged.Redis, "redis", "r", "", "Redis service for shared rooms and presence. Use host:port for a direct address")
	fs.IntVarP(&flagged.Database, "database", "d", flagged.Database, "Redis database for presence")
	fs.StringVarP(&flagged.ConsulHost, "consul-host", "c", flagged.ConsulHost, "Consul agent used to look up the redis service")
	fs.StringVar(&flagged.KeyPrefix, "key-prefix", flagged.KeyPrefix, "Prefix of every redis key and channel")
	fs.BoolVarP(&flagged.Verbose, "verbose", "v", false, "Verbose logging")
	fs.StringVar(&flagged.LogFormat, "log-format", flagged.LogFormat, "Log format: console or json")
	fs.StringVar(&flagged.LogName, "log-name", flagged.LogName, "Source name attached to every log line")
	fs.StringVar(&file, "config", "", "YAML configuration file")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if file != "" {
		if err := readFile(file, &cfg); err != nil {
			return Config{}, err
		}
	}

	// Explicit flags win over the file.
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = flagged.Port
		case "https":
			cfg.HTTPS = flagged.HTTPS
		case "key-path":
			cfg.KeyPath = flagged.KeyPath
		case "cert-path":
			cfg.CertPath = flagged.CertPath
		case "redis":
			cfg.Redis = flagged.Redis
		case "database":
			cfg.Database = flagged.Database
		case "consul-host":
			cfg.ConsulHost = flagged.ConsulHost
		case "key-prefix":
			cfg.KeyPrefix = flagged.KeyPrefix
		case "verbose":
			cfg.Verbose = flagged.Verbose
		case "log-format":
			cfg.LogFormat = flagged.LogFormat
		case "log-name":
			cfg.LogName = flagged.LogName
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
