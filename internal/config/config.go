// Package config provides configuration parsing and validation for Redola.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HaoQinLandv/Redola/internal/transport"
)

// Config represents the complete node configuration.
type Config struct {
	Actor    ActorConfig    `yaml:"actor"`
	Channel  ChannelConfig  `yaml:"channel"`
	Listener ListenerConfig `yaml:"listener"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ActorConfig describes the local endpoint identity.
type ActorConfig struct {
	Type string            `yaml:"type"`
	Name string            `yaml:"name"`
	Tags map[string]string `yaml:"tags,omitempty"`
}

// ChannelConfig configures the outbound channel.
type ChannelConfig struct {
	// Endpoint is the remote address to connect to ("host:port", or
	// a ws:// URL for the websocket transport).
	Endpoint string `yaml:"endpoint"`

	// Transport selects the connector: "tcp" (default) or "ws".
	Transport string `yaml:"transport"`

	// ConnectTimeout bounds the dial.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// HandshakeTimeout bounds the identity exchange.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// KeepaliveInterval is the liveness probe ticker period.
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`

	// KeepaliveTimeout is the probe response deadline.
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout"`
}

// ListenerConfig configures the acceptor side.
type ListenerConfig struct {
	// Address is the listen address ("host:port"). Empty disables
	// the acceptor.
	Address string `yaml:"address"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures Prometheus exposure.
type MetricsConfig struct {
	// Listen is the address for the /metrics endpoint. Empty
	// disables exposure.
	Listen string `yaml:"listen"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Channel: ChannelConfig{
			Transport:         string(transport.TypeTCP),
			ConnectTimeout:    30 * time.Second,
			HandshakeTimeout:  5 * time.Second,
			KeepaliveInterval: 30 * time.Second,
			KeepaliveTimeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults and
// expanding environment variable references.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Actor.Type == "" {
		return fmt.Errorf("actor.type is required")
	}
	if c.Actor.Name == "" {
		return fmt.Errorf("actor.name is required")
	}

	switch transport.Type(c.Channel.Transport) {
	case transport.TypeTCP, transport.TypeWebSocket, "":
	default:
		return fmt.Errorf("channel.transport must be %q or %q, got %q",
			transport.TypeTCP, transport.TypeWebSocket, c.Channel.Transport)
	}

	if c.Channel.Endpoint != "" && transport.Type(c.Channel.Transport) == transport.TypeTCP {
		if _, _, err := net.SplitHostPort(c.Channel.Endpoint); err != nil {
			return fmt.Errorf("channel.endpoint %q: %w", c.Channel.Endpoint, err)
		}
	}
	if c.Listener.Address != "" {
		if _, _, err := net.SplitHostPort(c.Listener.Address); err != nil {
			return fmt.Errorf("listener.address %q: %w", c.Listener.Address, err)
		}
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen %q: %w", c.Metrics.Listen, err)
		}
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"channel.connect_timeout", c.Channel.ConnectTimeout},
		{"channel.handshake_timeout", c.Channel.HandshakeTimeout},
		{"channel.keepalive_interval", c.Channel.KeepaliveInterval},
		{"channel.keepalive_timeout", c.Channel.KeepaliveTimeout},
	} {
		if d.value < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}

	return nil
}

// Save writes the configuration to a file as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their
// values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		return os.Getenv(name)
	})
}
