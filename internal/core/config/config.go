// Package config handles configuration loading and validation for weave.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBrokerPort    = 11023
	DefaultDiscoveryPort = 23034
	DefaultMaxLineBytes  = 1 << 20
)

// Config holds the application configuration.
type Config struct {
	Broker    BrokerConfig      `yaml:"broker"`
	Discovery DiscoveryConfig   `yaml:"discovery"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Activity  ActivityConfig    `yaml:"activity"`
	Apps      []App             `yaml:"apps"`
	Synonyms  map[string]string `yaml:"synonyms"`
	DataDir   string            `yaml:"-"` // set by caller, not from config file
}

// BrokerConfig configures the TCP listener.
type BrokerConfig struct {
	Bind           string `yaml:"bind"            env:"WEAVE_BROKER_BIND"`
	Port           int    `yaml:"port"            env:"WEAVE_BROKER_PORT"`
	MaxConnections int    `yaml:"max_connections" env:"WEAVE_BROKER_MAX_CONNECTIONS"`
	MaxLineBytes   int    `yaml:"max_line_bytes"  env:"WEAVE_BROKER_MAX_LINE_BYTES"`
}

// DiscoveryConfig configures the UDP discovery responder.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled" env:"WEAVE_DISCOVERY_ENABLED"`
	Port    int  `yaml:"port"    env:"WEAVE_DISCOVERY_PORT"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" env:"WEAVE_METRICS_ADDR"`
}

// ActivityConfig configures the activity journal.
type ActivityConfig struct {
	Enabled    bool `yaml:"enabled"     env:"WEAVE_ACTIVITY_ENABLED"`
	MaxEntries int  `yaml:"max_entries" env:"WEAVE_ACTIVITY_MAX_ENTRIES"`
}

// App is a system application seeded at startup.
type App struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Broker: BrokerConfig{
			Port:         DefaultBrokerPort,
			MaxLineBytes: DefaultMaxLineBytes,
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Port:    DefaultDiscoveryPort,
		},
		Activity: ActivityConfig{
			Enabled:    true,
			MaxEntries: 1000,
		},
		Synonyms: map[string]string{},
	}
}

// Load reads configuration from the given path, applies WEAVE_* environment
// overrides and sets the data directory. A missing file yields defaults.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	// Re-set dataDir since Unmarshal may have cleared it
	cfg.DataDir = dataDir

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Broker.Port == 0 {
		c.Broker.Port = defaults.Broker.Port
	}
	if c.Broker.MaxLineBytes == 0 {
		c.Broker.MaxLineBytes = defaults.Broker.MaxLineBytes
	}
	if c.Discovery.Port == 0 {
		c.Discovery.Port = defaults.Discovery.Port
	}
	if c.Activity.MaxEntries == 0 {
		c.Activity.MaxEntries = defaults.Activity.MaxEntries
	}
	if c.Synonyms == nil {
		c.Synonyms = map[string]string{}
	}
}

// Validate checks the invariants the broker cannot start without.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if err := validPort(c.Broker.Port); err != nil {
		return fmt.Errorf("broker.port: %w", err)
	}

	if c.Discovery.Enabled {
		if err := validPort(c.Discovery.Port); err != nil {
			return fmt.Errorf("discovery.port: %w", err)
		}
	}

	if c.Broker.MaxConnections < 0 {
		return fmt.Errorf("broker.max_connections cannot be negative")
	}

	if c.Broker.MaxLineBytes < 64 {
		return fmt.Errorf("broker.max_line_bytes must be at least 64")
	}

	return nil
}

func validPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%d is not a valid port", port)
	}
	return nil
}

// BrokerAddr returns the TCP listen address.
func (c *Config) BrokerAddr() string {
	return net.JoinHostPort(c.Broker.Bind, strconv.Itoa(c.Broker.Port))
}

// DiscoveryAddr returns the UDP listen address.
func (c *Config) DiscoveryAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Discovery.Port))
}

// ActivityFile returns the path to the activity journal.
func (c *Config) ActivityFile() string {
	return filepath.Join(c.DataDir, "activity.jsonl")
}
