// Package config handles collabsync configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is indirected so tests can override the search order
// without touching the developer's real config files.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config) is checked first by FindConfig; failing that:
// ./config.yaml, ~/.config/collabsync/config.yaml, then the container
// and system-wide conventions.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "collabsync", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/collabsync/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches searchPathsFunc() and returns the first
// path that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all collabsync configuration: the demo PubSub server's
// listen address, the transport backend it fans out through, and the
// demo client's connection target.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Transport TransportConfig `yaml:"transport"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Client    ClientConfig    `yaml:"client"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the demo PubSub/status HTTP server's bind
// settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// TransportConfig selects and configures the PubSub Transport
// collaborator. Backend is one of "memory" or "mqtt"; "memory" needs
// no further configuration.
type TransportConfig struct {
	Backend       string `yaml:"backend"`
	ChannelPrefix string `yaml:"channel_prefix"`
	// Audit enables the durable sqlite publish-audit decorator around
	// whichever backend is selected.
	Audit bool `yaml:"audit"`
}

// MQTTConfig configures the MQTT-backed Transport implementation.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"` // defaults to the instance id
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	QoS       byte   `yaml:"qos"`
}

// ProxyConfig configures an optional SOCKS5 proxy the demo client
// dials the collaboration server's websocket through.
type ProxyConfig struct {
	URL string `yaml:"url"` // e.g. socks5://localhost:1080
}

// ClientConfig configures the demo Connection client.
type ClientConfig struct {
	ServerURL   string `yaml:"server_url"`
	DefaultType string `yaml:"default_type"`
}

// Configured reports whether an MQTT broker URL has been set.
func (c MQTTConfig) Configured() bool {
	return c.BrokerURL != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${MQTT_PASSWORD}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any
// field without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Transport.Backend == "" {
		c.Transport.Backend = "memory"
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}
	if c.Client.DefaultType == "" {
		c.Client.DefaultType = "json0"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	switch c.Transport.Backend {
	case "memory", "mqtt":
	default:
		return fmt.Errorf("transport.backend %q must be one of: memory, mqtt", c.Transport.Backend)
	}
	if c.Transport.Backend == "mqtt" && !c.MQTT.Configured() {
		return fmt.Errorf("transport.backend is mqtt but mqtt.broker_url is empty")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d out of range (0-2)", c.MQTT.QoS)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for running the
// demo server and client against the in-memory transport. All
// defaults are already applied.
func Default() *Config {
	cfg := &Config{
		Client: ClientConfig{
			ServerURL:   "ws://localhost:8080/ws",
			DefaultType: "json0",
		},
	}
	cfg.applyDefaults()
	return cfg
}
