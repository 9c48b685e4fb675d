// ABOUTME: YAML configuration for the host bridge with built-in defaults
// ABOUTME: Command line flags in cmd override values loaded from the file
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for the host bridge. Every field
// has a usable default, so an empty file and no file at all both work.
type Config struct {
	Serial SerialConfig `yaml:"serial"`
	Sync   SyncConfig   `yaml:"sync"`
	Output OutputConfig `yaml:"output"`
	Feed   FeedConfig   `yaml:"feed"`
	MDNS   MDNSConfig   `yaml:"mdns"`
	UI     UIConfig     `yaml:"ui"`
}

// SerialConfig selects the device link.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// SyncConfig tunes the clock model and the ping schedule. Durations are
// strings in time.ParseDuration form ("20ms", "1s").
type SyncConfig struct {
	PingInterval     string `yaml:"ping_interval"`
	MaxRTT           string `yaml:"max_rtt"`
	Window           int    `yaml:"window"`
	MinSamples       int    `yaml:"min_samples"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	LivenessTimeout  string `yaml:"liveness_timeout"`
}

// OutputConfig controls the CSV trigger log.
type OutputConfig struct {
	Dir     string `yaml:"dir"`
	Disable bool   `yaml:"disable"`
}

// FeedConfig controls the websocket feed and metrics listener.
type FeedConfig struct {
	Addr    string `yaml:"addr"`
	Disable bool   `yaml:"disable"`
}

// MDNSConfig controls LAN advertisement of the feed.
type MDNSConfig struct {
	Instance string `yaml:"instance"`
	Disable  bool   `yaml:"disable"`
}

// UIConfig controls the terminal UI and log routing.
type UIConfig struct {
	Disable bool   `yaml:"disable"`
	LogFile string `yaml:"log_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Baud: 115200,
		},
		Sync: SyncConfig{
			PingInterval:     "1s",
			MaxRTT:           "20ms",
			Window:           100,
			MinSamples:       10,
			HandshakeTimeout: "5s",
			LivenessTimeout:  "5s",
		},
		Output: OutputConfig{
			Dir: defaultOutputDir(),
		},
		Feed: FeedConfig{
			Addr: ":8475",
		},
	}
}

// Load reads a YAML config file and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	return &c, nil
}

// Duration parses a config duration string, falling back to def when the
// string is empty, malformed, or not positive.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Serial.Baud == 0 {
		c.Serial.Baud = d.Serial.Baud
	}
	if c.Sync.PingInterval == "" {
		c.Sync.PingInterval = d.Sync.PingInterval
	}
	if c.Sync.MaxRTT == "" {
		c.Sync.MaxRTT = d.Sync.MaxRTT
	}
	if c.Sync.Window == 0 {
		c.Sync.Window = d.Sync.Window
	}
	if c.Sync.MinSamples == 0 {
		c.Sync.MinSamples = d.Sync.MinSamples
	}
	if c.Sync.HandshakeTimeout == "" {
		c.Sync.HandshakeTimeout = d.Sync.HandshakeTimeout
	}
	if c.Sync.LivenessTimeout == "" {
		c.Sync.LivenessTimeout = d.Sync.LivenessTimeout
	}
	if c.Output.Dir == "" {
		c.Output.Dir = d.Output.Dir
	}
	if c.Feed.Addr == "" {
		c.Feed.Addr = d.Feed.Addr
	}
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "TRIGGER_DATA"
	}
	return filepath.Join(home, "TRIGGER_DATA")
}
