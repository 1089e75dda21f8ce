package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MirrorConfig enables republishing telemetry frames to a NATS subject.
type MirrorConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Config is the top-level configuration struct for the daemon. Command-line
// flags overlay file values, file values overlay Default.
type Config struct {
	// Interface names the capture device. Empty means auto-detect.
	Interface string `yaml:"interface"`
	// Port is the loopback WebSocket listen port.
	Port int `yaml:"port"`

	WindowMS             float64 `yaml:"window_ms"`
	FlowTimeoutSeconds   float64 `yaml:"flow_timeout_seconds"`
	SmallPacketThreshold uint32  `yaml:"small_packet_threshold"`
	HeavyThroughputMbps  float64 `yaml:"heavy_throughput_mbps"`
	EWMAAlpha            float64 `yaml:"ewma_alpha"`

	Mirror MirrorConfig `yaml:"mirror"`

	// ReadFile replays a pcap file instead of capturing live. Set from the
	// command line only.
	ReadFile string `yaml:"-"`
}

// Default returns the stock configuration: auto-detected interface,
// port 9770 and a ~60 Hz aggregation window.
func Default() *Config {
	return &Config{
		Port:                 9770,
		WindowMS:             16.666,
		FlowTimeoutSeconds:   30,
		SmallPacketThreshold: 128,
		HeavyThroughputMbps:  12,
		EWMAAlpha:            0.2,
		Mirror: MirrorConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "abyss.telemetry",
		},
	}
}

// Load reads the configuration from a YAML file over the defaults, so
// omitted keys keep their stock values.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	return cfg, nil
}

// Validate rejects values the pipeline cannot run with. Range checks alone
// let NaN through, since every comparison against NaN is false, so each
// float field is also required to be finite.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1..65535", c.Port)
	}
	if !isFinite(c.WindowMS) || c.WindowMS <= 0 {
		return fmt.Errorf("window_ms must be a positive number, got %g", c.WindowMS)
	}
	if !isFinite(c.FlowTimeoutSeconds) || c.FlowTimeoutSeconds <= 0 {
		return fmt.Errorf("flow_timeout_seconds must be a positive number, got %g", c.FlowTimeoutSeconds)
	}
	if !isFinite(c.EWMAAlpha) || c.EWMAAlpha < 0 || c.EWMAAlpha > 1 {
		return fmt.Errorf("ewma_alpha must be within [0, 1], got %g", c.EWMAAlpha)
	}
	if !isFinite(c.HeavyThroughputMbps) || c.HeavyThroughputMbps < 0 {
		return fmt.Errorf("heavy_throughput_mbps must not be negative, got %g", c.HeavyThroughputMbps)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// WindowDuration returns the aggregation window as a duration.
func (c *Config) WindowDuration() time.Duration {
	return time.Duration(c.WindowMS * float64(time.Millisecond))
}

// FlowTimeout returns how long an idle flow stays in the table.
func (c *Config) FlowTimeout() time.Duration {
	return time.Duration(c.FlowTimeoutSeconds * float64(time.Second))
}
