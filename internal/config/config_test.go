package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Port != 9770 {
		t.Errorf("default port = %d, want 9770", cfg.Port)
	}
	if cfg.Interface != "" {
		t.Errorf("default interface = %q, want auto-detect", cfg.Interface)
	}
	if cfg.FlowTimeoutSeconds != 30 {
		t.Errorf("default flow timeout = %g, want 30", cfg.FlowTimeoutSeconds)
	}
	if cfg.SmallPacketThreshold != 128 {
		t.Errorf("default small packet threshold = %d, want 128", cfg.SmallPacketThreshold)
	}
	if cfg.EWMAAlpha != 0.2 {
		t.Errorf("default ewma alpha = %g, want 0.2", cfg.EWMAAlpha)
	}
	if cfg.Mirror.Enabled {
		t.Error("mirror enabled by default")
	}
	if cfg.Mirror.Subject != "abyss.telemetry" {
		t.Errorf("default mirror subject = %q", cfg.Mirror.Subject)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}

	// Roughly 60 frames per second.
	win := cfg.WindowDuration()
	if win < 16*time.Millisecond || win > 17*time.Millisecond {
		t.Errorf("default window = %v, want about 16.7ms", win)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
interface: eth0
port: 8080
window_ms: 50
mirror:
  enabled: true
  subject: lab.telemetry
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Interface != "eth0" {
		t.Errorf("interface = %q, want eth0", cfg.Interface)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if cfg.WindowMS != 50 {
		t.Errorf("window_ms = %g, want 50", cfg.WindowMS)
	}
	if !cfg.Mirror.Enabled || cfg.Mirror.Subject != "lab.telemetry" {
		t.Errorf("mirror overlay not applied: %+v", cfg.Mirror)
	}

	// Keys absent from the file keep their defaults.
	if cfg.FlowTimeoutSeconds != 30 {
		t.Errorf("flow_timeout_seconds = %g, want default 30", cfg.FlowTimeoutSeconds)
	}
	if cfg.Mirror.URL != "nats://127.0.0.1:4222" {
		t.Errorf("mirror url = %q, want default", cfg.Mirror.URL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load of a missing file returned no error")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("port: [not a number"), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load of malformed YAML returned no error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"zero window", func(c *Config) { c.WindowMS = 0 }},
		{"negative window", func(c *Config) { c.WindowMS = -5 }},
		{"zero flow timeout", func(c *Config) { c.FlowTimeoutSeconds = 0 }},
		{"alpha above one", func(c *Config) { c.EWMAAlpha = 1.5 }},
		{"negative alpha", func(c *Config) { c.EWMAAlpha = -0.1 }},
		{"negative heavy threshold", func(c *Config) { c.HeavyThroughputMbps = -1 }},
		{"NaN window", func(c *Config) { c.WindowMS = math.NaN() }},
		{"infinite window", func(c *Config) { c.WindowMS = math.Inf(1) }},
		{"NaN flow timeout", func(c *Config) { c.FlowTimeoutSeconds = math.NaN() }},
		{"NaN alpha", func(c *Config) { c.EWMAAlpha = math.NaN() }},
		{"NaN heavy threshold", func(c *Config) { c.HeavyThroughputMbps = math.NaN() }},
	}

	for _, c := range cases {
		cfg := Default()
		c.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate returned no error", c.name)
		}
	}
}

func TestLoadedNaNFailsValidation(t *testing.T) {
	// YAML 1.1 spells NaN as .nan; a loaded config must still fail
	// validation before the pipeline starts.
	path := filepath.Join(t.TempDir(), "nan.yaml")
	content := []byte("window_ms: .nan\newma_alpha: .nan\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !math.IsNaN(cfg.WindowMS) {
		t.Fatalf("window_ms = %g, want NaN from the file", cfg.WindowMS)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate accepted a NaN window and alpha")
	}
}

func TestFlowTimeoutDuration(t *testing.T) {
	cfg := Default()
	cfg.FlowTimeoutSeconds = 2.5
	if got := cfg.FlowTimeout(); got != 2500*time.Millisecond {
		t.Errorf("FlowTimeout = %v, want 2.5s", got)
	}
}
