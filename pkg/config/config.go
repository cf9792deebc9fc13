// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the snare agent.
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"SNARE_LOG_LEVEL"`
	Capture   CaptureConfig   `yaml:"capture"`
	Output    OutputConfig    `yaml:"output"`
	Exporters ExportersConfig `yaml:"exporters"`
	Health    HealthConfig    `yaml:"health"`
}

// CaptureConfig configures the capture session.
type CaptureConfig struct {
	Interface     string        `yaml:"interface" env:"SNARE_INTERFACE"`
	SnapLen       int           `yaml:"snaplen"` // <= 0 means the backend maximum
	Promiscuous   bool          `yaml:"promiscuous"`
	Filter        string        `yaml:"filter" env:"SNARE_FILTER"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// OutputConfig selects the packet sinks.
type OutputConfig struct {
	PCAP   PCAPConfig   `yaml:"pcap"`
	Stdout StdoutConfig `yaml:"stdout"`
}

type PCAPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type StdoutConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "text" or "json"
}

type ExportersConfig struct {
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig configures the OTLP gRPC statistics exporter.
type OTLPConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	Compression string `yaml:"compression"` // "" or "gzip"
}

// HealthConfig configures the health HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port" env:"SNARE_HEALTH_PORT"` // e.g. ":8689"
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Capture: CaptureConfig{
			SnapLen:       0, // backend maximum
			Promiscuous:   true,
			PollTimeout:   500 * time.Millisecond,
			StatsInterval: 30 * time.Second,
		},
		Output: OutputConfig{
			Stdout: StdoutConfig{
				Enabled: true,
				Format:  "text",
			},
		},
		Exporters: ExportersConfig{
			OTLP: OTLPConfig{
				Enabled:  false,
				Endpoint: "localhost:4317",
				Insecure: true,
			},
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    ":8689",
		},
	}
}

// ApplyEnvOverrides reads SNARE_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"SNARE_LOG_LEVEL":               func(v string) { c.LogLevel = v },
		"SNARE_INTERFACE":               func(v string) { c.Capture.Interface = v },
		"SNARE_FILTER":                  func(v string) { c.Capture.Filter = v },
		"SNARE_HEALTH_PORT":             func(v string) { c.Health.Port = v },
		"SNARE_EXPORTERS_OTLP_ENDPOINT": func(v string) { c.Exporters.OTLP.Endpoint = v },
		"SNARE_OUTPUT_PCAP_PATH":        func(v string) { c.Output.PCAP.Path = v },
	}

	// Also handle boolean overrides
	boolOverrides := map[string]*bool{
		"SNARE_PROMISCUOUS":            &c.Capture.Promiscuous,
		"SNARE_HEALTH_ENABLED":         &c.Health.Enabled,
		"SNARE_EXPORTERS_OTLP_ENABLED": &c.Exporters.OTLP.Enabled,
		"SNARE_OUTPUT_PCAP_ENABLED":    &c.Output.PCAP.Enabled,
		"SNARE_OUTPUT_STDOUT_ENABLED":  &c.Output.Stdout.Enabled,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Capture.Interface == "" {
		return fmt.Errorf("capture.interface is required")
	}

	if c.Capture.PollTimeout < time.Millisecond {
		return fmt.Errorf("capture.poll_timeout must be at least 1ms")
	}

	if c.Capture.StatsInterval < time.Second {
		return fmt.Errorf("capture.stats_interval must be at least 1s")
	}

	if c.Output.PCAP.Enabled && c.Output.PCAP.Path == "" {
		return fmt.Errorf("output.pcap.path is required when the pcap sink is enabled")
	}

	if c.Output.Stdout.Enabled && c.Output.Stdout.Format != "text" && c.Output.Stdout.Format != "json" {
		return fmt.Errorf("output.stdout.format must be 'text' or 'json'")
	}

	if c.Exporters.OTLP.Enabled {
		if c.Exporters.OTLP.Endpoint == "" {
			return fmt.Errorf("exporters.otlp.endpoint is required when OTLP is enabled")
		}
		if c.Exporters.OTLP.Compression != "" && c.Exporters.OTLP.Compression != "gzip" {
			return fmt.Errorf("exporters.otlp.compression must be empty or 'gzip'")
		}
	}

	return nil
}
