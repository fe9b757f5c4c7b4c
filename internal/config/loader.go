// Package config loads daemon configuration from yaml, json or toml files.
// Zero values mean "unspecified" and fall back to defaults in the serve
// command or the consuming component.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"inferd/internal/registry"
)

// BackendConfig is one entry of the backends list.
type BackendConfig struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// Kind is "remote" or "local".
	Kind string `json:"kind" yaml:"kind" toml:"kind"`

	// Local backends.
	VRAMMB         int64    `json:"vram_mb" yaml:"vram_mb" toml:"vram_mb"`
	Command        []string `json:"command" yaml:"command" toml:"command"`
	Host           string   `json:"host" yaml:"host" toml:"host"`
	HealthPath     string   `json:"health_path" yaml:"health_path" toml:"health_path"`
	CompletionPath string   `json:"completion_path" yaml:"completion_path" toml:"completion_path"`
	IdleTimeoutS   int      `json:"idle_timeout_s" yaml:"idle_timeout_s" toml:"idle_timeout_s"`
	LaunchTimeoutS int      `json:"launch_timeout_s" yaml:"launch_timeout_s" toml:"launch_timeout_s"`

	// Remote backends.
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"`
	Model   string `json:"model" yaml:"model" toml:"model"`
}

// Config holds runtime parameters for the daemon.
type Config struct {
	Addr             string          `json:"addr" yaml:"addr" toml:"addr"`
	VRAMBudgetMB     int64           `json:"vram_budget_mb" yaml:"vram_budget_mb" toml:"vram_budget_mb"`
	MaxQueueDepth    int             `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	DefaultTimeoutMS int             `json:"default_timeout_ms" yaml:"default_timeout_ms" toml:"default_timeout_ms"`
	DrainTimeoutMS   int             `json:"drain_timeout_ms" yaml:"drain_timeout_ms" toml:"drain_timeout_ms"`
	SweepIntervalMS  int             `json:"sweep_interval_ms" yaml:"sweep_interval_ms" toml:"sweep_interval_ms"`
	LogLevel         string          `json:"log_level" yaml:"log_level" toml:"log_level"`
	CORSOrigins      []string        `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	Backends         []BackendConfig `json:"backends" yaml:"backends" toml:"backends"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Descriptors converts the backends list to registry descriptors.
func (c Config) Descriptors() ([]registry.Descriptor, error) {
	out := make([]registry.Descriptor, 0, len(c.Backends))
	for _, b := range c.Backends {
		d := registry.Descriptor{
			Name:           b.Name,
			Kind:           registry.Kind(b.Kind),
			VRAMBytes:      b.VRAMMB << 20,
			Command:        b.Command,
			Host:           b.Host,
			HealthPath:     b.HealthPath,
			CompletionPath: b.CompletionPath,
			IdleTimeout:    time.Duration(b.IdleTimeoutS) * time.Second,
			LaunchTimeout:  time.Duration(b.LaunchTimeoutS) * time.Second,
			BaseURL:        b.BaseURL,
			APIKey:         b.APIKey,
			Model:          b.Model,
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("config backend %q: %w", b.Name, err)
		}
		out = append(out, d)
	}
	return out, nil
}
