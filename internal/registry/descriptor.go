package registry

import (
	"fmt"
	"strings"
	"time"
)

// Kind discriminates remote hosted APIs from locally launched servers.
type Kind string

const (
	KindRemote Kind = "remote"
	KindLocal  Kind = "local"
)

// Descriptor is the immutable catalogue entry for one backend.
// Remote backends carry no resource cost; local backends describe how to
// launch and probe a model-server process.
type Descriptor struct {
	Name string
	Kind Kind

	// Local fields.
	// VRAMBytes is the estimated footprint charged against the ledger.
	VRAMBytes int64
	// Command is the launch template; "{port}" and "{host}" tokens are
	// substituted by the supervisor at launch time.
	Command []string
	// Host the launched server binds to; defaults to 127.0.0.1.
	Host string
	// HealthPath is probed until it answers 2xx; defaults to /health.
	HealthPath string
	// CompletionPath is the inference endpoint; defaults to /v1/completions.
	CompletionPath string
	// IdleTimeout after which an idle instance is swept; zero disables.
	IdleTimeout time.Duration
	// LaunchTimeout bounds spawn-to-healthy; zero uses the supervisor default.
	LaunchTimeout time.Duration

	// Remote fields.
	BaseURL string
	APIKey  string
	// Model is the upstream model name sent in the request body; defaults to
	// the descriptor name.
	Model string
}

// Validate checks the descriptor for registration.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("descriptor name is empty")
	}
	switch d.Kind {
	case KindRemote:
		if strings.TrimSpace(d.BaseURL) == "" {
			return fmt.Errorf("remote backend %q: base_url is required", d.Name)
		}
	case KindLocal:
		if len(d.Command) == 0 {
			return fmt.Errorf("local backend %q: command is required", d.Name)
		}
		if d.VRAMBytes <= 0 {
			return fmt.Errorf("local backend %q: vram estimate must be positive", d.Name)
		}
	default:
		return fmt.Errorf("backend %q: unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

// withDefaults fills optional local fields so callers never branch on "".
func (d Descriptor) withDefaults() Descriptor {
	if d.Kind == KindLocal {
		if d.Host == "" {
			d.Host = "127.0.0.1"
		}
		if d.HealthPath == "" {
			d.HealthPath = "/health"
		}
	}
	if d.CompletionPath == "" {
		d.CompletionPath = "/v1/completions"
	}
	if d.Model == "" {
		d.Model = d.Name
	}
	return d
}
