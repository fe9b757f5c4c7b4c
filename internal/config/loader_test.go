package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"inferd/internal/registry"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_YAML(t *testing.T) {
	p := writeFile(t, "inferd.yaml", `
addr: ":9090"
vram_budget_mb: 8192
max_queue_depth: 16
log_level: debug
cors_origins: ["http://localhost:3000"]
backends:
  - name: tinyllama-q4
    kind: local
    vram_mb: 5120
    command: ["llama-server", "-m", "/models/tiny.gguf", "--port", "{port}"]
    idle_timeout_s: 300
  - name: gpt-hosted
    kind: remote
    base_url: https://api.example.com
    api_key: sk-test
    model: gpt-4o-mini
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.VRAMBudgetMB != 8192 || cfg.MaxQueueDepth != 16 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 1 {
		t.Fatalf("cors = %+v", cfg.CORSOrigins)
	}

	descs, err := cfg.Descriptors()
	if err != nil {
		t.Fatalf("descriptors: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("descs = %+v", descs)
	}
	local := descs[0]
	if local.Kind != registry.KindLocal || local.VRAMBytes != 5120<<20 {
		t.Fatalf("local = %+v", local)
	}
	if local.IdleTimeout != 5*time.Minute {
		t.Fatalf("idle timeout = %s", local.IdleTimeout)
	}
	remote := descs[1]
	if remote.Kind != registry.KindRemote || remote.Model != "gpt-4o-mini" || remote.APIKey != "sk-test" {
		t.Fatalf("remote = %+v", remote)
	}
}

func TestLoad_JSON(t *testing.T) {
	p := writeFile(t, "inferd.json", `{
  "addr": ":8080",
  "vram_budget_mb": 4096,
  "backends": [
    {"name": "r", "kind": "remote", "base_url": "https://api.example.com"}
  ]
}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VRAMBudgetMB != 4096 || len(cfg.Backends) != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_TOML(t *testing.T) {
	p := writeFile(t, "inferd.toml", `
addr = ":8081"
vram_budget_mb = 2048

[[backends]]
name = "tiny"
kind = "local"
vram_mb = 1024
command = ["srv", "--port", "{port}"]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || len(cfg.Backends) != 1 || cfg.Backends[0].VRAMMB != 1024 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("empty path must fail")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file must fail")
	}
	p := writeFile(t, "cfg.ini", "addr=:8080")
	if _, err := Load(p); err == nil {
		t.Fatal("unsupported extension must fail")
	}
	p = writeFile(t, "bad.yaml", ":\n  -")
	if _, err := Load(p); err == nil {
		t.Fatal("malformed yaml must fail")
	}
}

func TestDescriptors_ValidationFailure(t *testing.T) {
	cfg := Config{Backends: []BackendConfig{{Name: "broken", Kind: "local"}}}
	if _, err := cfg.Descriptors(); err == nil {
		t.Fatal("invalid backend must fail conversion")
	}
}
