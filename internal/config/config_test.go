package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "breadcrumbd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
record_store:
  base_url: https://store.example.com
  extra: true
identity:
  agent_id: agent-1
  workspace: "workspace:tools"
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesBaseURL(t *testing.T) {
	path := writeConfig(t, `
identity:
  agent_id: agent-1
  workspace: "workspace:tools"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Fatalf("expected base_url error, got %v", err)
	}
}

func TestLoadValidatesDeploymentMode(t *testing.T) {
	path := writeConfig(t, `
record_store:
  base_url: https://store.example.com
identity:
  agent_id: agent-1
  workspace: "workspace:tools"
  mode: spaceship
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "mode") {
		t.Fatalf("expected mode error, got %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
record_store:
  base_url: https://store.example.com
identity:
  agent_id: agent-1
  workspace: "workspace:tools"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RecordStore.MaxRetries != 3 {
		t.Fatalf("expected default max_retries=3, got %d", cfg.RecordStore.MaxRetries)
	}
	if cfg.Dispatcher.ProcessingTableSize != 1000 {
		t.Fatalf("expected default processing_table_size=1000, got %d", cfg.Dispatcher.ProcessingTableSize)
	}
	if cfg.ContextBuilder.MaxTokens != 4000 {
		t.Fatalf("expected default max_tokens=4000, got %d", cfg.ContextBuilder.MaxTokens)
	}
	if cfg.Identity.Mode != ModeLocal {
		t.Fatalf("expected default mode=local, got %s", cfg.Identity.Mode)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
record_store:
  base_url: https://file-configured.example.com
identity:
  agent_id: agent-1
  workspace: "workspace:tools"
`)

	t.Setenv("RCRT_BASE_URL", "https://env-configured.example.com")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RecordStore.BaseURL != "https://env-configured.example.com" {
		t.Fatalf("expected env override to win, got %s", cfg.RecordStore.BaseURL)
	}
}
