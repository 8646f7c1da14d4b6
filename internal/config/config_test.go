package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "app_name: hdrid-test\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.AppName != "hdrid-test" {
		t.Errorf("app name not read: %q", cfg.AppName)
	}
	if cfg.Address() != "0.0.0.0:5000" {
		t.Errorf("unexpected default address %q", cfg.Address())
	}
	if cfg.Data.Driver != "sqlite3" {
		t.Errorf("unexpected default driver %q", cfg.Data.Driver)
	}
	if cfg.Storage.Provider != "filesystem" {
		t.Errorf("unexpected default storage provider %q", cfg.Storage.Provider)
	}
	if cfg.Queue.Broker != "memory" || cfg.Queue.MaxRetries != 3 {
		t.Errorf("unexpected queue defaults %+v", cfg.Queue)
	}
	if cfg.Queue.PollInterval != 5*time.Second || cfg.Queue.ProcessTimeout != 10*time.Minute {
		t.Errorf("unexpected polling defaults %+v", cfg.Queue)
	}
	if cfg.Maintenance.RetentionAge != 30*24*time.Hour {
		t.Errorf("unexpected retention default %s", cfg.Maintenance.RetentionAge)
	}
	if cfg.Provider.Available() {
		t.Error("provider must not be available without credentials")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `
run_mode: debug
server:
  host: 127.0.0.1
  port: 8080
provider:
  api_key: k
  endpoint_id: e
  timeout: 45s
queue:
  broker: redis
  processing_workers: 8
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Address() != "127.0.0.1:8080" {
		t.Errorf("unexpected address %q", cfg.Address())
	}
	if !cfg.Provider.Available() || cfg.Provider.Timeout != 45*time.Second {
		t.Errorf("provider overrides not applied: %+v", cfg.Provider)
	}
	if cfg.Queue.Broker != "redis" || cfg.Queue.ProcessingWorkers != 8 {
		t.Errorf("queue overrides not applied: %+v", cfg.Queue)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
