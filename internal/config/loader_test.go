package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Defaults()
	if err != nil {
		t.Fatalf("Defaults(): %v", err)
	}
	if cfg.Scheduler.Workers <= 0 {
		t.Errorf("expected positive default worker count, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestDiscoverWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(root, FileName)
	if err := os.WriteFile(cfgPath, []byte("store:\n  root: /tmp/store\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := Discover(nested)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if found != cfgPath {
		t.Errorf("Discover() = %q, want %q", found, cfgPath)
	}
}

func TestDiscoverNotFound(t *testing.T) {
	root := t.TempDir()
	found, err := Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if found != "" {
		t.Errorf("expected no config found, got %q", found)
	}
}

func TestLoadOverlay(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, FileName)
	content := "store:\n  root: /custom/store\nscheduler:\n  workers: 3\nlog:\n  level: debug\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Root != "/custom/store" {
		t.Errorf("Store.Root = %q, want /custom/store", cfg.Store.Root)
	}
	if cfg.Scheduler.Workers != 3 {
		t.Errorf("Scheduler.Workers = %d, want 3", cfg.Scheduler.Workers)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default json", cfg.Log.Format)
	}
}
