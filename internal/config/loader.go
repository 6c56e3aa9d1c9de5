package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/spacesbuild/spaces/internal/platform"
)

// Defaults returns the built-in engine configuration, used when no
// spaces.config.yaml is found or as the base that a discovered file is
// layered over.
func Defaults() (*Config, error) {
	storeRoot, err := platform.DefaultStoreRoot()
	if err != nil {
		return nil, err
	}
	return &Config{
		Store:     StoreConfig{Root: storeRoot},
		Scheduler: SchedulerConfig{Workers: runtime.NumCPU()},
		Log:       LogConfig{Level: "info", Format: "json"},
	}, nil
}

// Discover walks up from startDir looking for spaces.config.yaml, the way
// internal/config/discovery.go's walk-based lookup works, generalized from
// "look inside one fixed directory" to "walk toward the filesystem root."
// Returns "" (not an error) if none is found.
func Discover(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve start directory %q: %w", startDir, err)
	}

	for {
		candidate := filepath.Join(dir, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Load resolves the effective engine configuration: defaults, layered with
// an explicit path (if non-empty) or else a discovered spaces.config.yaml
// starting from the current directory.
func Load(explicitPath string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}

	path := explicitPath
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve current directory: %w", err)
		}
		discovered, err := Discover(cwd)
		if err != nil {
			return nil, err
		}
		path = discovered
	}

	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	applyOverlay(cfg, &overlay)
	return cfg, nil
}

func applyOverlay(base, overlay *Config) {
	if overlay.Store.Root != "" {
		base.Store.Root = overlay.Store.Root
	}
	if overlay.Scheduler.Workers > 0 {
		base.Scheduler.Workers = overlay.Scheduler.Workers
	}
	if overlay.Log.Level != "" {
		base.Log.Level = overlay.Log.Level
	}
	if overlay.Log.Format != "" {
		base.Log.Format = overlay.Log.Format
	}
}
