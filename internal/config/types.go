// Package config loads the engine-level configuration (store root override,
// worker pool size, log settings) from an optional spaces.config.yaml,
// layered over built-in defaults. This is engine configuration only — it
// never configures the workspace's own *.spaces.star scripts, which stay
// entirely out of scope per spec §1.
package config

// Config is the complete engine configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig controls the content-addressed store.
type StoreConfig struct {
	Root string `yaml:"root"`
}

// SchedulerConfig controls the worker pool.
type SchedulerConfig struct {
	Workers int `yaml:"workers"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FileName is the name of the engine config file, discovered by walking up
// from the invocation directory.
const FileName = "spaces.config.yaml"
