// Package workspace manages the on-disk workspace directory: its
// well-known layout, the `.spaces/settings.json` state file, and (in
// history.go) the run-history ledger. Grounded on
// internal/workspace/fs_manager.go's directory-lifecycle idioms
// (validated-name path join, MkdirAll-then-Mkdir, WalkDir-based tree
// operations), generalized from a job-scoped data directory to the
// spec's fixed workspace layout.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/fingerprint"
)

const settingsFileName = "settings.json"

// EngineVersion is the running engine's version, compared against a
// workspace's declared min_version on Open.
const EngineVersion = "1.0.0"

// Workspace is an absolute-path handle onto a populated or in-progress
// workspace directory.
type Workspace struct {
	Root string
}

// Settings is the persisted contents of .spaces/settings.json.
type Settings struct {
	MinVersion        string            `json:"min_version"`
	Modules           []string          `json:"modules"`
	Locks             map[string]string `json:"locks"`
	InputFingerprints map[string]string `json:"input_fingerprints"`
}

func newSettings() *Settings {
	return &Settings{
		Locks:             map[string]string{},
		InputFingerprints: map[string]string{},
	}
}

// Create materializes a fresh workspace layout at root: `.spaces/`,
// `.spaces/logs/`, `@star/`, `sysroot/bin/`, `build/`, and an empty
// settings.json. root must not already exist.
func Create(root string) (*Workspace, error) {
	if err := validateRoot(root); err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("workspace %q already exists", root)
	}

	dirs := []string{
		root,
		filepath.Join(root, ".spaces", "logs"),
		filepath.Join(root, "@star"),
		filepath.Join(root, "sysroot", "bin"),
		filepath.Join(root, "build"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &errs.IoError{Op: "create workspace directory " + dir, Err: err}
		}
	}

	w := &Workspace{Root: filepath.Clean(root)}
	if err := w.SaveSettings(newSettings()); err != nil {
		return nil, err
	}
	return w, nil
}

// Open resolves an existing workspace at root, verifying its declared
// min_version is satisfied by the running engine.
func Open(root string) (*Workspace, error) {
	if err := validateRoot(root); err != nil {
		return nil, err
	}
	w := &Workspace{Root: filepath.Clean(root)}

	settings, err := w.LoadSettings()
	if err != nil {
		return nil, err
	}
	if settings.MinVersion != "" && versionLess(EngineVersion, settings.MinVersion) {
		return nil, &errs.VersionTooOld{Required: settings.MinVersion, Actual: EngineVersion}
	}
	return w, nil
}

func validateRoot(root string) error {
	if strings.TrimSpace(root) == "" {
		return fmt.Errorf("workspace root is empty")
	}
	return nil
}

// SettingsPath returns the absolute path to .spaces/settings.json.
func (w *Workspace) SettingsPath() string {
	return filepath.Join(w.Root, ".spaces", settingsFileName)
}

// LogsDir returns the absolute path to .spaces/logs.
func (w *Workspace) LogsDir() string {
	return filepath.Join(w.Root, ".spaces", "logs")
}

// LogPath returns the log file path for a qualified rule name.
func (w *Workspace) LogPath(qualifiedName string) string {
	return filepath.Join(w.LogsDir(), sanitizeForFilename(qualifiedName)+".log")
}

// HistoryDBPath returns the absolute path to .spaces/history.db.
func (w *Workspace) HistoryDBPath() string {
	return filepath.Join(w.Root, ".spaces", "history.db")
}

// EnvPath returns the absolute path to the sourceable shell env file.
func (w *Workspace) EnvPath() string {
	return filepath.Join(w.Root, "env")
}

// StarDir returns the absolute path to the preloaded-modules directory.
func (w *Workspace) StarDir() string {
	return filepath.Join(w.Root, "@star")
}

// SysrootBinDir returns the absolute path to the hardlinked-tools directory.
func (w *Workspace) SysrootBinDir() string {
	return filepath.Join(w.Root, "sysroot", "bin")
}

// BuildDir returns the absolute path to the per-rule build directory.
func (w *Workspace) BuildDir() string {
	return filepath.Join(w.Root, "build")
}

// LoadSettings reads and parses .spaces/settings.json, returning a fresh
// empty Settings if the file does not yet exist.
func (w *Workspace) LoadSettings() (*Settings, error) {
	data, err := os.ReadFile(w.SettingsPath())
	if os.IsNotExist(err) {
		return newSettings(), nil
	}
	if err != nil {
		return nil, &errs.IoError{Op: "read settings.json", Err: err}
	}

	settings := newSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, &errs.IoError{Op: "parse settings.json", Err: err}
	}
	if settings.Locks == nil {
		settings.Locks = map[string]string{}
	}
	if settings.InputFingerprints == nil {
		settings.InputFingerprints = map[string]string{}
	}
	return settings, nil
}

// SaveSettings writes settings to .spaces/settings.json atomically.
func (w *Workspace) SaveSettings(settings *Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return &errs.IoError{Op: "encode settings.json", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(w.SettingsPath()), 0o755); err != nil {
		return &errs.IoError{Op: "create .spaces directory", Err: err}
	}

	tmp := w.SettingsPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &errs.IoError{Op: "write settings.json", Err: err}
	}
	if err := os.Rename(tmp, w.SettingsPath()); err != nil {
		return &errs.IoError{Op: "rename settings.json into place", Err: err}
	}
	return nil
}

// FingerprintCache loads the input_fingerprints map from settings.json
// into a fingerprint.Cache.
func (w *Workspace) FingerprintCache() (*fingerprint.Cache, *Settings, error) {
	settings, err := w.LoadSettings()
	if err != nil {
		return nil, nil, err
	}
	return fingerprint.NewCache(settings.InputFingerprints), settings, nil
}

// SaveFingerprintCache writes cache's entries back into settings and
// persists settings.json.
func (w *Workspace) SaveFingerprintCache(settings *Settings, cache *fingerprint.Cache) error {
	settings.InputFingerprints = cache.Entries()
	return w.SaveSettings(settings)
}

// sanitizeForFilename replaces path separators in a qualified rule name
// ("//dir/script:name") with a filesystem-safe separator, so one log file
// per rule can live flat inside .spaces/logs.
func sanitizeForFilename(qualifiedName string) string {
	s := strings.TrimPrefix(qualifiedName, "//")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "__")
	return s
}

// versionLess reports whether a is an older dotted version than b,
// comparing numeric segments left to right (1.2.0 < 1.10.0).
func versionLess(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			return av < bv
		}
	}
	return false
}
