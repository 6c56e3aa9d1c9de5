// Package checkout implements the checkout executors: Repo, Archive,
// PlatformArchive, Asset, UpdateAsset, HardLinkAsset, WhichAsset, CargoBin,
// and UpdateEnv. Each is idempotent given an unchanged rule definition, per
// spec §4.9. Grounded on internal/workspace/fs_manager.go's hardlink-tree
// idiom (generalized in internal/store) and internal/state/store.go's
// shallow-merge pattern (generalized here to a recursive deep merge).
package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/spacesbuild/spaces/internal/environment"
	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/fetch/git"
	"github.com/spacesbuild/spaces/internal/fetch/httparchive"
	"github.com/spacesbuild/spaces/internal/log"
	"github.com/spacesbuild/spaces/internal/platform"
	"github.com/spacesbuild/spaces/internal/progress"
	"github.com/spacesbuild/spaces/internal/run"
	"github.com/spacesbuild/spaces/internal/store"
)

// RepoSpec is a CheckoutRepo rule's payload.
type RepoSpec struct {
	Name          string
	Repo          git.Repo
	WorkspacePath string
	Locked        string // a pinned commit from settings.json's locks map, if any
}

// ArchiveSpec is a CheckoutArchive rule's payload.
type ArchiveSpec struct {
	Name          string
	Archive       httparchive.Spec
	WorkspacePath string
}

// PlatformArchiveSpec is a CheckoutPlatformArchive rule's payload: one
// archive per supported "{os}-{arch}" platform identifier.
type PlatformArchiveSpec struct {
	Name          string
	Platforms     map[string]httparchive.Spec
	WorkspacePath string
}

// AssetSpec is a CheckoutAsset rule's payload.
type AssetSpec struct {
	Name        string
	Destination string
	Content     string
}

// UpdateAssetSpec is a CheckoutUpdateAsset rule's payload.
type UpdateAssetSpec struct {
	Name        string
	Destination string
	Value       map[string]any
}

// HardLinkAssetSpec is a CheckoutHardLinkAsset rule's payload.
type HardLinkAssetSpec struct {
	Name        string
	Source      string
	Destination string
}

// WhichAssetSpec is a CheckoutWhichAsset rule's payload: resolves Which on
// PATH and hardlinks the result to Destination.
type WhichAssetSpec struct {
	Name        string
	Which       string
	Destination string
}

// UpdateEnvSpec is a CheckoutUpdateEnv rule's payload.
type UpdateEnvSpec struct {
	Name         string
	Vars         map[string]string
	PrependPaths []string
	AppendPaths  []string
	SystemPaths  []string
}

// CargoBinSpec is a CheckoutCargoBin rule's payload: installs one crate's
// binaries via cargo-binstall and hardlinks each into sysroot/bin.
type CargoBinSpec struct {
	Name              string
	Crate             string
	Version           string
	Bins              []string
	CargoBinstallPath string // resolved path to sysroot/bin/cargo-binstall
	InstallRoot       string // <ws>/.spaces/cargo-binstall/<version>, created if missing
	SysrootBinDir     string // <ws>/sysroot/bin
	LogPath           string
}

// Executor runs checkout payloads against a shared store and the
// workspace's in-memory environment, reporting progress via rep.
type Executor struct {
	store   *store.Store
	git     *git.Fetcher
	archive *httparchive.Fetcher
	env     *environment.Environment
	rep     progress.Reporter
}

// New returns an Executor. rep may be nil (a Noop reporter is used).
func New(s *store.Store, gitFetcher *git.Fetcher, archiveFetcher *httparchive.Fetcher, env *environment.Environment, rep progress.Reporter) *Executor {
	if rep == nil {
		rep = progress.Noop{}
	}
	return &Executor{store: s, git: gitFetcher, archive: archiveFetcher, env: env, rep: rep}
}

// Repo ensures spec.Repo's bare clone exists in the store and
// spec.WorkspacePath holds a checkout at the resolved revision, returning
// the resolved commit to be recorded back into settings.json's locks map.
func (e *Executor) Repo(ctx context.Context, spec RepoSpec) (string, error) {
	log.WithRule(spec.Name).Debug("checkout repo", "url", spec.Repo.URL, "rev", spec.Repo.Rev)
	key := spec.Repo.Key()
	guard, err := e.store.Acquire(ctx, e.rep, key)
	if err != nil {
		return "", err
	}
	defer guard.Release()

	return e.git.Checkout(ctx, spec.Repo, e.store.Path(key), spec.WorkspacePath, spec.Locked)
}

// Archive ensures spec.Archive's extracted contents exist in the store
// (fetching and extracting them once, filtered, on first use) and
// hardlinks them into spec.WorkspacePath.
func (e *Executor) Archive(ctx context.Context, spec ArchiveSpec) error {
	log.WithRule(spec.Name).Debug("checkout archive", "url", spec.Archive.URL)
	key := spec.Archive.Key()
	guard, err := e.store.Acquire(ctx, e.rep, key)
	if err != nil {
		return err
	}
	defer guard.Release()

	if !e.store.Exists(key) {
		if err := e.archive.FetchAndExtract(ctx, spec.Archive, e.store.Path(key)); err != nil {
			return err
		}
		if err := e.store.MarkComplete(key); err != nil {
			return &errs.IoError{Op: "mark archive store entry complete", Err: err}
		}
	}

	if err := store.InstallHardlink(e.store.Path(key), spec.WorkspacePath); err != nil {
		return &errs.IoError{Op: "hardlink archive into workspace", Err: err}
	}
	return nil
}

// PlatformArchive resolves the current host platform, selects its entry
// from spec.Platforms, and delegates to Archive. Returns
// *errs.UnsupportedPlatform if the current platform has no mapping.
func (e *Executor) PlatformArchive(ctx context.Context, spec PlatformArchiveSpec) error {
	log.WithRule(spec.Name).Debug("checkout platform-archive")
	cur, err := platform.Current()
	if err != nil {
		return &errs.IoError{Op: "resolve host platform", Err: err}
	}

	archiveSpec, ok := spec.Platforms[cur.String()]
	if !ok {
		return &errs.UnsupportedPlatform{Platform: cur.String()}
	}

	return e.Archive(ctx, ArchiveSpec{Name: spec.Name, Archive: archiveSpec, WorkspacePath: spec.WorkspacePath})
}

// Asset writes spec.Content verbatim to spec.Destination.
func (e *Executor) Asset(spec AssetSpec) error {
	log.WithRule(spec.Name).Debug("checkout asset", "destination", spec.Destination)
	if err := os.MkdirAll(filepath.Dir(spec.Destination), 0o755); err != nil {
		return &errs.IoError{Op: "mkdir asset destination directory", Err: err}
	}
	if err := os.WriteFile(spec.Destination, []byte(spec.Content), 0o644); err != nil {
		return &errs.IoError{Op: "write asset", Err: err}
	}
	return nil
}

// UpdateAsset reads spec.Destination (if present), deep-merges spec.Value
// into it (objects merge, arrays concat, scalars from new win), and
// writes the result back atomically. The structured format (json, yaml,
// toml) is auto-detected from spec.Destination's extension.
func (e *Executor) UpdateAsset(spec UpdateAssetSpec) error {
	log.WithRule(spec.Name).Debug("checkout update-asset", "destination", spec.Destination)
	format := detectStructuredFormat(spec.Destination)

	existing := map[string]any{}
	if data, err := os.ReadFile(spec.Destination); err == nil {
		decoded, err := decodeStructured(data, format)
		if err != nil {
			return &errs.IoError{Op: "parse existing asset for update", Err: err}
		}
		existing = decoded
	} else if !os.IsNotExist(err) {
		return &errs.IoError{Op: "read existing asset for update", Err: err}
	}

	merged := deepMerge(existing, spec.Value).(map[string]any)

	encoded, err := encodeStructured(merged, format)
	if err != nil {
		return &errs.IoError{Op: "encode updated asset", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(spec.Destination), 0o755); err != nil {
		return &errs.IoError{Op: "mkdir update-asset destination directory", Err: err}
	}
	return writeAtomic(spec.Destination, encoded)
}

// HardLinkAsset hardlinks spec.Source to spec.Destination, failing if the
// source is missing.
func (e *Executor) HardLinkAsset(spec HardLinkAssetSpec) error {
	log.WithRule(spec.Name).Debug("checkout hard-link-asset", "source", spec.Source, "destination", spec.Destination)
	if _, err := os.Stat(spec.Source); err != nil {
		return &errs.IoError{Op: "stat hard-link-asset source", Err: err}
	}
	if err := store.InstallHardlink(spec.Source, spec.Destination); err != nil {
		return &errs.IoError{Op: "hard-link asset", Err: err}
	}
	return nil
}

// WhichAsset resolves spec.Which on PATH and hardlinks it to
// spec.Destination, failing if it cannot be resolved.
func (e *Executor) WhichAsset(spec WhichAssetSpec) error {
	rlog := log.WithRule(spec.Name)
	rlog.Debug("checkout which-asset", "which", spec.Which)
	resolved, err := exec.LookPath(spec.Which)
	if err != nil {
		rlog.Warn("which-asset target not found on PATH", "which", spec.Which)
		return &errs.IoError{Op: "resolve which-asset target", Err: err}
	}
	if err := store.InstallHardlink(resolved, spec.Destination); err != nil {
		return &errs.IoError{Op: "hard-link which-asset target", Err: err}
	}
	return nil
}

// UpdateEnv appends spec's vars and path entries to the in-memory
// workspace environment, for later emission by environment.WriteShellEnv.
func (e *Executor) UpdateEnv(spec UpdateEnvSpec) error {
	log.WithRule(spec.Name).Debug("checkout update-env", "vars", len(spec.Vars), "prepend_paths", len(spec.PrependPaths))
	for k, v := range spec.Vars {
		e.env.SetVar(k, v)
	}
	for _, p := range spec.PrependPaths {
		e.env.PrependPath(p)
	}
	for _, p := range spec.AppendPaths {
		e.env.AppendPath(p)
	}
	for _, p := range spec.SystemPaths {
		e.env.AppendSystemPath(p)
	}
	return nil
}

// CargoBin runs `cargo-binstall --version=V --root=dir --no-confirm crate`
// via the run executor, then hardlinks each of spec.Bins from the
// install's bin directory into spec.SysrootBinDir.
func (e *Executor) CargoBin(ctx context.Context, spec CargoBinSpec) error {
	log.WithRule(spec.Name).Debug("checkout cargo-bin", "crate", spec.Crate, "version", spec.Version)
	if err := os.MkdirAll(spec.InstallRoot, 0o755); err != nil {
		return &errs.IoError{Op: "create cargo-binstall output directory", Err: err}
	}

	runner := run.New(e.rep)
	err := runner.Run(ctx, run.ExecSpec{
		Name:    spec.Name,
		Command: spec.CargoBinstallPath,
		Args: []string{
			"--version=" + spec.Version,
			"--root=" + spec.InstallRoot,
			"--no-confirm",
			spec.Crate,
		},
		Expect:  run.ExpectSuccess,
		LogPath: spec.LogPath,
	}, nil)
	if err != nil {
		return err
	}

	for _, bin := range spec.Bins {
		src := filepath.Join(spec.InstallRoot, "bin", bin)
		dst := filepath.Join(spec.SysrootBinDir, bin)
		if err := store.InstallHardlink(src, dst); err != nil {
			return &errs.IoError{Op: "hard-link cargo-binstall binary " + bin, Err: err}
		}
	}
	return nil
}

type structuredFormat int

const (
	formatJSON structuredFormat = iota
	formatYAML
	formatTOML
)

func detectStructuredFormat(path string) structuredFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".toml":
		return formatTOML
	default:
		return formatJSON
	}
}

func decodeStructured(data []byte, format structuredFormat) (map[string]any, error) {
	out := map[string]any{}
	var err error
	switch format {
	case formatYAML:
		err = yaml.Unmarshal(data, &out)
	case formatTOML:
		err = toml.Unmarshal(data, &out)
	default:
		err = json.Unmarshal(data, &out)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func encodeStructured(v map[string]any, format structuredFormat) ([]byte, error) {
	switch format {
	case formatYAML:
		return yaml.Marshal(v)
	case formatTOML:
		return toml.Marshal(v)
	default:
		return json.MarshalIndent(v, "", "  ")
	}
}

// deepMerge merges overlay into base per spec §4.9: objects merge key by
// key, arrays concatenate, and any other value from overlay wins.
func deepMerge(base, overlay any) any {
	baseMap, baseIsMap := base.(map[string]any)
	overlayMap, overlayIsMap := overlay.(map[string]any)
	if baseIsMap && overlayIsMap {
		merged := make(map[string]any, len(baseMap)+len(overlayMap))
		for k, v := range baseMap {
			merged[k] = v
		}
		for k, v := range overlayMap {
			if existing, ok := merged[k]; ok {
				merged[k] = deepMerge(existing, v)
			} else {
				merged[k] = v
			}
		}
		return merged
	}

	baseSlice, baseIsSlice := base.([]any)
	overlaySlice, overlayIsSlice := overlay.([]any)
	if baseIsSlice && overlayIsSlice {
		out := make([]any, 0, len(baseSlice)+len(overlaySlice))
		out = append(out, baseSlice...)
		out = append(out, overlaySlice...)
		return out
	}

	return overlay
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename, so a crash mid-write never leaves a truncated
// file behind.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &errs.IoError{Op: "write temp file", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &errs.IoError{Op: fmt.Sprintf("rename %s into place", path), Err: err}
	}
	return nil
}
