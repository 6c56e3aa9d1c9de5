package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/spacesbuild/spaces/internal/checkout"
	"github.com/spacesbuild/spaces/internal/config"
	"github.com/spacesbuild/spaces/internal/digest"
	"github.com/spacesbuild/spaces/internal/environment"
	"github.com/spacesbuild/spaces/internal/fetch/git"
	"github.com/spacesbuild/spaces/internal/fetch/httparchive"
	"github.com/spacesbuild/spaces/internal/fingerprint"
	"github.com/spacesbuild/spaces/internal/graph"
	"github.com/spacesbuild/spaces/internal/log"
	"github.com/spacesbuild/spaces/internal/progress"
	"github.com/spacesbuild/spaces/internal/registry"
	"github.com/spacesbuild/spaces/internal/run"
	"github.com/spacesbuild/spaces/internal/scheduler"
	"github.com/spacesbuild/spaces/internal/store"
	"github.com/spacesbuild/spaces/internal/workspace"
)

// engine bundles the constructed collaborators every subcommand drives:
// the content store, both fetchers, the checkout/run executors, and the
// progress/logging sinks they all report through.
type engine struct {
	cfg     *config.Config
	rep     progress.Reporter
	store   *store.Store
	git     *git.Fetcher
	archive *httparchive.Fetcher
	env     *environment.Environment

	checkoutExec *checkout.Executor
	runExec      *run.Executor
}

// Close stops rep's render loop if it's the interactive TUI (a no-op for
// Line/Noop), so the terminal is released back to the caller once
// scheduling has finished.
func (e *engine) Close() {
	if tui, ok := e.rep.(*progress.TUI); ok {
		tui.Stop()
	}
}

// newEngine loads the effective engine config (explicit configPath, or
// discovered by walking up from the current directory) and wires every
// collaborator against env, the workspace's in-memory environment.
func newEngine(configPath string, env *environment.Environment) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Debug("engine configured", "store_root", cfg.Store.Root, "workers", cfg.Scheduler.Workers)

	// The live bubbletea table is the default/interactive Reporter: it
	// renders when stdout is a terminal and --log.format hasn't asked for
	// plain lines. --log.format=text always gets Line (CI logs, piped
	// output); a non-terminal default falls back to Noop, since a TUI
	// painting escape codes into a pipe or file is worse than nothing.
	var rep progress.Reporter
	switch {
	case strings.ToLower(cfg.Log.Format) == "text":
		rep = progress.NewLine(os.Stderr)
	case isatty.IsTerminal(os.Stdout.Fd()):
		rep = progress.NewTUI()
	default:
		rep = progress.Noop{}
	}

	s, err := store.Open(cfg.Store.Root)
	if err != nil {
		return nil, err
	}
	gitFetcher := git.New(rep)
	archiveFetcher := httparchive.New(nil, rep)

	return &engine{
		cfg:          cfg,
		rep:          rep,
		store:        s,
		git:          gitFetcher,
		archive:      archiveFetcher,
		env:          env,
		checkoutExec: checkout.New(s, gitFetcher, archiveFetcher, env, rep),
		runExec:      run.New(rep),
	}, nil
}

// modulePath resolves a module name (as persisted in settings.json's
// modules list) back to the absolute script path it was evaluated from:
// a slash-free name was preloaded flat into the workspace's @star
// directory; a name containing a "/" was discovered inside a checked-out
// repo or archive, relative to the workspace root.
func modulePath(ws *workspace.Workspace, moduleName string) string {
	if strings.Contains(moduleName, "/") {
		return filepath.Join(ws.Root, moduleName+".spaces.star")
	}
	return filepath.Join(ws.StarDir(), moduleName+".spaces.star")
}

// isCheckoutKind reports whether kind is one of the nine checkout.*
// rule kinds, as opposed to a run.* kind.
func isCheckoutKind(kind registry.Kind) bool {
	switch kind {
	case registry.KindCheckoutRepo, registry.KindCheckoutArchive, registry.KindCheckoutPlatformArchive,
		registry.KindCheckoutAsset, registry.KindCheckoutUpdateAsset, registry.KindCheckoutHardLinkAsset,
		registry.KindCheckoutWhichAsset, registry.KindCheckoutCargoBin, registry.KindCheckoutUpdateEnv:
		return true
	default:
		return false
	}
}

// computeRuleDigests folds every registered rule's kind, payload, and
// (recursively, dependency-first) its dependencies' digests into a
// SHA-256 digest per qualified name — the "rule_definition_digest" half
// of the fingerprint formula. A dependency not yet present in reg (only
// possible mid fixed-point-discovery, before the script declaring it has
// been evaluated) simply contributes nothing to the fold; such a rule's
// own digest still changes once that dependency is registered and folded
// in on a later round.
func computeRuleDigests(reg *registry.Registry) (map[string]string, error) {
	rules := reg.All()
	byName := make(map[string]*registry.Rule, len(rules))
	g := graph.New()
	for _, r := range rules {
		g.AddNode(r.QualifiedName)
		byName[r.QualifiedName] = r
	}
	for _, r := range rules {
		for _, d := range r.Deps {
			if _, ok := byName[d]; ok {
				g.AddDependency(r.QualifiedName, d)
			}
		}
	}
	order, err := g.TopoSort()
	if err != nil {
		return nil, err
	}

	digests := make(map[string]string, len(order))
	for _, name := range order {
		r := byName[name]
		parts := []string{string(r.Kind), fmt.Sprintf("%#v", r.Payload)}
		for _, d := range r.Deps {
			if dd, ok := digests[d]; ok {
				parts = append(parts, dd)
			}
		}
		digests[name] = digest.Sha256Hex([]byte(strings.Join(parts, "|")))
	}
	return digests, nil
}

// computeFingerprint evaluates rule's current input fingerprint per spec
// §4.7's tri-state contract. Callers must already know rule.InputsDeclared
// is true.
func computeFingerprint(rule *registry.Rule, wsRoot, ruleDigest string) (string, error) {
	if len(rule.Includes) == 0 && len(rule.Excludes) == 0 {
		return fingerprint.ConstantFingerprint, nil
	}

	globs := make([]fingerprint.Glob, 0, len(rule.Includes)+len(rule.Excludes))
	for _, p := range rule.Includes {
		globs = append(globs, fingerprint.Glob{Include: true, Pattern: p})
	}
	for _, p := range rule.Excludes {
		globs = append(globs, fingerprint.Glob{Include: false, Pattern: p})
	}

	files, err := fingerprint.MatchingFiles(wsRoot, globs)
	if err != nil {
		return "", err
	}
	fileDigests := make(map[string]string, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(wsRoot, f))
		if err != nil {
			return "", err
		}
		fileDigests[f] = digest.Sha256Hex(data)
	}
	return fingerprint.Compute(ruleDigest, fileDigests), nil
}

// newShouldSkip builds a scheduler.ShouldSkip for rule per its
// InputsDeclared state: undeclared inputs always run; declared inputs
// skip exactly when the freshly computed fingerprint matches the cached
// one.
func newShouldSkip(rule *registry.Rule, wsRoot, ruleDigest string, cache *fingerprint.Cache) scheduler.ShouldSkip {
	return func() (bool, error) {
		if !rule.InputsDeclared {
			return false, nil
		}
		fp, err := computeFingerprint(rule, wsRoot, ruleDigest)
		if err != nil {
			return false, err
		}
		return !cache.IsChanged(rule.QualifiedName, fp), nil
	}
}

// saveFingerprintIfDeclared persists rule's current fingerprint into
// cache after a successful run, a no-op for rules with no inputs=
// declaration.
func saveFingerprintIfDeclared(rule *registry.Rule, wsRoot, ruleDigest string, cache *fingerprint.Cache) error {
	if !rule.InputsDeclared {
		return nil
	}
	fp, err := computeFingerprint(rule, wsRoot, ruleDigest)
	if err != nil {
		return err
	}
	cache.Save(rule.QualifiedName, fp)
	return nil
}

// wrapExecute wraps fn so a successful run also saves rule's fingerprint,
// shared by both the checkout-phase and run-phase schedulers.
func wrapExecute(rule *registry.Rule, wsRoot, ruleDigest string, cache *fingerprint.Cache, fn func(ctx context.Context) error) scheduler.Execute {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		return saveFingerprintIfDeclared(rule, wsRoot, ruleDigest, cache)
	}
}

// printFailureLogTails implements spec §7's "on failure, the last N
// lines of that file are also printed to stderr along with the qualified
// task name," scanning every task the scheduler left Failed.
func printFailureLogTails(w io.Writer, ws *workspace.Workspace, snapshot map[string]scheduler.Status) {
	for name, status := range snapshot {
		if status != scheduler.StatusFailed {
			continue
		}
		log.Warn("task failed", "rule", name)
		data, err := os.ReadFile(ws.LogPath(name))
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "--- %s (log tail) ---\n%s\n", name, lastLines(string(data), 40))
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
