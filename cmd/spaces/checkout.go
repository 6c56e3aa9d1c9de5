package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spacesbuild/spaces/internal/checkout"
	"github.com/spacesbuild/spaces/internal/environment"
	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/eval"
	"github.com/spacesbuild/spaces/internal/log"
	"github.com/spacesbuild/spaces/internal/registry"
	"github.com/spacesbuild/spaces/internal/scheduler"
	"github.com/spacesbuild/spaces/internal/workspace"
)

// scriptItem is one module awaiting evaluation in the fixed-point
// checkout-discovery loop: its absolute path and its qualified-name
// prefix.
type scriptItem struct {
	absPath string
	module  string
}

func runCheckout(args []string) int {
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	workflow := fs.String("workflow", "", "source-dir:script1,script2,... of preload scripts")
	name := fs.String("name", "", "workspace directory to create")
	rescan := fs.Bool("rescan", false, "target an existing workspace instead of creating a new one")
	createLock := fs.Bool("create-lock", false, "persist resolved revisions into settings.json's locks map")
	cfgPath := fs.String("config", "", "explicit spaces.config.yaml path")
	if hasHelpFlag(args) {
		fs.Usage()
		return 0
	}
	if err := fs.Parse(args); err != nil {
		return int(errs.ExitUsage)
	}

	if *name == "" {
		fmt.Fprintln(os.Stderr, "checkout: --name is required")
		return int(errs.ExitUsage)
	}
	if !*rescan && *workflow == "" {
		fmt.Fprintln(os.Stderr, "checkout: --workflow is required unless --rescan is given")
		return int(errs.ExitUsage)
	}

	wsRoot, err := filepath.Abs(*name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "checkout:", err)
		return int(errs.ExitFailure)
	}

	var ws *workspace.Workspace
	if *rescan {
		ws, err = workspace.Open(wsRoot)
	} else {
		ws, err = workspace.Create(wsRoot)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "checkout:", err)
		return int(errs.ExitCodeFor(err))
	}

	env := environment.New()
	eng, err := newEngine(*cfgPath, env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "checkout:", err)
		return int(errs.ExitCodeFor(err))
	}
	defer eng.Close()

	var seeds []scriptItem
	if !*rescan {
		srcDir, scriptNames, err := parseWorkflowFlag(*workflow)
		if err != nil {
			fmt.Fprintln(os.Stderr, "checkout:", err)
			return int(errs.ExitUsage)
		}
		seeds, err = copyPreloadScripts(srcDir, scriptNames, ws)
		if err != nil {
			fmt.Fprintln(os.Stderr, "checkout:", err)
			return int(errs.ExitCodeFor(err))
		}
	} else {
		settings, err := ws.LoadSettings()
		if err != nil {
			fmt.Fprintln(os.Stderr, "checkout:", err)
			return int(errs.ExitCodeFor(err))
		}
		for _, m := range settings.Modules {
			seeds = append(seeds, scriptItem{absPath: modulePath(ws, m), module: m})
		}
	}

	if err := runCheckoutFixedPoint(context.Background(), ws, eng, seeds, *createLock); err != nil {
		fmt.Fprintln(os.Stderr, "checkout:", err)
		return int(errs.ExitCodeFor(err))
	}

	fmt.Printf("checkout complete: %s\n", ws.Root)
	return int(errs.ExitSuccess)
}

// parseWorkflowFlag splits "--workflow=<dir>:<s1>,<s2>,..." into its
// source directory and its comma-separated script base names (each
// naming "<name>.spaces.star" inside that directory).
func parseWorkflowFlag(raw string) (dir string, scripts []string, err error) {
	idx := strings.LastIndex(raw, ":")
	if idx < 0 {
		return "", nil, fmt.Errorf("--workflow must be of the form <dir>:<script1>,<script2>,...")
	}
	dir = raw[:idx]
	for _, s := range strings.Split(raw[idx+1:], ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			scripts = append(scripts, s)
		}
	}
	if dir == "" || len(scripts) == 0 {
		return "", nil, fmt.Errorf("--workflow must be of the form <dir>:<script1>,<script2>,...")
	}
	return dir, scripts, nil
}

// copyPreloadScripts copies each named script from srcDir flat into
// ws.StarDir(), so the workspace is self-contained: later `run`/`sync`/
// `inspect` invocations rediscover these scripts purely from
// settings.json, without needing srcDir to still exist.
func copyPreloadScripts(srcDir string, scriptNames []string, ws *workspace.Workspace) ([]scriptItem, error) {
	var items []scriptItem
	for _, name := range scriptNames {
		src := filepath.Join(srcDir, name+".spaces.star")
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, &errs.IoError{Op: "read preload script " + src, Err: err}
		}
		dst := filepath.Join(ws.StarDir(), name+".spaces.star")
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return nil, &errs.IoError{Op: "copy preload script into workspace", Err: err}
		}
		items = append(items, scriptItem{absPath: dst, module: name})
	}
	return items, nil
}

// runCheckoutFixedPoint implements spec §4.4 step 1: evaluate every
// queued script, schedule every newly registered checkout-kind rule not
// yet executed, scan freshly checked-out repos/archives for
// "*.spaces.star" files at their root, and repeat until a round produces
// nothing new. Shared between `checkout` and `sync`.
func runCheckoutFixedPoint(ctx context.Context, ws *workspace.Workspace, eng *engine, seeds []scriptItem, createLock bool) error {
	plog := log.WithPhase(string(workspace.PhaseCheckout))
	plog.Info("starting checkout phase", "workspace", ws.Root, "seeds", len(seeds))
	reg := registry.New()
	evalr := eval.New(ws.Root, reg, eng.env)
	evalr.Ctx = ctx

	cache, settings, err := ws.FingerprintCache()
	if err != nil {
		return err
	}

	var (
		evaluatedModules []string
		executed         = map[string]bool{}
		resolvedCommits  = map[string]string{}
		mu               sync.Mutex
	)

	hist, err := workspace.OpenHistory(ctx, ws.HistoryDBPath())
	if err != nil {
		return err
	}
	defer hist.Close()

	pending := append([]scriptItem{}, seeds...)

	for len(pending) > 0 {
		round := pending
		pending = nil

		for _, item := range round {
			if _, err := evalr.EvalFile(item.absPath, item.module); err != nil {
				return err
			}
			evaluatedModules = append(evaluatedModules, item.module)
		}

		var batch []*registry.Rule
		for _, rule := range reg.All() {
			if isCheckoutKind(rule.Kind) && !executed[rule.QualifiedName] {
				batch = append(batch, rule)
			}
		}
		if len(batch) == 0 {
			break
		}

		batchNames := make(map[string]bool, len(batch))
		for _, r := range batch {
			batchNames[r.QualifiedName] = true
		}

		ruleDigests, err := computeRuleDigests(reg)
		if err != nil {
			return err
		}

		sched := scheduler.New(eng.cfg.Scheduler.Workers, eng.rep, hist.Recorder(workspace.PhaseCheckout))

		var setupNames []string
		for _, r := range batch {
			if r.Type == registry.TypeSetup {
				setupNames = append(setupNames, r.QualifiedName)
			}
		}

		for _, rule := range batch {
			rule := rule
			depSet := make(map[string]bool)
			for _, d := range rule.Deps {
				if batchNames[d] {
					depSet[d] = true
				}
			}
			// Setup rules must finish before any non-Setup rule in the
			// same phase is scheduled, per spec §3/§8's Setup-first
			// property; within one discovery round, that means every
			// other rule depends on every Setup rule discovered so far.
			if rule.Type != registry.TypeSetup {
				for _, s := range setupNames {
					depSet[s] = true
				}
			}
			deps := make([]string, 0, len(depSet))
			for d := range depSet {
				deps = append(deps, d)
			}

			if rule.Kind == registry.KindCheckoutRepo {
				if locked, ok := settings.Locks[rule.QualifiedName]; ok {
					spec := rule.Payload.(checkout.RepoSpec)
					spec.Locked = locked
					rule.Payload = spec
				}
			}

			exec := buildCheckoutExecute(rule, eng.checkoutExec, ws, &mu, resolvedCommits)
			sched.AddTask(&scheduler.Task{
				Name:       rule.QualifiedName,
				Deps:       deps,
				ShouldSkip: newShouldSkip(rule, ws.Root, ruleDigests[rule.QualifiedName], cache),
				Execute:    wrapExecute(rule, ws.Root, ruleDigests[rule.QualifiedName], cache, exec),
			})
		}

		runErr := sched.Run(ctx)
		if runErr != nil {
			plog.Error("checkout round failed", "err", runErr)
			printFailureLogTails(os.Stderr, ws, sched.Snapshot())
			return runErr
		}

		for name := range batchNames {
			executed[name] = true
		}

		for _, rule := range batch {
			discovered, err := discoveredScripts(ws, rule)
			if err != nil {
				return err
			}
			pending = append(pending, discovered...)
		}
	}

	sort.Strings(evaluatedModules)
	settings.Modules = dedupStrings(evaluatedModules)
	if createLock {
		for name, commit := range resolvedCommits {
			settings.Locks[name] = commit
		}
		for name, rev := range evalr.DeclaredLocks {
			settings.Locks[name] = rev
		}
	}
	if err := ws.SaveFingerprintCache(settings, cache); err != nil {
		return err
	}

	eng.env.Freeze()
	if err := eng.env.WriteShellEnv(ws.EnvPath()); err != nil {
		return err
	}
	plog.Info("checkout phase complete", "modules", len(settings.Modules))
	return nil
}

// discoveredScripts scans a Repo/Archive/PlatformArchive rule's
// workspace path for "*.spaces.star" files at its root, the fixed
// point's discovery step.
func discoveredScripts(ws *workspace.Workspace, rule *registry.Rule) ([]scriptItem, error) {
	var root string
	switch rule.Kind {
	case registry.KindCheckoutRepo:
		root = rule.Payload.(checkout.RepoSpec).WorkspacePath
	case registry.KindCheckoutArchive:
		root = rule.Payload.(checkout.ArchiveSpec).WorkspacePath
	case registry.KindCheckoutPlatformArchive:
		root = rule.Payload.(checkout.PlatformArchiveSpec).WorkspacePath
	default:
		return nil, nil
	}

	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.IoError{Op: "scan " + root + " for preload scripts", Err: err}
	}

	var found []scriptItem
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".spaces.star") {
			continue
		}
		absPath := filepath.Join(root, e.Name())
		rel, err := filepath.Rel(ws.Root, absPath)
		if err != nil {
			return nil, err
		}
		module := strings.TrimSuffix(filepath.ToSlash(rel), ".spaces.star")
		found = append(found, scriptItem{absPath: absPath, module: module})
	}
	return found, nil
}

// buildCheckoutExecute dispatches rule's payload to the matching
// checkout.Executor method, filling in the workspace-derived fields
// (cargo-binstall paths, log paths) the script-level builtins don't
// have enough context to populate themselves.
func buildCheckoutExecute(rule *registry.Rule, ex *checkout.Executor, ws *workspace.Workspace, mu *sync.Mutex, resolvedCommits map[string]string) func(context.Context) error {
	switch rule.Kind {
	case registry.KindCheckoutRepo:
		spec := rule.Payload.(checkout.RepoSpec)
		return func(ctx context.Context) error {
			commit, err := ex.Repo(ctx, spec)
			if err != nil {
				return err
			}
			mu.Lock()
			resolvedCommits[rule.QualifiedName] = commit
			mu.Unlock()
			return nil
		}
	case registry.KindCheckoutArchive:
		spec := rule.Payload.(checkout.ArchiveSpec)
		return func(ctx context.Context) error { return ex.Archive(ctx, spec) }
	case registry.KindCheckoutPlatformArchive:
		spec := rule.Payload.(checkout.PlatformArchiveSpec)
		return func(ctx context.Context) error { return ex.PlatformArchive(ctx, spec) }
	case registry.KindCheckoutAsset:
		spec := rule.Payload.(checkout.AssetSpec)
		return func(context.Context) error { return ex.Asset(spec) }
	case registry.KindCheckoutUpdateAsset:
		spec := rule.Payload.(checkout.UpdateAssetSpec)
		return func(context.Context) error { return ex.UpdateAsset(spec) }
	case registry.KindCheckoutHardLinkAsset:
		spec := rule.Payload.(checkout.HardLinkAssetSpec)
		return func(context.Context) error { return ex.HardLinkAsset(spec) }
	case registry.KindCheckoutWhichAsset:
		spec := rule.Payload.(checkout.WhichAssetSpec)
		return func(context.Context) error { return ex.WhichAsset(spec) }
	case registry.KindCheckoutUpdateEnv:
		spec := rule.Payload.(checkout.UpdateEnvSpec)
		return func(context.Context) error { return ex.UpdateEnv(spec) }
	case registry.KindCheckoutCargoBin:
		spec := rule.Payload.(checkout.CargoBinSpec)
		spec.CargoBinstallPath = filepath.Join(ws.SysrootBinDir(), "cargo-binstall")
		spec.InstallRoot = filepath.Join(ws.Root, ".spaces", "cargo-binstall", spec.Version)
		spec.SysrootBinDir = ws.SysrootBinDir()
		spec.LogPath = ws.LogPath(rule.QualifiedName)
		return func(ctx context.Context) error { return ex.CargoBin(ctx, spec) }
	default:
		return func(context.Context) error { return fmt.Errorf("unhandled checkout rule kind %s", rule.Kind) }
	}
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
