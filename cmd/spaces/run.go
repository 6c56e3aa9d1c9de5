package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spacesbuild/spaces/internal/environment"
	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/eval"
	"github.com/spacesbuild/spaces/internal/graph"
	"github.com/spacesbuild/spaces/internal/log"
	"github.com/spacesbuild/spaces/internal/registry"
	"github.com/spacesbuild/spaces/internal/run"
	"github.com/spacesbuild/spaces/internal/scheduler"
	"github.com/spacesbuild/spaces/internal/workspace"
)

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfgPath := fs.String("config", "", "explicit spaces.config.yaml path")
	if hasHelpFlag(args) {
		fs.Usage()
		return 0
	}
	if err := fs.Parse(args); err != nil {
		return int(errs.ExitUsage)
	}
	targets := fs.Args()

	wsRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return int(errs.ExitFailure)
	}

	ws, err := workspace.Open(wsRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return int(errs.ExitCodeFor(err))
	}

	settings, err := ws.LoadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return int(errs.ExitCodeFor(err))
	}

	env := environment.New()
	eng, err := newEngine(*cfgPath, env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return int(errs.ExitCodeFor(err))
	}
	defer eng.Close()

	reg := registry.New()
	evalr := eval.New(ws.Root, reg, env)
	evalr.Ctx = context.Background()
	evalr.ScriptArgs = targets
	for _, m := range settings.Modules {
		if _, err := evalr.EvalFile(modulePath(ws, m), m); err != nil {
			fmt.Fprintln(os.Stderr, "run:", err)
			return int(errs.ExitCodeFor(err))
		}
	}

	// The run phase never re-executes CheckoutUpdateEnv rules; it reads
	// back the environment checkout already froze and wrote to disk
	// (spec §3: "mutated only during checkout, frozen before run phase").
	baseEnv, err := environment.LoadShellEnv(ws.EnvPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return int(errs.ExitCodeFor(err))
	}

	cwdModule := ""
	if rel, err := filepath.Rel(ws.Root, wsRoot); err == nil && rel != "." {
		cwdModule = rel
	}

	g, byName, err := buildRunGraph(reg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return int(errs.ExitCodeFor(err))
	}
	if err := g.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return int(errs.ExitCodeFor(err))
	}

	for _, t := range targets {
		log.WithTarget(t).Debug("target requested")
	}

	active, err := selectActiveRunSet(reg, g, byName, targets, cwdModule)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return int(errs.ExitCodeFor(err))
	}

	plog := log.WithPhase(string(workspace.PhaseRun))
	plog.Info("starting run phase", "active", len(active))

	ruleDigests, err := computeRuleDigests(reg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return int(errs.ExitCodeFor(err))
	}
	cache, settings, err := ws.FingerprintCache()
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return int(errs.ExitCodeFor(err))
	}

	hist, err := workspace.OpenHistory(context.Background(), ws.HistoryDBPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		return int(errs.ExitCodeFor(err))
	}
	defer hist.Close()

	gates := buildExecIfGates(active, byName)
	decisions := &execIfDecisions{m: map[string]map[string]bool{}}
	setupNames := setupQualifiedNames(byName)

	sched := scheduler.New(eng.cfg.Scheduler.Workers, eng.rep, hist.Recorder(workspace.PhaseRun))
	for _, name := range active {
		rule := byName[name]
		exec := buildRunExecute(rule, eng.runExec, ws, baseEnv, decisions)
		should := newShouldSkip(rule, ws.Root, ruleDigests[rule.QualifiedName], cache)

		depSet := map[string]bool{}
		for _, d := range rule.Deps {
			depSet[d] = true
		}
		if gs, ok := gates[name]; ok {
			should = gatedShouldSkip(should, name, gs, decisions)
			// The scheduler's own Deps bookkeeping knows nothing about
			// buildRunGraph's implicit then/else edge, so it must be
			// added here too or the branch target could be scheduled
			// before its gating exec_if has recorded a decision.
			for _, d := range gateDepNames(gs) {
				depSet[d] = true
			}
		}
		// Same Setup-first edge buildRunGraph adds at the graph level,
		// mirrored here since internal/scheduler.Scheduler keeps its own
		// independent Deps bookkeeping rather than reading the graph.
		if rule.Type != registry.TypeSetup {
			for _, s := range setupNames {
				depSet[s] = true
			}
		}
		deps := make([]string, 0, len(depSet))
		for d := range depSet {
			deps = append(deps, d)
		}

		sched.AddTask(&scheduler.Task{
			Name:       rule.QualifiedName,
			Deps:       deps,
			ShouldSkip: should,
			Execute:    wrapExecute(rule, ws.Root, ruleDigests[rule.QualifiedName], cache, exec),
		})
	}

	runErr := sched.Run(context.Background())
	if err := ws.SaveFingerprintCache(settings, cache); err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
	}
	if runErr != nil {
		plog.Error("run phase failed", "err", runErr)
		fmt.Fprintln(os.Stderr, "run:", runErr)
		printFailureLogTails(os.Stderr, ws, sched.Snapshot())
		return int(errs.ExitCodeFor(runErr))
	}
	plog.Info("run phase complete")
	return int(errs.ExitSuccess)
}

// buildRunGraph builds the dependency graph over every run-kind rule
// (RunExec, RunExecIf, RunTarget): ordinary edges from each rule's
// declared deps, plus an implicit edge from every RunExecIf's then/else
// target back onto the exec_if rule itself, so graph-level reachability
// pulls the condition in with its branches. The scheduler does not read
// this graph: runRun adds the same edge to each branch target's
// scheduler.Task.Deps, which is what keeps a branch target from becoming
// Ready before its condition has run and recorded which branch was taken.
func buildRunGraph(reg *registry.Registry) (*graph.Graph, map[string]*registry.Rule, error) {
	g := graph.New()
	byName := make(map[string]*registry.Rule)

	for _, rule := range reg.All() {
		if !isRunKind(rule.Kind) {
			continue
		}
		g.AddNode(rule.QualifiedName)
		byName[rule.QualifiedName] = rule
	}
	for _, rule := range byName {
		for _, d := range rule.Deps {
			g.AddDependency(rule.QualifiedName, d)
		}
		if rule.Kind == registry.KindRunExecIf {
			ifSpec := rule.Payload.(run.IfSpec)
			for _, n := range append(append([]string{}, ifSpec.Then...), ifSpec.Else...) {
				g.AddDependency(n, rule.QualifiedName)
			}
		}
	}

	// Setup rules must finish before any non-Setup rule is scheduled,
	// per spec §3/§8's Setup-first property: every non-Setup rule gets
	// an edge onto every Setup rule.
	for _, s := range setupQualifiedNames(byName) {
		for _, rule := range byName {
			if rule.Type != registry.TypeSetup {
				g.AddDependency(rule.QualifiedName, s)
			}
		}
	}
	return g, byName, nil
}

func setupQualifiedNames(byName map[string]*registry.Rule) []string {
	var names []string
	for _, rule := range byName {
		if rule.Type == registry.TypeSetup {
			names = append(names, rule.QualifiedName)
		}
	}
	return names
}

// qualifyFromDir qualifies a CLI-supplied target name relative to dir,
// the workspace-root-relative directory the user invoked `run` from.
// registry.Qualify can't be reused directly for this: it expects a
// *script module* string (directory plus the script's own basename) and
// strips the trailing component back off, whereas dir here already is
// the directory.
func qualifyFromDir(dir, name string) string {
	if registry.IsQualified(name) {
		return name
	}
	return fmt.Sprintf("//%s:%s", dir, name)
}

func isRunKind(kind registry.Kind) bool {
	switch kind {
	case registry.KindRunExec, registry.KindRunExecIf, registry.KindRunTarget:
		return true
	default:
		return false
	}
}

// selectActiveRunSet implements spec §4.5's target selection: zero
// targets select the synthetic :all (every Run-type rule's transitive
// closure); named targets are qualified relative to cwdModule. Every
// Setup-type rule is included unconditionally, and any RunExecIf pulled
// into the active set eagerly pulls in both of its branches too (so the
// scheduler has a task for whichever branch ends up chosen at run time).
// Rules promoted into the active set from Optional are promoted in
// the registry for this invocation, per registry.PromoteReachable.
func selectActiveRunSet(reg *registry.Registry, g *graph.Graph, byName map[string]*registry.Rule, requested []string, cwdModule string) ([]string, error) {
	var seeds []string
	if len(requested) == 0 {
		for name, rule := range byName {
			if rule.Type == registry.TypeRun {
				seeds = append(seeds, name)
			}
		}
	} else {
		for _, t := range requested {
			seeds = append(seeds, qualifyFromDir(cwdModule, t))
		}
	}
	for name, rule := range byName {
		if rule.Type == registry.TypeSetup {
			seeds = append(seeds, name)
		}
	}

	active := map[string]bool{}
	queue := seeds
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if active[name] {
			continue
		}

		reachable, err := g.Reachable(name)
		if err != nil {
			return nil, err
		}
		for _, r := range reachable {
			if active[r] {
				continue
			}
			active[r] = true
			if rule, ok := byName[r]; ok && rule.Kind == registry.KindRunExecIf {
				ifSpec := rule.Payload.(run.IfSpec)
				queue = append(queue, ifSpec.Then...)
				queue = append(queue, ifSpec.Else...)
			}
		}
	}

	names := make([]string, 0, len(active))
	for name := range active {
		names = append(names, name)
	}
	reg.PromoteReachable(names)
	return names, nil
}

// execIfGate ties a then/else target back to the exec_if rule that
// gates it.
type execIfGate struct {
	ifName string
}

func buildExecIfGates(active []string, byName map[string]*registry.Rule) map[string][]execIfGate {
	gates := map[string][]execIfGate{}
	for _, name := range active {
		rule := byName[name]
		if rule.Kind != registry.KindRunExecIf {
			continue
		}
		ifSpec := rule.Payload.(run.IfSpec)
		for _, n := range append(append([]string{}, ifSpec.Then...), ifSpec.Else...) {
			gates[n] = append(gates[n], execIfGate{ifName: rule.QualifiedName})
		}
	}
	return gates
}

func gateDepNames(gs []execIfGate) []string {
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = g.ifName
	}
	return out
}

// execIfDecisions records, per RunExecIf rule's qualified name, the set
// of names run.Executor.EvaluateIf enabled (spec.Then or spec.Else).
// Written once by that rule's own task, read by its then/else targets'
// gated ShouldSkip. Safe because runRun adds each exec_if to its branch
// targets' scheduler.Task.Deps, so a branch target is never made Ready
// before its exec_if has finished.
type execIfDecisions struct {
	mu sync.Mutex
	m  map[string]map[string]bool
}

func (d *execIfDecisions) set(ifName string, enabled []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := make(map[string]bool, len(enabled))
	for _, n := range enabled {
		set[n] = true
	}
	d.m[ifName] = set
}

func (d *execIfDecisions) enabled(ifName, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.m[ifName]
	return ok && set[name]
}

// gatedShouldSkip composes a rule's ordinary (fingerprint-based)
// ShouldSkip with its exec_if gate(s): it skips outright unless every
// gating exec_if enabled it.
func gatedShouldSkip(inner scheduler.ShouldSkip, name string, gs []execIfGate, decisions *execIfDecisions) scheduler.ShouldSkip {
	return func() (bool, error) {
		for _, g := range gs {
			if !decisions.enabled(g.ifName, name) {
				return true, nil
			}
		}
		return inner()
	}
}

// buildRunExecute dispatches rule's payload to the run.Executor,
// recording RunExecIf's branch decision as a side effect of running its
// condition.
func buildRunExecute(rule *registry.Rule, ex *run.Executor, ws *workspace.Workspace, baseEnv map[string]string, decisions *execIfDecisions) func(context.Context) error {
	switch rule.Kind {
	case registry.KindRunExec:
		spec := rule.Payload.(run.ExecSpec)
		spec.LogPath = ws.LogPath(rule.QualifiedName)
		return func(ctx context.Context) error { return ex.Run(ctx, spec, baseEnv) }
	case registry.KindRunExecIf:
		ifSpec := rule.Payload.(run.IfSpec)
		ifSpec.If.LogPath = ws.LogPath(rule.QualifiedName)
		return func(ctx context.Context) error {
			enabled, err := ex.EvaluateIf(ctx, ifSpec, baseEnv)
			if err != nil {
				return err
			}
			decisions.set(rule.QualifiedName, enabled)
			return nil
		}
	case registry.KindRunTarget:
		spec := rule.Payload.(run.TargetSpec)
		return func(context.Context) error { return ex.RunTarget(spec) }
	default:
		return func(context.Context) error { return fmt.Errorf("unhandled run rule kind %s", rule.Kind) }
	}
}
