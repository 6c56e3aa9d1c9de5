package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spacesbuild/spaces/internal/environment"
	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/eval"
	"github.com/spacesbuild/spaces/internal/registry"
	"github.com/spacesbuild/spaces/internal/workspace"
)

// runInspect lists every rule known to the current workspace, mirroring
// spec §6's read-only introspection surface: it re-evaluates every
// module settings.json already recorded (the same fixed-point-discovered
// set checkout/run would see) but drives neither fetchers nor processes,
// so it is always safe to run against a partially or fully checked-out
// tree.
func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	_ = fs.String("config", "", "explicit spaces.config.yaml path")
	filterGlob := fs.String("filter", "", "only list rules whose qualified name matches this glob")
	hasHelp := fs.Bool("has-help", false, "only list rules that declare help=")
	lastRun := fs.Bool("last-run", false, "annotate each rule with its most recent run-history entry")
	if hasHelpFlag(args) {
		fs.Usage()
		return 0
	}
	if err := fs.Parse(args); err != nil {
		return int(errs.ExitUsage)
	}

	wsRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		return int(errs.ExitFailure)
	}
	ws, err := workspace.Open(wsRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		return int(errs.ExitCodeFor(err))
	}
	settings, err := ws.LoadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		return int(errs.ExitCodeFor(err))
	}

	env := environment.New()
	reg := registry.New()
	evalr := eval.New(ws.Root, reg, env)
	evalr.Ctx = context.Background()
	for _, m := range settings.Modules {
		if _, err := evalr.EvalFile(modulePath(ws, m), m); err != nil {
			fmt.Fprintln(os.Stderr, "inspect:", err)
			return int(errs.ExitCodeFor(err))
		}
	}

	rules := reg.All()
	sort.Slice(rules, func(i, j int) bool { return rules[i].QualifiedName < rules[j].QualifiedName })

	var hist *workspace.History
	if *lastRun {
		hist, err = workspace.OpenHistory(context.Background(), ws.HistoryDBPath())
		if err != nil {
			fmt.Fprintln(os.Stderr, "inspect:", err)
			return int(errs.ExitCodeFor(err))
		}
		defer hist.Close()
	}

	for _, rule := range rules {
		if *hasHelp && rule.Help == "" {
			continue
		}
		if *filterGlob != "" {
			if ok, err := filepath.Match(*filterGlob, rule.QualifiedName); err != nil {
				fmt.Fprintln(os.Stderr, "inspect:", err)
				return int(errs.ExitUsage)
			} else if !ok {
				continue
			}
		}

		line := fmt.Sprintf("%-10s %-8s %s", rule.Kind, rule.Type, rule.QualifiedName)
		if rule.Help != "" {
			line += "  # " + rule.Help
		}
		fmt.Println(line)

		if hist != nil {
			rec, err := hist.LastRun(rule.QualifiedName)
			if err != nil {
				fmt.Fprintln(os.Stderr, "inspect:", err)
				continue
			}
			if rec == nil {
				fmt.Println("    last run: never")
			} else {
				fmt.Printf("    last run: %s at %s\n", rec.Status, rec.FinishedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
		}
	}
	return int(errs.ExitSuccess)
}
