package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spacesbuild/spaces/internal/environment"
	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/workspace"
)

// runSync re-runs the checkout fixed-point loop over the current
// workspace, seeded from settings.json's persisted module list rather
// than a fresh --workflow source — the CLI surface stays exactly the
// flag-free form spec §6 calls out; existing locks in settings.json's
// locks map are honored automatically by git.Fetcher.Checkout.
func runSync(args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfgPath := fs.String("config", "", "explicit spaces.config.yaml path")
	if hasHelpFlag(args) {
		fs.Usage()
		return 0
	}
	if err := fs.Parse(args); err != nil {
		return int(errs.ExitUsage)
	}

	wsRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sync:", err)
		return int(errs.ExitFailure)
	}
	wsRoot, err = filepath.Abs(wsRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sync:", err)
		return int(errs.ExitFailure)
	}

	ws, err := workspace.Open(wsRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sync:", err)
		return int(errs.ExitCodeFor(err))
	}

	settings, err := ws.LoadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sync:", err)
		return int(errs.ExitCodeFor(err))
	}

	env := environment.New()
	eng, err := newEngine(*cfgPath, env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sync:", err)
		return int(errs.ExitCodeFor(err))
	}
	defer eng.Close()

	var seeds []scriptItem
	for _, m := range settings.Modules {
		seeds = append(seeds, scriptItem{absPath: modulePath(ws, m), module: m})
	}

	if err := runCheckoutFixedPoint(context.Background(), ws, eng, seeds, false); err != nil {
		fmt.Fprintln(os.Stderr, "sync:", err)
		return int(errs.ExitCodeFor(err))
	}

	fmt.Printf("sync complete: %s\n", ws.Root)
	return int(errs.ExitSuccess)
}
