// Command spaces evaluates *.spaces.star scripts against a workspace: it
// checks out declared repos/archives/assets, then runs declared exec
// rules against the resulting tree. Grounded on
// cmd/senechal-gw/main.go's os.Args[1]-dispatch, flag.FlagSet-per-action
// pattern, generalized from that binary's noun/verb surface to this
// tool's flat, closed verb surface (checkout, run, inspect, sync, docs).
package main

import (
	"fmt"
	"os"

	"github.com/spacesbuild/spaces/internal/suggest"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "checkout":
		os.Exit(runCheckout(args))
	case "run":
		os.Exit(runRun(args))
	case "inspect":
		os.Exit(runInspect(args))
	case "sync":
		os.Exit(runSync(args))
	case "docs":
		os.Exit(runDocs(args))
	case "version", "--version":
		fmt.Printf("spaces version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "spaces: unknown command %q", cmd)
		if s := suggest.Closest(cmd, []string{"checkout", "run", "inspect", "sync", "docs"}); s != "" {
			fmt.Fprintf(os.Stderr, " (did you mean %q?)", s)
		}
		fmt.Fprintln(os.Stderr)
		printUsage(os.Stderr)
		os.Exit(2)
	}
}

func printUsage(w *os.File) {
	fmt.Fprint(w, `spaces - reproducible poly-repo workspace builder and task runner

Usage:
  spaces <command> [flags]

Commands:
  checkout --workflow=<dir>:<s1>,<s2>,... --name=<dir> [--rescan] [--create-lock]
                      populate a fresh workspace from preload scripts
  run [target ...]    evaluate and execute the run graph in the current workspace
  inspect [--filter=GLOB] [--has-help] [--last-run]
                      list rules known to the current workspace
  sync                re-run checkout over the current workspace to pull updates
  docs                print the built-in script API reference
  version             print the engine version
  help                show this message

checkout, run, inspect and sync accept --config=<path> to point at an engine
spaces.config.yaml explicitly instead of discovering one by walking up
from the current directory.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}
