package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/spacesbuild/spaces/internal/environment"
	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/eval"
	"github.com/spacesbuild/spaces/internal/registry"
)

// runDocs prints the built-in script API reference: every namespace.name
// symbol a *.spaces.star script can call, sourced directly from the
// Evaluator's own predeclared set so this can never drift out of sync
// with what scripts actually see.
func runDocs(args []string) int {
	fs := flag.NewFlagSet("docs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if hasHelpFlag(args) {
		fs.Usage()
		return 0
	}
	if err := fs.Parse(args); err != nil {
		return int(errs.ExitUsage)
	}

	evalr := eval.New("", registry.New(), environment.New())
	predeclared := evalr.Predeclared()

	names := make([]string, 0, len(predeclared))
	for name := range predeclared {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mod, ok := predeclared[name].(*starlarkstruct.Module)
		if !ok {
			continue
		}
		fmt.Printf("%s:\n", name)
		printMembers(mod.Members)
		fmt.Println()
	}
	return int(errs.ExitSuccess)
}

func printMembers(members starlark.StringDict) {
	symbols := make([]string, 0, len(members))
	for name := range members {
		symbols = append(symbols, name)
	}
	sort.Strings(symbols)

	for _, name := range symbols {
		b, ok := members[name].(*starlark.Builtin)
		if !ok {
			fmt.Printf("  %s\n", name)
			continue
		}
		fmt.Printf("  %s(...)\n", b.Name())
	}
}
