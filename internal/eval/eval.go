// Package eval evaluates *.spaces.star scripts against the built-in
// namespaces checkout.*, run.*, info.*, workspace.*, fs.*, hash.*, json.*,
// process.*, script.*, accumulating the rules they emit into a
// registry.Registry. Grounded on
// original_source/crates/spaces/src/evaluator.rs's module-namespace
// injection and load-cycle caching, reimplemented on
// go.starlark.net/starlark — the real Go-ecosystem Starlark
// implementation, standing in for the Rust `starlark` crate the original
// is built on; per spec §1 the scripting language itself is a collaborator
// with a contract, not something this engine reimplements from scratch.
package eval

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/spacesbuild/spaces/internal/environment"
	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/registry"
)

// EngineVersion is compared against a script's info.set_minimum_version
// declaration.
const EngineVersion = "1.0.0"

// Evaluator loads *.spaces.star modules into a shared registry, caching
// already-evaluated modules by absolute path per spec §4.4's "re-evaluation
// within the same process is forbidden."
type Evaluator struct {
	WorkspaceRoot string
	Registry      *registry.Registry
	Env           *environment.Environment
	// Ctx bounds process.exec's synchronous child process. Defaults to
	// context.Background() if left nil.
	Ctx context.Context

	// ScriptArgs backs script.get_arg/get_args.
	ScriptArgs []string
	// ExitCode is set by script.set_exit_code and consulted by the caller
	// after evaluation completes.
	ExitCode int
	// Aborted and AbortMessage are set by checkout.abort/run.abort. Checked
	// directly on the Evaluator rather than unwrapped out of the
	// *starlark.EvalError go.starlark.net raises, since that wrapping's
	// exact shape is not something this package depends on.
	Aborted      bool
	AbortMessage string
	// DeclaredLocks is populated by workspace.set_locks, read back by the
	// driver after evaluation to seed/refresh settings.json's locks map
	// when running with --create-lock.
	DeclaredLocks map[string]string

	cache map[string]starlark.StringDict // absolute path -> module globals
	stack map[string]bool                // absolute paths currently mid-evaluation, for cycle detection
}

// New returns an Evaluator over reg and env, rooted at workspaceRoot.
func New(workspaceRoot string, reg *registry.Registry, env *environment.Environment) *Evaluator {
	return &Evaluator{
		WorkspaceRoot: workspaceRoot,
		Registry:      reg,
		Env:           env,
		DeclaredLocks: make(map[string]string),
		cache:         make(map[string]starlark.StringDict),
		stack:         make(map[string]bool),
	}
}

// moduleContext is stored per-thread so a rule-emitting builtin can qualify
// the rule names it registers against the script that called it.
type moduleContext struct {
	module string // workspace-relative module name, e.g. "tools/build"
}

// EvalFile evaluates the script at absPath (an absolute filesystem path)
// under moduleName (its qualified-name prefix, e.g. "tools/build" for
// "tools/build.spaces.star"), returning its module globals. A module is
// evaluated at most once per Evaluator lifetime; subsequent calls return
// the cached globals.
func (e *Evaluator) EvalFile(absPath, moduleName string) (starlark.StringDict, error) {
	if globals, ok := e.cache[absPath]; ok {
		return globals, nil
	}
	if e.stack[absPath] {
		return nil, &errs.ScriptError{File: absPath, Err: fmt.Errorf("import cycle detected")}
	}
	e.stack[absPath] = true
	defer delete(e.stack, absPath)

	thread := &starlark.Thread{
		Name: absPath,
		Load: e.load,
	}
	thread.SetLocal("moduleContext", &moduleContext{module: moduleName})
	thread.SetLocal("evaluator", e)

	globals, err := starlark.ExecFileOptions(&syntax.FileOptions{}, thread, absPath, nil, e.predeclared())
	if err != nil {
		if e.Aborted {
			return nil, &errs.UserAbort{Message: e.AbortMessage}
		}
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, &errs.ScriptError{File: absPath, Err: fmt.Errorf("%s", evalErr.Backtrace())}
		}
		return nil, &errs.ScriptError{File: absPath, Err: err}
	}

	e.cache[absPath] = globals
	return globals, nil
}

// load implements starlark's load("//path", "sym", ...) / load("rel.star",
// "sym", ...) resolution, per spec §4.4: a leading "//" is workspace-root
// relative, everything else is relative to the loading script's directory.
func (e *Evaluator) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	var absPath, moduleName string
	if strings.HasPrefix(module, "//") {
		rel := strings.TrimPrefix(module, "//")
		absPath = filepath.Join(e.WorkspaceRoot, rel)
		moduleName = strings.TrimSuffix(rel, filepath.Ext(rel))
	} else {
		absPath = filepath.Join(filepath.Dir(thread.Name), module)
		moduleName = strings.TrimSuffix(module, filepath.Ext(module))
	}
	return e.EvalFile(absPath, moduleName)
}

// Predeclared exposes the same namespace set EvalFile injects into every
// script, for `spaces docs` to introspect without duplicating the
// namespace list.
func (e *Evaluator) Predeclared() starlark.StringDict {
	return e.predeclared()
}

// predeclared assembles the built-in namespaces injected before
// evaluation begins, per spec §4.4.
func (e *Evaluator) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"checkout": &starlarkstruct.Module{Name: "checkout", Members: e.checkoutBuiltins()},
		"run":      &starlarkstruct.Module{Name: "run", Members: e.runBuiltins()},
		"info":     &starlarkstruct.Module{Name: "info", Members: e.infoBuiltins()},
		"workspace": &starlarkstruct.Module{Name: "workspace", Members: e.workspaceBuiltins()},
		"fs":        &starlarkstruct.Module{Name: "fs", Members: e.fsBuiltins()},
		"hash":      &starlarkstruct.Module{Name: "hash", Members: e.hashBuiltins()},
		"json":      &starlarkstruct.Module{Name: "json", Members: e.jsonBuiltins()},
		"process":   &starlarkstruct.Module{Name: "process", Members: e.processBuiltins()},
		"script":    &starlarkstruct.Module{Name: "script", Members: e.scriptBuiltins()},
	}
}

// moduleOf returns the calling script's module name, for qualifying rule
// names registered by a builtin invoked on thread.
func moduleOf(thread *starlark.Thread) string {
	if mc, ok := thread.Local("moduleContext").(*moduleContext); ok {
		return mc.module
	}
	return ""
}
