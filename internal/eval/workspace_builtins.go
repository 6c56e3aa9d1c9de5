package eval

import (
	"os"
	"path/filepath"

	"go.starlark.net/starlark"

	"github.com/spacesbuild/spaces/internal/registry"
)

// workspaceBuiltins assembles the workspace.* namespace: absolute-path
// resolution, calling-environment queries, and lock declaration.
// Grounded on original_source/crates/spaces/src/builtins/workspace.rs.
func (e *Evaluator) workspaceBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"absolute_path": starlark.NewBuiltin("workspace.absolute_path", e.workspaceAbsolutePath),
		"get_env_var":    starlark.NewBuiltin("workspace.get_env_var", workspaceGetEnvVar),
		"set_locks":      starlark.NewBuiltin("workspace.set_locks", e.workspaceSetLocks),
	}
}

func (e *Evaluator) workspaceAbsolutePath(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	var rel string
	if len(args) == 1 {
		s, ok := starlark.AsString(args[0])
		if !ok {
			return nil, wrongTypeErr(b.Name(), "path", args[0])
		}
		rel = s
	} else {
		kw, err := kwargsMap(kwargsT)
		if err != nil {
			return nil, err
		}
		rel, err = reqString(kw, "path", b.Name())
		if err != nil {
			return nil, err
		}
	}
	if filepath.IsAbs(rel) {
		return starlark.String(rel), nil
	}
	return starlark.String(filepath.Join(e.WorkspaceRoot, rel)), nil
}

// workspaceGetEnvVar reads a variable from the invoking process's own
// environment — the calling shell's environment, not the workspace's
// own frozen environment (that one is populated, not read, during
// evaluation).
func workspaceGetEnvVar(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	name, err := reqString(kw, "name", b.Name())
	if err != nil {
		return nil, err
	}
	def, err := optString(kw, "default", "")
	if err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(name); ok {
		return starlark.String(v), nil
	}
	return starlark.String(def), nil
}

// workspaceSetLocks records script-declared lock pins (rule name ->
// revision), consulted by the driver when running with --create-lock to
// seed settings.json's locks map, per spec §4.2's "this is how
// workspace.set_locks(...) pins branches."
func (e *Evaluator) workspaceSetLocks(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	if err := noPositional(b.Name(), args); err != nil {
		return nil, err
	}
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	locks, err := optStringMap(kw, "locks")
	if err != nil {
		return nil, err
	}
	module := moduleOf(thread)
	for name, rev := range locks {
		e.DeclaredLocks[registry.Qualify(module, name)] = rev
	}
	return starlark.None, nil
}
