package eval

import (
	"fmt"
	"os"

	"go.starlark.net/starlark"
)

// starlarkPrintWriter is where script.print writes diagnostics. A plain
// package variable rather than a field on Evaluator: spec §9 treats
// script.print as a thin wrapper over the process's own stdout, not a
// workspace-scoped log sink (that's what run.add_exec's LogPath is for).
var starlarkPrintWriter = os.Stdout

// scriptBuiltins assembles the script.* namespace: the positional
// arguments given on the `spaces run` command line (the same list run
// takes its targets from), diagnostic printing, and the process
// exit code override. Grounded on
// original_source/crates/spaces/src/builtins/run.rs's script-argument
// plumbing.
func (e *Evaluator) scriptBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"get_arg":       starlark.NewBuiltin("script.get_arg", e.scriptGetArg),
		"get_args":      starlark.NewBuiltin("script.get_args", e.scriptGetArgs),
		"print":         starlark.NewBuiltin("script.print", scriptPrint),
		"set_exit_code": starlark.NewBuiltin("script.set_exit_code", e.scriptSetExitCode),
	}
}

func (e *Evaluator) scriptGetArg(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	var index int
	var def string
	hasDef := false
	if len(args) >= 1 {
		i, ok := args[0].(starlark.Int)
		if !ok {
			return nil, wrongTypeErr(b.Name(), "index", args[0])
		}
		n, _ := i.Int64()
		index = int(n)
		if len(args) == 2 {
			s, ok := starlark.AsString(args[1])
			if !ok {
				return nil, wrongTypeErr(b.Name(), "default", args[1])
			}
			def, hasDef = s, true
		}
	} else {
		kw, err := kwargsMap(kwargsT)
		if err != nil {
			return nil, err
		}
		idx, err := optInt(kw, "index", 0)
		if err != nil {
			return nil, err
		}
		index = idx
		if v, ok := kw["default"]; ok {
			s, ok := starlark.AsString(v)
			if !ok {
				return nil, wrongTypeErr(b.Name(), "default", v)
			}
			def, hasDef = s, true
		}
	}

	if index < 0 || index >= len(e.ScriptArgs) {
		if hasDef {
			return starlark.String(def), nil
		}
		return nil, fmt.Errorf("%s: no script argument at index %d (%d given)", b.Name(), index, len(e.ScriptArgs))
	}
	return starlark.String(e.ScriptArgs[index]), nil
}

func (e *Evaluator) scriptGetArgs(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	return goToStarlark(e.ScriptArgs)
}

func scriptPrint(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if len(args) >= 1 {
		s, ok := starlark.AsString(args[0])
		if !ok {
			msg = args[0].String()
		} else {
			msg = s
		}
	} else {
		kw, err := kwargsMap(kwargsT)
		if err != nil {
			return nil, err
		}
		msg, err = optString(kw, "msg", "")
		if err != nil {
			return nil, err
		}
	}
	fmt.Fprintf(starlarkPrintWriter, "%s: %s\n", thread.Name, msg)
	return starlark.None, nil
}

func (e *Evaluator) scriptSetExitCode(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	var code int
	if len(args) == 1 {
		i, ok := args[0].(starlark.Int)
		if !ok {
			return nil, wrongTypeErr(b.Name(), "code", args[0])
		}
		n, _ := i.Int64()
		code = int(n)
	} else {
		kw, err := kwargsMap(kwargsT)
		if err != nil {
			return nil, err
		}
		code, err = optInt(kw, "code", 0)
		if err != nil {
			return nil, err
		}
	}
	e.ExitCode = code
	return starlark.None, nil
}
