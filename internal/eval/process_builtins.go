package eval

import (
	"bytes"
	"context"
	"os/exec"

	"go.starlark.net/starlark"
)

// processBuiltins assembles the process.* namespace: process.exec runs
// a command synchronously and returns its outcome directly to the
// script, distinct from run.add_exec's rule-emitting, scheduler-driven
// execution. Grounded on original_source/crates/spaces/src/builtins/run.rs's
// synchronous "run_command"-style helper used for evaluation-time
// decisions (as opposed to declared run rules).
func (e *Evaluator) processBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"exec": starlark.NewBuiltin("process.exec", e.processExec),
	}
}

func (e *Evaluator) processExec(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	if err := noPositional(b.Name(), args); err != nil {
		return nil, err
	}
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	command, err := reqString(kw, "command", b.Name())
	if err != nil {
		return nil, err
	}
	cmdArgs, err := optStringList(kw, "args")
	if err != nil {
		return nil, err
	}
	env, err := optStringMap(kw, "env")
	if err != nil {
		return nil, err
	}
	workingDirectory, err := optString(kw, "working_directory", e.WorkspaceRoot)
	if err != nil {
		return nil, err
	}

	ctx := e.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, command, cmdArgs...)
	cmd.Dir = workingDirectory
	if len(env) > 0 {
		environ := make([]string, 0, len(env))
		for k, v := range env {
			environ = append(environ, k+"="+v)
		}
		cmd.Env = environ
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	status := 0
	if cmd.ProcessState != nil {
		status = cmd.ProcessState.ExitCode()
	} else if runErr != nil {
		status = -1
	}

	dict := starlark.NewDict(3)
	_ = dict.SetKey(starlark.String("status"), starlark.MakeInt(status))
	_ = dict.SetKey(starlark.String("stdout"), starlark.String(stdout.String()))
	_ = dict.SetKey(starlark.String("stderr"), starlark.String(stderr.String()))
	return dict, nil
}
