package eval

import (
	"encoding/json"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"

	"github.com/spacesbuild/spaces/internal/errs"
)

// fsBuiltins assembles the fs.* namespace: filesystem reads/writes a
// script may need outside the checkout/run rule-emitting built-ins
// (inspecting a fetched repo's contents, reading a config file it just
// checked out, writing a small generated asset by hand). Grounded on
// original_source/crates/spaces/src/builtins/{fs,info}.rs's fs helpers.
func (e *Evaluator) fsBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"exists":                starlark.NewBuiltin("fs.exists", e.fsExists),
		"read_dir":              starlark.NewBuiltin("fs.read_dir", e.fsReadDir),
		"read_file_to_string":   starlark.NewBuiltin("fs.read_file_to_string", e.fsReadFileToString),
		"read_json":             starlark.NewBuiltin("fs.read_json", e.fsReadJSON),
		"read_toml":             starlark.NewBuiltin("fs.read_toml", e.fsReadTOML),
		"read_yaml":             starlark.NewBuiltin("fs.read_yaml", e.fsReadYAML),
		"write_string_to_file":  starlark.NewBuiltin("fs.write_string_to_file", e.fsWriteStringToFile),
		"append_string_to_file": starlark.NewBuiltin("fs.append_string_to_file", e.fsAppendStringToFile),
	}
}

func (e *Evaluator) resolvePath(kw map[string]starlark.Value, builtinName string) (string, error) {
	path, err := reqString(kw, "path", builtinName)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Join(e.WorkspaceRoot, path), nil
}

func (e *Evaluator) fsExists(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	path, err := e.resolvePath(kw, b.Name())
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(path)
	return starlark.Bool(statErr == nil), nil
}

func (e *Evaluator) fsReadDir(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	path, err := e.resolvePath(kw, b.Name())
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &errs.IoError{Op: "fs.read_dir", Err: err}
	}
	names := make([]string, len(entries))
	for i, entry := range entries {
		names[i] = entry.Name()
	}
	return goToStarlark(names)
}

func (e *Evaluator) fsReadFileToString(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	path, err := e.resolvePath(kw, b.Name())
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.IoError{Op: "fs.read_file_to_string", Err: err}
	}
	return starlark.String(data), nil
}

func (e *Evaluator) fsReadJSON(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	path, err := e.resolvePath(kw, b.Name())
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.IoError{Op: "fs.read_json", Err: err}
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, &errs.IoError{Op: "fs.read_json: parse", Err: err}
	}
	return goToStarlark(decoded)
}

func (e *Evaluator) fsReadTOML(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	path, err := e.resolvePath(kw, b.Name())
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.IoError{Op: "fs.read_toml", Err: err}
	}
	decoded := map[string]any{}
	if err := toml.Unmarshal(data, &decoded); err != nil {
		return nil, &errs.IoError{Op: "fs.read_toml: parse", Err: err}
	}
	return goToStarlark(decoded)
}

func (e *Evaluator) fsReadYAML(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	path, err := e.resolvePath(kw, b.Name())
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.IoError{Op: "fs.read_yaml", Err: err}
	}
	decoded := map[string]any{}
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return nil, &errs.IoError{Op: "fs.read_yaml: parse", Err: err}
	}
	return goToStarlark(decoded)
}

func (e *Evaluator) fsWriteStringToFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	path, err := e.resolvePath(kw, b.Name())
	if err != nil {
		return nil, err
	}
	content, err := reqString(kw, "content", b.Name())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &errs.IoError{Op: "fs.write_string_to_file: mkdir", Err: err}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, &errs.IoError{Op: "fs.write_string_to_file", Err: err}
	}
	return starlark.None, nil
}

func (e *Evaluator) fsAppendStringToFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	path, err := e.resolvePath(kw, b.Name())
	if err != nil {
		return nil, err
	}
	content, err := reqString(kw, "content", b.Name())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &errs.IoError{Op: "fs.append_string_to_file: mkdir", Err: err}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &errs.IoError{Op: "fs.append_string_to_file", Err: err}
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return nil, &errs.IoError{Op: "fs.append_string_to_file: write", Err: err}
	}
	return starlark.None, nil
}
