package eval

import (
	"encoding/json"

	"go.starlark.net/starlark"

	"github.com/spacesbuild/spaces/internal/errs"
)

// jsonBuiltins assembles the json.* namespace, for round-tripping
// scripts' own data structures (spec §9: "json.to_string then
// json.string_to_dict is an identity on JSON-representable values").
func (e *Evaluator) jsonBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"to_string":        starlark.NewBuiltin("json.to_string", jsonToString),
		"to_string_pretty": starlark.NewBuiltin("json.to_string_pretty", jsonToStringPretty),
		"string_to_dict":   starlark.NewBuiltin("json.string_to_dict", jsonStringToDict),
	}
}

func jsonValueArg(builtinName string, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	v, ok := kw["value"]
	if !ok {
		return nil, wrongTypeErr(builtinName, "value", starlark.None)
	}
	return v, nil
}

func jsonToString(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	v, err := jsonValueArg(b.Name(), args, kwargsT)
	if err != nil {
		return nil, err
	}
	native, err := starlarkToGo(v)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(native)
	if err != nil {
		return nil, &errs.IoError{Op: "json.to_string", Err: err}
	}
	return starlark.String(data), nil
}

func jsonToStringPretty(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	v, err := jsonValueArg(b.Name(), args, kwargsT)
	if err != nil {
		return nil, err
	}
	native, err := starlarkToGo(v)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(native, "", "  ")
	if err != nil {
		return nil, &errs.IoError{Op: "json.to_string_pretty", Err: err}
	}
	return starlark.String(data), nil
}

func jsonStringToDict(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	var s string
	if len(args) == 1 {
		str, ok := starlark.AsString(args[0])
		if !ok {
			return nil, wrongTypeErr(b.Name(), "value", args[0])
		}
		s = str
	} else {
		kw, err := kwargsMap(kwargsT)
		if err != nil {
			return nil, err
		}
		s, err = reqString(kw, "value", b.Name())
		if err != nil {
			return nil, err
		}
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return nil, &errs.IoError{Op: "json.string_to_dict: parse", Err: err}
	}
	return goToStarlark(decoded)
}
