package eval

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// starlarkToGo converts a starlark.Value into the native Go shape
// fs.*/json.*/process.* hand back to caller code: nil, bool, int64,
// float64, string, []any, or map[string]any (string-keyed dicts only,
// per spec §1's JSON-representable-values contract).
func starlarkToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return val.String(), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := starlarkToGo(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *starlark.List:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := starlarkToGo(val.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", item[0].Type())
			}
			value, err := starlarkToGo(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark value of type %s", v.Type())
	}
}

// goToStarlark converts a native Go value (as produced by encoding/json
// decoding, or assembled by a builtin's own logic) into a starlark.Value.
func goToStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case []string:
		list := starlark.NewList(nil)
		for _, s := range val {
			if err := list.Append(starlark.String(s)); err != nil {
				return nil, err
			}
		}
		return list, nil
	case []any:
		list := starlark.NewList(nil)
		for _, item := range val {
			sv, err := goToStarlark(item)
			if err != nil {
				return nil, err
			}
			if err := list.Append(sv); err != nil {
				return nil, err
			}
		}
		return list, nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := dict.SetKey(starlark.String(k), starlark.String(val[k])); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sv, err := goToStarlark(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to a starlark value", v)
	}
}

// kwargsMap flattens go.starlark.net's []starlark.Tuple kwargs
// representation into a lookup table. Most built-ins here take keyword
// arguments only (Bazel-rule style); the few that also accept a single
// positional value read it from args themselves.
func kwargsMap(kwargs []starlark.Tuple) (map[string]starlark.Value, error) {
	out := make(map[string]starlark.Value, len(kwargs))
	for _, kv := range kwargs {
		name, ok := starlark.AsString(kv[0])
		if !ok {
			return nil, fmt.Errorf("keyword argument name must be a string")
		}
		out[name] = kv[1]
	}
	return out, nil
}

// noPositional rejects positional arguments, for the built-ins that take
// keyword arguments exclusively.
func noPositional(builtinName string, args starlark.Tuple) error {
	if len(args) > 0 {
		return fmt.Errorf("%s: takes only keyword arguments, got %d positional", builtinName, len(args))
	}
	return nil
}

func reqString(kw map[string]starlark.Value, name, builtinName string) (string, error) {
	v, ok := kw[name]
	if !ok {
		return "", fmt.Errorf("%s: missing required argument %q", builtinName, name)
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("%s: argument %q must be a string, got %s", builtinName, name, v.Type())
	}
	return s, nil
}

func optString(kw map[string]starlark.Value, name, def string) (string, error) {
	v, ok := kw[name]
	if !ok || v == starlark.None {
		return def, nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %s", name, v.Type())
	}
	return s, nil
}

func optInt(kw map[string]starlark.Value, name string, def int) (int, error) {
	v, ok := kw[name]
	if !ok || v == starlark.None {
		return def, nil
	}
	i, ok := v.(starlark.Int)
	if !ok {
		return 0, fmt.Errorf("argument %q must be an int, got %s", name, v.Type())
	}
	n, ok := i.Int64()
	if !ok {
		return 0, fmt.Errorf("argument %q is out of range", name)
	}
	return int(n), nil
}

func optBool(kw map[string]starlark.Value, name string, def bool) (bool, error) {
	v, ok := kw[name]
	if !ok || v == starlark.None {
		return def, nil
	}
	b, ok := v.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("argument %q must be a bool, got %s", name, v.Type())
	}
	return bool(b), nil
}

// listOf extracts a starlark list/tuple argument into []starlark.Value,
// treating an absent or None argument as empty.
func listOf(kw map[string]starlark.Value, name string) ([]starlark.Value, error) {
	v, ok := kw[name]
	if !ok || v == starlark.None {
		return nil, nil
	}
	iterable, ok := v.(starlark.Indexable)
	if !ok {
		return nil, fmt.Errorf("argument %q must be a list, got %s", name, v.Type())
	}
	out := make([]starlark.Value, iterable.Len())
	for i := range out {
		out[i] = iterable.Index(i)
	}
	return out, nil
}

func optStringList(kw map[string]starlark.Value, name string) ([]string, error) {
	items, err := listOf(kw, name)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := starlark.AsString(item)
		if !ok {
			return nil, fmt.Errorf("argument %q must be a list of strings", name)
		}
		out = append(out, s)
	}
	return out, nil
}

// dictOf extracts a starlark dict argument, reporting an absent or None
// argument as not present (nil, false).
func dictOf(kw map[string]starlark.Value, name string) (*starlark.Dict, bool, error) {
	v, ok := kw[name]
	if !ok || v == starlark.None {
		return nil, false, nil
	}
	d, ok := v.(*starlark.Dict)
	if !ok {
		return nil, false, fmt.Errorf("argument %q must be a dict, got %s", name, v.Type())
	}
	return d, true, nil
}

func optStringMap(kw map[string]starlark.Value, name string) (map[string]string, error) {
	d, present, err := dictOf(kw, name)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	out := make(map[string]string, d.Len())
	for _, item := range d.Items() {
		k, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("argument %q must have string keys", name)
		}
		v, ok := starlark.AsString(item[1])
		if !ok {
			return nil, fmt.Errorf("argument %q must have string values", name)
		}
		out[k] = v
	}
	return out, nil
}

func optAnyMap(kw map[string]starlark.Value, name string) (map[string]any, error) {
	d, present, err := dictOf(kw, name)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	native, err := starlarkToGo(d)
	if err != nil {
		return nil, err
	}
	m, ok := native.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be a dict", name)
	}
	return m, nil
}
