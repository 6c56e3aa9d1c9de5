package eval

import (
	"os"
	"path/filepath"

	"go.starlark.net/starlark"

	"github.com/spacesbuild/spaces/internal/digest"
	"github.com/spacesbuild/spaces/internal/errs"
)

// hashBuiltins assembles the hash.* namespace. Grounded on
// internal/digest.Sha256Hex/Sha256HexReader, the engine's own Digest
// contract (spec §3: "64-hex SHA-256 string"), exposed to scripts that
// need to compute their own content-addressed names (e.g. for a custom
// asset destination).
func (e *Evaluator) hashBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"compute_sha256_from_string": starlark.NewBuiltin("hash.compute_sha256_from_string", hashFromString),
		"compute_sha256_from_file":   starlark.NewBuiltin("hash.compute_sha256_from_file", e.hashFromFile),
	}
}

func hashFromString(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	var s string
	if len(args) == 1 {
		v, ok := starlark.AsString(args[0])
		if !ok {
			return nil, wrongTypeErr(b.Name(), "value", args[0])
		}
		s = v
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
	return starlark.String(digest.Sha256Hex([]byte(s))), nil
}

func (e *Evaluator) hashFromFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargsT []starlark.Tuple) (starlark.Value, error) {
	kw, err := kwargsMap(kwargsT)
	if err != nil {
		return nil, err
	}
	path, err := e.resolvePath(kw, b.Name())
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.WorkspaceRoot, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.IoError{Op: "hash.compute_sha256_from_file", Err: err}
	}
	defer f.Close()
	sum, err := digest.Sha256HexReader(f)
	if err != nil {
		return nil, &errs.IoError{Op: "hash.compute_sha256_from_file: hash", Err: err}
	}
	return starlark.String(sum), nil
}
