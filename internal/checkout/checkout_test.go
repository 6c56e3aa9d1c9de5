package checkout

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacesbuild/spaces/internal/environment"
	"github.com/spacesbuild/spaces/internal/errs"
	"github.com/spacesbuild/spaces/internal/fetch/git"
	"github.com/spacesbuild/spaces/internal/fetch/httparchive"
	"github.com/spacesbuild/spaces/internal/store"
)

func newExecutor(t *testing.T) *Executor {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	return New(s, git.New(nil), httparchive.New(nil, nil), environment.New(), nil)
}

func TestAssetWritesContentVerbatim(t *testing.T) {
	e := newExecutor(t)
	dest := filepath.Join(t.TempDir(), "nested", "file.txt")

	require.NoError(t, e.Asset(AssetSpec{Destination: dest, Content: "hello world"}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestUpdateAssetDeepMergesJSON(t *testing.T) {
	e := newExecutor(t)
	dest := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(dest, []byte(`{"a":1,"nested":{"x":1},"list":[1,2]}`), 0o644))

	err := e.UpdateAsset(UpdateAssetSpec{
		Destination: dest,
		Value: map[string]any{
			"b":      2,
			"nested": map[string]any{"y": 2},
			"list":   []any{3},
		},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"a": 1`)
	assert.Contains(t, string(data), `"b": 2`)
	assert.Contains(t, string(data), `"x": 1`)
	assert.Contains(t, string(data), `"y": 2`)
	assert.Contains(t, string(data), "1,\n    2,\n    3")
}

func TestUpdateAssetCreatesMissingFile(t *testing.T) {
	e := newExecutor(t)
	dest := filepath.Join(t.TempDir(), "new.yaml")

	err := e.UpdateAsset(UpdateAssetSpec{Destination: dest, Value: map[string]any{"k": "v"}})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "k: v")
}

func TestHardLinkAssetFailsOnMissingSource(t *testing.T) {
	e := newExecutor(t)
	err := e.HardLinkAsset(HardLinkAssetSpec{
		Source:      filepath.Join(t.TempDir(), "does-not-exist"),
		Destination: filepath.Join(t.TempDir(), "dest"),
	})
	require.Error(t, err)
	var ioErr *errs.IoError
	assert.ErrorAs(t, err, &ioErr)
}

func TestHardLinkAssetLinksRegularFile(t *testing.T) {
	e := newExecutor(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0o644))

	require.NoError(t, e.HardLinkAsset(HardLinkAssetSpec{Source: src, Destination: dst}))

	srcInfo, _ := os.Stat(src)
	dstInfo, _ := os.Stat(dst)
	assert.True(t, os.SameFile(srcInfo, dstInfo))
}

func TestWhichAssetResolvesFromPath(t *testing.T) {
	e := newExecutor(t)
	dst := filepath.Join(t.TempDir(), "sh")

	require.NoError(t, e.WhichAsset(WhichAssetSpec{Which: "sh", Destination: dst}))
	_, err := os.Stat(dst)
	require.NoError(t, err)
}

func TestUpdateEnvAppendsVarsAndPaths(t *testing.T) {
	env := environment.New()
	e := New(nil, nil, nil, env, nil)

	require.NoError(t, e.UpdateEnv(UpdateEnvSpec{
		Vars:        map[string]string{"FOO": "bar"},
		AppendPaths: []string{"/workspace/bin"},
	}))

	assert.Equal(t, "bar", env.Vars["FOO"])
	assert.Equal(t, "/workspace/bin", env.PathValue())
}

func TestCargoBinInstallsAndHardLinksBins(t *testing.T) {
	e := newExecutor(t)
	dir := t.TempDir()

	fakeCargoBinstall := filepath.Join(dir, "cargo-binstall")
	script := "#!/bin/sh\nfor a in \"$@\"; do\n  case \"$a\" in\n    --root=*) root=\"${a#--root=}\" ;;\n  esac\ndone\nmkdir -p \"$root/bin\"\ntouch \"$root/bin/probe-rs\"\n"
	require.NoError(t, os.WriteFile(fakeCargoBinstall, []byte(script), 0o755))

	sysrootBin := filepath.Join(dir, "sysroot", "bin")
	require.NoError(t, os.MkdirAll(sysrootBin, 0o755))

	err := e.CargoBin(context.Background(), CargoBinSpec{
		Name:              "probe-rs-tools",
		Crate:             "probe-rs-tools",
		Version:           "0.24.0",
		Bins:              []string{"probe-rs"},
		CargoBinstallPath: fakeCargoBinstall,
		InstallRoot:       filepath.Join(dir, "cargo-binstall", "0.24.0"),
		SysrootBinDir:     sysrootBin,
		LogPath:           filepath.Join(dir, "logs", "probe-rs-tools.log"),
	})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(sysrootBin, "probe-rs"))
	require.NoError(t, err)
}

func TestDeepMergeConcatenatesArraysAndOverridesScalars(t *testing.T) {
	base := map[string]any{"a": 1, "list": []any{1, 2}}
	overlay := map[string]any{"a": 2, "list": []any{3}}

	merged := deepMerge(base, overlay).(map[string]any)
	assert.Equal(t, 2, merged["a"])
	assert.Equal(t, []any{1, 2, 3}, merged["list"])
}
