package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMaterializesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")

	w, err := Create(root)
	require.NoError(t, err)

	for _, dir := range []string{
		filepath.Join(root, ".spaces", "logs"),
		filepath.Join(root, "@star"),
		filepath.Join(root, "sysroot", "bin"),
		filepath.Join(root, "build"),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}

	_, err = os.Stat(w.SettingsPath())
	require.NoError(t, err)
}

func TestCreateFailsIfRootAlreadyExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, os.MkdirAll(root, 0o755))

	_, err := Create(root)
	assert.Error(t, err)
}

func TestOpenRoundTripsSettings(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	w, err := Create(root)
	require.NoError(t, err)

	settings, err := w.LoadSettings()
	require.NoError(t, err)
	settings.Modules = []string{"go", "python"}
	settings.Locks["github.com/example/repo"] = "deadbeef"
	require.NoError(t, w.SaveSettings(settings))

	reopened, err := Open(root)
	require.NoError(t, err)
	got, err := reopened.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "python"}, got.Modules)
	assert.Equal(t, "deadbeef", got.Locks["github.com/example/repo"])
}

func TestOpenRejectsTooNewMinVersion(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	w, err := Create(root)
	require.NoError(t, err)

	settings, err := w.LoadSettings()
	require.NoError(t, err)
	settings.MinVersion = "999.0.0"
	require.NoError(t, w.SaveSettings(settings))

	_, err = Open(root)
	assert.Error(t, err)
}

func TestLoadSettingsOnMissingFileReturnsEmpty(t *testing.T) {
	w := &Workspace{Root: t.TempDir()}
	settings, err := w.LoadSettings()
	require.NoError(t, err)
	assert.Empty(t, settings.Modules)
	assert.NotNil(t, settings.Locks)
	assert.NotNil(t, settings.InputFingerprints)
}

func TestFingerprintCacheRoundTrips(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	w, err := Create(root)
	require.NoError(t, err)

	cache, settings, err := w.FingerprintCache()
	require.NoError(t, err)
	cache.Save("//pkg:build", "abc123")
	require.NoError(t, w.SaveFingerprintCache(settings, cache))

	cache2, _, err := w.FingerprintCache()
	require.NoError(t, err)
	assert.False(t, cache2.IsChanged("//pkg:build", "abc123"))
	assert.True(t, cache2.IsChanged("//pkg:build", "different"))
}

func TestLogPathSanitizesQualifiedName(t *testing.T) {
	w := &Workspace{Root: "/tmp/ws"}
	got := w.LogPath("//tools/go:build")
	assert.Equal(t, filepath.Join("/tmp/ws", ".spaces", "logs", "tools_go__build.log"), got)
}

func TestVersionLess(t *testing.T) {
	assert.True(t, versionLess("1.2.0", "1.10.0"))
	assert.False(t, versionLess("1.10.0", "1.2.0"))
	assert.False(t, versionLess("1.2.0", "1.2.0"))
}
