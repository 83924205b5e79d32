package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaths(t *testing.T) Paths {
	t.Helper()
	dir := t.TempDir()
	return Paths{
		WorkingDir:  dir,
		ConfigDir:   filepath.Join(dir, "config"),
		MediaDir:    filepath.Join(dir, "media"),
		LogDir:      filepath.Join(dir, "log"),
		UserdataDir: filepath.Join(dir, "userdata"),
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Backends.MainBackend = "polaroid"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Common.LivestreamFramerate = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Actions.Image = nil
	assert.Error(t, cfg.Validate(), "at least one image action is required")
}

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	paths := testPaths(t)

	cfg, err := Load(paths)
	require.NoError(t, err)
	assert.Equal(t, "virtual", cfg.Backends.MainBackend)
	assert.FileExists(t, filepath.Join(paths.ConfigDir, ConfigFilename))
}

func TestLoadRoundtrip(t *testing.T) {
	paths := testPaths(t)

	cfg := Default()
	cfg.Common.LivestreamFramerate = 25
	require.NoError(t, Persist(paths, &cfg))

	loaded, err := Load(paths)
	require.NoError(t, err)
	assert.Equal(t, 25, loaded.Common.LivestreamFramerate)
}

func TestLoadCorruptFileFallsBackToDefaults(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.MkdirAll(paths.ConfigDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(paths.ConfigDir, ConfigFilename), []byte("{broken"), 0o644))

	cfg, err := Load(paths)
	require.NoError(t, err)
	assert.Equal(t, Default().Common.LivestreamFramerate, cfg.Common.LivestreamFramerate)
}

func TestLoadInvalidConfigFallsBackToDefaults(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.MkdirAll(paths.ConfigDir, 0o755))

	bad := Default()
	bad.Common.LivestreamFramerate = 900
	data, err := json.Marshal(bad)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(paths.ConfigDir, ConfigFilename), data, 0o644))

	cfg, err := Load(paths)
	require.NoError(t, err)
	assert.Equal(t, Default().Common.LivestreamFramerate, cfg.Common.LivestreamFramerate)
}

func TestPersistRotatesBackups(t *testing.T) {
	paths := testPaths(t)

	cfg := Default()
	cfg.Collection.KeepConfigBackups = 3

	// first persist creates the file, the rest create backups
	for i := 0; i < 6; i++ {
		cfg.Common.LivestreamFramerate = 10 + i
		require.NoError(t, Persist(paths, &cfg))
	}

	entries, err := os.ReadDir(paths.ConfigDir)
	require.NoError(t, err)

	var backups int
	for _, e := range entries {
		if strings.Contains(e.Name(), "_backup-") {
			backups++
		}
	}
	assert.LessOrEqual(t, backups, 3, "old backups must be pruned")
}

func TestPersistRejectsInvalidConfig(t *testing.T) {
	paths := testPaths(t)

	cfg := Default()
	cfg.Mediaprocessing.FullStillQuality = 500
	assert.Error(t, Persist(paths, &cfg))
	assert.NoFileExists(t, filepath.Join(paths.ConfigDir, ConfigFilename))
}

func TestUserFileRejectsTraversal(t *testing.T) {
	paths := testPaths(t)
	require.NoError(t, os.MkdirAll(paths.UserdataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(paths.UserdataDir, "frame.png"), []byte("x"), 0o644))

	// secret outside userdata must stay unreachable
	require.NoError(t, os.WriteFile(filepath.Join(paths.WorkingDir, "secret.txt"), []byte("x"), 0o644))

	path, err := paths.UserFile("frame.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(paths.UserdataDir, "frame.png"), path)

	_, err = paths.UserFile("../secret.txt")
	assert.Error(t, err)
}
