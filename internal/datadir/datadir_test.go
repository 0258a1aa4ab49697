package datadir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_EnvVarWins(t *testing.T) {
	envDir := filepath.Join(t.TempDir(), "env-dir")
	t.Setenv(EnvVar, envDir)

	d, err := New("/should/be/ignored")
	require.NoError(t, err)
	assert.Equal(t, envDir, d.Root())

	_, err = os.Stat(envDir)
	assert.True(t, os.IsNotExist(err), "New must not create the directory")
}

func TestNew_ConfigValueFallback(t *testing.T) {
	t.Setenv(EnvVar, "")
	cfgDir := filepath.Join(t.TempDir(), "cfg-dir")

	d, err := New(cfgDir)
	require.NoError(t, err)
	assert.Equal(t, cfgDir, d.Root())
}

func TestNew_DefaultHome(t *testing.T) {
	t.Setenv(EnvVar, "")

	d, err := New("")
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, DefaultDirName), d.Root())
}

func TestPaths(t *testing.T) {
	t.Setenv(EnvVar, "")
	d, err := New("/srv/clawlink")
	require.NoError(t, err)

	assert.Equal(t, "/srv/clawlink/config.json", d.ConfigPath())
	assert.Equal(t, "/srv/clawlink/data", d.DatabaseDir())
	assert.Equal(t, "/srv/clawlink/data/transcripts.db", d.TranscriptPath())
	assert.Equal(t, "/srv/clawlink/logs", d.LogsDir())
}

func TestEnsureDirs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "state")
	t.Setenv(EnvVar, root)

	d, err := New("")
	require.NoError(t, err)
	require.NoError(t, d.EnsureDirs())

	for _, dir := range []string{root, d.DatabaseDir(), d.LogsDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm(), dir)
	}

	// idempotent
	require.NoError(t, d.EnsureDirs())
}

func TestDefaultConfigPath(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvVar, root)

	path, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ConfigFileName), path)
}
