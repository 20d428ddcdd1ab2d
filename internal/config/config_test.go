package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/songsync-app/songsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir switches into a temp directory for the duration of the test.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestInitializeAndLoad(t *testing.T) {
	chdir(t)

	cfg, err := Initialize("http://localhost:8730", "secret", "laptop")
	require.NoError(t, err)
	assert.Equal(t, "laptop", cfg.DeviceName)

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8730", loaded.RemoteURL)
	assert.Equal(t, "secret", loaded.RemoteToken)
	assert.Equal(t, "laptop", loaded.DeviceName)
	assert.Equal(t, models.PolicyNever, loaded.Policy())
}

func TestInitializeTwiceFails(t *testing.T) {
	chdir(t)

	_, err := Initialize("http://localhost:8730", "", "laptop")
	require.NoError(t, err)

	_, err = Initialize("http://localhost:8730", "", "laptop")
	assert.Error(t, err)
}

func TestInitializeDefaultsDeviceToHostname(t *testing.T) {
	chdir(t)

	cfg, err := Initialize("", "", "")
	require.NoError(t, err)

	hostname, _ := os.Hostname()
	assert.Equal(t, hostname, cfg.DeviceName)
}

func TestFindRootWalksUp(t *testing.T) {
	dir := chdir(t)

	_, err := Initialize("", "", "laptop")
	require.NoError(t, err)

	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	t.Chdir(nested)

	root, err := FindRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, SongsyncDir), root)
}

func TestFindRootOutsideLibrary(t *testing.T) {
	chdir(t)
	_, err := FindRoot()
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	chdir(t)

	cfg, err := Initialize("http://localhost:8730", "", "laptop")
	require.NoError(t, err)

	cfg.AutoResolve = string(models.PolicyLastWriteWins)
	cfg.HistoryCap = 25
	require.NoError(t, cfg.Save())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, models.PolicyLastWriteWins, loaded.Policy())
	assert.Equal(t, 25, loaded.HistoryCap)
}

func TestPolicyFallsBackToNever(t *testing.T) {
	cfg := &Config{AutoResolve: "sometimes"}
	assert.Equal(t, models.PolicyNever, cfg.Policy())
}

func TestPaths(t *testing.T) {
	chdir(t)

	cfg, err := Initialize("", "", "laptop")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfg.Path(), StateFile), cfg.StatePath())
	assert.Equal(t, filepath.Join(cfg.Path(), LibraryFile), cfg.LibraryPath())
}
