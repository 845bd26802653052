package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherTriggersReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gapsched.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scheduler]\nmax_concurrent_jobs = 4\n"), 0o644))

	watcher, err := NewWatcher(path)
	require.NoError(t, err)
	defer watcher.Stop()

	reloaded := make(chan *Config, 1)
	watcher.OnReload(func(cfg *Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	watcher.Start()

	// Let the watch loop settle before writing
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[scheduler]\nmax_concurrent_jobs = 6\n"), 0o644))

	select {
	case cfg := <-reloaded:
		require.NotNil(t, cfg)
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback not invoked after config change")
	}

	Reset()
}

func TestWatcherRejectsMissingFile(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestIsBackupFile(t *testing.T) {
	require.True(t, isBackupFile("config.toml~"))
	require.True(t, isBackupFile(".config.toml.swp"))
	require.True(t, isBackupFile("config.toml.bak"))
	require.False(t, isBackupFile("config.toml"))
}
