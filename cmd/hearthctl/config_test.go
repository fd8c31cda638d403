package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTestConfig(t, `
server_url: wss://hearth.example.com/ws
data_dir: /var/lib/hearthctl
log_level: debug
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://hearth.example.com/ws", cfg.ServerURL)
	assert.Equal(t, "/var/lib/hearthctl", cfg.dataDir())
	assert.Equal(t, zerolog.DebugLevel, cfg.logLevel)
	assert.Equal(t, filepath.Join("/var/lib/hearthctl", "hearthctl.db"), cfg.storePath())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.ServerURL)
	assert.Equal(t, zerolog.InfoLevel, cfg.logLevel)
	// Data defaults to living next to the config file.
	assert.Equal(t, filepath.Dir(path), cfg.dataDir())
}

func TestLoadConfigRejectsBadLogLevel(t *testing.T) {
	path := writeTestConfig(t, "log_level: shouting\n")
	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log_level")
}

func TestWatchConfigReloads(t *testing.T) {
	path := writeTestConfig(t, "log_level: info\n")

	reloaded := make(chan *Config, 1)
	watcher, err := watchConfig(path, zerolog.Nop(), func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, zerolog.WarnLevel, cfg.logLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("config change was never observed")
	}
}

func TestWatchConfigKeepsPreviousOnBadReload(t *testing.T) {
	path := writeTestConfig(t, "log_level: info\n")

	called := make(chan struct{}, 1)
	watcher, err := watchConfig(path, zerolog.Nop(), func(*Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer watcher.Close()

	// A broken edit must not reach the callback.
	require.NoError(t, os.WriteFile(path, []byte("log_level: [broken\n"), 0o600))

	select {
	case <-called:
		t.Fatal("reload callback fired for an invalid config")
	case <-time.After(300 * time.Millisecond):
	}
}
