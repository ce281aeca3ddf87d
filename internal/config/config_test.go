package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 19192, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, filepath.Join(home, ".local", "share", "tabgrouper", "tabgrouper.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(home, ".local", "share", "tabgrouper"), cfg.LogDir)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TABGROUPER_PORT", "20000")
	t.Setenv("TABGROUPER_DB", "/tmp/groups.db")
	t.Setenv("TABGROUPER_LOG_DIR", "/tmp/logs")
	t.Setenv("TABGROUPER_POLL_INTERVAL", "250ms")
	t.Setenv("TABGROUPER_CDP_URL", "ws://127.0.0.1:9222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20000, cfg.Port)
	assert.Equal(t, "/tmp/groups.db", cfg.DBPath)
	assert.Equal(t, "/tmp/logs", cfg.LogDir)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "ws://127.0.0.1:9222", cfg.CDPURL)
	assert.Equal(t, "ws://127.0.0.1:20000/ws?surface=client", cfg.URL("client"))
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TABGROUPER_DB", "/tmp/groups.db")
	t.Setenv("TABGROUPER_LOG_DIR", "/tmp/logs")

	t.Setenv("TABGROUPER_PORT", "not-a-number")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("TABGROUPER_PORT", "19192")
	t.Setenv("TABGROUPER_POLL_INTERVAL", "0s")
	_, err = Load()
	assert.Error(t, err)
}
