package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConsoleConfigDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := loadConsoleConfig("")
	require.NoError(t, err)

	assert.Equal(t, defaultAPIURL, cfg.APIURL)
	assert.Equal(t, 7*time.Second, cfg.GracePeriod)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.DebounceQuiet)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, 48*time.Hour, cfg.StaleAfter)
	assert.Equal(t, filepath.Join(home, ".local", "state", "opsconsole", "opsconsole.log"), cfg.LogPath)
}

func TestLoadConsoleConfigFileAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("grace-period: 10s\npage-size: 25\napi-url: http://ops.internal/api\n"), 0o644))
	t.Setenv("OPSCONSOLE_PAGE_SIZE", "5")

	cfg, err := loadConsoleConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.GracePeriod)
	assert.Equal(t, 5, cfg.PageSize, "environment overrides the file")
	assert.Equal(t, "http://ops.internal/api", cfg.APIURL)
}

func TestLoadConsoleConfigValidation(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cases := map[string]string{
		"OPSCONSOLE_API_URL":      "localhost:3000",
		"OPSCONSOLE_GRACE_PERIOD": "200ms",
		"OPSCONSOLE_PAGE_SIZE":    "0",
		"OPSCONSOLE_LOG_LEVEL":    "chatty",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			_, err := loadConsoleConfig("")
			assert.Error(t, err)
		})
	}
}
