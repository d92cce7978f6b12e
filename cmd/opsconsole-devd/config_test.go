package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jumboxerox/opsconsole/internal/filestore"
	"github.com/jumboxerox/opsconsole/internal/orderstore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDevdConfigDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := loadDevdConfig("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:3000", cfg.APIAddr)
	assert.Equal(t, "127.0.0.1:3001", cfg.GRPCAddr)
	assert.Equal(t, filepath.Join(home, ".local", "share", "opsconsole-devd", "orders.duckdb"), cfg.DBPath)
	assert.Equal(t, filepath.Join(home, ".local", "share", "opsconsole-devd", "storage"), cfg.StorageDir)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Equal(t, defaultDemoOrders, cfg.DemoOrders)
}

func TestLoadDevdConfigFileAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(t.TempDir(), "devd.yml")
	body := "api-port: 4100\ndb-path: \":memory:\"\nseed-file: ~/seed.yml\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("OPSCONSOLE_DEVD_GRPC_PORT", "4101")

	cfg, err := loadDevdConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4100", cfg.APIAddr)
	assert.Equal(t, "127.0.0.1:4101", cfg.GRPCAddr)
	assert.Equal(t, "", cfg.DBPath, ":memory: selects an in-memory store")
	assert.Equal(t, filepath.Join(home, "seed.yml"), cfg.SeedFile)
	assert.Equal(t, path, cfg.ConfigPath)
}

func TestLoadDevdConfigValidation(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cases := map[string]string{
		"OPSCONSOLE_DEVD_API_PORT":    "70000",
		"OPSCONSOLE_DEVD_GRPC_PORT":   "3000",
		"OPSCONSOLE_DEVD_DEMO_ORDERS": "-1",
		"OPSCONSOLE_DEVD_LOG_LEVEL":   "loud",
	}
	for env, val := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, val)
			_, err := loadDevdConfig("")
			assert.Error(t, err)
		})
	}
}

func newSeedTarget(t *testing.T) (*orderstore.Store, *filestore.Store, afero.Fs) {
	t.Helper()
	store, err := orderstore.NewStore("", 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	fs := afero.NewMemMapFs()
	return store, filestore.New(fs, "/storage"), fs
}

func TestSeedIfEmptyUsesSeedFile(t *testing.T) {
	store, files, fs := newSeedTarget(t)
	require.NoError(t, afero.WriteFile(fs, "/seed.yml", []byte("orders:\n  - id: abc\n    customer: Ada\n    files:\n      - name: a.pdf\n        size: 4\n"), 0o644))

	ctx := context.Background()
	cfg := devdConfig{SeedFile: "/seed.yml", DemoOrders: 50}
	n, err := seedIfEmpty(ctx, cfg, store, files, fs, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := seedIfEmpty(ctx, cfg, store, files, fs, time.Now())
	require.NoError(t, err)
	assert.Zero(t, again, "a populated store is left alone")
}

func TestSeedIfEmptyGeneratesDemoOrders(t *testing.T) {
	store, files, fs := newSeedTarget(t)

	n, err := seedIfEmpty(context.Background(), devdConfig{DemoOrders: 7}, store, files, fs, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	total, _, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, total)
}

func TestSeedIfEmptyMissingSeedFile(t *testing.T) {
	store, files, fs := newSeedTarget(t)
	_, err := seedIfEmpty(context.Background(), devdConfig{SeedFile: "/nope.yml"}, store, files, fs, time.Now())
	assert.Error(t, err)
}
