package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "127.0.0.1", cfg.BindAddr)
	require.Equal(t, 42000, cfg.Port)
	require.Equal(t, 4, cfg.Workers)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stppd.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
bind_addr = "0.0.0.0"
port = 9000
log_level = "DEBUG"
image_cache_size = 16
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.BindAddr)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "DEBUG", cfg.LogLevel)
	require.Equal(t, 16, cfg.ImageCacheSize)
	// Untouched keys keep their defaults.
	require.Equal(t, 4, cfg.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/stppd.hcl")
	require.Error(t, err)
}

func TestLoadBadHCL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`port = = 1`), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
