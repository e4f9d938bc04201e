package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorops/pkgmirror/internal/registry"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRegistryURL, cfg.RegistryURL)
	assert.Equal(t, registry.DefaultUserAgent, cfg.UserAgent)
	assert.Empty(t, cfg.CachePath)
	assert.Zero(t, cfg.RetryAttempts)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkgmirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
registry_url: https://registry.internal
user_agent: internal-mirror/2.1
cache_path: /var/cache/pkgmirror.db
retry_attempts: 3
concurrency: 16
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://registry.internal", cfg.RegistryURL)
	assert.Equal(t, "internal-mirror/2.1", cfg.UserAgent)
	assert.Equal(t, "/var/cache/pkgmirror.db", cfg.CachePath)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 16, cfg.Concurrency)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkgmirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency: 4\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRegistryURL, cfg.RegistryURL)
	assert.Equal(t, 4, cfg.Concurrency)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkgmirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registry_url: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
