package cli

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mirrorops/pkgmirror/internal/registry"
)

// DefaultRegistryURL is the registry mirrored when no other URL is
// configured.
const DefaultRegistryURL = "https://pypi.org"

// Config holds tool-wide settings loaded from an optional YAML file.
// Flags override file values; file values override defaults.
type Config struct {
	// RegistryURL is the base URL of the remote registry.
	RegistryURL string `yaml:"registry_url"`

	// UserAgent overrides the User-Agent header on registry requests.
	UserAgent string `yaml:"user_agent"`

	// CachePath, when set, enables the sqlite response cache at this
	// location.
	CachePath string `yaml:"cache_path"`

	// RetryAttempts caps tries per registry request. Zero keeps the
	// client default.
	RetryAttempts int `yaml:"retry_attempts"`

	// Concurrency is the default catalog worker pool size when the
	// --concurrency flag is unset.
	Concurrency int `yaml:"concurrency"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		RegistryURL: DefaultRegistryURL,
		UserAgent:   registry.DefaultUserAgent,
	}
}

// LoadConfig reads a YAML config file and layers it over the defaults.
// An empty path returns the defaults; a named-but-missing file is an
// error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config file not found: %s", path)
		}
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if cfg.RegistryURL == "" {
		cfg.RegistryURL = DefaultRegistryURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = registry.DefaultUserAgent
	}
	return cfg, nil
}
