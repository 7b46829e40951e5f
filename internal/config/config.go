// Package config loads engine configuration from the environment and an
// optional config file.
//
// Project and credential identifiers are supplied at build/deploy time;
// the engine has no runtime flag surface of its own.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds everything the engine needs to come up.
type Config struct {
	// ProjectID identifies the backing project at the identity provider
	// and document store.
	ProjectID string `mapstructure:"project_id"`

	// APIKey authenticates this deployment against the backend.
	APIKey string `mapstructure:"api_key"`

	// RemoteEndpoint is the document store base URL. Empty selects the
	// in-memory store (offline dev harness).
	RemoteEndpoint string `mapstructure:"remote_endpoint"`

	// DataDir holds the local database, settings blob, and legacy blob.
	DataDir string `mapstructure:"data_dir"`

	// LogFile receives rotated engine logs. Empty logs to stderr only.
	LogFile string `mapstructure:"log_file"`

	// OwnerID and OwnerEmail identify the account for headless
	// deployments, where the static identity provider stands in for the
	// interactive one.
	OwnerID    string `mapstructure:"owner_id"`
	OwnerEmail string `mapstructure:"owner_email"`
}

// DatabasePath is the SQLite file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "fintrack.db")
}

// SettingsPath is the settings KV file inside DataDir.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.json")
}

// LegacyBlobPath is where the pre-keyed flat blob lived.
func (c *Config) LegacyBlobPath() string {
	return filepath.Join(c.DataDir, "fintrack_data.json")
}

// Load reads configuration from FINTRACK_* environment variables and an
// optional fintrack.yaml in the working directory or DataDir.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FINTRACK")
	v.AutomaticEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("data_dir", filepath.Join(home, ".fintrack"))
	v.SetDefault("remote_endpoint", "")
	v.SetDefault("log_file", "")

	// AutomaticEnv only resolves keys viper already knows about, so bind
	// the credential keys that have no default.
	for _, key := range []string{"project_id", "api_key", "owner_id", "owner_email"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	v.SetConfigName("fintrack")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(v.GetString("data_dir"))

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; only surface real parse failures.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
