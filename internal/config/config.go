// Package config loads runtime configuration from the environment and an
// optional marketsync.yaml, with env taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the runtime configuration for a marketsync invocation.
type Config struct {
	// Driver selects the store engine: sqlite3, pgx, or mysql.
	Driver string `mapstructure:"driver"`
	// DSN is the driver-specific connection string.
	DSN string `mapstructure:"dsn"`

	// Workers is the default fetch pool size.
	Workers int `mapstructure:"workers"`
	// MaxRetries bounds fetch attempts per unit.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryBackoff is the base of the linear retry delay.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// ManifestDir is where failure manifests are written.
	ManifestDir string `mapstructure:"manifest_dir"`
	// LogFile, when set, mirrors logs into a rotating file.
	LogFile string `mapstructure:"log_file"`
	// FailurePreview caps the failures echoed in the run summary.
	FailurePreview int `mapstructure:"failure_preview"`

	// IndexSpecFile optionally overrides the built-in index specs.
	IndexSpecFile string `mapstructure:"index_spec_file"`

	// PolygonAPIKey authenticates the polygon data source.
	PolygonAPIKey string `mapstructure:"polygon_api_key"`
	// CSVDir is the directory for the csv data source.
	CSVDir string `mapstructure:"csv_dir"`

	// Flat-file (S3) data source settings.
	FlatFileEndpoint  string `mapstructure:"flatfile_endpoint"`
	FlatFileAccessKey string `mapstructure:"flatfile_access_key"`
	FlatFileSecretKey string `mapstructure:"flatfile_secret_key"`
	FlatFileBucket    string `mapstructure:"flatfile_bucket"`
	FlatFilePrefix    string `mapstructure:"flatfile_prefix"`
}

// Load reads configuration from MARKETSYNC_* environment variables and, if
// present, a marketsync.yaml in the working directory or in cfgFile when
// non-empty.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("driver", "sqlite3")
	v.SetDefault("dsn", "file:marketsync.db")
	v.SetDefault("workers", 8)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_backoff", 2*time.Second)
	v.SetDefault("manifest_dir", ".")
	v.SetDefault("failure_preview", 10)

	v.SetEnvPrefix("MARKETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("marketsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// The config file is optional; only a malformed one is fatal.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
