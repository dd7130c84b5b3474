// Package config loads configuration for the liveql CLI and liveqld server.
//
// Grounded directly on the teacher's internal/config/config.go: same
// viper.New + SetDefault + config-file + env-prefix loading shape,
// generalized from a control-plane/database pair to this engine's source
// collections and server settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting liveqld and liveql read at startup.
type Config struct {
	Sources SourcesConfig `mapstructure:"sources"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Cache   CacheConfig   `mapstructure:"cache"`
}

// SourcesConfig names the backing stores a collection may be registered
// against.
type SourcesConfig struct {
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	DuckDB   DuckDBConfig   `mapstructure:"duckdb"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig configures the embedded modernc.org/sqlite source.
type SQLiteConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DSN          string        `mapstructure:"dsn"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

// DuckDBConfig configures the marcboeker/go-duckdb source.
type DuckDBConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DSN          string        `mapstructure:"dsn"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

// PostgresConfig configures the lib/pq LISTEN/NOTIFY source.
type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// ServerConfig configures liveqld's HTTP listener.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// LoggingConfig configures internal/observability.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CacheConfig configures the compiled-query LRU (internal/compiler.Cache).
type CacheConfig struct {
	Size int `mapstructure:"size"`
}

// Default returns a Config with every field set to a usable default.
func Default() *Config {
	return &Config{
		Sources: SourcesConfig{
			SQLite:   SQLiteConfig{Enabled: false, DSN: "file::memory:?cache=shared", PollInterval: time.Second},
			DuckDB:   DuckDBConfig{Enabled: false, DSN: ":memory:", PollInterval: time.Second},
			Postgres: PostgresConfig{Enabled: false, DSN: ""},
		},
		Server: ServerConfig{
			Port:         8085,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Cache:   CacheConfig{Size: 128},
	}
}

// Load reads configuration from configPath (or the default search path when
// empty), layering environment variables prefixed LIVEQL_ over a
// config.yaml, over the hardcoded defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".liveql"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("LIVEQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: error parsing config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("sources.sqlite.enabled", d.Sources.SQLite.Enabled)
	v.SetDefault("sources.sqlite.dsn", d.Sources.SQLite.DSN)
	v.SetDefault("sources.sqlite.pollInterval", d.Sources.SQLite.PollInterval)
	v.SetDefault("sources.duckdb.enabled", d.Sources.DuckDB.Enabled)
	v.SetDefault("sources.duckdb.dsn", d.Sources.DuckDB.DSN)
	v.SetDefault("sources.duckdb.pollInterval", d.Sources.DuckDB.PollInterval)
	v.SetDefault("sources.postgres.enabled", d.Sources.Postgres.Enabled)
	v.SetDefault("sources.postgres.dsn", d.Sources.Postgres.DSN)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.readTimeout", d.Server.ReadTimeout)
	v.SetDefault("server.writeTimeout", d.Server.WriteTimeout)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("cache.size", d.Cache.Size)
}
