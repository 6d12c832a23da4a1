// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the optional ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime string `mapstructure:"max_conn_lifetime"`
}

// HTTPConfig configures the upstream fetch client.
type HTTPConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// SyncConfig governs partition fan-out and batching behavior.
type SyncConfig struct {
	Workers       int    `mapstructure:"workers"`
	PageSize      int    `mapstructure:"page_size"`
	ItemChunkSize int    `mapstructure:"item_chunk_size"`
	UpsertChunk   int    `mapstructure:"upsert_chunk"`
	Modalities    []int  `mapstructure:"modalities"`
	SkipLogPath   string `mapstructure:"skip_log_path"`
	ParseRetries  int    `mapstructure:"parse_retries"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PNCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 16)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("http.base_url", "https://pncp.gov.br/api/consulta")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.backoff_initial_ms", 1500)
	v.SetDefault("http.backoff_max_ms", 60000)
	v.SetDefault("http.user_agent", "pncp-mirror/1.0")
	v.SetDefault("sync.workers", 14)
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("sync.item_chunk_size", 25)
	v.SetDefault("sync.upsert_chunk", 2000)
	// Modalidades de contratação tracked by the portal.
	v.SetDefault("sync.modalities", []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14})
	v.SetDefault("sync.skip_log_path", "data/skipped_pages.log")
	v.SetDefault("sync.parse_retries", 3)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be > 0")
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be > 0")
	}
	if len(c.Sync.Modalities) == 0 {
		return fmt.Errorf("sync.modalities must not be empty")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the ops server is enabled")
	}
	return nil
}

// HTTPTimeout converts the configured timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ConnLifetime parses db.max_conn_lifetime, falling back to 30 minutes.
func (c Config) ConnLifetime() time.Duration {
	d, err := time.ParseDuration(c.DB.MaxConnLifetime)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}
