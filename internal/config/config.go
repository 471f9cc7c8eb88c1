// Package config loads and validates collector configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage providers.
const (
	ProviderPostgres = "postgres"
	ProviderMemory   = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Collector CollectorConfig `mapstructure:"collector"`
	API       APIConfig       `mapstructure:"api"`
	Writer    WriterConfig    `mapstructure:"writer"`
	DB        DBConfig        `mapstructure:"db"`
	Files     FilesConfig     `mapstructure:"files"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// CollectorConfig governs the worker pool and what it collects.
type CollectorConfig struct {
	Workers             int           `mapstructure:"workers"`
	WorkQueueTimeout    time.Duration `mapstructure:"work_queue_timeout"`
	EmptyRetries        int           `mapstructure:"empty_retries"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RecencyDays         int           `mapstructure:"recency_days"`
	BatchLimit          int           `mapstructure:"batch_limit"`
	PageSize            int           `mapstructure:"page_size"`
	Channels            []string      `mapstructure:"channels"`
	ListFile            string        `mapstructure:"list_file"`
	TimezoneOffsetHours float64       `mapstructure:"timezone_offset_hours"`
}

// TimezoneOffset converts the configured hour offset into a duration.
func (c CollectorConfig) TimezoneOffset() time.Duration {
	return time.Duration(c.TimezoneOffsetHours * float64(time.Hour))
}

// APIConfig configures access to the statistics API.
type APIConfig struct {
	Keys              []string `mapstructure:"keys"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	Burst             int      `mapstructure:"burst"`
	Endpoint          string   `mapstructure:"endpoint"`
}

// WriterConfig controls the persistence pipeline.
type WriterConfig struct {
	BufferLimit    int           `mapstructure:"buffer_limit"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	DeadLetterFile string        `mapstructure:"dead_letter_file"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider        string        `mapstructure:"provider"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// FilesConfig locates on-disk state.
type FilesConfig struct {
	RunIDFile string `mapstructure:"run_id_file"`
}

// LoggingConfig toggles zap development features and output destinations.
type LoggingConfig struct {
	Development bool     `mapstructure:"development"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// MetricsConfig controls the optional Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
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
	v.SetDefault("collector.workers", 4)
	v.SetDefault("collector.work_queue_timeout", "120s")
	v.SetDefault("collector.empty_retries", 3)
	v.SetDefault("collector.retry_attempts", 3)
	v.SetDefault("collector.recency_days", 7)
	v.SetDefault("collector.batch_limit", 50)
	v.SetDefault("collector.page_size", 50)
	v.SetDefault("collector.channels", []string{})
	v.SetDefault("collector.timezone_offset_hours", 0)
	v.SetDefault("api.keys", []string{})
	v.SetDefault("api.requests_per_second", 0)
	v.SetDefault("api.burst", 1)
	v.SetDefault("writer.buffer_limit", 100)
	v.SetDefault("writer.idle_timeout", "240s")
	v.SetDefault("writer.queue_depth", 4096)
	v.SetDefault("writer.retry_backoff", "0s")
	v.SetDefault("db.provider", ProviderPostgres)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("files.run_id_file", ".COLLECT")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stderr"})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Collector.Workers <= 0 {
		return fmt.Errorf("collector.workers must be > 0")
	}
	if c.Collector.WorkQueueTimeout <= 0 {
		return fmt.Errorf("collector.work_queue_timeout must be > 0")
	}
	if c.Collector.EmptyRetries <= 0 {
		return fmt.Errorf("collector.empty_retries must be > 0")
	}
	if c.Collector.RetryAttempts <= 0 {
		return fmt.Errorf("collector.retry_attempts must be > 0")
	}
	if c.Collector.RecencyDays < 0 {
		return fmt.Errorf("collector.recency_days must be >= 0")
	}
	if c.Collector.BatchLimit <= 0 || c.Collector.BatchLimit > 50 {
		return fmt.Errorf("collector.batch_limit must be between 1 and 50")
	}
	if c.Collector.PageSize <= 0 || c.Collector.PageSize > 50 {
		return fmt.Errorf("collector.page_size must be between 1 and 50")
	}
	if c.Collector.TimezoneOffsetHours < -14 || c.Collector.TimezoneOffsetHours > 14 {
		return fmt.Errorf("collector.timezone_offset_hours must be within [-14, 14]")
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second must be >= 0")
	}
	if c.Writer.BufferLimit <= 0 {
		return fmt.Errorf("writer.buffer_limit must be > 0")
	}
	if c.Writer.IdleTimeout <= 0 {
		return fmt.Errorf("writer.idle_timeout must be > 0")
	}
	if c.Writer.QueueDepth <= 0 {
		return fmt.Errorf("writer.queue_depth must be > 0")
	}
	switch c.DB.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("db.provider must be %q or %q", ProviderPostgres, ProviderMemory)
	}
	if c.Files.RunIDFile == "" {
		return fmt.Errorf("files.run_id_file is required")
	}
	return nil
}

// ValidateCollect adds the checks that only matter when running a collection.
func (c Config) ValidateCollect() error {
	if len(c.API.Keys) == 0 {
		return errors.New("api.keys must contain at least one key")
	}
	for i, k := range c.API.Keys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("api.keys[%d] is blank", i)
		}
	}
	return nil
}
