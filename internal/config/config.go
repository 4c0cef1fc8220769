// Package config loads application configuration from config.yaml and
// PORTFOLIO_-prefixed environment variables, env winning.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/portfolio-ingest/internal/resilience"
	"github.com/sells-group/portfolio-ingest/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Graph  GraphConfig  `yaml:"graph" mapstructure:"graph"`
	Blob   BlobConfig   `yaml:"blob" mapstructure:"blob"`
	Ingest IngestConfig `yaml:"ingest" mapstructure:"ingest"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// GraphConfig holds Microsoft Graph client-credentials auth and the
// shared mailbox the portfolio updates arrive in.
type GraphConfig struct {
	TenantID      string  `yaml:"tenant_id" mapstructure:"tenant_id"`
	ClientID      string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret  string  `yaml:"client_secret" mapstructure:"client_secret"`
	Mailbox       string  `yaml:"mailbox" mapstructure:"mailbox"`
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	TokenURL      string  `yaml:"token_url" mapstructure:"token_url"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// BlobConfig configures the raw-artifact archive.
type BlobConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// IngestConfig configures extraction and batch processing.
type IngestConfig struct {
	// PatternsPath points at an optional YAML file overriding the
	// built-in extraction pattern tables.
	PatternsPath string      `yaml:"patterns_path" mapstructure:"patterns_path"`
	Workers      int         `yaml:"workers" mapstructure:"workers"`
	Retry        RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures retry-with-backoff for external calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ToRetryConfig converts the serializable form to the runtime form.
func (r RetryConfig) ToRetryConfig() resilience.RetryConfig {
	return resilience.FromRetryConfig(
		r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction,
	)
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PORTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("blob.root", "./archive")
	v.SetDefault("graph.base_url", "https://graph.microsoft.com/v1.0")
	v.SetDefault("graph.timeout_secs", 30)
	v.SetDefault("graph.rate_per_second", 5)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.retry.max_attempts", 3)
	v.SetDefault("ingest.retry.initial_backoff_ms", 500)
	v.SetDefault("ingest.retry.max_backoff_ms", 30000)
	v.SetDefault("ingest.retry.multiplier", 2.0)
	v.SetDefault("ingest.retry.jitter_fraction", 0.25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
