// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Review     ReviewConfig     `yaml:"review" mapstructure:"review"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	NATS       NATSConfig       `yaml:"nats" mapstructure:"nats"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PipelineConfig configures evaluation and retry behavior.
type PipelineConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MaxAttempts         int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBaseSecs     int     `yaml:"backoff_base_secs" mapstructure:"backoff_base_secs"`
	BackoffMultiplier   float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	TimeoutMins         int     `yaml:"timeout_mins" mapstructure:"timeout_mins"`
}

// Timeout returns the wall-clock budget for one execution.
func (c PipelineConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMins) * time.Minute
}

// ExtractionConfig holds extraction service API settings.
type ExtractionConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	CallbackURL string `yaml:"callback_url" mapstructure:"callback_url"`
}

// ReviewConfig holds review service API settings and the review task TTL.
type ReviewConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	CallbackURL string `yaml:"callback_url" mapstructure:"callback_url"`
	TaskTTLMins int    `yaml:"task_ttl_mins" mapstructure:"task_ttl_mins"`
}

// TaskTTL returns how long a review task may stay pending before the worker
// marks it expired. Zero disables expiry.
func (c ReviewConfig) TaskTTL() time.Duration {
	return time.Duration(c.TaskTTLMins) * time.Minute
}

// TemporalConfig configures the workflow engine connection.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
}

// NATSConfig configures the event bus connection.
type NATSConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// RegistryConfig locates the blueprint catalog.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API server.
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
	v.SetEnvPrefix("DOCFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("pipeline.confidence_threshold", 0.70)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.backoff_base_secs", 1)
	v.SetDefault("pipeline.backoff_multiplier", 2.0)
	v.SetDefault("pipeline.timeout_mins", 30)
	v.SetDefault("extraction.base_url", "https://extraction.internal.sellsgroup.com/v1")
	v.SetDefault("review.base_url", "https://review.internal.sellsgroup.com/v1")
	v.SetDefault("review.task_ttl_mins", 25)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("registry.path", "blueprints.yaml")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	if cfg.Pipeline.ConfidenceThreshold < 0 || cfg.Pipeline.ConfidenceThreshold > 1 {
		return nil, eris.New("config: pipeline.confidence_threshold must be in [0,1]")
	}

	return &cfg, nil
}

// Validate checks the fields the given run mode requires.
func (c *Config) Validate(mode string) error {
	var missing []string

	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		missing = append(missing, "pipeline.confidence_threshold must be in [0,1]")
	}
	if c.Pipeline.MaxAttempts < 1 {
		missing = append(missing, "pipeline.max_attempts must be >= 1")
	}
	if c.Pipeline.TimeoutMins < 1 {
		missing = append(missing, "pipeline.timeout_mins must be >= 1")
	}
	if c.Review.TaskTTLMins < 0 {
		missing = append(missing, "review.task_ttl_mins must be >= 0")
	}

	switch mode {
	case "worker":
		if c.Store.DatabaseURL == "" && c.Store.Driver != "sqlite" {
			missing = append(missing, "store.database_url is required")
		}
		if c.Extraction.Key == "" {
			missing = append(missing, "extraction.key is required")
		}
		if c.Review.Key == "" {
			missing = append(missing, "review.key is required")
		}
		if c.Temporal.HostPort == "" {
			missing = append(missing, "temporal.host_port is required")
		}
		if c.NATS.URL == "" {
			missing = append(missing, "nats.url is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
		if c.NATS.URL == "" {
			missing = append(missing, "nats.url is required")
		}
		if c.Temporal.HostPort == "" {
			missing = append(missing, "temporal.host_port is required")
		}
	case "submit":
		if c.NATS.URL == "" {
			missing = append(missing, "nats.url is required")
		}
	case "signal":
		if c.Store.DatabaseURL == "" && c.Store.Driver != "sqlite" {
			missing = append(missing, "store.database_url is required")
		}
		if c.Temporal.HostPort == "" {
			missing = append(missing, "temporal.host_port is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
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
