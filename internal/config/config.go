package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/propale/propale/internal/billing"
	"github.com/propale/propale/internal/engine"
	"github.com/propale/propale/internal/storage"
	"github.com/propale/propale/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig       `yaml:"store" mapstructure:"store"`
	Storage   storage.S3Config  `yaml:"storage" mapstructure:"storage"`
	Anthropic AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Stripe    billing.Config    `yaml:"stripe" mapstructure:"stripe"`
	Engine    engine.Config     `yaml:"engine" mapstructure:"engine"`
	Server    ServerConfig      `yaml:"server" mapstructure:"server"`
	Log       LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds extraction model settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ServerConfig configures the HTTP server.
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
	v.SetEnvPrefix("PROPALE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("storage.region", "eu-west-3")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("engine.retention_keep", 20)
	v.SetDefault("engine.extraction_model", "claude-sonnet-4-5-20250929")

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
