package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is the full process configuration. Defaults boot a working hub;
// the environment overrides them (prefix LOGWATCHER_, double underscore
// for nesting, e.g. LOGWATCHER_SERVER__PORT=9000).
type Config struct {
	Primary  Primary        `koanf:"primary"`
	Server   ServerConfig   `koanf:"server" validate:"required"`
	Auth     AuthConfig     `koanf:"auth"`
	Contract ContractConfig `koanf:"contract"`
	Queue    QueueConfig    `koanf:"queue" validate:"required"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port         string `koanf:"port" validate:"required"`
	ReadTimeout  int    `koanf:"read_timeout" validate:"required"`
	WriteTimeout int    `koanf:"write_timeout" validate:"required"`
}

type AuthConfig struct {
	// RegistryFile is an optional YAML file seeding service identities
	// at startup.
	RegistryFile string `koanf:"registry_file"`
}

type ContractConfig struct {
	MaxMessageBytes int `koanf:"max_message_bytes" validate:"required"`
	// TruncateOversize switches the oversized-message policy from
	// reject to truncate-with-flag.
	TruncateOversize bool `koanf:"truncate_oversize"`
	MaxAttrs         int  `koanf:"max_attrs" validate:"required"`
	MaxAttrBytes     int  `koanf:"max_attr_bytes" validate:"required"`
	MaxBatchEvents   int  `koanf:"max_batch_events" validate:"required"`
}

type QueueConfig struct {
	Backend     string `koanf:"backend" validate:"required,oneof=memory redis amqp"`
	Capacity    int    `koanf:"capacity" validate:"required"`
	Workers     int    `koanf:"workers" validate:"required"`
	MaxAttempts int    `koanf:"max_attempts" validate:"required"`
	BackoffMs   int    `koanf:"backoff_ms" validate:"required"`
	RedisAddr   string `koanf:"redis_addr"`
	AmqpURL     string `koanf:"amqp_url"`
	Namespace   string `koanf:"namespace"`
}

type MetricsConfig struct {
	RateWindowSeconds int `koanf:"rate_window_seconds" validate:"required"`
}

// Backoff returns the worker retry base delay.
func (q QueueConfig) Backoff() time.Duration {
	return time.Duration(q.BackoffMs) * time.Millisecond
}

// RateWindow returns the rolling window used for ingestion rates.
func (m MetricsConfig) RateWindow() time.Duration {
	return time.Duration(m.RateWindowSeconds) * time.Second
}

// Default returns the configuration used when the environment is silent.
func Default() *Config {
	return &Config{
		Primary: Primary{Env: "dev"},
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  15,
			WriteTimeout: 15,
		},
		Contract: ContractConfig{
			MaxMessageBytes:  16 * 1024,
			TruncateOversize: false,
			MaxAttrs:         64,
			MaxAttrBytes:     8 * 1024,
			MaxBatchEvents:   1000,
		},
		Queue: QueueConfig{
			Backend:     "memory",
			Capacity:    1024,
			Workers:     4,
			MaxAttempts: 3,
			BackoffMs:   100,
			Namespace:   "logwatcher",
		},
		Metrics: MetricsConfig{RateWindowSeconds: 60},
	}
}

const envPrefix = "LOGWATCHER_"

// Load builds the configuration from defaults overlaid with environment
// variables and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	k := koanf.New(".")
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
