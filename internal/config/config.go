// Package config loads the full application configuration from a
// single YAML file, filling unset fields from struct defaults and
// validating the result before anything is wired.
package config

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jackson97300/mia-core/internal/alerts"
	"github.com/jackson97300/mia-core/internal/domain/orderflow"
	"github.com/jackson97300/mia-core/internal/domain/staleness"
	"github.com/jackson97300/mia-core/internal/domain/vix"
	"github.com/jackson97300/mia-core/internal/pipeline"
	"github.com/jackson97300/mia-core/internal/scoring"
	"github.com/jackson97300/mia-core/internal/telemetry/latency"
)

// ServerConfig configures the read-only HTTP interface.
type ServerConfig struct {
	Addr         string `yaml:"addr" default:":8090" validate:"required"`
	ReadTimeout  int    `yaml:"read_timeout_seconds" default:"10" validate:"gt=0"`
	WriteTimeout int    `yaml:"write_timeout_seconds" default:"15" validate:"gt=0"`
}

// FeedConfig configures the inbound websocket market feed.
type FeedConfig struct {
	URL            string `yaml:"url"`
	ReconnectSecs  int    `yaml:"reconnect_seconds" default:"5" validate:"gt=0"`
	MaxBackoffSecs int    `yaml:"max_backoff_seconds" default:"60" validate:"gt=0"`
}

// RedisConfig configures the decision cache.
type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db" default:"0" validate:"gte=0"`
	TTLSeconds int    `yaml:"ttl_seconds" default:"3600" validate:"gt=0"`
}

// KafkaConfig configures the decision publisher.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic" default:"mia.decisions"`
}

// PostgresConfig configures the decision audit store.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// Config is the root of the YAML file. Component sections reuse the
// component packages' own config structs so defaults live in one
// place.
type Config struct {
	Symbol string `yaml:"symbol" default:"ES" validate:"required"`

	OrderFlow orderflow.Config        `yaml:"orderflow"`
	Staleness staleness.Config        `yaml:"staleness"`
	VIX       vix.Config              `yaml:"vix"`
	Scoring   scoring.Weights         `yaml:"scoring"`
	Latency   latency.Config          `yaml:"latency"`
	Pipeline  pipeline.Config         `yaml:"pipeline"`
	Alerts    alerts.DispatcherConfig `yaml:"alerts"`

	Server   ServerConfig         `yaml:"server"`
	Feed     FeedConfig           `yaml:"feed"`
	Redis    RedisConfig          `yaml:"redis"`
	Kafka    KafkaConfig          `yaml:"kafka"`
	Postgres PostgresConfig       `yaml:"postgres"`
	Webhook  alerts.WebhookConfig `yaml:"webhook"`
}

// Default returns a fully populated configuration without touching the
// filesystem.
func Default() Config {
	cfg := Config{
		Symbol:    "ES",
		OrderFlow: orderflow.DefaultConfig(),
		Staleness: staleness.DefaultConfig(),
		VIX:       vix.DefaultConfig(),
		Scoring:   scoring.DefaultWeights(),
		Latency:   latency.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Alerts:    alerts.DefaultDispatcherConfig(),
	}
	if err := defaults.Set(&cfg); err != nil {
		// Only reachable with a malformed default tag, which is a
		// programming error.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads the YAML file at path, applies defaults for unset fields
// and validates the result. A missing path yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := defaults.Set(&cfg); err != nil {
		return Config{}, fmt.Errorf("apply config defaults: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate runs struct-tag validation plus the cross-field checks the
// tags cannot express.
func Validate(cfg Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return err
	}
	if err := cfg.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring weights: %w", err)
	}
	for reg, minutes := range cfg.Staleness.MaxAgeMinutes {
		if minutes <= 0 {
			return fmt.Errorf("staleness max age for regime %s must be positive, got %d", reg, minutes)
		}
	}
	return nil
}
