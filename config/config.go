// Package config loads the consumer pipeline settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/velmie/consume/correlation"
	"github.com/velmie/consume/dedup"
	"github.com/velmie/consume/naming"
)

// Backend kinds recognized by the pipeline
const (
	BackendInProcess = "in-process"
	BackendShared    = "shared"
	BackendNATS      = "nats"
	BackendPostgres  = "postgres"
	BackendIdempo    = "idempo"
)

type Config struct {
	Dedup    Dedup    `yaml:"dedup"`
	Context  Context  `yaml:"context"`
	Naming   Naming   `yaml:"naming"`
	Log      Log      `yaml:"log"`
	Redis    Redis    `yaml:"redis"`
	NATS     NATS     `yaml:"nats"`
	Postgres Postgres `yaml:"postgres"`
}

// Dedup configures the processing gate
type Dedup struct {
	Enabled bool `yaml:"enabled" env:"CONSUME_DEDUP_ENABLED" env-default:"false"`
	// Backend is one of in-process (memory), shared (redis), nats, postgres, idempo
	Backend              string `yaml:"backend" env:"CONSUME_DEDUP_BACKEND" env-default:"in-process"`
	MessageExpirySeconds int    `yaml:"messageExpirySeconds" env:"CONSUME_DEDUP_MESSAGE_EXPIRY_SECONDS" env-default:"3600"`
	KeyPrefix            string `yaml:"keyPrefix" env:"CONSUME_DEDUP_KEY_PREFIX"`
	MissingIDPolicy      string `yaml:"missingIdPolicy" env:"CONSUME_DEDUP_MISSING_ID_POLICY" env-default:"fail-open"`
	AckOnDuplicate       bool   `yaml:"ackOnDuplicate" env:"CONSUME_DEDUP_ACK_ON_DUPLICATE"`
}

// Context configures correlation context propagation
type Context struct {
	Enabled              bool   `yaml:"enabled" env:"CONSUME_CONTEXT_ENABLED"`
	Header               string `yaml:"header" env:"CONSUME_CONTEXT_HEADER" env-default:"message_context"`
	IncludeCorrelationID bool   `yaml:"includeCorrelationId" env:"CONSUME_CONTEXT_INCLUDE_CORRELATION_ID"`
	// OnDecodeError is fail (reject the delivery) or default (continue with a default context)
	OnDecodeError string `yaml:"onDecodeError" env:"CONSUME_CONTEXT_ON_DECODE_ERROR" env-default:"fail"`
}

type Naming struct {
	DefaultNamespace string `yaml:"defaultNamespace" env:"CONSUME_NAMING_DEFAULT_NAMESPACE"`
	ApplicationID    string `yaml:"applicationId" env:"CONSUME_NAMING_APPLICATION_ID"`
	// Overrides are keyed by Go type name, file only
	Overrides map[string]naming.Override `yaml:"overrides"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	// Messages enables the logging middleware
	Messages bool `yaml:"messages" env:"CONSUME_LOG_MESSAGES"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type NATS struct {
	URL    string `yaml:"url" env:"NATS_URL" env-default:"nats://127.0.0.1:4222"`
	Bucket string `yaml:"bucket" env:"NATS_DEDUP_BUCKET" env-default:"consume_dedup"`
}

type Postgres struct {
	DSN   string `yaml:"dsn" env:"POSTGRES_DSN"`
	Table string `yaml:"table" env:"POSTGRES_DEDUP_TABLE" env-default:"consume_dedup"`
}

// Load reads path and applies environment overrides.
// A missing file is not an error, the environment and defaults are used instead.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		err := cleanenv.ReadConfig(path, cfg)
		if err == nil {
			return cfg, cfg.Validate()
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, cfg.Validate()
}

// Default returns the configuration built from defaults and the environment
func Default() (*Config, error) {
	return Load("")
}

// MessageExpiry returns the marker lifetime
func (d Dedup) MessageExpiry() time.Duration {
	return time.Duration(d.MessageExpirySeconds) * time.Second
}

// BackendKind normalizes Backend, accepting the aliases memory and redis
func (d Dedup) BackendKind() string {
	switch kind := strings.ToLower(strings.TrimSpace(d.Backend)); kind {
	case "", "memory", BackendInProcess:
		return BackendInProcess
	case "redis", BackendShared:
		return BackendShared
	default:
		return kind
	}
}

// Validate checks the settings which cannot be defaulted
func (c *Config) Validate() error {
	var errs []error
	if c.Dedup.Enabled {
		if c.Dedup.MessageExpirySeconds <= 0 {
			errs = append(errs, fmt.Errorf("dedup.messageExpirySeconds must be positive, got %d", c.Dedup.MessageExpirySeconds))
		}
		if _, err := dedup.ParseMissingIDPolicy(c.Dedup.MissingIDPolicy); err != nil {
			errs = append(errs, err)
		}
		if c.Dedup.BackendKind() == BackendPostgres && c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required by the postgres dedup backend"))
		}
	}
	if c.Context.Enabled {
		if _, err := correlation.ParseDecodeErrorPolicy(c.Context.OnDecodeError); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
