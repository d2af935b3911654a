// Package config loads stagedpush process configuration from an optional YAML
// file, an optional .env file and STAGEDPUSH_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/velmie/stagedpush"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "STAGEDPUSH_"

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"

	ForwarderRedis    = "redis"
	ForwarderLmstfy   = "lmstfy"
	ForwarderRabbitMQ = "rabbitmq"
)

// Config is the full process configuration.
type Config struct {
	Store     StoreConfig     `mapstructure:"store" envPrefix:"STORE_"`
	Redis     RedisConfig     `mapstructure:"redis" envPrefix:"REDIS_"`
	Forwarder ForwarderConfig `mapstructure:"forwarder" envPrefix:"FORWARDER_"`
	Relay     RelayConfig     `mapstructure:"relay" envPrefix:"RELAY_"`
	Monitor   MonitorConfig   `mapstructure:"monitor" envPrefix:"MONITOR_"`
	Log       LogConfig       `mapstructure:"log" envPrefix:"LOG_"`
	Sentry    SentryConfig    `mapstructure:"sentry" envPrefix:"SENTRY_"`
}

// StoreConfig selects the staging table.
type StoreConfig struct {
	Driver string `mapstructure:"driver" env:"DRIVER"`
	DSN    string `mapstructure:"dsn" env:"DSN"`
	Table  string `mapstructure:"table" env:"TABLE"`
}

// RedisConfig is the Redis server holding slot leases and, for the redis
// forwarder, the Sidekiq queues.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" env:"ADDR"`
	Password string `mapstructure:"password" env:"PASSWORD"`
	DB       int    `mapstructure:"db" env:"DB"`
}

// ForwarderConfig selects the downstream queue.
type ForwarderConfig struct {
	Kind      string         `mapstructure:"kind" env:"KIND"`
	Namespace string         `mapstructure:"namespace" env:"NAMESPACE"`
	Lmstfy    LmstfyConfig   `mapstructure:"lmstfy" envPrefix:"LMSTFY_"`
	RabbitMQ  RabbitMQConfig `mapstructure:"rabbitmq" envPrefix:"RABBITMQ_"`
}

// LmstfyConfig configures the lmstfy forwarder.
type LmstfyConfig struct {
	Host        string `mapstructure:"host" env:"HOST"`
	Port        int    `mapstructure:"port" env:"PORT"`
	Namespace   string `mapstructure:"namespace" env:"NAMESPACE"`
	Token       string `mapstructure:"token" env:"TOKEN"`
	QueuePrefix string `mapstructure:"queue_prefix" env:"QUEUE_PREFIX"`
	TTL         uint32 `mapstructure:"ttl" env:"TTL"`
	Tries       uint16 `mapstructure:"tries" env:"TRIES"`
}

// RabbitMQConfig configures the RabbitMQ forwarder.
type RabbitMQConfig struct {
	URL              string `mapstructure:"url" env:"URL"`
	Exchange         string `mapstructure:"exchange" env:"EXCHANGE"`
	RoutingKeyPrefix string `mapstructure:"routing_key_prefix" env:"ROUTING_KEY_PREFIX"`
}

// RelayConfig mirrors stagedpush.Config for the binary.
type RelayConfig struct {
	Workers            int           `mapstructure:"workers" env:"WORKERS"`
	BatchSize          int           `mapstructure:"batch_size" env:"BATCH_SIZE"`
	MaxSlots           int           `mapstructure:"max_slots" env:"MAX_SLOTS"`
	SlotTTL            time.Duration `mapstructure:"slot_ttl" env:"SLOT_TTL"`
	PollInterval       time.Duration `mapstructure:"poll_interval" env:"POLL_INTERVAL"`
	ErrorRetryInterval time.Duration `mapstructure:"error_retry_interval" env:"ERROR_RETRY_INTERVAL"`
	SlotRetryInterval  time.Duration `mapstructure:"slot_retry_interval" env:"SLOT_RETRY_INTERVAL"`
	SlotKeyPrefix      string        `mapstructure:"slot_key_prefix" env:"SLOT_KEY_PREFIX"`
}

// MonitorConfig configures the staging monitor.
type MonitorConfig struct {
	CheckEvery time.Duration `mapstructure:"check_every" env:"CHECK_EVERY"`
	StallAfter time.Duration `mapstructure:"stall_after" env:"STALL_AFTER"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level    string `mapstructure:"level" env:"LEVEL"`
	Encoding string `mapstructure:"encoding" env:"ENCODING"`
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string `mapstructure:"dsn" env:"DSN"`
	Environment string `mapstructure:"environment" env:"ENVIRONMENT"`
	Release     string `mapstructure:"release" env:"RELEASE"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver: DriverMySQL,
			Table:  "staged_push_jobs",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Forwarder: ForwarderConfig{
			Kind: ForwarderRedis,
			Lmstfy: LmstfyConfig{
				Port:  7777,
				Tries: 3,
			},
		},
		Relay: RelayConfig{
			Workers: 1,
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Load reads configPath (when not empty), dotenvPath (when the file exists)
// and the environment on top of Default, then validates the result.
func Load(configPath, dotenvPath string) (*Config, error) {
	cfg := Default()

	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file failed: %w", err)
		}
	}

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config failed: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields and known backend names.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("store.driver %q is not one of mysql, postgres", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	switch c.Forwarder.Kind {
	case ForwarderRedis:
	case ForwarderLmstfy:
		if c.Forwarder.Lmstfy.Host == "" || c.Forwarder.Lmstfy.Namespace == "" {
			return fmt.Errorf("forwarder.lmstfy.host and forwarder.lmstfy.namespace are required")
		}
	case ForwarderRabbitMQ:
		if c.Forwarder.RabbitMQ.URL == "" {
			return fmt.Errorf("forwarder.rabbitmq.url is required")
		}
	default:
		return fmt.Errorf("forwarder.kind %q is not one of redis, lmstfy, rabbitmq", c.Forwarder.Kind)
	}

	if c.Relay.Workers < 1 {
		return fmt.Errorf("relay.workers must be at least 1")
	}
	if c.Relay.BatchSize < 0 || c.Relay.MaxSlots < 0 {
		return fmt.Errorf("relay.batch_size and relay.max_slots must not be negative")
	}

	return nil
}

// RelayOptions converts the relay section to stagedpush options. Zero values
// keep the library defaults.
func (c *Config) RelayOptions() []stagedpush.Option {
	r := c.Relay
	opts := make([]stagedpush.Option, 0, 7)
	if r.BatchSize > 0 {
		opts = append(opts, stagedpush.WithBatchSize(r.BatchSize))
	}
	if r.MaxSlots > 0 {
		opts = append(opts, stagedpush.WithMaxSlots(r.MaxSlots))
	}
	if r.SlotTTL > 0 {
		opts = append(opts, stagedpush.WithSlotTTL(r.SlotTTL))
	}
	if r.PollInterval > 0 {
		opts = append(opts, stagedpush.WithPollInterval(r.PollInterval))
	}
	if r.ErrorRetryInterval > 0 {
		opts = append(opts, stagedpush.WithErrorRetryInterval(r.ErrorRetryInterval))
	}
	if r.SlotRetryInterval > 0 {
		opts = append(opts, stagedpush.WithSlotRetryInterval(r.SlotRetryInterval))
	}
	if r.SlotKeyPrefix != "" {
		opts = append(opts, stagedpush.WithSlotKeyPrefix(r.SlotKeyPrefix))
	}

	return opts
}
