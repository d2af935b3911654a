package postgres

import "github.com/velmie/stagedpush"

// DefaultTable is the staging table name shared with producers.
const DefaultTable = "staged_push_jobs"

// Config defines Postgres store behavior.
type Config struct {
	Table string
	Clock stagedpush.Clock
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.Clock == nil {
		c.Clock = stagedpush.SystemClock{}
	}

	return c
}

// Option configures the Postgres store.
type Option func(*Config)

// WithTable sets the staging table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

// WithClock sets the time source used to stamp staged payloads.
func WithClock(clock stagedpush.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}
