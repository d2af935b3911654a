package stagedpush

import "time"

const (
	defaultBatchSize          = 500
	defaultMaxSlots           = 5
	defaultSlotTTL            = 30 * time.Second
	defaultPollInterval       = 500 * time.Millisecond
	defaultErrorRetryInterval = time.Second
	defaultSlotRetryInterval  = 30 * time.Second
	defaultPendingCheck       = 0

	// DefaultSlotKeyPrefix is the key namespace of slot leases.
	DefaultSlotKeyPrefix = "staged_push:enqueuer:slot"
)

// Config defines how a worker claims slots and relays batches.
// Each Enqueuer, Relay and Leaser owns its own copy.
type Config struct {
	// BatchSize caps the number of records claimed per iteration.
	BatchSize int
	// MaxSlots is the number of workers allowed to relay at the same time.
	MaxSlots int
	// SlotTTL is the lease duration of a slot; renewals run every SlotTTL/2.
	SlotTTL time.Duration
	// PollInterval is the pause after an empty claim.
	PollInterval time.Duration
	// ErrorRetryInterval is the pause after a failed iteration or renewal.
	ErrorRetryInterval time.Duration
	// SlotRetryInterval is the pause when every slot is taken.
	SlotRetryInterval time.Duration
	// SlotKeyPrefix namespaces slot keys as <prefix>:<n>.
	SlotKeyPrefix string
	// Identity proves slot ownership. Generated when empty.
	Identity string
	// PendingInterval is the minimum interval between staging depth samples, zero disables sampling.
	PendingInterval time.Duration
	Clock           Clock
	Logger          Logger
	Metrics         Metrics
	ErrorHandler    ErrorHandler
}

// NewConfig returns the configuration opts produce with defaults applied.
func NewConfig(opts ...Option) Config {
	return newConfig(opts)
}

func newConfig(opts []Option) Config {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxSlots <= 0 {
		c.MaxSlots = defaultMaxSlots
	}
	if c.SlotTTL <= 0 {
		c.SlotTTL = defaultSlotTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ErrorRetryInterval <= 0 {
		c.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.SlotRetryInterval <= 0 {
		c.SlotRetryInterval = defaultSlotRetryInterval
	}
	if c.SlotKeyPrefix == "" {
		c.SlotKeyPrefix = DefaultSlotKeyPrefix
	}
	if c.Identity == "" {
		c.Identity = NewIdentity()
	}
	if c.PendingInterval <= 0 {
		c.PendingInterval = defaultPendingCheck
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// Option configures relay and slot behavior.
type Option func(*Config)

// WithConfig replaces the whole configuration. Zero fields fall back to defaults.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		*c = cfg
	}
}

// WithBatchSize sets the number of records claimed per iteration.
func WithBatchSize(size int) Option {
	return func(c *Config) {
		c.BatchSize = size
	}
}

// WithMaxSlots sets the number of concurrently active workers.
func WithMaxSlots(slots int) Option {
	return func(c *Config) {
		c.MaxSlots = slots
	}
}

// WithSlotTTL sets the slot lease duration.
func WithSlotTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.SlotTTL = ttl
	}
}

// WithPollInterval sets the delay between empty polls.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = interval
	}
}

// WithErrorRetryInterval sets the delay after a failed iteration or renewal.
func WithErrorRetryInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.ErrorRetryInterval = interval
	}
}

// WithSlotRetryInterval sets the delay between claim attempts while all slots are taken.
// It should be longer than the poll interval.
func WithSlotRetryInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.SlotRetryInterval = interval
	}
}

// WithSlotKeyPrefix sets the slot key namespace.
func WithSlotKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.SlotKeyPrefix = prefix
	}
}

// WithIdentity overrides the generated worker identity.
func WithIdentity(identity string) Option {
	return func(c *Config) {
		c.Identity = identity
	}
}

// WithPendingInterval sets the minimum interval between staging depth samples.
// Use a positive value to enable sampling or zero to keep it disabled.
// The default is disabled.
func WithPendingInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.PendingInterval = interval
	}
}

// WithClock sets the clock.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithErrorHandler registers a callback for failed relay iterations.
func WithErrorHandler(handler ErrorHandler) Option {
	return func(c *Config) {
		c.ErrorHandler = handler
	}
}
