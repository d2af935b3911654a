package stagedpush

import (
	"context"
	"time"
)

const (
	defaultMonitorEvery = 30 * time.Second
	defaultStallAfter   = 5 * time.Minute
)

// MonitorConfig controls periodic staging table checks.
type MonitorConfig struct {
	// CheckEvery is the interval between checks.
	CheckEvery time.Duration
	// StallAfter is the age of the oldest staged record that is reported as a relay stall.
	StallAfter time.Duration
	// Clock overrides time source (useful for tests).
	Clock Clock
	// Logger receives depth reports and stall warnings.
	Logger Logger
	// Metrics receives the staging depth.
	Metrics Metrics
}

// Monitor watches the staging table depth. A growing table or an old head
// record means no relay is making progress.
type Monitor struct {
	stats StatsProvider
	cfg   MonitorConfig
}

// NewMonitor creates a monitor with defaults applied.
func NewMonitor(stats StatsProvider, cfg MonitorConfig) (*Monitor, error) {
	if stats == nil {
		return nil, ErrStatsRequired
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultMonitorEvery
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = defaultStallAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}

	return &Monitor{stats: stats, cfg: cfg}, nil
}

// Run checks the staging table periodically until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	if _, err := m.Check(ctx); err != nil {
		m.cfg.Logger.Warn("stagedpush monitor check failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Check(ctx); err != nil {
				m.cfg.Logger.Warn("stagedpush monitor check failed", "err", err)
			}
		}
	}
}

// Check samples the staging table once and reports whether it looks stalled.
func (m *Monitor) Check(ctx context.Context) (bool, error) {
	stats, err := m.stats.Stats(ctx)
	if err != nil {
		return false, err
	}
	m.cfg.Metrics.SetPending(stats.Pending)

	age := stats.OldestAge(m.cfg.Clock.Now())
	if age > m.cfg.StallAfter {
		m.cfg.Logger.Warn("stagedpush staging table is not draining",
			"pending", stats.Pending,
			"oldest_age", age.Truncate(time.Second).String(),
		)

		return true, nil
	}
	m.cfg.Logger.Debug("stagedpush staging table depth", "pending", stats.Pending)

	return false, nil
}
