package stagedpush

import "time"

// Metrics captures relay-level telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time to relay a non-empty batch.
	ObserveBatchDuration(duration time.Duration)
	// AddForwarded increments the count of records handed to the queue.
	AddForwarded(count int)
	// AddFailures increments the count of failed relay iterations.
	AddFailures(count int)
	// SetPending updates the current staging table depth.
	SetPending(count int)
	// SetSlotHeld reports whether this worker currently owns a slot.
	SetSlotHeld(held bool)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// AddForwarded implements Metrics.
func (NopMetrics) AddForwarded(int) {}

// AddFailures implements Metrics.
func (NopMetrics) AddFailures(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}

// SetSlotHeld implements Metrics.
func (NopMetrics) SetSlotHeld(bool) {}
