package stagedpush

import "errors"

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("stagedpush batch size must be positive")
	// ErrNilBatch indicates that a claimer returned a nil batch.
	ErrNilBatch = errors.New("stagedpush batch is nil")
	// ErrClaimFailed wraps staging store errors raised while claiming a batch.
	ErrClaimFailed = errors.New("stagedpush claim failed")
	// ErrDeleteFailed wraps staging store errors raised while deleting claimed records.
	ErrDeleteFailed = errors.New("stagedpush delete failed")
	// ErrDeleteMismatch indicates that fewer rows were deleted than claimed.
	ErrDeleteMismatch = errors.New("stagedpush deleted row count does not match claim")
	// ErrForwardFailed wraps errors returned by the Forwarder.
	ErrForwardFailed = errors.New("stagedpush forward failed")
	// ErrCommitFailed wraps errors raised while committing a batch.
	ErrCommitFailed = errors.New("stagedpush commit failed")
	// ErrRelayPanic indicates a recovered panic inside a relay iteration.
	ErrRelayPanic = errors.New("stagedpush relay panic")
	// ErrSlotLost is returned by renewals when another worker owns the slot.
	ErrSlotLost = errors.New("stagedpush slot is owned by another worker")
	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("stagedpush worker count must be positive")
	// ErrStatsRequired is returned when a monitor is built without a stats provider.
	ErrStatsRequired = errors.New("stagedpush stats provider is required")
	// ErrNilPayload is returned for a nil payload.
	ErrNilPayload = errors.New("stagedpush payload is nil")
	// ErrQueueRequired is returned when the payload has no queue name.
	ErrQueueRequired = errors.New("stagedpush payload queue is required")
	// ErrJobIDRequired is returned when the payload has no job id.
	ErrJobIDRequired = errors.New("stagedpush payload job id is required")
	// ErrInvalidPayload is returned when a payload cannot be encoded or decoded as JSON.
	ErrInvalidPayload = errors.New("stagedpush payload must be a JSON object")
)

// errorKind classifies relay errors for logging.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrClaimFailed), errors.Is(err, ErrNilBatch):
		return "claim"
	case errors.Is(err, ErrDeleteFailed), errors.Is(err, ErrDeleteMismatch):
		return "delete"
	case errors.Is(err, ErrForwardFailed):
		return "forward"
	case errors.Is(err, ErrCommitFailed):
		return "commit"
	case errors.Is(err, ErrRelayPanic):
		return "panic"
	default:
		return "unknown"
	}
}
