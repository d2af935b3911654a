package stagedpush

import "context"

// Forwarder hands a batch of payloads to the downstream queue.
//
// Forward must be all-or-nothing from the relay's point of view: on error the
// whole batch stays staged and is forwarded again later, so queues must
// tolerate payloads delivered more than once.
type Forwarder interface {
	Forward(ctx context.Context, payloads []Payload) error
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ctx context.Context, payloads []Payload) error

// Forward implements Forwarder.
func (fn ForwarderFunc) Forward(ctx context.Context, payloads []Payload) error {
	return fn(ctx, payloads)
}

// ErrorHandler is called when a relay iteration fails. records is empty
// when the failure happened before a batch was claimed.
type ErrorHandler func(ctx context.Context, records []Record, err error)
