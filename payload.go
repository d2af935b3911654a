package stagedpush

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// QueueKey names the destination queue of a payload.
	QueueKey = "queue"
	// JobIDKey names the unique job identifier of a payload.
	JobIDKey = "jid"
	// CreatedAtKey holds the unix time (seconds) the job was created.
	CreatedAtKey = "created_at"
	// AtKey marks a scheduled job, its value is the unix time (seconds) to run at.
	AtKey = "at"
	// EnqueuedAtKey is set by forwarders at the moment a job is handed to the queue.
	EnqueuedAtKey = "enqueued_at"
	// DefaultQueue is used when a staged payload does not name a queue.
	DefaultQueue = "default"
)

// Payload is an opaque job descriptor staged for forwarding.
// It must carry a queue name and a unique job identifier.
type Payload map[string]any

// Queue returns the destination queue name or an empty string.
func (p Payload) Queue() string {
	queue, _ := p[QueueKey].(string)

	return queue
}

// JobID returns the job identifier or an empty string.
func (p Payload) JobID() string {
	jid, _ := p[JobIDKey].(string)

	return jid
}

// ScheduledAt reports the time a scheduled job should run.
func (p Payload) ScheduledAt() (time.Time, bool) {
	raw, ok := p[AtKey]
	if !ok {
		return time.Time{}, false
	}
	secs, ok := toFloat(raw)
	if !ok {
		return time.Time{}, false
	}

	return FromUnixSeconds(secs), true
}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}

	return out
}

// Validate checks the keys required by every forwarder.
func (p Payload) Validate() error {
	if p == nil {
		return ErrNilPayload
	}
	if p.Queue() == "" {
		return ErrQueueRequired
	}
	if p.JobID() == "" {
		return ErrJobIDRequired
	}

	return nil
}

// Normalize prepares a payload for staging: it defaults the queue, assigns a
// job id and creation time when missing and verifies the payload encodes as JSON.
// The input is not modified.
func Normalize(p Payload, now time.Time) (Payload, error) {
	if p == nil {
		return nil, ErrNilPayload
	}

	out := p.Clone()
	if raw, ok := out[QueueKey]; ok {
		if queue, isString := raw.(string); !isString || queue == "" {
			return nil, ErrQueueRequired
		}
	} else {
		out[QueueKey] = DefaultQueue
	}

	if raw, ok := out[JobIDKey]; ok {
		if _, isString := raw.(string); !isString {
			return nil, ErrJobIDRequired
		}
	}
	if out.JobID() == "" {
		jid, err := newJobID()
		if err != nil {
			return nil, fmt.Errorf("stagedpush: generate job id: %w", err)
		}
		out[JobIDKey] = jid
	}
	if _, ok := out[CreatedAtKey]; !ok {
		out[CreatedAtKey] = UnixSeconds(now)
	}

	if _, err := json.Marshal(out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	return out, nil
}

// MarshalPayload encodes a payload as JSON.
func MarshalPayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	return data, nil
}

// UnmarshalPayload decodes a JSON object, keeping numbers as json.Number
// so they round-trip without float conversion.
func UnmarshalPayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if p == nil {
		return nil, ErrNilPayload
	}

	return p, nil
}

// UnixSeconds converts t to fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnixSeconds converts fractional unix seconds to a UTC time.
func FromUnixSeconds(secs float64) time.Time {
	whole, frac := math.Modf(secs)

	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

var newJobID = func() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(id[:]), nil
}
