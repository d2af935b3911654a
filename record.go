package stagedpush

import "time"

// Record is a staged job fetched from the staging table.
type Record struct {
	ID        int64
	Payload   Payload
	CreatedAt time.Time
}

// IDs returns the record ids in order.
func IDs(records []Record) []int64 {
	ids := make([]int64, len(records))
	for i := range records {
		ids[i] = records[i].ID
	}

	return ids
}

// Payloads returns the record payloads in order.
func Payloads(records []Record) []Payload {
	payloads := make([]Payload, len(records))
	for i := range records {
		payloads[i] = records[i].Payload
	}

	return payloads
}
