// Package stagedpush relays jobs from a durable staging table to a queue.
//
// Typical flow:
//  1. Within a business transaction, stage job payloads using a storage-specific Stage call.
//  2. Run one or more Enqueuers. Each claims one of MaxSlots TTL-bound slots in a shared
//     SlotStore, so at most MaxSlots workers relay at any time across all processes.
//  3. A worker holding a slot repeatedly claims a batch (SELECT ... FOR UPDATE SKIP LOCKED),
//     deletes it, forwards it to the queue and commits. If forwarding fails the transaction
//     is rolled back and the batch is retried later; staged jobs are never dropped.
//  4. A worker that dies stops renewing its slot, and the slot frees itself after SlotTTL.
//
// Storage backends live in the mysql, postgres and memory packages; slot stores and
// forwarders in redis, lmstfy, rabbitmq and memory.
package stagedpush
