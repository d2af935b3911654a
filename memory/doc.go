// Package memory provides in-process staging and slot stores.
//
// Store behaves like a staging table claimed with FOR UPDATE SKIP LOCKED:
// concurrent claims receive disjoint records, deletes become visible on commit
// and are undone by rollback. SlotStore keeps TTL-bound keys on a Clock.
// Both are safe for concurrent use and intended for tests and local runs.
package memory
