// Package mysql provides a MySQL 8.0+ staging table for stagedpush.
//
// Claims use:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - SELECT ... FOR UPDATE SKIP LOCKED
//   - ORDER BY id ASC (AUTO_INCREMENT insertion order)
//   - LIMIT for batching
//
// Claimed rows are deleted inside the claim transaction, so a rollback puts
// them back and a commit removes them for good. The DSN must set
// parseTime=true. See Schema for the table definition.
package mysql
