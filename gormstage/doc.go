// Package gormstage stages jobs through gorm and relays them from the same
// table on MySQL or Postgres.
//
// Producers that already use gorm call Stage with their transaction handle so
// the job commits or rolls back with their business rows. Store also
// implements stagedpush.Claimer using FOR UPDATE SKIP LOCKED.
package gormstage
