// Package postgres provides a PostgreSQL staging table for stagedpush on pgx.
//
// Claims run under READ COMMITTED with SELECT ... FOR UPDATE SKIP LOCKED in
// id order; the claimed rows are deleted in the same transaction.
package postgres
