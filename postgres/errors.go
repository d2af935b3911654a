package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrPoolRequired is returned when a nil pool is provided.
	ErrPoolRequired = errors.New("stagedpush postgres: pool is required")
	// ErrQuerierRequired is returned when Stage is called with a nil querier.
	ErrQuerierRequired = errors.New("stagedpush postgres: querier is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("stagedpush postgres: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("stagedpush postgres: invalid table name")
	// ErrTableMissing is returned when the staging table does not exist.
	ErrTableMissing = errors.New("stagedpush postgres: staging table does not exist")
)

const undefinedTable = "42P01"

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}

func classify(err error) error {
	if isUndefinedTable(err) {
		return errors.Join(ErrTableMissing, err)
	}

	return err
}
