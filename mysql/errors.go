package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("stagedpush mysql: db is required")
	// ErrExecutorRequired is returned when Stage is called with a nil executor.
	ErrExecutorRequired = errors.New("stagedpush mysql: executor is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("stagedpush mysql: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("stagedpush mysql: invalid table name")
)
