package gormstage

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultTable is the staging table name shared with relays.
const DefaultTable = "staged_push_jobs"

// Job is a staged job row.
type Job struct {
	ID        int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Payload   datatypes.JSON `gorm:"column:payload;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;not null;precision:6"`
}

// TableName implements gorm's schema.Tabler.
func (Job) TableName() string {
	return DefaultTable
}
