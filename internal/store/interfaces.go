package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// AreaStore handles upload area records.
type AreaStore interface {
	// CreateArea inserts a new area. Returns ErrConflict if it already exists.
	CreateArea(ctx context.Context, area *UploadArea) error

	// GetArea returns an area by its ID, or ErrNotFound.
	GetArea(ctx context.Context, id uuid.UUID) (*UploadArea, error)

	// UpdateAreaStatus sets the lifecycle status of an area.
	UpdateAreaStatus(ctx context.Context, id uuid.UUID, status AreaStatus) error
}

// FileStore handles file version records.
type FileStore interface {
	// FindOrCreateFile returns the record for (S3Key, S3ETag), creating it when absent.
	FindOrCreateFile(ctx context.Context, file *File) (*File, error)

	// GetFileByID returns a file by its ID.
	GetFileByID(ctx context.Context, id int64) (*File, error)

	// ListFileIDsByArea returns the IDs of the newest record of every key in an area.
	ListFileIDsByArea(ctx context.Context, areaID uuid.UUID) ([]int64, error)

	// UpdateFileChecksums stores the computed checksums on a file record.
	UpdateFileChecksums(ctx context.Context, tx DBTransaction, fileID int64, checksums Checksums) error
}

// ChecksumEventStore handles checksum events.
type ChecksumEventStore interface {
	CreateChecksumEvent(ctx context.Context, event *ChecksumEvent) error
	UpdateChecksumEvent(ctx context.Context, tx DBTransaction, event *ChecksumEvent) error
	GetChecksumEvent(ctx context.Context, id uuid.UUID) (*ChecksumEvent, error)
	DeleteChecksumEvent(ctx context.Context, id uuid.UUID) error

	// MarkChecksumScheduled records the job of an event that is still
	// CHECKSUMMING. It reports false when the job already advanced the event.
	MarkChecksumScheduled(ctx context.Context, id uuid.UUID, jobID string) (bool, error)

	// ListChecksumEvents returns every event of a file, oldest first.
	ListChecksumEvents(ctx context.Context, fileID int64) ([]ChecksumEvent, error)

	// LatestChecksumStatuses maps each file of an area to its newest event status.
	LatestChecksumStatuses(ctx context.Context, areaID uuid.UUID) (map[int64]ChecksumStatus, error)
}

// ValidationEventStore handles validation events.
type ValidationEventStore interface {
	CreateValidationEvent(ctx context.Context, event *ValidationEvent) error
	UpdateValidationEvent(ctx context.Context, event *ValidationEvent) error
	GetValidationEvent(ctx context.Context, id uuid.UUID) (*ValidationEvent, error)

	// LatestValidationEvent returns the newest validation event covering a file, or ErrNotFound.
	LatestValidationEvent(ctx context.Context, fileID int64) (*ValidationEvent, error)

	// LatestValidationStatuses maps each file of an area to its newest validation status.
	LatestValidationStatuses(ctx context.Context, areaID uuid.UUID) (map[int64]ValidationStatus, error)
}

// JobDefinitionStore persists job definitions for backends without their own registry.
type JobDefinitionStore interface {
	GetJobDefinition(ctx context.Context, name string) (*JobDefinition, error)
	CreateJobDefinition(ctx context.Context, def *JobDefinition) error
	ListJobDefinitions(ctx context.Context) ([]JobDefinition, error)
	DeleteJobDefinition(ctx context.Context, name string) error
}
