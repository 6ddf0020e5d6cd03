// Package store contains the database layer for uploadplane.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UploadArea is a per-submitter namespace inside the upload bucket.
// Every object key in an area starts with "{ID}/".
type UploadArea struct {
	ID         uuid.UUID
	BucketName string
	Status     AreaStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AreaStatus represents the lifecycle state of an upload area.
type AreaStatus string

const (
	AreaStatusUnlocked       AreaStatus = "UNLOCKED"
	AreaStatusLocked         AreaStatus = "LOCKED"
	AreaStatusDeletionQueued AreaStatus = "DELETION_QUEUED"
)

// File is the persisted record of a stored object version.
// There is exactly one record per (S3Key, S3ETag).
type File struct {
	ID           int64
	UploadAreaID uuid.UUID
	Name         string
	S3Key        string
	S3ETag       string
	Size         int64
	Checksums    Checksums
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Checksums maps an algorithm name (sha1, sha256, crc32c, s3_etag) to its hex digest.
type Checksums map[string]string

// ChecksumStatus represents the state of a checksum event.
type ChecksumStatus string

const (
	ChecksumStatusScheduled    ChecksumStatus = "SCHEDULED"
	ChecksumStatusChecksumming ChecksumStatus = "CHECKSUMMING"
	ChecksumStatusChecksummed  ChecksumStatus = "CHECKSUMMED"

	// ChecksumStatusUnscheduled is reported for files with no qualifying event.
	// It is never persisted.
	ChecksumStatusUnscheduled ChecksumStatus = "UNSCHEDULED"
)

// ChecksumEvent records one attempt to checksum a file version.
// Events are append-only; a new upload produces a new event.
type ChecksumEvent struct {
	ID        uuid.UUID
	FileID    int64
	JobID     *string
	Status    ChecksumStatus
	Checksums Checksums
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidationStatus represents the state of a validation event.
type ValidationStatus string

const (
	ValidationStatusScheduled  ValidationStatus = "SCHEDULED"
	ValidationStatusValidating ValidationStatus = "VALIDATING"
	ValidationStatusValidated  ValidationStatus = "VALIDATED"

	// ValidationStatusUnscheduled is reported for files never validated.
	ValidationStatusUnscheduled ValidationStatus = "UNSCHEDULED"
)

// ValidationEvent records one run of a validator image over one or more files.
type ValidationEvent struct {
	ID                   uuid.UUID
	FileIDs              []int64
	JobID                *string
	Status               ValidationStatus
	Results              json.RawMessage
	DockerImage          string
	OriginalValidationID *uuid.UUID
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// JobDefinition is a reusable batch job template registered for one image.
// Handle is the backend-specific reference jobs are submitted against.
type JobDefinition struct {
	Name      string
	Handle    string
	Image     string
	CreatedAt time.Time
}
