// Package api contains shared JSON request/response structs.
// This package is shared between the API server, the batch jobs and uploadctl.
package api

import (
	"encoding/json"
	"time"
)

// Problem is the error body returned by the API (application/problem+json).
type Problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

// CreateAreaResponse is the response body after creating an upload area.
type CreateAreaResponse struct {
	URI string `json:"uri"`
}

// FileInfo describes an uploaded file.
type FileInfo struct {
	UploadAreaID string            `json:"upload_area_id"`
	Name         string            `json:"name"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type"`
	URL          string            `json:"url"`
	Checksums    map[string]string `json:"checksums"`
	LastModified time.Time         `json:"last_modified"`
}

// ValidateRequest schedules a validator over one or more files.
// Files is only read by the multi-file endpoint.
type ValidateRequest struct {
	ValidatorImage       string            `json:"validator_image"`
	Environment          map[string]string `json:"environment,omitempty"`
	OriginalValidationID string            `json:"original_validation_id,omitempty"`
	Files                []string          `json:"files,omitempty"`
}

// ValidateResponse is returned once the validation job is scheduled.
type ValidateResponse struct {
	ValidationID string `json:"validation_id"`
}

// ChecksumStatusResponse reports the newest checksum event of a file.
type ChecksumStatusResponse struct {
	ChecksumStatus string            `json:"checksum_status"`
	Checksums      map[string]string `json:"checksums"`
}

// ValidationStatusResponse reports the newest validation event of a file.
type ValidationStatusResponse struct {
	ValidationStatus  string          `json:"validation_status"`
	ValidationResults json.RawMessage `json:"validation_results"`
}

// UpdateEventRequest is posted by batch jobs to update_checksum and
// update_validation.
type UpdateEventRequest struct {
	Status  string          `json:"status"`
	JobID   string          `json:"job_id"`
	Payload json.RawMessage `json:"payload"`
}

// FileRef locates a file in its upload area. Every update payload carries one.
type FileRef struct {
	UploadAreaID string `json:"upload_area_id"`
	Name         string `json:"name"`
}

// ChecksumPayload is the update_checksum payload.
type ChecksumPayload struct {
	FileRef
	Checksums map[string]string `json:"checksums,omitempty"`
}

// Validator outcomes.
const (
	ValidatorCompleted = "completed"
	ValidatorTimedOut  = "timed_out"
	ValidatorAborted   = "aborted"
)

// ValidationResults is what the harness reports once the validator has run.
type ValidationResults struct {
	FileRef
	ValidationID string  `json:"validation_id"`
	Command      string  `json:"command"`
	Status       string  `json:"status"`
	ExitCode     *int    `json:"exit_code"`
	Stdout       *string `json:"stdout"`
	Stderr       *string `json:"stderr"`
	DurationS    float64 `json:"duration_s"`
	Exception    *string `json:"exception"`
}
