// Package validation schedules validator jobs over uploaded files.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/google/uuid"

	"uploadplane/internal/batch"
	"uploadplane/internal/storage"
	"uploadplane/internal/store"
)

// MaxFileSize is the staging volume of the validation compute environment
// (1 TB, decimal). Files at or above it cannot be validated.
const MaxFileSize int64 = 1000 * 1000 * 1000 * 1000

// ErrFileTooLarge is returned by Schedule for files of MaxFileSize or more.
var ErrFileTooLarge = errors.New("File too large for validation")

// ValidatorCommand is the entrypoint every validator image provides.
const ValidatorCommand = "/validator"

// Config carries the deployment values passed to every validator job.
type Config struct {
	DeploymentStage  string
	IngestAMQPServer string
	IngestAPIKey     string
	APIHost          string
	JobRole          string
}

// Scheduler finds or creates a job definition for a validator image,
// submits the job and records a SCHEDULED validation event.
type Scheduler struct {
	defs   *batch.Definitions
	jobs   *batch.Scheduler
	events store.ValidationEventStore
	cfg    Config
	logger *slog.Logger
}

func NewScheduler(defs *batch.Definitions, jobs *batch.Scheduler, events store.ValidationEventStore, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{defs: defs, jobs: jobs, events: events, cfg: cfg, logger: logger}
}

// CheckFilesCanBeValidated reports whether every file fits the staging volume.
func CheckFilesCanBeValidated(files []store.File) bool {
	for _, f := range files {
		if f.Size >= MaxFileSize {
			return false
		}
	}
	return true
}

// Schedule submits one job validating every file with image and returns the
// validation id. env is merged under the system variables and not modified.
func (s *Scheduler) Schedule(ctx context.Context, area *store.UploadArea, files []store.File, image string, env map[string]string, originalValidationID *uuid.UUID) (uuid.UUID, error) {
	if len(files) == 0 {
		return uuid.Nil, errors.New("no files to validate")
	}
	if image == "" {
		return uuid.Nil, errors.New("validator image is required")
	}
	if !CheckFilesCanBeValidated(files) {
		return uuid.Nil, ErrFileTooLarge
	}

	def, err := s.defs.FindOrCreate(ctx, image, s.cfg.DeploymentStage, s.cfg.JobRole)
	if err != nil {
		return uuid.Nil, err
	}

	validationID := uuid.New()
	jobEnv := s.environment(env, validationID)

	command := []string{ValidatorCommand}
	fileIDs := make([]int64, 0, len(files))
	for _, f := range files {
		command = append(command, storage.FormatURL(area.BucketName, f.S3Key))
		fileIDs = append(fileIDs, f.ID)
	}

	jobName := strings.Join([]string{"validation", s.cfg.DeploymentStage, area.ID.String(), files[0].Name}, "-")
	jobID, err := s.jobs.Submit(ctx, def, jobName, command, jobEnv)
	if err != nil {
		return uuid.Nil, err
	}

	event := &store.ValidationEvent{
		ID:                   validationID,
		FileIDs:              fileIDs,
		JobID:                &jobID,
		Status:               store.ValidationStatusScheduled,
		DockerImage:          image,
		OriginalValidationID: originalValidationID,
	}
	if err := s.events.CreateValidationEvent(ctx, event); err != nil {
		return uuid.Nil, fmt.Errorf("failed to record validation %s: %w", validationID, err)
	}

	s.logger.Info("validation scheduled",
		"validation_id", validationID,
		"job_id", jobID,
		"upload_area_id", area.ID,
		"files", len(files),
		"image", image,
	)
	return validationID, nil
}

func (s *Scheduler) environment(env map[string]string, validationID uuid.UUID) map[string]string {
	out := maps.Clone(env)
	if out == nil {
		out = make(map[string]string)
	}
	out["DEPLOYMENT_STAGE"] = s.cfg.DeploymentStage
	out["INGEST_AMQP_SERVER"] = s.cfg.IngestAMQPServer
	out["INGEST_API_KEY"] = s.cfg.IngestAPIKey
	out["API_HOST"] = s.cfg.APIHost
	out["CONTAINER"] = "DOCKER"
	out["VALIDATION_ID"] = validationID.String()
	return out
}
