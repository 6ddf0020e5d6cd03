package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"uploadplane/internal/retry"
)

// MaxNameLength is the longest job or definition name schedulers accept.
const MaxNameLength = 128

var disallowedNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeJobName strips characters schedulers reject and truncates the result.
func SanitizeJobName(name string) string {
	name = disallowedNameChars.ReplaceAllString(name, "")
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	return name
}

// Scheduler submits jobs to one queue of a backend.
type Scheduler struct {
	backend Backend
	queue   string
	policy  retry.Policy
	logger  *slog.Logger
}

// NewScheduler creates a scheduler that retries throttled submissions
// up to five times with exponential backoff.
func NewScheduler(backend Backend, queue string, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		backend: backend,
		queue:   queue,
		logger:  logger,
	}
	s.policy = retry.Policy{
		MaxAttempts: 5,
		Backoff:     retry.Exponential(time.Second, 16*time.Second),
		Retryable:   func(err error) bool { return errors.Is(err, ErrThrottled) },
		OnRetry: func(err error, wait time.Duration) {
			s.logger.Warn("job submission throttled, retrying", "error", err, "wait", wait)
		},
	}
	return s
}

// WithPolicy replaces the submission retry policy.
func (s *Scheduler) WithPolicy(p retry.Policy) *Scheduler {
	s.policy = p
	return s
}

// Queue returns the queue jobs are submitted to.
func (s *Scheduler) Queue() string {
	return s.queue
}

// Submit enqueues a job using def and returns the job id.
func (s *Scheduler) Submit(ctx context.Context, def *Definition, name string, command []string, env map[string]string) (string, error) {
	req := SubmitRequest{
		Name:       SanitizeJobName(name),
		Queue:      s.queue,
		Definition: def,
		Command:    command,
		Env:        env,
	}

	var jobID string
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		id, err := s.backend.SubmitJob(ctx, req)
		if err != nil {
			return err
		}
		jobID = id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit job %s: %w", req.Name, err)
	}

	s.logger.Info("job enqueued", "job_id", jobID, "job_name", req.Name, "job_definition", def.Handle)
	return jobID, nil
}
