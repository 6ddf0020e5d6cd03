// Package harness stages uploaded files, runs an external validator over
// them and reports the outcome as a validation event update.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"uploadplane/internal/client"
	"uploadplane/internal/retry"
	"uploadplane/internal/runtime"
	"uploadplane/internal/storage"
	"uploadplane/internal/store"
	"uploadplane/pkg/api"
)

// State is a step of a harness run.
type State string

const (
	StateInit      State = "INIT"
	StateStaging   State = "STAGING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateTimedOut  State = "TIMED_OUT"
	StateAborted   State = "ABORTED"
	StateCleanedUp State = "CLEANED_UP"
)

const (
	DefaultStagingDir  = "/data"
	DefaultVersionFile = "/HARNESS_VERSION"
)

// errNotStaged means the download returned but no file appeared.
var errNotStaged = errors.New("staged file absent after download")

// Downloader copies an object to a local path.
type Downloader interface {
	Download(ctx context.Context, bucket, key, dest string) (int64, error)
}

// Reporter sends event updates to the API.
type Reporter interface {
	UpdateEvent(ctx context.Context, kind client.EventKind, areaID, eventID, status, jobID string, payload any) error
}

// Config describes one harness invocation.
type Config struct {
	// Validator is the path of the validator binary.
	Validator string
	// URLs are the s3:// addresses of the files to validate.
	URLs []string

	StagingDir   string
	Timeout      time.Duration
	ValidationID string
	JobID        string
	Attempt      string

	// TestMode skips every report to the API.
	TestMode bool
	// Keep leaves staged files on disk.
	Keep bool

	VersionFile string
}

type stagedFile struct {
	bucket string
	key    string
	path   string
}

// Harness runs a validator over staged copies of uploaded files.
type Harness struct {
	cfg      Config
	storage  Downloader
	reporter Reporter
	runtime  runtime.Runtime
	logger   *slog.Logger

	staging retry.Policy
	files   []stagedFile
	state   State
	version string
}

// New validates cfg and prepares a harness. reporter may be nil in test mode.
func New(cfg Config, dl Downloader, reporter Reporter, rt runtime.Runtime, logger *slog.Logger) (*Harness, error) {
	if cfg.Validator == "" {
		return nil, errors.New("validator path is required")
	}
	if len(cfg.URLs) == 0 {
		return nil, errors.New("at least one file url is required")
	}
	if reporter == nil && !cfg.TestMode {
		return nil, errors.New("a reporter is required outside test mode")
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = DefaultStagingDir
	}
	if cfg.VersionFile == "" {
		cfg.VersionFile = DefaultVersionFile
	}

	root := filepath.Clean(cfg.StagingDir)
	files := make([]stagedFile, 0, len(cfg.URLs))
	for _, u := range cfg.URLs {
		bucket, key, err := storage.ParseURL(u)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(root, filepath.FromSlash(key))
		if rel, err := filepath.Rel(root, path); err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("key %q escapes the staging directory", key)
		}
		files = append(files, stagedFile{bucket: bucket, key: key, path: path})
	}

	h := &Harness{
		cfg:      cfg,
		storage:  dl,
		reporter: reporter,
		runtime:  rt,
		files:    files,
		state:    StateInit,
		version:  readVersion(cfg.VersionFile),
	}
	h.logger = logger.With("job_id", cfg.JobID, "validation_id", cfg.ValidationID)
	h.staging = retry.Policy{
		MaxAttempts: 5,
		Backoff:     retry.Exponential(time.Second, 4*time.Second),
		Retryable: func(err error) bool {
			return !errors.Is(err, storage.ErrNotFound)
		},
		OnRetry: func(err error, wait time.Duration) {
			h.logger.Error("staging failed, retrying", "error", err, "wait", wait)
		},
	}
	return h, nil
}

// State returns the step the harness is in.
func (h *Harness) State() State {
	return h.state
}

// Version is the harness image version, empty when unknown.
func (h *Harness) Version() string {
	return h.version
}

// fileRef splits the first key into its upload area and file name.
func (h *Harness) fileRef() api.FileRef {
	area, name, _ := strings.Cut(h.files[0].key, "/")
	return api.FileRef{UploadAreaID: area, Name: name}
}

// Validate stages the files, runs the validator and reports VALIDATED.
// Validator failures are outcomes in the result; only staging and
// reporting failures are returned as errors. Staged files are removed
// on every path unless Keep is set.
func (h *Harness) Validate(ctx context.Context) (*api.ValidationResults, error) {
	ref := h.fileRef()
	h.logger.Info("validator starting", "version", h.version, "attempt", h.cfg.Attempt, "files", h.cfg.URLs)

	defer h.cleanup()

	if err := h.report(ctx, store.ValidationStatusValidating, ref); err != nil {
		return nil, err
	}

	h.state = StateStaging
	for _, f := range h.files {
		if err := h.stage(ctx, f); err != nil {
			err = fmt.Errorf("failed to stage s3://%s/%s: %w", f.bucket, f.key, err)
			results := &api.ValidationResults{FileRef: ref, ValidationID: h.cfg.ValidationID}
			h.abort(results, err)
			// The event must not stay VALIDATING when nothing will run.
			if rerr := h.report(ctx, store.ValidationStatusValidated, results); rerr != nil {
				return results, errors.Join(err, rerr)
			}
			return results, err
		}
	}

	if err := h.report(ctx, store.ValidationStatusValidating, ref); err != nil {
		return nil, err
	}

	h.state = StateRunning
	results := h.run(ctx)
	results.FileRef = ref

	if err := h.report(ctx, store.ValidationStatusValidated, results); err != nil {
		return results, err
	}
	return results, nil
}

func (h *Harness) report(ctx context.Context, status store.ValidationStatus, payload any) error {
	if h.cfg.TestMode {
		return nil
	}
	ref := h.fileRef()
	if err := h.reporter.UpdateEvent(ctx, client.ValidationEvent, ref.UploadAreaID, h.cfg.ValidationID, string(status), h.cfg.JobID, payload); err != nil {
		return fmt.Errorf("failed to report %s: %w", status, err)
	}
	return nil
}

func (h *Harness) stage(ctx context.Context, f stagedFile) error {
	return h.staging.Do(ctx, func(ctx context.Context) error {
		h.logger.Info("staging file", "bucket", f.bucket, "key", f.key, "path", f.path)
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return err
		}
		if _, err := h.storage.Download(ctx, f.bucket, f.key, f.path); err != nil {
			return err
		}
		if info, err := os.Stat(f.path); err != nil || !info.Mode().IsRegular() {
			return errNotStaged
		}
		return nil
	})
}

// run invokes the validator and classifies how it ended.
func (h *Harness) run(ctx context.Context) *api.ValidationResults {
	command := []string{h.cfg.Validator}
	for _, f := range h.files {
		command = append(command, f.path)
	}

	results := &api.ValidationResults{
		ValidationID: h.cfg.ValidationID,
		Command:      strings.Join(command, " "),
	}

	h.logger.Info("running validator", "command", results.Command, "timeout", h.cfg.Timeout)
	start := time.Now()
	defer func() {
		results.DurationS = time.Since(start).Seconds()
	}()

	handle, err := h.runtime.Start(ctx, runtime.StartOptions{
		Command: command,
		Env:     map[string]string{"VALIDATION_ID": h.cfg.ValidationID},
		Timeout: h.cfg.Timeout,
	})
	if err != nil {
		h.abort(results, err)
		return results
	}

	res, err := handle.Wait(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		h.state = StateTimedOut
		results.Status = api.ValidatorTimedOut
		results.Stdout = ptr(string(res.Stdout))
		results.Stderr = ptr(string(res.Stderr))
		h.logger.Warn("validator timed out", "timeout", h.cfg.Timeout)
	case err != nil:
		h.abort(results, err)
	case res.Error != nil:
		h.abort(results, res.Error)
	default:
		h.state = StateCompleted
		results.Status = api.ValidatorCompleted
		results.ExitCode = ptr(res.ExitCode)
		results.Stdout = ptr(string(res.Stdout))
		results.Stderr = ptr(string(res.Stderr))
		h.logger.Info("validator completed", "exit_code", res.ExitCode)
	}
	return results
}

func (h *Harness) abort(results *api.ValidationResults, err error) {
	h.state = StateAborted
	results.Status = api.ValidatorAborted
	results.Exception = ptr(err.Error())
	h.logger.Error("validator aborted", "error", err)
}

func (h *Harness) cleanup() {
	if h.cfg.Keep {
		h.logger.Info("keeping staged files")
		return
	}
	for _, f := range h.files {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Error("failed to remove staged file", "path", f.path, "error", err)
			continue
		}
		h.logger.Debug("removed staged file", "path", f.path)
	}
	h.state = StateCleanedUp
}

func readVersion(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func ptr[T any](v T) *T {
	return &v
}
