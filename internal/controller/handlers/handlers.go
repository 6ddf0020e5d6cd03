// Package handlers contains HTTP handlers for the upload API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"uploadplane/internal/checksum"
	"uploadplane/internal/controller/middleware"
	"uploadplane/internal/daemon"
	"uploadplane/internal/ingest"
	"uploadplane/internal/logger"
	"uploadplane/internal/storage"
	"uploadplane/internal/store"
	"uploadplane/internal/validation"
)

// StoreFactory combines the interfaces needed for the API to function.
type StoreFactory interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	Ping(ctx context.Context) error
	store.AreaStore
	store.FileStore
	store.ChecksumEventStore
	store.ValidationEventStore
}

// Objects is the object storage behind upload areas.
type Objects interface {
	Head(ctx context.Context, bucket, key string) (*storage.Object, error)
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
	checksum.TagStore
}

// ValidationScheduler submits validation jobs.
type ValidationScheduler interface {
	Schedule(ctx context.Context, area *store.UploadArea, files []store.File, image string, env map[string]string, originalValidationID *uuid.UUID) (uuid.UUID, error)
}

// RecordProcessor runs the checksum daemon for one storage record.
type RecordProcessor interface {
	ProcessRecord(ctx context.Context, rec daemon.Record) (daemon.Decision, error)
}

// Dependencies are the collaborators of the handlers.
type Dependencies struct {
	Store       StoreFactory
	Objects     Objects
	Validations ValidationScheduler
	Checksums   RecordProcessor
	Notifier    ingest.Notifier

	// Bucket is used for areas created before bucket names were recorded.
	Bucket string
	Logger *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store       StoreFactory
	objects     Objects
	tagger      *checksum.Tagger
	validations ValidationScheduler
	checksums   RecordProcessor
	notifier    ingest.Notifier
	bucket      string
	logger      *slog.Logger

	// background runs fire-and-forget work; tests replace it to wait.
	background func(func())
}

// New creates a new Handlers instance.
func New(deps Dependencies) *Handlers {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handlers{
		store:       deps.Store,
		objects:     deps.Objects,
		tagger:      checksum.NewTagger(deps.Objects),
		validations: deps.Validations,
		checksums:   deps.Checksums,
		notifier:    deps.Notifier,
		bucket:      deps.Bucket,
		logger:      log,
		background:  func(fn func()) { go fn() },
	}
}

// errBadRequest marks client input errors.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// fail maps err to a problem response.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errAreaNotFound):
		middleware.WriteProblem(w, http.StatusNotFound, "Upload Area Not Found", "")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		middleware.WriteProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, store.ErrConflict):
		middleware.WriteProblem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, validation.ErrFileTooLarge):
		middleware.WriteProblem(w, http.StatusBadRequest, validation.ErrFileTooLarge.Error(), "")
	case errors.Is(err, errBadRequest):
		middleware.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		logger.FromContext(r.Context(), h.logger).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		middleware.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "")
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}
