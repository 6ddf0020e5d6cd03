// Package controller contains the HTTP API server.
package controller

import (
	"context"
	"net/http"
	"time"

	"uploadplane/internal/auth"
	"uploadplane/internal/controller/handlers"
	"uploadplane/internal/controller/middleware"
)

// Options configures authentication and limits of the API.
type Options struct {
	APIKeys        []string
	InternalKey    string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server is the HTTP server for the upload API.
type Server struct {
	httpServer *http.Server
}

// New creates a new API server.
func New(addr string, deps handlers.Dependencies, opts Options, metricsHandler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(deps, opts, metricsHandler),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// NewHandler builds the routed handler of the API.
func NewHandler(deps handlers.Dependencies, opts Options, metricsHandler http.Handler) http.Handler {
	h := handlers.New(deps)

	apiKey := middleware.RequireAPIKey(auth.NewKeySet(opts.APIKeys))
	limit := middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst).Middleware()
	public := func(fn http.HandlerFunc) http.Handler {
		return apiKey(limit(fn))
	}
	internal := func(fn http.HandlerFunc) http.Handler {
		return middleware.RequireInternalAuth(opts.InternalKey)(fn)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Areas
	mux.Handle("PUT /v1/area/{area_id}", public(h.CreateArea))
	mux.HandleFunc("HEAD /v1/area/{area_id}", h.HeadArea)
	mux.Handle("DELETE /v1/area/{area_id}", public(h.DeleteArea))
	mux.Handle("POST /v1/area/{area_id}/lock", public(h.LockArea))
	mux.Handle("DELETE /v1/area/{area_id}/lock", public(h.UnlockArea))

	// Area-wide status and validation
	mux.HandleFunc("GET /v1/area/{area_id}/checksums", h.ChecksumCounts)
	mux.HandleFunc("GET /v1/area/{area_id}/validations", h.ValidationCounts)
	mux.Handle("POST /v1/area/{area_id}/validate", public(h.ScheduleValidation))
	mux.Handle("PUT /v1/area/{area_id}/validate", public(h.ScheduleValidation))
	mux.HandleFunc("PUT /v1/area/{area_id}/files_info", h.FilesInfo)

	// Files
	mux.HandleFunc("GET /v1/area/{area_id}/{filename}", h.FileInfo)
	mux.Handle("PUT /v1/area/{area_id}/{filename}", public(h.PutFile))
	mux.HandleFunc("POST /v1/area/{area_id}/{filename}", h.PostFile)
	mux.HandleFunc("GET /v1/area/{area_id}/{filename}/checksum", h.ChecksumStatus)
	mux.HandleFunc("GET /v1/area/{area_id}/{filename}/validate", h.ValidationStatus)
	mux.Handle("PUT /v1/area/{area_id}/{filename}/validate", public(h.ScheduleFileValidation))

	// "POST {filename}/validate" and "POST update_checksum/{event_id}" overlap,
	// so both are dispatched from one pattern.
	mux.Handle("POST /v1/area/{area_id}/{segment}/{action}", &postDispatcher{
		updateChecksum:   internal(h.UpdateChecksumEvent),
		updateValidation: internal(h.UpdateValidationEvent),
		validateFile:     public(h.ScheduleFileValidation),
	})

	return middleware.RequestID(mux)
}

type postDispatcher struct {
	updateChecksum   http.Handler
	updateValidation http.Handler
	validateFile     http.Handler
}

func (d *postDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	segment, action := r.PathValue("segment"), r.PathValue("action")
	switch {
	case segment == "update_checksum":
		r.SetPathValue("event_id", action)
		d.updateChecksum.ServeHTTP(w, r)
	case segment == "update_validation":
		r.SetPathValue("event_id", action)
		d.updateValidation.ServeHTTP(w, r)
	case action == "validate":
		r.SetPathValue("filename", segment)
		d.validateFile.ServeHTTP(w, r)
	default:
		middleware.WriteProblem(w, http.StatusNotFound, "Not Found", "")
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
