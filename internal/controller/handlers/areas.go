package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"uploadplane/internal/storage"
	"uploadplane/internal/store"
	"uploadplane/pkg/api"
)

var errAreaNotFound = errors.New("upload area not found")

// loadArea resolves the {area_id} path value.
func (h *Handlers) loadArea(r *http.Request) (*store.UploadArea, error) {
	id, err := uuid.Parse(r.PathValue("area_id"))
	if err != nil {
		return nil, badRequest("invalid upload area id %q", r.PathValue("area_id"))
	}
	area, err := h.store.GetArea(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errAreaNotFound
	}
	if err != nil {
		return nil, err
	}
	if area.BucketName == "" {
		area.BucketName = h.bucket
	}
	return area, nil
}

func (h *Handlers) areaURI(area *store.UploadArea) string {
	return storage.FormatURL(area.BucketName, area.ID.String()+"/")
}

// CreateArea handles PUT /v1/area/{area_id}. Creating an existing area
// succeeds and returns the same URI.
func (h *Handlers) CreateArea(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("area_id"))
	if err != nil {
		h.fail(w, r, badRequest("invalid upload area id %q", r.PathValue("area_id")))
		return
	}

	area := &store.UploadArea{ID: id, BucketName: h.bucket, Status: store.AreaStatusUnlocked}
	err = h.store.CreateArea(r.Context(), area)
	if errors.Is(err, store.ErrConflict) {
		area, err = h.store.GetArea(r.Context(), id)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if area.BucketName == "" {
		area.BucketName = h.bucket
	}

	h.respondJson(w, http.StatusCreated, api.CreateAreaResponse{URI: h.areaURI(area)})
}

// HeadArea handles HEAD /v1/area/{area_id}.
func (h *Handlers) HeadArea(w http.ResponseWriter, r *http.Request) {
	if _, err := h.loadArea(r); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DeleteArea handles DELETE /v1/area/{area_id}. The area is queued for
// deletion; removing its objects happens elsewhere.
func (h *Handlers) DeleteArea(w http.ResponseWriter, r *http.Request) {
	h.setAreaStatus(w, r, store.AreaStatusDeletionQueued, http.StatusAccepted)
}

// LockArea handles POST /v1/area/{area_id}/lock.
func (h *Handlers) LockArea(w http.ResponseWriter, r *http.Request) {
	h.setAreaStatus(w, r, store.AreaStatusLocked, http.StatusNoContent)
}

// UnlockArea handles DELETE /v1/area/{area_id}/lock.
func (h *Handlers) UnlockArea(w http.ResponseWriter, r *http.Request) {
	h.setAreaStatus(w, r, store.AreaStatusUnlocked, http.StatusNoContent)
}

func (h *Handlers) setAreaStatus(w http.ResponseWriter, r *http.Request, status store.AreaStatus, code int) {
	area, err := h.loadArea(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.UpdateAreaStatus(r.Context(), area.ID, status); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(code)
}
