package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"uploadplane/internal/store"
	"uploadplane/internal/validation"
	"uploadplane/pkg/api"
)

// ScheduleFileValidation handles POST|PUT /v1/area/{area_id}/{filename}/validate.
func (h *Handlers) ScheduleFileValidation(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.scheduleValidation(w, r, req, []string{r.PathValue("filename")})
}

// ScheduleValidation handles POST|PUT /v1/area/{area_id}/validate, validating
// every file listed in the body with one job.
func (h *Handlers) ScheduleValidation(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if len(req.Files) == 0 {
		h.fail(w, r, badRequest("files is required"))
		return
	}

	names := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		name, err := url.PathUnescape(f)
		if err != nil {
			h.fail(w, r, badRequest("invalid file name %q", f))
			return
		}
		names = append(names, name)
	}
	h.scheduleValidation(w, r, req, names)
}

func (h *Handlers) scheduleValidation(w http.ResponseWriter, r *http.Request, req api.ValidateRequest, names []string) {
	if req.ValidatorImage == "" {
		h.fail(w, r, badRequest("validator_image is required"))
		return
	}

	var original *uuid.UUID
	if req.OriginalValidationID != "" {
		id, err := uuid.Parse(req.OriginalValidationID)
		if err != nil {
			h.fail(w, r, badRequest("invalid original_validation_id %q", req.OriginalValidationID))
			return
		}
		original = &id
	}

	area, err := h.loadArea(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	files := make([]store.File, 0, len(names))
	for _, name := range names {
		file, _, err := h.uploadedFile(r.Context(), area, name)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		files = append(files, *file)
	}
	if !validation.CheckFilesCanBeValidated(files) {
		h.fail(w, r, validation.ErrFileTooLarge)
		return
	}

	id, err := h.validations.Schedule(r.Context(), area, files, req.ValidatorImage, req.Environment, original)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.ValidateResponse{ValidationID: id.String()})
}

// ValidationStatus handles GET /v1/area/{area_id}/{filename}/validate.
func (h *Handlers) ValidationStatus(w http.ResponseWriter, r *http.Request) {
	area, err := h.loadArea(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	file, _, err := h.uploadedFile(r.Context(), area, r.PathValue("filename"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.ValidationStatusResponse{
		ValidationStatus:  string(store.ValidationStatusUnscheduled),
		ValidationResults: json.RawMessage("null"),
	}
	event, err := h.store.LatestValidationEvent(r.Context(), file.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		h.fail(w, r, err)
		return
	default:
		resp.ValidationStatus = string(event.Status)
		if len(event.Results) > 0 {
			resp.ValidationResults = event.Results
		}
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ValidationCounts handles GET /v1/area/{area_id}/validations.
func (h *Handlers) ValidationCounts(w http.ResponseWriter, r *http.Request) {
	area, err := h.loadArea(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids, err := h.store.ListFileIDsByArea(r.Context(), area.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	latest, err := h.store.LatestValidationStatuses(r.Context(), area.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, store.CountStatuses(ids, latest, store.ValidationUnscheduledKey))
}
