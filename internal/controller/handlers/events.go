package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"uploadplane/internal/daemon"
	"uploadplane/internal/ingest"
	"uploadplane/internal/logger"
	"uploadplane/internal/store"
	"uploadplane/pkg/api"
)

// Internal endpoints, called by the checksummer and validator batch jobs.

func parseEventUpdate(r *http.Request) (uuid.UUID, *api.UpdateEventRequest, error) {
	id, err := uuid.Parse(r.PathValue("event_id"))
	if err != nil {
		return uuid.Nil, nil, badRequest("invalid event id %q", r.PathValue("event_id"))
	}
	var req api.UpdateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		return uuid.Nil, nil, err
	}
	return id, &req, nil
}

func jobIDPtr(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// UpdateChecksumEvent handles POST /v1/area/{area_id}/update_checksum/{event_id}.
// On CHECKSUMMED the file's checksums are stored and ingest is notified,
// unless the object lost its checksum tags to a newer upload.
func (h *Handlers) UpdateChecksumEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	area, err := h.loadArea(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, req, err := parseEventUpdate(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := store.ChecksumStatus(req.Status)
	switch status {
	case store.ChecksumStatusScheduled, store.ChecksumStatusChecksumming, store.ChecksumStatusChecksummed:
	default:
		h.fail(w, r, badRequest("invalid checksum status %q", req.Status))
		return
	}

	event, err := h.store.GetChecksumEvent(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	event.Status = status
	if jobID := jobIDPtr(req.JobID); jobID != nil {
		event.JobID = jobID
	}

	if status != store.ChecksumStatusChecksummed {
		if err := h.store.UpdateChecksumEvent(ctx, nil, event); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var payload api.ChecksumPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		h.fail(w, r, badRequest("invalid checksum payload: %v", err))
		return
	}
	event.Checksums = store.Checksums(payload.Checksums)

	if err := h.completeChecksum(ctx, event); err != nil {
		h.fail(w, r, err)
		return
	}

	h.notifyChecksummed(ctx, area, event)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) completeChecksum(ctx context.Context, event *store.ChecksumEvent) error {
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := h.store.UpdateChecksumEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := h.store.UpdateFileChecksums(ctx, tx, event.FileID, event.Checksums); err != nil {
		return err
	}
	return tx.Commit()
}

func (h *Handlers) notifyChecksummed(ctx context.Context, area *store.UploadArea, event *store.ChecksumEvent) {
	log := logger.FromContext(ctx, h.logger).With("checksum_id", event.ID, "file_id", event.FileID)

	file, err := h.store.GetFileByID(ctx, event.FileID)
	if err != nil {
		log.Error("failed to load checksummed file", "error", err)
		return
	}
	obj, err := h.objects.Head(ctx, area.BucketName, file.S3Key)
	if err != nil {
		log.Error("failed to head checksummed file", "error", err)
		return
	}
	if !h.tagsPresent(ctx, obj) {
		log.Info("checksum tags gone, file was overwritten; not notifying ingest")
		return
	}

	file.Checksums = event.Checksums
	if err := h.notifier.Notify(ctx, ingest.FileUploaded, file.ID, daemon.FileInfo(area, file, obj)); err != nil {
		log.Error("failed to notify ingest", "error", err)
	}
}

// UpdateValidationEvent handles POST /v1/area/{area_id}/update_validation/{event_id}.
// On VALIDATED the results are stored and ingest is notified once per file.
func (h *Handlers) UpdateValidationEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.loadArea(r); err != nil {
		h.fail(w, r, err)
		return
	}
	id, req, err := parseEventUpdate(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := store.ValidationStatus(req.Status)
	switch status {
	case store.ValidationStatusScheduled, store.ValidationStatusValidating, store.ValidationStatusValidated:
	default:
		h.fail(w, r, badRequest("invalid validation status %q", req.Status))
		return
	}

	event, err := h.store.GetValidationEvent(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	event.Status = status
	if jobID := jobIDPtr(req.JobID); jobID != nil {
		event.JobID = jobID
	}
	if status == store.ValidationStatusValidated {
		event.Results = req.Payload
	}

	if err := h.store.UpdateValidationEvent(ctx, event); err != nil {
		h.fail(w, r, err)
		return
	}

	if status == store.ValidationStatusValidated {
		log := logger.FromContext(ctx, h.logger).With("validation_id", event.ID)
		for _, fileID := range event.FileIDs {
			if err := h.notifier.Notify(ctx, ingest.FileValidated, fileID, req.Payload); err != nil {
				log.Error("failed to notify ingest", "file_id", fileID, "error", err)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
