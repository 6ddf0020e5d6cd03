package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"uploadplane/internal/daemon"
	"uploadplane/internal/logger"
	"uploadplane/internal/storage"
	"uploadplane/internal/store"
	"uploadplane/pkg/api"
)

// MaxPutFileSize bounds files stored through the API.
const MaxPutFileSize = 10 << 20

// uploadedFile heads name in area and returns its file record, creating the
// record for a version not seen before.
func (h *Handlers) uploadedFile(ctx context.Context, area *store.UploadArea, name string) (*store.File, *storage.Object, error) {
	key := area.ID.String() + "/" + name
	obj, err := h.objects.Head(ctx, area.BucketName, key)
	if err != nil {
		return nil, nil, fmt.Errorf("file %q: %w", name, err)
	}
	file, err := h.store.FindOrCreateFile(ctx, &store.File{
		UploadAreaID: area.ID,
		Name:         name,
		S3Key:        key,
		S3ETag:       obj.ETag,
		Size:         obj.Size,
	})
	if err != nil {
		return nil, nil, err
	}
	return file, obj, nil
}

// fileInfo describes a file, falling back to the object's checksum tags when
// the record has no checksums yet.
func (h *Handlers) fileInfo(ctx context.Context, area *store.UploadArea, name string) (api.FileInfo, error) {
	file, obj, err := h.uploadedFile(ctx, area, name)
	if err != nil {
		return api.FileInfo{}, err
	}
	if len(file.Checksums) == 0 {
		if sums, ok, err := h.tagger.Present(ctx, obj.Bucket, obj.Key); err == nil && ok {
			file.Checksums = sums
		}
	}
	return daemon.FileInfo(area, file, obj), nil
}

// FileInfo handles GET /v1/area/{area_id}/{filename}.
func (h *Handlers) FileInfo(w http.ResponseWriter, r *http.Request) {
	area, err := h.loadArea(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	info, err := h.fileInfo(r.Context(), area, r.PathValue("filename"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, info)
}

// FilesInfo handles PUT /v1/area/{area_id}/files_info with a JSON list of
// file names.
func (h *Handlers) FilesInfo(w http.ResponseWriter, r *http.Request) {
	area, err := h.loadArea(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var names []string
	if err := decodeJSON(r, &names); err != nil {
		h.fail(w, r, err)
		return
	}

	infos := make([]api.FileInfo, 0, len(names))
	for _, name := range names {
		info, err := h.fileInfo(r.Context(), area, name)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		infos = append(infos, info)
	}
	h.respondJson(w, http.StatusOK, infos)
}

// PutFile handles PUT /v1/area/{area_id}/{filename}, storing the request
// body as the file. Storage notifications take it from there.
func (h *Handlers) PutFile(w http.ResponseWriter, r *http.Request) {
	area, err := h.loadArea(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	name := r.PathValue("filename")
	if name == "" {
		h.fail(w, r, badRequest("missing file name"))
		return
	}

	body := http.MaxBytesReader(w, r.Body, MaxPutFileSize)
	key := area.ID.String() + "/" + name
	if err := h.objects.Put(r.Context(), area.BucketName, key, body, r.Header.Get("Content-Type")); err != nil {
		h.fail(w, r, err)
		return
	}

	info, err := h.fileInfo(r.Context(), area, name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, info)
}

// PostFile handles POST /v1/area/{area_id}/{filename}: it runs the checksum
// daemon for the file as if storage had notified about it.
func (h *Handlers) PostFile(w http.ResponseWriter, r *http.Request) {
	area, err := h.loadArea(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	name := r.PathValue("filename")
	rec := daemon.NewRecord(area.BucketName, area.ID.String()+"/"+url.PathEscape(name))

	ctx := context.WithoutCancel(r.Context())
	log := logger.FromContext(ctx, h.logger).With("upload_area_id", area.ID, "file_name", name)
	h.background(func() {
		decision, err := h.checksums.ProcessRecord(ctx, rec)
		if err != nil {
			log.Error("checksum daemon failed", "error", err)
			return
		}
		log.Info("checksum daemon ran", "decision", decision)
	})

	w.WriteHeader(http.StatusAccepted)
}

// checksumStatus is the newest checksum event of a file, per creation time.
func (h *Handlers) checksumStatus(ctx context.Context, file *store.File) (api.ChecksumStatusResponse, error) {
	events, err := h.store.ListChecksumEvents(ctx, file.ID)
	if err != nil {
		return api.ChecksumStatusResponse{}, err
	}
	resp := api.ChecksumStatusResponse{
		ChecksumStatus: string(store.ChecksumStatusUnscheduled),
		Checksums:      map[string]string{},
	}
	if latest := store.LatestChecksumEvent(events); latest != nil {
		resp.ChecksumStatus = string(latest.Status)
		if latest.Status == store.ChecksumStatusChecksummed {
			resp.Checksums = map[string]string(latest.Checksums)
		}
	}
	return resp, nil
}

// ChecksumStatus handles GET /v1/area/{area_id}/{filename}/checksum.
func (h *Handlers) ChecksumStatus(w http.ResponseWriter, r *http.Request) {
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
	resp, err := h.checksumStatus(r.Context(), file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if resp.Checksums == nil {
		resp.Checksums = map[string]string{}
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ChecksumCounts handles GET /v1/area/{area_id}/checksums.
func (h *Handlers) ChecksumCounts(w http.ResponseWriter, r *http.Request) {
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
	latest, err := h.store.LatestChecksumStatuses(r.Context(), area.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, store.CountStatuses(ids, latest, store.ChecksumUnscheduledKey))
}

// tagsPresent reports whether obj still carries checksum tags. An
// overwritten object loses them.
func (h *Handlers) tagsPresent(ctx context.Context, obj *storage.Object) bool {
	_, ok, err := h.tagger.Present(ctx, obj.Bucket, obj.Key)
	if err != nil {
		logger.FromContext(ctx, h.logger).Warn("failed to read checksum tags", "key", obj.Key, "error", err)
		return false
	}
	return ok
}
