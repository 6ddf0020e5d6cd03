package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"uploadplane/internal/store"
	"uploadplane/pkg/api"
)

func TestCreateArea(t *testing.T) {
	env := newTestEnv()
	id := uuid.New()

	for i := range 2 {
		rr := httptest.NewRecorder()
		env.h.CreateArea(rr, env.request(http.MethodPut, nil, map[string]string{"area_id": id.String()}))

		if rr.Code != http.StatusCreated {
			t.Fatalf("call %d: got status %d, want %d", i, rr.Code, http.StatusCreated)
		}
		var resp api.CreateAreaResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if want := "s3://" + testBucket + "/" + id.String() + "/"; resp.URI != want {
			t.Errorf("call %d: uri = %q, want %q", i, resp.URI, want)
		}
	}

	if env.store.areas[id].Status != store.AreaStatusUnlocked {
		t.Errorf("new area status = %s, want UNLOCKED", env.store.areas[id].Status)
	}
}

func TestCreateArea_Errors(t *testing.T) {
	tests := []struct {
		name           string
		areaID         string
		createErr      error
		expectedStatus int
	}{
		{"Invalid UUID", "not-a-uuid", nil, http.StatusBadRequest},
		{"Database Error", uuid.NewString(), errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.store.createAreaErr = tt.createErr

			rr := httptest.NewRecorder()
			env.h.CreateArea(rr, env.request(http.MethodPut, nil, map[string]string{"area_id": tt.areaID}))

			if rr.Code != tt.expectedStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.expectedStatus)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("got content type %q, want problem json", ct)
			}
		})
	}
}

func TestHeadArea(t *testing.T) {
	env := newTestEnv()

	rr := httptest.NewRecorder()
	env.h.HeadArea(rr, env.request(http.MethodHead, nil, nil))
	if rr.Code != http.StatusOK {
		t.Errorf("existing area: got status %d, want %d", rr.Code, http.StatusOK)
	}

	rr = httptest.NewRecorder()
	env.h.HeadArea(rr, env.request(http.MethodHead, nil, map[string]string{"area_id": uuid.NewString()}))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing area: got status %d, want %d", rr.Code, http.StatusNotFound)
	}
	var p api.Problem
	json.NewDecoder(rr.Body).Decode(&p)
	if p.Title != "Upload Area Not Found" {
		t.Errorf("problem title = %q", p.Title)
	}
}

func TestAreaStatusChanges(t *testing.T) {
	tests := []struct {
		name    string
		handler func(*Handlers) http.HandlerFunc
		code    int
		status  store.AreaStatus
	}{
		{"Delete", func(h *Handlers) http.HandlerFunc { return h.DeleteArea }, http.StatusAccepted, store.AreaStatusDeletionQueued},
		{"Lock", func(h *Handlers) http.HandlerFunc { return h.LockArea }, http.StatusNoContent, store.AreaStatusLocked},
		{"Unlock", func(h *Handlers) http.HandlerFunc { return h.UnlockArea }, http.StatusNoContent, store.AreaStatusUnlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()

			rr := httptest.NewRecorder()
			tt.handler(env.h)(rr, env.request(http.MethodPost, nil, nil))

			if rr.Code != tt.code {
				t.Errorf("got status %d, want %d", rr.Code, tt.code)
			}
			if len(env.store.updatedStatuses) != 1 || env.store.updatedStatuses[0] != tt.status {
				t.Errorf("updated statuses = %v, want [%s]", env.store.updatedStatuses, tt.status)
			}

			rr = httptest.NewRecorder()
			tt.handler(env.h)(rr, env.request(http.MethodPost, nil, map[string]string{"area_id": uuid.NewString()}))
			if rr.Code != http.StatusNotFound {
				t.Errorf("missing area: got status %d, want %d", rr.Code, http.StatusNotFound)
			}
		})
	}
}
