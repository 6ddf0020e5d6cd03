package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/google/uuid"

	"uploadplane/internal/daemon"
	"uploadplane/internal/ingest"
	"uploadplane/internal/storage"
	"uploadplane/internal/store"
)

// Mock transaction
type mockTx struct {
	committed bool
}

func (m *mockTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (m *mockTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (m *mockTx) Commit() error {
	m.committed = true
	return nil
}

func (m *mockTx) Rollback() error { return nil }

// Mock Store
type mockStore struct {
	pingErr error

	// Area Hooks
	areas           map[uuid.UUID]*store.UploadArea
	createAreaErr   error
	updatedStatuses []store.AreaStatus

	// File Hooks
	files        []store.File
	fileIDs      []int64
	savedSums    map[int64]store.Checksums
	findFileErr  error
	listFilesErr error

	// Event Hooks
	checksumEvents       map[uuid.UUID]*store.ChecksumEvent
	checksumEventsByFile map[int64][]store.ChecksumEvent
	updatedChecksum      []store.ChecksumEvent
	latestChecksum       map[int64]store.ChecksumStatus
	validationEvents     map[uuid.UUID]*store.ValidationEvent
	latestValidation     map[int64]*store.ValidationEvent
	updatedValidation    []store.ValidationEvent
	latestValidations    map[int64]store.ValidationStatus

	tx *mockTx
}

func newMockStore() *mockStore {
	return &mockStore{
		areas:                map[uuid.UUID]*store.UploadArea{},
		savedSums:            map[int64]store.Checksums{},
		checksumEvents:       map[uuid.UUID]*store.ChecksumEvent{},
		checksumEventsByFile: map[int64][]store.ChecksumEvent{},
		validationEvents:     map[uuid.UUID]*store.ValidationEvent{},
		latestValidation:     map[int64]*store.ValidationEvent{},
	}
}

func (m *mockStore) BeginTx(ctx context.Context) (store.Tx, error) {
	m.tx = &mockTx{}
	return m.tx, nil
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) CreateArea(ctx context.Context, area *store.UploadArea) error {
	if m.createAreaErr != nil {
		return m.createAreaErr
	}
	if _, ok := m.areas[area.ID]; ok {
		return store.ErrConflict
	}
	a := *area
	m.areas[area.ID] = &a
	return nil
}

func (m *mockStore) GetArea(ctx context.Context, id uuid.UUID) (*store.UploadArea, error) {
	a, ok := m.areas[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (m *mockStore) UpdateAreaStatus(ctx context.Context, id uuid.UUID, status store.AreaStatus) error {
	m.updatedStatuses = append(m.updatedStatuses, status)
	return nil
}

func (m *mockStore) FindOrCreateFile(ctx context.Context, file *store.File) (*store.File, error) {
	if m.findFileErr != nil {
		return nil, m.findFileErr
	}
	for _, f := range m.files {
		if f.S3Key == file.S3Key && f.S3ETag == file.S3ETag {
			return &f, nil
		}
	}
	f := *file
	f.ID = int64(len(m.files) + 1)
	m.files = append(m.files, f)
	return &f, nil
}

func (m *mockStore) GetFileByID(ctx context.Context, id int64) (*store.File, error) {
	for _, f := range m.files {
		if f.ID == id {
			return &f, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) ListFileIDsByArea(ctx context.Context, areaID uuid.UUID) ([]int64, error) {
	return m.fileIDs, m.listFilesErr
}

func (m *mockStore) UpdateFileChecksums(ctx context.Context, tx store.DBTransaction, fileID int64, checksums store.Checksums) error {
	m.savedSums[fileID] = checksums
	return nil
}

func (m *mockStore) CreateChecksumEvent(ctx context.Context, event *store.ChecksumEvent) error {
	m.checksumEvents[event.ID] = event
	return nil
}

func (m *mockStore) UpdateChecksumEvent(ctx context.Context, tx store.DBTransaction, event *store.ChecksumEvent) error {
	m.updatedChecksum = append(m.updatedChecksum, *event)
	return nil
}

func (m *mockStore) GetChecksumEvent(ctx context.Context, id uuid.UUID) (*store.ChecksumEvent, error) {
	e, ok := m.checksumEvents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *e
	return &out, nil
}

func (m *mockStore) DeleteChecksumEvent(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.checksumEvents[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.checksumEvents, id)
	return nil
}

func (m *mockStore) MarkChecksumScheduled(ctx context.Context, id uuid.UUID, jobID string) (bool, error) {
	e, ok := m.checksumEvents[id]
	if !ok || e.Status != store.ChecksumStatusChecksumming {
		return false, nil
	}
	e.JobID = &jobID
	e.Status = store.ChecksumStatusScheduled
	return true, nil
}

func (m *mockStore) ListChecksumEvents(ctx context.Context, fileID int64) ([]store.ChecksumEvent, error) {
	return m.checksumEventsByFile[fileID], nil
}

func (m *mockStore) LatestChecksumStatuses(ctx context.Context, areaID uuid.UUID) (map[int64]store.ChecksumStatus, error) {
	return m.latestChecksum, nil
}

func (m *mockStore) CreateValidationEvent(ctx context.Context, event *store.ValidationEvent) error {
	m.validationEvents[event.ID] = event
	return nil
}

func (m *mockStore) UpdateValidationEvent(ctx context.Context, event *store.ValidationEvent) error {
	m.updatedValidation = append(m.updatedValidation, *event)
	return nil
}

func (m *mockStore) GetValidationEvent(ctx context.Context, id uuid.UUID) (*store.ValidationEvent, error) {
	e, ok := m.validationEvents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *e
	return &out, nil
}

func (m *mockStore) LatestValidationEvent(ctx context.Context, fileID int64) (*store.ValidationEvent, error) {
	e, ok := m.latestValidation[fileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e, nil
}

func (m *mockStore) LatestValidationStatuses(ctx context.Context, areaID uuid.UUID) (map[int64]store.ValidationStatus, error) {
	return m.latestValidations, nil
}

type mockObject struct {
	body        []byte
	contentType string
	tags        map[string]string
}

// Mock object storage
type mockObjects struct {
	objects map[string]*mockObject
	putErr  error
}

func newMockObjects() *mockObjects {
	return &mockObjects{objects: map[string]*mockObject{}}
}

func (m *mockObjects) Head(ctx context.Context, bucket, key string) (*storage.Object, error) {
	o, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Object{
		Bucket:       bucket,
		Key:          key,
		ETag:         "etag-" + string(o.body),
		Size:         int64(len(o.body)),
		ContentType:  o.contentType,
		LastModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (m *mockObjects) Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[bucket+"/"+key] = &mockObject{body: data, contentType: contentType}
	return nil
}

func (m *mockObjects) GetTags(ctx context.Context, bucket, key string) (map[string]string, error) {
	o, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return maps.Clone(o.tags), nil
}

func (m *mockObjects) PutTags(ctx context.Context, bucket, key string, tags map[string]string) error {
	o, ok := m.objects[bucket+"/"+key]
	if !ok {
		return storage.ErrNotFound
	}
	o.tags = maps.Clone(tags)
	return nil
}

type scheduledValidation struct {
	area     *store.UploadArea
	files    []store.File
	image    string
	env      map[string]string
	original *uuid.UUID
}

// Mock validation scheduler
type mockValidations struct {
	calls []scheduledValidation
	id    uuid.UUID
	err   error
}

func (m *mockValidations) Schedule(ctx context.Context, area *store.UploadArea, files []store.File, image string, env map[string]string, original *uuid.UUID) (uuid.UUID, error) {
	m.calls = append(m.calls, scheduledValidation{area, files, image, env, original})
	return m.id, m.err
}

// Mock checksum daemon
type mockProcessor struct {
	mu      sync.Mutex
	records []daemon.Record
}

func (m *mockProcessor) ProcessRecord(ctx context.Context, rec daemon.Record) (daemon.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return daemon.DecisionChecksumInline, nil
}

type sentNotification struct {
	kind    ingest.Kind
	fileID  int64
	payload any
}

// Mock ingest notifier
type mockNotifier struct {
	sent []sentNotification
}

func (m *mockNotifier) Notify(ctx context.Context, kind ingest.Kind, fileID int64, payload any) error {
	m.sent = append(m.sent, sentNotification{kind, fileID, payload})
	return nil
}

const testBucket = "upload-bucket"

type testEnv struct {
	h           *Handlers
	store       *mockStore
	objects     *mockObjects
	validations *mockValidations
	processor   *mockProcessor
	notifier    *mockNotifier
	area        *store.UploadArea
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:       newMockStore(),
		objects:     newMockObjects(),
		validations: &mockValidations{id: uuid.New()},
		processor:   &mockProcessor{},
		notifier:    &mockNotifier{},
		area:        &store.UploadArea{ID: uuid.New(), BucketName: testBucket, Status: store.AreaStatusUnlocked},
	}
	env.store.areas[env.area.ID] = env.area
	env.h = New(Dependencies{
		Store:       env.store,
		Objects:     env.objects,
		Validations: env.validations,
		Checksums:   env.processor,
		Notifier:    env.notifier,
		Bucket:      testBucket,
	})
	env.h.background = func(fn func()) { fn() }
	return env
}

// upload puts a file into the test area.
func (e *testEnv) upload(name, body string) {
	e.objects.objects[testBucket+"/"+e.area.ID.String()+"/"+name] = &mockObject{
		body:        []byte(body),
		contentType: "text/plain; dcp-type=data",
	}
}

// request builds a request with the path values the router would set.
func (e *testEnv) request(method string, body any, values map[string]string) *http.Request {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, "/", reader)
	if _, ok := values["area_id"]; !ok {
		req.SetPathValue("area_id", e.area.ID.String())
	}
	for k, v := range values {
		req.SetPathValue(k, v)
	}
	return req
}
