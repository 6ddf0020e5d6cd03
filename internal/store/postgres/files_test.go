package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"uploadplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

var fileRowColumns = []string{"id", "upload_area_id", "name", "s3_key", "s3_etag", "size", "checksums", "created_at", "updated_at"}

func TestFindOrCreateFile(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	areaID := uuid.New()
	now := time.Now().UTC()
	key := areaID.String() + "/reads.fastq.gz"

	mock.ExpectQuery(`INSERT INTO file .* ON CONFLICT \(s3_key, s3_etag\) DO UPDATE`).
		WithArgs(areaID, "reads.fastq.gz", key, "abc123", int64(42), []byte(`{}`), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(fileRowColumns).
			AddRow(int64(7), areaID.String(), "reads.fastq.gz", key, "abc123", int64(42), []byte(`{"sha1":"aa"}`), now, now))

	f, err := s.FindOrCreateFile(context.Background(), &store.File{
		UploadAreaID: areaID,
		Name:         "reads.fastq.gz",
		S3Key:        key,
		S3ETag:       "abc123",
		Size:         42,
	})
	if err != nil {
		t.Fatalf("FindOrCreateFile failed: %v", err)
	}
	if f.ID != 7 {
		t.Errorf("got ID %d, want 7", f.ID)
	}
	if f.Checksums["sha1"] != "aa" {
		t.Errorf("expected decoded checksums, got %v", f.Checksums)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetFileByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT .* FROM file WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(fileRowColumns))

	_, err := s.GetFileByID(context.Background(), 99)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListFileIDsByArea(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	areaID := uuid.New()
	mock.ExpectQuery(`SELECT DISTINCT ON \(s3_key\) id`).
		WithArgs(areaID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(3)))

	ids, err := s.ListFileIDsByArea(context.Background(), areaID)
	if err != nil {
		t.Fatalf("ListFileIDsByArea failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestUpdateFileChecksums_UsesTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE file SET checksums = \$1`).
		WithArgs([]byte(`{"sha1":"aa"}`), sqlmock.AnyArg(), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := s.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}
	if err := s.UpdateFileChecksums(ctx, tx, 5, store.Checksums{"sha1": "aa"}); err != nil {
		t.Fatalf("UpdateFileChecksums failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
