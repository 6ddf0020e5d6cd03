package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"uploadplane/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestJobDefinitions_RoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	ctx := context.Background()
	def := &store.JobDefinition{Name: "upload-dev-abc", Handle: "upload-dev-abc", Image: "checksummer:1"}

	mock.ExpectExec(`INSERT INTO job_definition`).
		WithArgs("upload-dev-abc", "upload-dev-abc", "checksummer:1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT name, handle, image, created_at FROM job_definition ORDER BY name`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "handle", "image", "created_at"}).
			AddRow("upload-dev-abc", "upload-dev-abc", "checksummer:1", time.Now()))
	mock.ExpectExec(`DELETE FROM job_definition WHERE name = \$1`).
		WithArgs("upload-dev-abc").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CreateJobDefinition(ctx, def); err != nil {
		t.Fatalf("CreateJobDefinition failed: %v", err)
	}
	defs, err := s.ListJobDefinitions(ctx)
	if err != nil || len(defs) != 1 {
		t.Fatalf("ListJobDefinitions: %v %v", defs, err)
	}
	if err := s.DeleteJobDefinition(ctx, def.Name); err != nil {
		t.Fatalf("DeleteJobDefinition failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetJobDefinition_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`FROM job_definition WHERE name = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"name", "handle", "image", "created_at"}))

	_, err := s.GetJobDefinition(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
