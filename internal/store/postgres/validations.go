package postgres

import (
	"context"
	"fmt"
	"time"

	"uploadplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const validationSelect = `
	SELECT v.id, v.job_id, v.status, v.results, v.docker_image, v.original_validation_id,
	       v.created_at, v.updated_at,
	       COALESCE(array_agg(vf.file_id ORDER BY vf.file_id) FILTER (WHERE vf.file_id IS NOT NULL), '{}')
	FROM validation v
	LEFT JOIN validation_files vf ON vf.validation_id = v.id
`

func scanValidationEvent(row interface{ Scan(...any) error }) (*store.ValidationEvent, error) {
	var e store.ValidationEvent
	var results []byte
	var fileIDs pq.Int64Array
	if err := row.Scan(
		&e.ID, &e.JobID, &e.Status, &results, &e.DockerImage, &e.OriginalValidationID,
		&e.CreatedAt, &e.UpdatedAt, &fileIDs,
	); err != nil {
		return nil, err
	}
	if len(results) > 0 {
		e.Results = results
	}
	e.FileIDs = []int64(fileIDs)
	return &e, nil
}

// CreateValidationEvent writes the event and its file links in one transaction.
func (s *Store) CreateValidationEvent(ctx context.Context, event *store.ValidationEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	var results any
	if len(event.Results) > 0 {
		results = []byte(event.Results)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO validation (id, job_id, status, results, docker_image, original_validation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, event.ID, event.JobID, event.Status, results, event.DockerImage, event.OriginalValidationID,
		event.CreatedAt, event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create validation event %s: %w", event.ID, mapError(err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO validation_files (validation_id, file_id)
		SELECT $1, unnest($2::bigint[])
	`, event.ID, pq.Array(event.FileIDs))
	if err != nil {
		return fmt.Errorf("link files to validation %s: %w", event.ID, mapError(err))
	}

	return tx.Commit()
}

func (s *Store) UpdateValidationEvent(ctx context.Context, event *store.ValidationEvent) error {
	var results any
	if len(event.Results) > 0 {
		results = []byte(event.Results)
	}
	event.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		"UPDATE validation SET job_id = $1, status = $2, results = $3, updated_at = $4 WHERE id = $5",
		event.JobID, event.Status, results, event.UpdatedAt, event.ID,
	)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetValidationEvent(ctx context.Context, id uuid.UUID) (*store.ValidationEvent, error) {
	query := validationSelect + " WHERE v.id = $1 GROUP BY v.id"

	e, err := scanValidationEvent(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

func (s *Store) LatestValidationEvent(ctx context.Context, fileID int64) (*store.ValidationEvent, error) {
	query := validationSelect + `
		WHERE v.id IN (SELECT validation_id FROM validation_files WHERE file_id = $1)
		GROUP BY v.id
		ORDER BY v.created_at DESC
		LIMIT 1
	`

	e, err := scanValidationEvent(s.db.QueryRowContext(ctx, query, fileID))
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

func (s *Store) LatestValidationStatuses(ctx context.Context, areaID uuid.UUID) (map[int64]store.ValidationStatus, error) {
	query := `
		SELECT DISTINCT ON (vf.file_id) vf.file_id, v.status
		FROM validation_files vf
		JOIN validation v ON v.id = vf.validation_id
		JOIN file f ON f.id = vf.file_id
		WHERE f.upload_area_id = $1
		ORDER BY vf.file_id, v.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, areaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statuses := make(map[int64]store.ValidationStatus)
	for rows.Next() {
		var fileID int64
		var status store.ValidationStatus
		if err := rows.Scan(&fileID, &status); err != nil {
			return nil, err
		}
		statuses[fileID] = status
	}
	return statuses, rows.Err()
}
