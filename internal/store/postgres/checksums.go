package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"uploadplane/internal/store"

	"github.com/google/uuid"
)

const checksumColumns = "id, file_id, job_id, status, checksums, created_at, updated_at"

func scanChecksumEvent(row interface{ Scan(...any) error }) (*store.ChecksumEvent, error) {
	var e store.ChecksumEvent
	var checksums []byte
	if err := row.Scan(&e.ID, &e.FileID, &e.JobID, &e.Status, &checksums, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if len(checksums) > 0 {
		if err := json.Unmarshal(checksums, &e.Checksums); err != nil {
			return nil, fmt.Errorf("decode checksums of event %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func (s *Store) CreateChecksumEvent(ctx context.Context, event *store.ChecksumEvent) error {
	checksums, err := json.Marshal(nonNilChecksums(event.Checksums))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	query := `
		INSERT INTO checksum (id, file_id, job_id, status, checksums, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.FileID, event.JobID, event.Status, checksums, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create checksum event %s: %w", event.ID, mapError(err))
	}
	return nil
}

// UpdateChecksumEvent persists status, job id and checksums and bumps updated_at,
// which is what makes the event fresh relative to the object.
func (s *Store) UpdateChecksumEvent(ctx context.Context, tx store.DBTransaction, event *store.ChecksumEvent) error {
	executor := s.getExecutor(tx)

	checksums, err := json.Marshal(nonNilChecksums(event.Checksums))
	if err != nil {
		return err
	}
	event.UpdatedAt = time.Now().UTC()

	res, err := executor.ExecContext(ctx,
		"UPDATE checksum SET job_id = $1, status = $2, checksums = $3, updated_at = $4 WHERE id = $5",
		event.JobID, event.Status, checksums, event.UpdatedAt, event.ID,
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

func (s *Store) MarkChecksumScheduled(ctx context.Context, id uuid.UUID, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE checksum SET job_id = $1, status = $2, updated_at = $3 WHERE id = $4 AND status = $5",
		jobID, store.ChecksumStatusScheduled, time.Now().UTC(), id, store.ChecksumStatusChecksumming,
	)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) DeleteChecksumEvent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM checksum WHERE id = $1", id)
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

func (s *Store) GetChecksumEvent(ctx context.Context, id uuid.UUID) (*store.ChecksumEvent, error) {
	query := "SELECT " + checksumColumns + " FROM checksum WHERE id = $1"

	e, err := scanChecksumEvent(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

func (s *Store) ListChecksumEvents(ctx context.Context, fileID int64) ([]store.ChecksumEvent, error) {
	query := "SELECT " + checksumColumns + " FROM checksum WHERE file_id = $1 ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.ChecksumEvent
	for rows.Next() {
		e, err := scanChecksumEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (s *Store) LatestChecksumStatuses(ctx context.Context, areaID uuid.UUID) (map[int64]store.ChecksumStatus, error) {
	query := `
		SELECT DISTINCT ON (c.file_id) c.file_id, c.status
		FROM checksum c
		JOIN file f ON f.id = c.file_id
		WHERE f.upload_area_id = $1
		ORDER BY c.file_id, c.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, areaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statuses := make(map[int64]store.ChecksumStatus)
	for rows.Next() {
		var fileID int64
		var status store.ChecksumStatus
		if err := rows.Scan(&fileID, &status); err != nil {
			return nil, err
		}
		statuses[fileID] = status
	}
	return statuses, rows.Err()
}
