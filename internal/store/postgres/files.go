package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"uploadplane/internal/store"

	"github.com/google/uuid"
)

const fileColumns = "id, upload_area_id, name, s3_key, s3_etag, size, checksums, created_at, updated_at"

func scanFile(row interface{ Scan(...any) error }) (*store.File, error) {
	var f store.File
	var checksums []byte
	if err := row.Scan(
		&f.ID, &f.UploadAreaID, &f.Name, &f.S3Key, &f.S3ETag, &f.Size,
		&checksums, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(checksums) > 0 {
		if err := json.Unmarshal(checksums, &f.Checksums); err != nil {
			return nil, fmt.Errorf("decode checksums of file %d: %w", f.ID, err)
		}
	}
	return &f, nil
}

// FindOrCreateFile relies on the (s3_key, s3_etag) unique constraint, so
// concurrent callers for the same object version converge on one row.
func (s *Store) FindOrCreateFile(ctx context.Context, file *store.File) (*store.File, error) {
	checksums, err := json.Marshal(nonNilChecksums(file.Checksums))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO file (upload_area_id, name, s3_key, s3_etag, size, checksums, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (s3_key, s3_etag) DO UPDATE SET size = EXCLUDED.size
		RETURNING ` + fileColumns

	f, err := scanFile(s.db.QueryRowContext(ctx, query,
		file.UploadAreaID, file.Name, file.S3Key, file.S3ETag, file.Size, checksums, now,
	))
	if err != nil {
		return nil, fmt.Errorf("find or create file %s: %w", file.S3Key, mapError(err))
	}
	return f, nil
}

func (s *Store) GetFileByID(ctx context.Context, id int64) (*store.File, error) {
	query := "SELECT " + fileColumns + " FROM file WHERE id = $1"

	f, err := scanFile(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return f, nil
}

func (s *Store) ListFileIDsByArea(ctx context.Context, areaID uuid.UUID) ([]int64, error) {
	query := `
		SELECT DISTINCT ON (s3_key) id
		FROM file
		WHERE upload_area_id = $1
		ORDER BY s3_key, created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, areaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) UpdateFileChecksums(ctx context.Context, tx store.DBTransaction, fileID int64, checksums store.Checksums) error {
	executor := s.getExecutor(tx)

	payload, err := json.Marshal(nonNilChecksums(checksums))
	if err != nil {
		return err
	}

	_, err = executor.ExecContext(ctx,
		"UPDATE file SET checksums = $1, updated_at = $2 WHERE id = $3",
		payload, time.Now().UTC(), fileID,
	)
	return mapError(err)
}

func nonNilChecksums(c store.Checksums) store.Checksums {
	if c == nil {
		return store.Checksums{}
	}
	return c
}
