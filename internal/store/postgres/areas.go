package postgres

import (
	"context"
	"fmt"
	"time"

	"uploadplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateArea(ctx context.Context, area *store.UploadArea) error {
	query := `
		INSERT INTO upload_area (id, bucket_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(ctx, query,
		area.ID,
		area.BucketName,
		area.Status,
		area.CreatedAt,
		area.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create upload area %s: %w", area.ID, mapError(err))
	}
	return nil
}

func (s *Store) GetArea(ctx context.Context, id uuid.UUID) (*store.UploadArea, error) {
	query := "SELECT id, bucket_name, status, created_at, updated_at FROM upload_area WHERE id = $1"

	var a store.UploadArea
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID,
		&a.BucketName,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}

	return &a, nil
}

func (s *Store) UpdateAreaStatus(ctx context.Context, id uuid.UUID, status store.AreaStatus) error {
	query := "UPDATE upload_area SET status = $1, updated_at = $2 WHERE id = $3"

	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
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
