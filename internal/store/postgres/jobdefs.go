package postgres

import (
	"context"
	"fmt"
	"time"

	"uploadplane/internal/store"
)

func (s *Store) GetJobDefinition(ctx context.Context, name string) (*store.JobDefinition, error) {
	var d store.JobDefinition
	err := s.db.QueryRowContext(ctx,
		"SELECT name, handle, image, created_at FROM job_definition WHERE name = $1", name,
	).Scan(&d.Name, &d.Handle, &d.Image, &d.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &d, nil
}

func (s *Store) CreateJobDefinition(ctx context.Context, def *store.JobDefinition) error {
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO job_definition (name, handle, image, created_at) VALUES ($1, $2, $3, $4)",
		def.Name, def.Handle, def.Image, def.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create job definition %s: %w", def.Name, mapError(err))
	}
	return nil
}

func (s *Store) ListJobDefinitions(ctx context.Context) ([]store.JobDefinition, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, handle, image, created_at FROM job_definition ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []store.JobDefinition
	for rows.Next() {
		var d store.JobDefinition
		if err := rows.Scan(&d.Name, &d.Handle, &d.Image, &d.CreatedAt); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (s *Store) DeleteJobDefinition(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM job_definition WHERE name = $1", name)
	return mapError(err)
}
