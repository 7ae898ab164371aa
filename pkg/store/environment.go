package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// ListEnvironments returns every known environment. The engine makes no
// assumption about their count beyond uniqueness of name (spec.md §3).
func (s *Store) ListEnvironments(ctx context.Context) ([]Environment, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM environments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envs []Environment
	for rows.Next() {
		var e Environment
		if err := rows.Scan(&e.ID, &e.Name, &e.CreatedAt); err != nil {
			return nil, err
		}
		envs = append(envs, e)
	}
	return envs, rows.Err()
}

// EnvironmentExists reports whether name is a known environment.
func (s *Store) EnvironmentExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM environments WHERE name = $1)`, name).Scan(&exists)
	if err != nil && err != pgx.ErrNoRows {
		return false, err
	}
	return exists, nil
}
