// Package store is the Flag Store: the authoritative repository for
// environments, flags, per-environment configs, variants, and rules.
// Grounded on the teacher's cmd/control-plane/internal/repository package,
// generalized from its per-entity, JSONB-embedded layout to the normalized
// schema in schema.sql.
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store is the Flag Store. It receives an already-open pool; there is no
// two-phase initialize() step (spec.md §9 "Repository initialization").
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New wraps an open pgxpool.Pool.
func New(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger.With().Str("component", "store").Logger()}
}

// Ping verifies connectivity, used by the /health and /test-db endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool. Called once at process shutdown.
func (s *Store) Close() {
	s.pool.Close()
}
