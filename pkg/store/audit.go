package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, so writeAudit can run
// either standalone or as part of an in-flight transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// writeAudit appends one audit_log row. Every mutation path calls this
// before releasing its transaction (spec.md §4.3); audit is write-only —
// there is no corresponding query surface (spec.md §9 open question 3).
func writeAudit(ctx context.Context, q dbtx, entityType, entityID, action, actor, diffJSON, severity string) error {
	if severity == "" {
		severity = "normal"
	}
	_, err := q.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, action, actor, diff, severity)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, entityType, entityID, action, actor, diffJSON, severity)
	return err
}
