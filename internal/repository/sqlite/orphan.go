package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

var _ repository.OrphanStore = (*DB)(nil)

// RecordOrphan upserts on principal_id; recording the same principal twice
// keeps the first created_at.
func (db *DB) RecordOrphan(ctx context.Context, o *model.SignupOrphan) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.CreatedAt = truncMillis(o.CreatedAt)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO signup_orphans (principal_id, email, user_name, reason, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(principal_id) DO UPDATE SET reason = excluded.reason, resolved_at = NULL`,
		o.PrincipalID, o.Email, o.UserName, o.Reason, toMillis(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: recording orphan %s: %w", o.PrincipalID, err)
	}
	return nil
}

// ListPendingOrphans returns unresolved orphans created before the cutoff,
// oldest first.
func (db *DB) ListPendingOrphans(ctx context.Context, createdBefore time.Time) ([]model.SignupOrphan, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT principal_id, email, user_name, reason, created_at
		 FROM signup_orphans
		 WHERE resolved_at IS NULL AND created_at < ?
		 ORDER BY created_at ASC`,
		toMillis(createdBefore))
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing orphans: %w", err)
	}
	defer rows.Close()

	orphans := []model.SignupOrphan{}
	for rows.Next() {
		var o model.SignupOrphan
		var createdAt int64
		if err := rows.Scan(&o.PrincipalID, &o.Email, &o.UserName, &o.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning orphan: %w", err)
		}
		o.CreatedAt = fromMillis(createdAt)
		orphans = append(orphans, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating orphans: %w", err)
	}
	return orphans, nil
}

func (db *DB) ResolveOrphan(ctx context.Context, principalID string, at time.Time) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE signup_orphans SET resolved_at = ? WHERE principal_id = ?`,
		toMillis(at), principalID)
	if err != nil {
		return fmt.Errorf("sqlite: resolving orphan %s: %w", principalID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("signup orphan", principalID)
	}
	return nil
}

// CountPendingOrphans reports how many orphans still await reconciliation.
func (db *DB) CountPendingOrphans(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signup_orphans WHERE resolved_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting orphans: %w", err)
	}
	return n, nil
}
