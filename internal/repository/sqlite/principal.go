package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

var _ repository.PrincipalStore = (*DB)(nil)

func (db *DB) InsertPrincipal(ctx context.Context, p *model.Principal) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = truncMillis(p.CreatedAt)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO principals (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Email, p.PasswordHash, toMillis(p.CreatedAt))
	if err != nil {
		if isUniqueViolation(err, "principals.email") {
			return apperror.EmailTaken()
		}
		return fmt.Errorf("sqlite: inserting principal: %w", err)
	}
	return nil
}

func (db *DB) FindPrincipalByEmail(ctx context.Context, email string) (*model.Principal, error) {
	var p model.Principal
	var createdAt int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM principals WHERE email = ?`, email,
	).Scan(&p.ID, &p.Email, &p.PasswordHash, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("principal", email)
		}
		return nil, fmt.Errorf("sqlite: finding principal: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

// DeletePrincipal is idempotent: deleting a missing principal is not an
// error, so a reconciliation pass can be retried safely.
func (db *DB) DeletePrincipal(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM principals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting principal %s: %w", id, err)
	}
	return nil
}
