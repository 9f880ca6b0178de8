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

var _ repository.ProfileStore = (*DB)(nil)

const profileColumns = `user_id, user_name, email, is_admin, created_at`

func scanProfile(row interface{ Scan(...any) error }) (*model.Profile, error) {
	var p model.Profile
	var isAdmin int
	var createdAt int64
	if err := row.Scan(&p.UserID, &p.UserName, &p.Email, &isAdmin, &createdAt); err != nil {
		return nil, err
	}
	p.IsAdmin = isAdmin != 0
	p.CreatedAt = fromMillis(createdAt)
	return &p, nil
}

// FindByUsername matches user_name exactly (case-sensitive).
func (db *DB) FindByUsername(ctx context.Context, username string) (*model.Profile, error) {
	p, err := scanProfile(db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_name = ?`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", username)
		}
		return nil, fmt.Errorf("sqlite: finding profile by username %q: %w", username, err)
	}
	return p, nil
}

func (db *DB) FindByID(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := scanProfile(db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", userID)
		}
		return nil, fmt.Errorf("sqlite: finding profile %s: %w", userID, err)
	}
	return p, nil
}

// Insert stores a new profile. The UNIQUE index on user_name is the
// authority on availability; a collision is reported as UsernameTaken.
func (db *DB) Insert(ctx context.Context, profile *model.Profile) error {
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now()
	}
	profile.CreatedAt = truncMillis(profile.CreatedAt)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (user_id, user_name, email, is_admin, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		profile.UserID,
		profile.UserName,
		profile.Email,
		boolToInt(profile.IsAdmin),
		toMillis(profile.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "profiles.user_name") {
			return apperror.UsernameTaken(profile.UserName)
		}
		if isUniqueViolation(err, "profiles.user_id") {
			return apperror.Conflict(apperror.CodeInvalidInput,
				fmt.Sprintf("profile already exists for user %s", profile.UserID))
		}
		return fmt.Errorf("sqlite: inserting profile %q: %w", profile.UserName, err)
	}
	return nil
}

func (db *DB) SetAdmin(ctx context.Context, username string, isAdmin bool) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE profiles SET is_admin = ? WHERE user_name = ?`, boolToInt(isAdmin), username)
	if err != nil {
		return fmt.Errorf("sqlite: setting admin for %q: %w", username, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("profile", username)
	}
	return nil
}
