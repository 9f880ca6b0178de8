package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

var _ repository.EchoStore = (*DB)(nil)

const echoColumns = `id, title, excerpt, content, created_at, publish_date, thumbnail_url, pinned`

func scanEcho(row interface{ Scan(...any) error }) (*model.Echo, error) {
	var e model.Echo
	var createdAt, publishDate int64
	var pinned int
	if err := row.Scan(&e.ID, &e.Title, &e.Excerpt, &e.Content, &createdAt, &publishDate, &e.ThumbnailURL, &pinned); err != nil {
		return nil, err
	}
	e.CreatedAt = fromMillis(createdAt)
	e.PublishDate = fromMillis(publishDate)
	e.Pinned = pinned != 0
	e.GameIDs = []string{}
	return &e, nil
}

// ListEchoes returns echoes matching filter with their game references.
func (db *DB) ListEchoes(ctx context.Context, filter repository.EchoFilter) ([]model.Echo, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	var where string
	args := []any{}
	if !filter.PublishedBefore.IsZero() {
		where = `WHERE publish_date <= ?`
		args = append(args, toMillis(filter.PublishedBefore))
	}
	order := `ORDER BY publish_date DESC, created_at DESC, id DESC`
	if filter.ByCreatedAt {
		order = `ORDER BY created_at DESC, id DESC`
	}
	args = append(args, limit, filter.Offset)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+echoColumns+` FROM echoes `+where+` `+order+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing echoes: %w", err)
	}

	echoes := []model.Echo{}
	for rows.Next() {
		e, err := scanEcho(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning echo: %w", err)
		}
		echoes = append(echoes, *e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterating echoes: %w", err)
	}
	rows.Close()

	if err := db.attachGames(ctx, db.conn, echoes); err != nil {
		return nil, err
	}
	return echoes, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// attachGames fills GameIDs for echoes in one query.
func (db *DB) attachGames(ctx context.Context, q querier, echoes []model.Echo) error {
	if len(echoes) == 0 {
		return nil
	}

	index := make(map[string]int, len(echoes))
	placeholders := make([]string, len(echoes))
	args := make([]any, len(echoes))
	for i, e := range echoes {
		index[e.ID] = i
		placeholders[i] = "?"
		args[i] = e.ID
	}

	rows, err := q.QueryContext(ctx,
		`SELECT echo_id, game_id FROM echo_games
		 WHERE echo_id IN (`+strings.Join(placeholders, ",")+`)
		 ORDER BY echo_id, position`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: loading echo games: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var echoID, gameID string
		if err := rows.Scan(&echoID, &gameID); err != nil {
			return fmt.Errorf("sqlite: scanning echo game: %w", err)
		}
		i := index[echoID]
		echoes[i].GameIDs = append(echoes[i].GameIDs, gameID)
	}
	return rows.Err()
}

func (db *DB) GetEcho(ctx context.Context, id string) (*model.Echo, error) {
	e, err := scanEcho(db.conn.QueryRowContext(ctx,
		`SELECT `+echoColumns+` FROM echoes WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("echo", id)
		}
		return nil, fmt.Errorf("sqlite: getting echo %s: %w", id, err)
	}

	list := []model.Echo{*e}
	if err := db.attachGames(ctx, db.conn, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// InsertEcho stores echo and its game references in one transaction.
// Unknown game ids are a validation error.
func (db *DB) InsertEcho(ctx context.Context, echo *model.Echo) error {
	if len(echo.GameIDs) > model.MaxEchoGames {
		return apperror.ValidationFailed("gameIds",
			fmt.Sprintf("an echo can reference at most %d games", model.MaxEchoGames))
	}

	echo.ID = xid.New().String()
	if echo.CreatedAt.IsZero() {
		echo.CreatedAt = time.Now()
	}
	echo.CreatedAt = truncMillis(echo.CreatedAt)
	echo.PublishDate = truncMillis(echo.PublishDate)
	if echo.GameIDs == nil {
		echo.GameIDs = []string{}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning echo insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO echoes (`+echoColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		echo.ID,
		echo.Title,
		echo.Excerpt,
		echo.Content,
		toMillis(echo.CreatedAt),
		toMillis(echo.PublishDate),
		echo.ThumbnailURL,
		boolToInt(echo.Pinned),
	)
	if err != nil {
		if isUniqueViolation(err, "echoes.pinned") {
			return apperror.Conflict(apperror.CodeAlreadyPinned, "another echo is already pinned")
		}
		return fmt.Errorf("sqlite: inserting echo: %w", err)
	}

	for pos, gameID := range echo.GameIDs {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM games WHERE id = ?`, gameID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("sqlite: checking game %s: %w", gameID, err)
		}
		if exists == 0 {
			return apperror.ValidationFailed("gameIds", fmt.Sprintf("game %s does not exist", gameID))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO echo_games (echo_id, game_id, position) VALUES (?, ?, ?)`,
			echo.ID, gameID, pos,
		); err != nil {
			if isUniqueViolation(err, "echo_games") {
				return apperror.ValidationFailed("gameIds", fmt.Sprintf("game %s is listed twice", gameID))
			}
			return fmt.Errorf("sqlite: linking game %s: %w", gameID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing echo: %w", err)
	}
	return nil
}

func (db *DB) DeleteEcho(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM echoes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting echo %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("echo", id)
	}
	return nil
}

// SetPinned flips the pinned flag.
//
// Pinning relies on the partial UNIQUE index over pinned = 1: if another
// echo won a concurrent pin, the UPDATE fails and the caller gets a
// Conflict. Unpinning only matches a currently pinned row, so unpinning
// twice is a Conflict too.
func (db *DB) SetPinned(ctx context.Context, id string, pinned bool) error {
	var (
		result sql.Result
		err    error
	)
	if pinned {
		result, err = db.conn.ExecContext(ctx,
			`UPDATE echoes SET pinned = 1 WHERE id = ? AND pinned = 0`, id)
	} else {
		result, err = db.conn.ExecContext(ctx,
			`UPDATE echoes SET pinned = 0 WHERE id = ? AND pinned = 1`, id)
	}
	if err != nil {
		if isUniqueViolation(err, "echoes.pinned") {
			return apperror.Conflict(apperror.CodeAlreadyPinned, "another echo is already pinned")
		}
		return fmt.Errorf("sqlite: setting pinned on %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing changed: either the echo is missing or already in that state.
	if _, err := db.GetEcho(ctx, id); err != nil {
		return err
	}
	if pinned {
		return apperror.Conflict(apperror.CodeAlreadyPinned, "this echo is already pinned")
	}
	return apperror.Conflict(apperror.CodeNotPinned, "this echo is not pinned")
}

func (db *DB) NextPublishDate(ctx context.Context, after time.Time) (time.Time, error) {
	var next sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		`SELECT MIN(publish_date) FROM echoes WHERE publish_date > ?`, toMillis(after),
	).Scan(&next)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: finding next publish date: %w", err)
	}
	if !next.Valid {
		return time.Time{}, nil
	}
	return fromMillis(next.Int64), nil
}
