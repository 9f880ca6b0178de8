package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/repository"
)

var _ repository.GameStore = (*DB)(nil)

const gameColumns = `id, title, description, game_url, image_url, created_at, glade_entry, glade_exit`

func scanGame(row interface{ Scan(...any) error }) (*model.Game, error) {
	var g model.Game
	var createdAt, entry, exit int64
	if err := row.Scan(&g.ID, &g.Title, &g.Description, &g.GameURL, &g.ImageURL, &createdAt, &entry, &exit); err != nil {
		return nil, err
	}
	g.CreatedAt = fromMillis(createdAt)
	g.GladeEntry = fromMillis(entry)
	g.GladeExit = fromMillis(exit)
	return &g, nil
}

// ListGames returns games newest first by creation time. Window filtering is
// the policy's job, not the store's.
func (db *DB) ListGames(ctx context.Context, opts repository.ListOptions) ([]model.Game, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+gameColumns+` FROM games ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing games: %w", err)
	}
	defer rows.Close()

	games := []model.Game{}
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning game: %w", err)
		}
		games = append(games, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating games: %w", err)
	}
	return games, nil
}

func (db *DB) GetGame(ctx context.Context, id string) (*model.Game, error) {
	g, err := scanGame(db.conn.QueryRowContext(ctx,
		`SELECT `+gameColumns+` FROM games WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("game", id)
		}
		return nil, fmt.Errorf("sqlite: getting game %s: %w", id, err)
	}
	return g, nil
}

func (db *DB) InsertGame(ctx context.Context, game *model.Game) error {
	game.ID = xid.New().String()
	if game.CreatedAt.IsZero() {
		game.CreatedAt = time.Now()
	}
	game.CreatedAt = truncMillis(game.CreatedAt)
	game.GladeEntry = truncMillis(game.GladeEntry)
	game.GladeExit = truncMillis(game.GladeExit)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO games (`+gameColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		game.ID,
		game.Title,
		game.Description,
		game.GameURL,
		game.ImageURL,
		toMillis(game.CreatedAt),
		toMillis(game.GladeEntry),
		toMillis(game.GladeExit),
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting game: %w", err)
	}
	return nil
}

// DeleteGame removes the game and, through the foreign key cascade, every
// echo's reference to it.
func (db *DB) DeleteGame(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting game %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("game", id)
	}
	return nil
}
