package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

var _ repository.FavoriteRepository = (*DB)(nil)

func (db *DB) AddFavorite(ctx context.Context, userID, itemID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO favorites (user_id, item_id, created_at) VALUES (?, ?, ?)`,
		userID, itemID, time.Now().UTC(),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return apperror.Conflict("favorite", itemID)
		case isForeignKeyViolation(err):
			return apperror.NotFound("item", itemID)
		}
		return fmt.Errorf("sqlite: adding favorite: %w", err)
	}
	return nil
}

func (db *DB) RemoveFavorite(ctx context.Context, userID, itemID string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = ? AND item_id = ?`, userID, itemID)
	if err != nil {
		return fmt.Errorf("sqlite: removing favorite: %w", err)
	}
	return expectOne(res, apperror.NotFound("favorite", itemID))
}

// ListFavorites returns the saved items, most recently saved first.
func (db *DB) ListFavorites(ctx context.Context, userID string) ([]model.Item, error) {
	rows, err := db.conn.QueryContext(ctx,
		itemSelect+` JOIN favorites f ON f.item_id = i.id
		 WHERE f.user_id = ?
		 ORDER BY f.created_at DESC, i.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing favorites: %w", err)
	}
	defer rows.Close()

	items := make([]model.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning favorite row: %w", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating favorites: %w", err)
	}
	return items, nil
}

func (db *DB) IsFavorite(ctx context.Context, userID, itemID string) (bool, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM favorites WHERE user_id = ? AND item_id = ?`, userID, itemID,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlite: checking favorite: %w", err)
	}
	return n > 0, nil
}
