package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

var _ repository.ItemRepository = (*DB)(nil)

const itemSelect = `SELECT i.id, i.title, i.description, i.image_url, i.category, i.condition,
	i.price_type, i.price, i.status, i.owner_id, COALESCE(u.name, ''), i.recipient_id, i.town,
	i.latitude, i.longitude, i.completion_awarded, i.created_at, i.updated_at
	FROM items i LEFT JOIN users u ON u.id = i.owner_id`

func scanItem(rs rowScanner) (*model.Item, error) {
	var (
		it        model.Item
		cond      string
		priceType string
		status    string
		recipient sql.NullString
		lat, lng  sql.NullFloat64
		awarded   int
	)
	err := rs.Scan(
		&it.ID, &it.Title, &it.Description, &it.ImageURL, &it.Category, &cond,
		&priceType, &it.Price, &status, &it.OwnerID, &it.OwnerName, &recipient, &it.Town,
		&lat, &lng, &awarded, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.Condition = model.Condition(cond)
	it.PriceType = model.PriceType(priceType)
	it.Status = model.ItemStatus(status)
	it.RecipientID = recipient.String
	it.Location = scanPoint(lat, lng)
	it.CompletionAwarded = awarded == 1
	return &it, nil
}

// CreateItem inserts the item and credits the owner in one transaction. If
// the owner does not exist nothing is written.
func (db *DB) CreateItem(ctx context.Context, item *model.Item, ownerPoints int) error {
	item.ID = xid.New().String()
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = model.StatusAvailable
	}
	lat, lng := pointArgs(item.Location)

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO items (id, title, description, image_url, category, condition, price_type,
				price, status, owner_id, town, latitude, longitude, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.Title, item.Description, item.ImageURL, item.Category,
			string(item.Condition), string(item.PriceType), item.Price, string(item.Status),
			item.OwnerID, item.Town, lat, lng, item.CreatedAt, item.UpdatedAt,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return apperror.NotFound("user", item.OwnerID)
			}
			return fmt.Errorf("sqlite: creating item: %w", err)
		}
		return addPoints(ctx, tx, item.OwnerID, ownerPoints)
	})
}

func (db *DB) GetItemByID(ctx context.Context, id string) (*model.Item, error) {
	it, err := scanItem(db.conn.QueryRowContext(ctx, itemSelect+` WHERE i.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("item", id)
		}
		return nil, fmt.Errorf("sqlite: getting item %s: %w", id, err)
	}
	return it, nil
}

// ListItems builds the WHERE clause from the non-zero filters of q. Every
// value goes through a placeholder; only fixed column names and the
// whitelisted ORDER BY are concatenated.
func (db *DB) ListItems(ctx context.Context, q repository.ItemQuery) ([]model.Item, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, vals ...any) {
		where = append(where, clause)
		args = append(args, vals...)
	}

	if q.Category != "" {
		add("i.category = ?", q.Category)
	}
	if len(q.Categories) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?, ", len(q.Categories)), ", ")
		vals := make([]any, len(q.Categories))
		for i, c := range q.Categories {
			vals[i] = c
		}
		add("i.category IN ("+ph+")", vals...)
	}
	if q.PriceType != "" {
		add("i.price_type = ?", string(q.PriceType))
	}
	if q.Condition != "" {
		add("i.condition = ?", string(q.Condition))
	}
	if q.Status != "" {
		add("i.status = ?", string(q.Status))
	}
	if q.Town != "" {
		add("i.town = ? COLLATE NOCASE", q.Town)
	}
	if q.OwnerID != "" {
		add("i.owner_id = ?", q.OwnerID)
	}
	if q.ExcludeOwnerID != "" {
		add("i.owner_id <> ?", q.ExcludeOwnerID)
	}
	if q.MinPrice != nil {
		add("i.price >= ?", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		add("i.price <= ?", *q.MaxPrice)
	}
	if q.HasProximity() {
		add("distance_km(i.latitude, i.longitude, ?, ?) <= ?", q.Near.Lat, q.Near.Lng, q.RadiusKm)
	}

	query := itemSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY " + orderBy(q.Sort) + " LIMIT ?"
	args = append(args, q.EffectiveLimit())

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing items: %w", err)
	}
	defer rows.Close()

	items := make([]model.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning item row: %w", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating items: %w", err)
	}
	return items, nil
}

func orderBy(s repository.ItemSort) string {
	switch s {
	case repository.SortOldest:
		return "i.created_at ASC, i.id ASC"
	case repository.SortPriceAsc:
		return "i.price ASC, i.created_at DESC, i.id DESC"
	case repository.SortPriceDesc:
		return "i.price DESC, i.created_at DESC, i.id DESC"
	default:
		return "i.created_at DESC, i.id DESC"
	}
}

// UpdateItem writes the editable fields. The owner_id guard means a
// non-owner's update touches nothing and reports not found.
func (db *DB) UpdateItem(ctx context.Context, item *model.Item) error {
	item.UpdatedAt = time.Now().UTC()
	lat, lng := pointArgs(item.Location)

	res, err := db.conn.ExecContext(ctx,
		`UPDATE items
		 SET title = ?, description = ?, image_url = ?, category = ?, condition = ?,
		     price_type = ?, price = ?, town = ?, latitude = ?, longitude = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		item.Title, item.Description, item.ImageURL, item.Category, string(item.Condition),
		string(item.PriceType), item.Price, item.Town, lat, lng, item.UpdatedAt,
		item.ID, item.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating item %s: %w", item.ID, err)
	}
	return expectOne(res, apperror.NotFound("item", item.ID))
}

func (db *DB) DeleteItem(ctx context.Context, id, ownerID string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM items WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting item %s: %w", id, err)
	}
	return expectOne(res, apperror.NotFound("item", id))
}

// ChangeStatus runs the transition and its awards in one transaction:
//
//  1. owner-guarded status update (no row → not found / forbidden)
//  2. if the new status completes the item, flip completion_awarded from 0
//     to 1; only the caller that wins this compare-and-set pays out
//  3. credit owner and recipient
func (db *DB) ChangeStatus(ctx context.Context, ch model.StatusChange) (*model.StatusResult, error) {
	now := time.Now().UTC()
	awarded := false

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		recipientExpr := "recipient_id"
		args := []any{string(ch.Status), now}
		switch {
		case ch.Status == model.StatusAvailable:
			recipientExpr = "NULL"
		case ch.RecipientID != "":
			recipientExpr = "?"
			args = append(args, ch.RecipientID)
		}
		args = append(args, ch.ItemID, ch.OwnerID)

		res, err := tx.ExecContext(ctx,
			`UPDATE items SET status = ?, updated_at = ?, recipient_id = `+recipientExpr+`
			 WHERE id = ? AND owner_id = ?`, args...)
		if err != nil {
			if isForeignKeyViolation(err) {
				return apperror.NotFound("user", ch.RecipientID)
			}
			return fmt.Errorf("sqlite: updating status of item %s: %w", ch.ItemID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
		if n == 0 {
			return missingOrForeign(ctx, tx, ch.ItemID)
		}

		if !ch.Status.Completes() {
			return nil
		}

		res, err = tx.ExecContext(ctx,
			`UPDATE items SET completion_awarded = 1 WHERE id = ? AND completion_awarded = 0`,
			ch.ItemID)
		if err != nil {
			return fmt.Errorf("sqlite: marking item %s awarded: %w", ch.ItemID, err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		awarded = true
		if err := addPoints(ctx, tx, ch.OwnerID, ch.OwnerPoints); err != nil {
			return err
		}
		if ch.RecipientID != "" {
			return addPoints(ctx, tx, ch.RecipientID, ch.RecipientPoints)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	item, err := db.GetItemByID(ctx, ch.ItemID)
	if err != nil {
		return nil, err
	}
	return &model.StatusResult{Item: item, Awarded: awarded}, nil
}

// missingOrForeign explains why an owner-guarded update matched no row.
func missingOrForeign(ctx context.Context, tx *sql.Tx, itemID string) error {
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT owner_id FROM items WHERE id = ?`, itemID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound("item", itemID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: checking owner of item %s: %w", itemID, err)
	}
	return apperror.Forbidden("only the owner can change this item")
}

func (db *DB) DistinctTowns(ctx context.Context) ([]string, error) {
	return db.queryStrings(ctx, `SELECT DISTINCT town FROM items WHERE town <> '' ORDER BY town`)
}

func (db *DB) OwnerCategories(ctx context.Context, ownerID string) ([]string, error) {
	return db.queryStrings(ctx,
		`SELECT DISTINCT category FROM items WHERE owner_id = ? ORDER BY category`, ownerID)
}

func (db *DB) OwnerItemCounts(ctx context.Context, ownerID string) (int, int, error) {
	var listed, exchanged int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status IN ('sold', 'exchanged') THEN 1 ELSE 0 END), 0)
		 FROM items WHERE owner_id = ?`, ownerID,
	).Scan(&listed, &exchanged)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite: counting items of %s: %w", ownerID, err)
	}
	return listed, exchanged, nil
}

func (db *DB) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("sqlite: scanning row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating rows: %w", err)
	}
	return out, nil
}
