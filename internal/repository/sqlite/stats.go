package sqlite

import (
	"context"
	"fmt"

	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

var _ repository.StatsRepository = (*DB)(nil)

func (db *DB) Stats(ctx context.Context, topN int) (*model.Stats, error) {
	st := &model.Stats{
		ItemsByCategory:  map[string]int{},
		ItemsByPriceType: map[string]int{},
	}

	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(suspended), 0), COALESCE(SUM(eco_points), 0),
		        COALESCE(AVG(eco_points), 0)
		 FROM users`,
	).Scan(&st.Users, &st.SuspendedUsers, &st.TotalEcoPoints, &st.AvgEcoPoints)
	if err != nil {
		return nil, fmt.Errorf("sqlite: user stats: %w", err)
	}

	err = db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'available' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status IN ('sold', 'exchanged') THEN 1 ELSE 0 END), 0)
		 FROM items`,
	).Scan(&st.Items, &st.AvailableItems, &st.CompletedItems)
	if err != nil {
		return nil, fmt.Errorf("sqlite: item stats: %w", err)
	}

	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
		return nil, fmt.Errorf("sqlite: message stats: %w", err)
	}

	if err := db.countInto(ctx, `SELECT category, COUNT(*) FROM items GROUP BY category`, st.ItemsByCategory); err != nil {
		return nil, err
	}
	if err := db.countInto(ctx, `SELECT price_type, COUNT(*) FROM items GROUP BY price_type`, st.ItemsByPriceType); err != nil {
		return nil, err
	}

	top, err := db.TopByPoints(ctx, topN)
	if err != nil {
		return nil, err
	}
	st.TopContributors = make([]model.LeaderboardEntry, 0, len(top))
	for i := range top {
		st.TopContributors = append(st.TopContributors, top[i].Entry())
	}
	return st, nil
}

func (db *DB) countInto(ctx context.Context, query string, dst map[string]int) error {
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("sqlite: grouping stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("sqlite: scanning stats row: %w", err)
		}
		dst[key] = n
	}
	return rows.Err()
}
