package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

var _ repository.StatsRepository = (*Store)(nil)

func (s *Store) Stats(ctx context.Context, topN int) (*model.Stats, error) {
	st := &model.Stats{
		ItemsByCategory:  map[string]int{},
		ItemsByPriceType: map[string]int{},
	}

	cur, err := s.users.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":       nil,
			"users":     bson.M{"$sum": 1},
			"suspended": bson.M{"$sum": bson.M{"$cond": bson.A{"$suspended", 1, 0}}},
			"total":     bson.M{"$sum": "$ecoPoints"},
			"avg":       bson.M{"$avg": "$ecoPoints"},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("mongo: user stats: %w", err)
	}
	var users []struct {
		Users     int     `bson:"users"`
		Suspended int     `bson:"suspended"`
		Total     int     `bson:"total"`
		Avg       float64 `bson:"avg"`
	}
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("mongo: decoding user stats: %w", err)
	}
	if len(users) == 1 {
		st.Users = users[0].Users
		st.SuspendedUsers = users[0].Suspended
		st.TotalEcoPoints = users[0].Total
		st.AvgEcoPoints = users[0].Avg
	}

	if err := s.countBy(ctx, "$category", st.ItemsByCategory); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "$priceType", st.ItemsByPriceType); err != nil {
		return nil, err
	}
	for _, n := range st.ItemsByCategory {
		st.Items += n
	}

	available, err := s.items.CountDocuments(ctx, bson.M{"status": model.StatusAvailable})
	if err != nil {
		return nil, fmt.Errorf("mongo: item stats: %w", err)
	}
	st.AvailableItems = int(available)
	completed, err := s.items.CountDocuments(ctx, bson.M{
		"status": bson.M{"$in": bson.A{model.StatusSold, model.StatusExchanged}},
	})
	if err != nil {
		return nil, fmt.Errorf("mongo: item stats: %w", err)
	}
	st.CompletedItems = int(completed)

	msgs, err := s.messages.EstimatedDocumentCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("mongo: message stats: %w", err)
	}
	st.Messages = int(msgs)

	top, err := s.TopByPoints(ctx, topN)
	if err != nil {
		return nil, err
	}
	st.TopContributors = make([]model.LeaderboardEntry, 0, len(top))
	for i := range top {
		st.TopContributors = append(st.TopContributors, top[i].Entry())
	}
	return st, nil
}

// countBy groups items by field and writes the counts into dst.
func (s *Store) countBy(ctx context.Context, field string, dst map[string]int) error {
	cur, err := s.items.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": field, "n": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: grouping items by %s: %w", field, err)
	}
	var rows []struct {
		Key string `bson:"_id"`
		N   int    `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return fmt.Errorf("mongo: decoding %s groups: %w", field, err)
	}
	for _, r := range rows {
		dst[r.Key] = r.N
	}
	return nil
}
