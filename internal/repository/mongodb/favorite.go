package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

var _ repository.FavoriteRepository = (*Store)(nil)

type favoriteDoc struct {
	UserID    string    `bson:"userId"`
	ItemID    string    `bson:"itemId"`
	CreatedAt time.Time `bson:"createdAt"`
}

func (s *Store) AddFavorite(ctx context.Context, userID, itemID string) error {
	ok, err := exists(ctx, s.items, itemID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("item", itemID)
	}

	_, err = s.favorites.InsertOne(ctx, favoriteDoc{UserID: userID, ItemID: itemID, CreatedAt: time.Now().UTC()})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflict("favorite", itemID)
		}
		return fmt.Errorf("mongo: adding favorite: %w", err)
	}
	return nil
}

func (s *Store) RemoveFavorite(ctx context.Context, userID, itemID string) error {
	res, err := s.favorites.DeleteOne(ctx, bson.M{"userId": userID, "itemId": itemID})
	if err != nil {
		return fmt.Errorf("mongo: removing favorite: %w", err)
	}
	if res.DeletedCount == 0 {
		return apperror.NotFound("favorite", itemID)
	}
	return nil
}

// ListFavorites returns the saved items, most recently saved first.
func (s *Store) ListFavorites(ctx context.Context, userID string) ([]model.Item, error) {
	cur, err := s.favorites.Find(ctx, bson.M{"userId": userID},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: listing favorites: %w", err)
	}
	defer cur.Close(ctx)

	var favs []favoriteDoc
	if err := cur.All(ctx, &favs); err != nil {
		return nil, fmt.Errorf("mongo: decoding favorites: %w", err)
	}
	if len(favs) == 0 {
		return []model.Item{}, nil
	}

	ids := make([]string, len(favs))
	for i, f := range favs {
		ids[i] = f.ItemID
	}
	items, err := s.findItems(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make([]model.Item, 0, len(items))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *Store) IsFavorite(ctx context.Context, userID, itemID string) (bool, error) {
	n, err := s.favorites.CountDocuments(ctx, bson.M{"userId": userID, "itemId": itemID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongo: checking favorite: %w", err)
	}
	return n > 0, nil
}
