package service

import (
	"context"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

// FavoriteService manages a user's saved items. The store reports a missing
// item as not found and a repeated save as a conflict.
type FavoriteService struct {
	favorites repository.FavoriteRepository
}

func NewFavoriteService(favorites repository.FavoriteRepository) *FavoriteService {
	return &FavoriteService{favorites: favorites}
}

func requireItemID(itemID string) error {
	if itemID == "" {
		return apperror.ValidationFailed("itemId", "itemId is required")
	}
	return nil
}

func (s *FavoriteService) Add(ctx context.Context, userID, itemID string) error {
	if err := requireItemID(itemID); err != nil {
		return err
	}
	return s.favorites.AddFavorite(ctx, userID, itemID)
}

func (s *FavoriteService) Remove(ctx context.Context, userID, itemID string) error {
	if err := requireItemID(itemID); err != nil {
		return err
	}
	return s.favorites.RemoveFavorite(ctx, userID, itemID)
}

// List returns the saved items, most recently saved first.
func (s *FavoriteService) List(ctx context.Context, userID string) ([]model.Item, error) {
	return s.favorites.ListFavorites(ctx, userID)
}

func (s *FavoriteService) IsFavorite(ctx context.Context, userID, itemID string) (bool, error) {
	if err := requireItemID(itemID); err != nil {
		return false, err
	}
	return s.favorites.IsFavorite(ctx, userID, itemID)
}
