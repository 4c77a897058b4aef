package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/ecopoints"
	"github.com/sakif/ecoloop/internal/geo"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

const (
	MaxTitleLength       = 120
	MaxDescriptionLength = 2000
	MaxTownLength        = 80
	MaxPrice             = 10_000_000
	MaxRadiusKm          = 500

	// RecommendationCount is the size of the "for you" strip.
	RecommendationCount = 6
)

// ItemService is the marketplace query layer plus listing management.
// Eco-point awards are computed here and applied by the store in the same
// unit of work as the write that earns them.
type ItemService struct {
	items  repository.ItemRepository
	users  repository.UserRepository
	logger *slog.Logger
}

func NewItemService(items repository.ItemRepository, users repository.UserRepository, logger *slog.Logger) *ItemService {
	return &ItemService{items: items, users: users, logger: logger}
}

// ListParams is an item listing request as it arrives from the client.
// Empty strings and nil pointers mean "no filter".
type ListParams struct {
	Category  string
	PriceType string
	Condition string
	Status    string
	Town      string
	MinPrice  *float64
	MaxPrice  *float64
	Lat       *float64
	Lng       *float64
	RadiusKm  *float64
	Sort      string
	Limit     int
}

// Query validates p and turns it into a repository query. Proximity is only
// applied when lat, lng and radius are all present.
func (p ListParams) Query() (repository.ItemQuery, error) {
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"minPrice", p.MinPrice}, {"maxPrice", p.MaxPrice},
		{"lat", p.Lat}, {"lng", p.Lng}, {"radiusKm", p.RadiusKm},
	} {
		if f.v != nil && (math.IsNaN(*f.v) || math.IsInf(*f.v, 0)) {
			return repository.ItemQuery{}, apperror.ValidationFailed(f.name, f.name+" must be a finite number")
		}
	}

	q := repository.ItemQuery{
		Category: strings.TrimSpace(p.Category),
		Town:     strings.TrimSpace(p.Town),
		MinPrice: p.MinPrice,
		MaxPrice: p.MaxPrice,
		Sort:     repository.SortNewest,
		Limit:    p.Limit,
	}

	if p.PriceType != "" {
		q.PriceType = model.PriceType(p.PriceType)
		if !q.PriceType.Valid() {
			return q, apperror.ValidationFailed("priceType", "priceType must be Free, Exchange or Sell")
		}
	}
	if p.Condition != "" {
		q.Condition = model.Condition(p.Condition)
		if !q.Condition.Valid() {
			return q, apperror.ValidationFailed("condition", "condition must be New, Good or Used")
		}
	}
	if p.Status != "" {
		q.Status = model.ItemStatus(p.Status)
		if !q.Status.Valid() {
			return q, apperror.ValidationFailed("status", "status must be available, sold or exchanged")
		}
	}
	if p.Sort != "" {
		q.Sort = repository.ItemSort(p.Sort)
		if !q.Sort.Valid() {
			return q, apperror.ValidationFailed("sort", "sort must be newest, oldest, price_asc or price_desc")
		}
	}
	if p.MinPrice != nil && *p.MinPrice < 0 {
		return q, apperror.ValidationFailed("minPrice", "minPrice must not be negative")
	}
	if p.MinPrice != nil && p.MaxPrice != nil && *p.MinPrice > *p.MaxPrice {
		return q, apperror.ValidationFailed("maxPrice", "maxPrice must not be below minPrice")
	}
	if p.Limit < 0 {
		return q, apperror.ValidationFailed("limit", "limit must not be negative")
	}

	if p.Lat != nil && p.Lng != nil && p.RadiusKm != nil {
		pt := geo.Point{Lat: *p.Lat, Lng: *p.Lng}
		if !pt.Valid() {
			return q, apperror.ValidationFailed("lat", "latitude must be within ±90 and longitude within ±180")
		}
		if *p.RadiusKm <= 0 || *p.RadiusKm > MaxRadiusKm {
			return q, apperror.ValidationFailed("radiusKm", fmt.Sprintf("radiusKm must be between 0 and %d", MaxRadiusKm))
		}
		q.Near = &pt
		q.RadiusKm = *p.RadiusKm
	}
	return q, nil
}

func (s *ItemService) List(ctx context.Context, p ListParams) ([]model.Item, error) {
	q, err := p.Query()
	if err != nil {
		return nil, err
	}
	items, err := s.items.ListItems(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("service/item: listing: %w", err)
	}
	return items, nil
}

func (s *ItemService) Get(ctx context.Context, id string) (*model.Item, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "item id is required")
	}
	return s.items.GetItemByID(ctx, id)
}

func (s *ItemService) ListByOwner(ctx context.Context, ownerID string) ([]model.Item, error) {
	return s.items.ListItems(ctx, repository.ItemQuery{OwnerID: ownerID, Sort: repository.SortNewest})
}

// ItemInput is a new listing, or for Update the fields to change (nil means
// unchanged).
type ItemInput struct {
	Title       *string
	Description *string
	ImageURL    *string
	Category    *string
	Condition   *string
	PriceType   *string
	Price       *float64
	Town        *string
	Location    *geo.Point
}

// apply validates in and writes its non-nil fields onto item.
func (in ItemInput) apply(item *model.Item) error {
	if in.Title != nil {
		t, err := requireText("title", *in.Title, 1, MaxTitleLength)
		if err != nil {
			return err
		}
		item.Title = t
	}
	if in.Description != nil {
		d, err := requireText("description", *in.Description, 0, MaxDescriptionLength)
		if err != nil {
			return err
		}
		item.Description = d
	}
	if in.ImageURL != nil {
		item.ImageURL = strings.TrimSpace(*in.ImageURL)
	}
	if in.Category != nil {
		c := strings.TrimSpace(*in.Category)
		if !ecopoints.IsKnownCategory(c) {
			return apperror.ValidationFailed("category",
				"category must be one of "+strings.Join(ecopoints.Categories(), ", "))
		}
		item.Category = c
	}
	if in.Condition != nil {
		c := model.Condition(*in.Condition)
		if !c.Valid() {
			return apperror.ValidationFailed("condition", "condition must be New, Good or Used")
		}
		item.Condition = c
	}
	if in.PriceType != nil {
		pt := model.PriceType(*in.PriceType)
		if !pt.Valid() {
			return apperror.ValidationFailed("priceType", "priceType must be Free, Exchange or Sell")
		}
		item.PriceType = pt
	}
	if in.Price != nil {
		if math.IsNaN(*in.Price) || *in.Price < 0 || *in.Price > MaxPrice {
			return apperror.ValidationFailed("price", "price must be between 0 and 10,000,000")
		}
		item.Price = *in.Price
	}
	if in.Town != nil {
		t, err := requireText("town", *in.Town, 1, MaxTownLength)
		if err != nil {
			return err
		}
		item.Town = t
	}
	if in.Location != nil {
		if err := validatePoint("location", in.Location); err != nil {
			return err
		}
		item.Location = in.Location
	}

	if item.PriceType != model.PriceSell {
		item.Price = 0
	}
	return nil
}

// Create lists a new item and credits the owner with the create award.
func (s *ItemService) Create(ctx context.Context, ownerID string, in ItemInput) (*model.Item, error) {
	item := &model.Item{
		OwnerID:   ownerID,
		Condition: model.ConditionUsed,
		Status:    model.StatusAvailable,
	}
	if err := in.apply(item); err != nil {
		return nil, err
	}
	switch {
	case item.Title == "":
		return nil, apperror.ValidationFailed("title", "title is required")
	case item.Category == "":
		return nil, apperror.ValidationFailed("category", "category is required")
	case item.PriceType == "":
		return nil, apperror.ValidationFailed("priceType", "priceType is required")
	case item.Town == "":
		return nil, apperror.ValidationFailed("town", "town is required")
	case item.PriceType == model.PriceSell && item.Price <= 0:
		return nil, apperror.ValidationFailed("price", "items for sale need a price")
	}

	points := ecopoints.PointsFor(item.Category, ecopoints.ActionCreate)
	if err := s.items.CreateItem(ctx, item, points); err != nil {
		return nil, err
	}

	s.logger.Info("item listed",
		slog.String("itemID", item.ID),
		slog.String("ownerID", ownerID),
		slog.Int("points", points),
	)
	return item, nil
}

// Update edits an item's fields. Only the owner may edit; status is changed
// through UpdateStatus.
func (s *ItemService) Update(ctx context.Context, callerID, id string, in ItemInput) (*model.Item, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != callerID {
		return nil, apperror.Forbidden("not authorized to edit this item")
	}
	if err := in.apply(item); err != nil {
		return nil, err
	}
	if item.PriceType == model.PriceSell && item.Price <= 0 {
		return nil, apperror.ValidationFailed("price", "items for sale need a price")
	}
	if err := s.items.UpdateItem(ctx, item); err != nil {
		return nil, err
	}
	return s.items.GetItemByID(ctx, id)
}

func (s *ItemService) Delete(ctx context.Context, callerID, id string) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.OwnerID != callerID {
		return apperror.Forbidden("not authorized to delete this item")
	}
	if err := s.items.DeleteItem(ctx, id, callerID); err != nil {
		return err
	}
	s.logger.Info("item deleted", slog.String("itemID", id), slog.String("ownerID", callerID))
	return nil
}

// StatusInput is an owner's status change. RecipientEmail names the user
// who received the item; they share the completion award.
type StatusInput struct {
	Status         string
	RecipientID    string
	RecipientEmail string
}

// UpdateStatus moves an item between available, sold and exchanged. The
// first move into sold or exchanged pays the completion award once, however
// many concurrent requests race for it; later moves never pay again and
// nothing is taken back.
func (s *ItemService) UpdateStatus(ctx context.Context, callerID, id string, in StatusInput) (*model.StatusResult, error) {
	status := model.ItemStatus(in.Status)
	if !status.Valid() {
		return nil, apperror.ValidationFailed("status", "status must be available, sold or exchanged")
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != callerID {
		return nil, apperror.Forbidden("only the owner can change the status")
	}

	recipientID := strings.TrimSpace(in.RecipientID)
	if email := strings.TrimSpace(in.RecipientEmail); email != "" && recipientID == "" {
		u, err := s.users.GetUserByEmail(ctx, strings.ToLower(email))
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				return nil, apperror.ValidationFailed("recipientEmail", "no account with that email")
			}
			return nil, fmt.Errorf("service/item: resolving recipient: %w", err)
		}
		recipientID = u.ID
	}
	if recipientID == callerID {
		return nil, apperror.ValidationFailed("recipientEmail", "you cannot hand an item to yourself")
	}
	if status == model.StatusAvailable {
		recipientID = ""
	}

	points := ecopoints.PointsFor(item.Category, ecopoints.ActionComplete)
	res, err := s.items.ChangeStatus(ctx, model.StatusChange{
		ItemID:          id,
		OwnerID:         callerID,
		Status:          status,
		RecipientID:     recipientID,
		OwnerPoints:     points,
		RecipientPoints: points,
	})
	if err != nil {
		return nil, err
	}

	if res.Awarded {
		s.logger.Info("completion awarded",
			slog.String("itemID", id),
			slog.String("ownerID", callerID),
			slog.String("recipientID", recipientID),
			slog.Int("points", points),
		)
	}
	return res, nil
}

// Recommendations returns items from other owners in the categories the
// user lists in or is interested in, topped up with the newest items.
func (s *ItemService) Recommendations(ctx context.Context, userID string) ([]model.Item, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	listed, err := s.items.OwnerCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/item: categories of %s: %w", userID, err)
	}
	categories := cleanList(append(listed, user.Interests...))

	base := repository.ItemQuery{
		ExcludeOwnerID: userID,
		Status:         model.StatusAvailable,
		Sort:           repository.SortNewest,
		Limit:          RecommendationCount,
	}

	var out []model.Item
	if len(categories) > 0 {
		q := base
		q.Categories = categories
		if out, err = s.items.ListItems(ctx, q); err != nil {
			return nil, fmt.Errorf("service/item: recommendations: %w", err)
		}
	}
	if len(out) >= RecommendationCount {
		return out, nil
	}

	q := base
	q.Limit = RecommendationCount + len(out)
	recent, err := s.items.ListItems(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("service/item: recent items: %w", err)
	}
	seen := make(map[string]bool, len(out))
	for _, it := range out {
		seen[it.ID] = true
	}
	for _, it := range recent {
		if len(out) == RecommendationCount {
			break
		}
		if !seen[it.ID] {
			out = append(out, it)
		}
	}
	if out == nil {
		out = []model.Item{}
	}
	return out, nil
}

// Towns is the picker list merged with every town already in use.
func (s *ItemService) Towns(ctx context.Context) ([]string, error) {
	used, err := s.items.DistinctTowns(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/item: towns: %w", err)
	}
	towns := cleanList(append(append([]string{}, model.Towns...), used...))
	sort.Strings(towns)
	return towns, nil
}
