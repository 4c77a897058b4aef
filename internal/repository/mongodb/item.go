package mongodb

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/geo"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

var _ repository.ItemRepository = (*Store)(nil)

// geoJSONPoint is the shape the 2dsphere index expects. Coordinates are
// [longitude, latitude].
type geoJSONPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

// itemDoc is an item as stored: the model plus its GeoJSON location.
type itemDoc struct {
	model.Item  `bson:",inline"`
	GeoLocation *geoJSONPoint `bson:"location,omitempty"`
}

func toDoc(it *model.Item) itemDoc {
	d := itemDoc{Item: *it}
	if it.Location != nil {
		d.GeoLocation = &geoJSONPoint{Type: "Point", Coordinates: []float64{it.Location.Lng, it.Location.Lat}}
	}
	return d
}

func (d *itemDoc) toModel() model.Item {
	it := d.Item
	if d.GeoLocation != nil && len(d.GeoLocation.Coordinates) == 2 {
		it.Location = &geo.Point{Lat: d.GeoLocation.Coordinates[1], Lng: d.GeoLocation.Coordinates[0]}
	}
	return it
}

// CreateItem inserts the item and credits the owner in one transaction. An
// unknown owner writes nothing.
func (s *Store) CreateItem(ctx context.Context, item *model.Item, ownerPoints int) error {
	ok, err := exists(ctx, s.users, item.OwnerID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("user", item.OwnerID)
	}

	item.ID = xid.New().String()
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = model.StatusAvailable
	}
	item.CompletionAwarded = false

	return s.withTx(ctx, func(ctx context.Context) error {
		if _, err := s.items.InsertOne(ctx, toDoc(item)); err != nil {
			return fmt.Errorf("mongo: creating item: %w", err)
		}
		return s.AddPoints(ctx, item.OwnerID, ownerPoints)
	})
}

func (s *Store) GetItemByID(ctx context.Context, id string) (*model.Item, error) {
	var d itemDoc
	if err := s.items.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("item", id)
		}
		return nil, fmt.Errorf("mongo: getting item %s: %w", id, err)
	}
	items := []model.Item{d.toModel()}
	if err := s.fillOwnerNames(ctx, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

func itemFilter(q repository.ItemQuery) bson.M {
	f := bson.M{}
	switch {
	case q.Category != "" && len(q.Categories) > 0:
		f["$and"] = bson.A{
			bson.M{"category": q.Category},
			bson.M{"category": bson.M{"$in": q.Categories}},
		}
	case q.Category != "":
		f["category"] = q.Category
	case len(q.Categories) > 0:
		f["category"] = bson.M{"$in": q.Categories}
	}
	if q.PriceType != "" {
		f["priceType"] = q.PriceType
	}
	if q.Condition != "" {
		f["condition"] = q.Condition
	}
	if q.Status != "" {
		f["status"] = q.Status
	}
	if q.Town != "" {
		f["town"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(q.Town) + "$", Options: "i"}
	}

	owner := bson.M{}
	if q.OwnerID != "" {
		owner["$eq"] = q.OwnerID
	}
	if q.ExcludeOwnerID != "" {
		owner["$ne"] = q.ExcludeOwnerID
	}
	if len(owner) > 0 {
		f["ownerId"] = owner
	}

	price := bson.M{}
	if q.MinPrice != nil {
		price["$gte"] = *q.MinPrice
	}
	if q.MaxPrice != nil {
		price["$lte"] = *q.MaxPrice
	}
	if len(price) > 0 {
		f["price"] = price
	}

	// $geoWithin, unlike $near, leaves the requested sort order intact.
	if q.HasProximity() {
		f["location"] = bson.M{"$geoWithin": bson.M{
			"$centerSphere": bson.A{
				bson.A{q.Near.Lng, q.Near.Lat},
				q.RadiusKm / geo.EarthRadiusKm,
			},
		}}
	}
	return f
}

func itemSort(s repository.ItemSort) bson.D {
	switch s {
	case repository.SortOldest:
		return bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}
	case repository.SortPriceAsc:
		return bson.D{{Key: "price", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
	case repository.SortPriceDesc:
		return bson.D{{Key: "price", Value: -1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
	default:
		return bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
	}
}

func (s *Store) ListItems(ctx context.Context, q repository.ItemQuery) ([]model.Item, error) {
	opts := options.Find().SetSort(itemSort(q.Sort)).SetLimit(int64(q.EffectiveLimit()))
	return s.findItems(ctx, itemFilter(q), opts)
}

func (s *Store) findItems(ctx context.Context, filter any, opts *options.FindOptions) ([]model.Item, error) {
	cur, err := s.items.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing items: %w", err)
	}
	defer cur.Close(ctx)

	var docs []itemDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decoding items: %w", err)
	}
	items := make([]model.Item, 0, len(docs))
	for i := range docs {
		items = append(items, docs[i].toModel())
	}
	if err := s.fillOwnerNames(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// fillOwnerNames resolves OwnerName with one query for the whole page.
func (s *Store) fillOwnerNames(ctx context.Context, items []model.Item) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if !seen[it.OwnerID] {
			seen[it.OwnerID] = true
			ids = append(ids, it.OwnerID)
		}
	}

	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"name": 1}))
	if err != nil {
		return fmt.Errorf("mongo: resolving owners: %w", err)
	}
	defer cur.Close(ctx)

	var owners []struct {
		ID   string `bson:"_id"`
		Name string `bson:"name"`
	}
	if err := cur.All(ctx, &owners); err != nil {
		return fmt.Errorf("mongo: decoding owners: %w", err)
	}
	names := make(map[string]string, len(owners))
	for _, o := range owners {
		names[o.ID] = o.Name
	}
	for i := range items {
		items[i].OwnerName = names[items[i].OwnerID]
	}
	return nil
}

func (s *Store) UpdateItem(ctx context.Context, item *model.Item) error {
	item.UpdatedAt = time.Now().UTC()
	set := bson.M{
		"title":       item.Title,
		"description": item.Description,
		"imageUrl":    item.ImageURL,
		"category":    item.Category,
		"condition":   item.Condition,
		"priceType":   item.PriceType,
		"price":       item.Price,
		"town":        item.Town,
		"updatedAt":   item.UpdatedAt,
	}
	update := bson.M{"$set": set}
	if d := toDoc(item); d.GeoLocation != nil {
		set["location"] = d.GeoLocation
	} else {
		update["$unset"] = bson.M{"location": ""}
	}

	res, err := s.items.UpdateOne(ctx, bson.M{"_id": item.ID, "ownerId": item.OwnerID}, update)
	if err != nil {
		return fmt.Errorf("mongo: updating item %s: %w", item.ID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("item", item.ID)
	}
	return nil
}

// DeleteItem removes an owned item, its favorites, and the item reference
// on messages about it.
func (s *Store) DeleteItem(ctx context.Context, id, ownerID string) error {
	res, err := s.items.DeleteOne(ctx, bson.M{"_id": id, "ownerId": ownerID})
	if err != nil {
		return fmt.Errorf("mongo: deleting item %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return apperror.NotFound("item", id)
	}

	if _, err := s.favorites.DeleteMany(ctx, bson.M{"itemId": id}); err != nil {
		return fmt.Errorf("mongo: deleting favorites of item %s: %w", id, err)
	}
	if _, err := s.messages.UpdateMany(ctx, bson.M{"itemId": id}, bson.M{"$unset": bson.M{"itemId": ""}}); err != nil {
		return fmt.Errorf("mongo: detaching messages from item %s: %w", id, err)
	}
	return nil
}

// ChangeStatus applies the owner-guarded transition and, in the same
// transaction, claims the completion award with a compare-and-set on
// completionAwarded. Only the transaction that flips the flag pays out, and
// a failed payout rolls the flip back with it.
func (s *Store) ChangeStatus(ctx context.Context, ch model.StatusChange) (*model.StatusResult, error) {
	if ch.RecipientID != "" {
		ok, err := exists(ctx, s.users, ch.RecipientID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperror.NotFound("user", ch.RecipientID)
		}
	}

	now := time.Now().UTC()
	set := bson.M{"status": ch.Status, "updatedAt": now}
	update := bson.M{"$set": set}
	switch {
	case ch.Status == model.StatusAvailable:
		update["$unset"] = bson.M{"recipientId": ""}
	case ch.RecipientID != "":
		set["recipientId"] = ch.RecipientID
	}

	var awarded bool
	err := s.withTx(ctx, func(ctx context.Context) error {
		awarded = false

		res, err := s.items.UpdateOne(ctx, bson.M{"_id": ch.ItemID, "ownerId": ch.OwnerID}, update)
		if err != nil {
			return fmt.Errorf("mongo: updating status of item %s: %w", ch.ItemID, err)
		}
		if res.MatchedCount == 0 {
			return s.missingOrForeign(ctx, ch.ItemID)
		}
		if !ch.Status.Completes() {
			return nil
		}

		res, err = s.items.UpdateOne(ctx,
			bson.M{"_id": ch.ItemID, "completionAwarded": false},
			bson.M{"$set": bson.M{"completionAwarded": true}},
		)
		if err != nil {
			return fmt.Errorf("mongo: marking item %s awarded: %w", ch.ItemID, err)
		}
		if res.ModifiedCount == 0 {
			return nil
		}
		if err := s.AddPoints(ctx, ch.OwnerID, ch.OwnerPoints); err != nil {
			return err
		}
		if ch.RecipientID != "" {
			if err := s.AddPoints(ctx, ch.RecipientID, ch.RecipientPoints); err != nil {
				return err
			}
		}
		awarded = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	item, err := s.GetItemByID(ctx, ch.ItemID)
	if err != nil {
		return nil, err
	}
	return &model.StatusResult{Item: item, Awarded: awarded}, nil
}

func (s *Store) missingOrForeign(ctx context.Context, itemID string) error {
	ok, err := exists(ctx, s.items, itemID)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.NotFound("item", itemID)
	}
	return apperror.Forbidden("only the owner can change this item")
}

func (s *Store) DistinctTowns(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "town", bson.M{"town": bson.M{"$ne": ""}})
}

func (s *Store) OwnerCategories(ctx context.Context, ownerID string) ([]string, error) {
	return s.distinct(ctx, "category", bson.M{"ownerId": ownerID})
}

func (s *Store) distinct(ctx context.Context, field string, filter bson.M) ([]string, error) {
	vals, err := s.items.Distinct(ctx, field, filter)
	if err != nil {
		return nil, fmt.Errorf("mongo: distinct %s: %w", field, err)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) OwnerItemCounts(ctx context.Context, ownerID string) (int, int, error) {
	listed, err := s.items.CountDocuments(ctx, bson.M{"ownerId": ownerID})
	if err != nil {
		return 0, 0, fmt.Errorf("mongo: counting items of %s: %w", ownerID, err)
	}
	exchanged, err := s.items.CountDocuments(ctx, bson.M{
		"ownerId": ownerID,
		"status":  bson.M{"$in": bson.A{model.StatusSold, model.StatusExchanged}},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("mongo: counting completed items of %s: %w", ownerID, err)
	}
	return int(listed), int(exchanged), nil
}
