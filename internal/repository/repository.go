// Package repository declares the storage contracts the services depend on.
//
// Two implementations exist: repository/sqlite (embedded, default) and
// repository/mongo. Both translate driver errors into apperror values, so a
// missing row is always apperror.ErrNotFound regardless of the backend.
//
// Method names carry their resource (GetUserByID, GetItemByID) because a
// single store type implements every interface.
package repository

import (
	"context"
	"time"

	"github.com/sakif/ecoloop/internal/geo"
	"github.com/sakif/ecoloop/internal/model"
)

// ItemSort selects the order of an item listing.
type ItemSort string

const (
	SortNewest    ItemSort = "newest"
	SortOldest    ItemSort = "oldest"
	SortPriceAsc  ItemSort = "price_asc"
	SortPriceDesc ItemSort = "price_desc"
)

func (s ItemSort) Valid() bool {
	switch s {
	case SortNewest, SortOldest, SortPriceAsc, SortPriceDesc:
		return true
	}
	return false
}

// MaxItemResults caps every item listing.
const MaxItemResults = 100

// ItemQuery filters an item listing. Zero values mean "no filter".
//
// Proximity filtering applies only when Near is set and RadiusKm > 0; items
// without a location never match it.
type ItemQuery struct {
	Category       string
	Categories     []string
	PriceType      model.PriceType
	Condition      model.Condition
	Status         model.ItemStatus
	Town           string
	OwnerID        string
	ExcludeOwnerID string
	MinPrice       *float64
	MaxPrice       *float64
	Near           *geo.Point
	RadiusKm       float64
	Sort           ItemSort
	Limit          int
}

// EffectiveLimit clamps Limit to (0, MaxItemResults].
func (q ItemQuery) EffectiveLimit() int {
	if q.Limit <= 0 || q.Limit > MaxItemResults {
		return MaxItemResults
	}
	return q.Limit
}

// HasProximity reports whether the geo filter is active.
func (q ItemQuery) HasProximity() bool {
	return q.Near != nil && q.RadiusKm > 0
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	LinkGitHub(ctx context.Context, userID string, githubID int64) error
	UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error)

	// SetResetToken stores the hash of a password reset token.
	SetResetToken(ctx context.Context, userID, tokenHash string, expires time.Time) error
	// ResetPassword consumes a non-expired reset token and sets the new hash
	// in one guarded update. It returns the user id, or ErrNotFound when the
	// token is unknown, expired or already used.
	ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, error)

	// AddPoints atomically increments a user's eco-points.
	AddPoints(ctx context.Context, userID string, delta int) error
	TopByPoints(ctx context.Context, limit int) ([]model.User, error)
	CountWithMorePoints(ctx context.Context, points int) (int, error)

	ListUsers(ctx context.Context) ([]model.User, error)
	SetSuspended(ctx context.Context, id string, suspended bool) (*model.User, error)
	SetRole(ctx context.Context, id string, role model.Role) (*model.User, error)
}

type ItemRepository interface {
	// CreateItem inserts item and credits its owner with ownerPoints as one
	// unit of work.
	CreateItem(ctx context.Context, item *model.Item, ownerPoints int) error
	GetItemByID(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, q ItemQuery) ([]model.Item, error)
	UpdateItem(ctx context.Context, item *model.Item) error
	DeleteItem(ctx context.Context, id, ownerID string) error

	// ChangeStatus applies an owner-guarded status transition. When the new
	// status completes the item for the first time it also applies the
	// owner and recipient awards; Awarded reports whether that happened.
	ChangeStatus(ctx context.Context, ch model.StatusChange) (*model.StatusResult, error)

	DistinctTowns(ctx context.Context) ([]string, error)
	OwnerCategories(ctx context.Context, ownerID string) ([]string, error)
	OwnerItemCounts(ctx context.Context, ownerID string) (listed, exchanged int, err error)
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *model.Message) error
	// ListMessagesForUser returns every message the user sent or received,
	// newest first.
	ListMessagesForUser(ctx context.Context, userID string) ([]model.Message, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkConversationRead(ctx context.Context, userID, otherUserID string, at time.Time) (int64, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
}

type FavoriteRepository interface {
	AddFavorite(ctx context.Context, userID, itemID string) error
	RemoveFavorite(ctx context.Context, userID, itemID string) error
	ListFavorites(ctx context.Context, userID string) ([]model.Item, error)
	IsFavorite(ctx context.Context, userID, itemID string) (bool, error)
}

type StatsRepository interface {
	Stats(ctx context.Context, topN int) (*model.Stats, error)
}

// Store is everything a backend provides.
type Store interface {
	UserRepository
	ItemRepository
	MessageRepository
	FavoriteRepository
	StatsRepository
	Close() error
}
