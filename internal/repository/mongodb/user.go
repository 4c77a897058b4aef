package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

var _ repository.UserRepository = (*Store)(nil)

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	if user.Interests == nil {
		user.Interests = []string{}
	}

	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ConflictMessage("an account with this email already exists")
		}
		return fmt.Errorf("mongo: creating user: %w", err)
	}
	return nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (*model.User, error) {
	var u model.User
	if err := s.users.FindOne(ctx, filter, opts...).Decode(&u); err != nil {
		return nil, err
	}
	if u.Interests == nil {
		u.Interests = []string{}
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := s.findUser(ctx, bson.M{"_id": id})
	if err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("mongo: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail matches case-insensitively through the email collation.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := s.findUser(ctx, bson.M{"email": email}, options.FindOne().SetCollation(emailCollation))
	if err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFoundMessage("no account with that email")
		}
		return nil, fmt.Errorf("mongo: getting user by email: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByGitHubID(ctx context.Context, githubID int64) (*model.User, error) {
	u, err := s.findUser(ctx, bson.M{"githubId": githubID})
	if err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("user", fmt.Sprintf("github:%d", githubID))
		}
		return nil, fmt.Errorf("mongo: getting user by github id %d: %w", githubID, err)
	}
	return u, nil
}

func (s *Store) LinkGitHub(ctx context.Context, userID string, githubID int64) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"githubId": githubID, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.ConflictMessage("this GitHub account is linked to another user")
		}
		return fmt.Errorf("mongo: linking github for user %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Phone != nil {
		set["phone"] = *upd.Phone
	}
	if upd.Interests != nil {
		set["interests"] = upd.Interests
	}
	if upd.Location != nil {
		set["location"] = upd.Location
	}
	return s.updateUser(ctx, id, bson.M{"$set": set})
}

// updateUser applies update and returns the new document.
func (s *Store) updateUser(ctx context.Context, id string, update bson.M) (*model.User, error) {
	var u model.User
	err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("mongo: updating user %s: %w", id, err)
	}
	if u.Interests == nil {
		u.Interests = []string{}
	}
	return &u, nil
}

func (s *Store) SetResetToken(ctx context.Context, userID, tokenHash string, expires time.Time) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{
			"resetTokenHash":    tokenHash,
			"resetTokenExpires": expires.UTC(),
			"updatedAt":         time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("mongo: storing reset token for %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// ResetPassword matches and clears the token in one FindOneAndUpdate, so a
// token is consumed at most once.
func (s *Store) ResetPassword(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, error) {
	var u model.User
	err := s.users.FindOneAndUpdate(ctx,
		bson.M{
			"resetTokenHash":    tokenHash,
			"resetTokenExpires": bson.M{"$gt": now.UTC()},
		},
		bson.M{
			"$set":   bson.M{"passwordHash": passwordHash, "updatedAt": now.UTC()},
			"$unset": bson.M{"resetTokenHash": "", "resetTokenExpires": ""},
		},
	).Decode(&u)
	if err != nil {
		if isNoDocuments(err) {
			return "", apperror.NotFoundMessage("reset link is invalid or has expired")
		}
		return "", fmt.Errorf("mongo: resetting password: %w", err)
	}
	return u.ID, nil
}

func (s *Store) AddPoints(ctx context.Context, userID string, delta int) error {
	if delta == 0 {
		return nil
	}
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$inc": bson.M{"ecoPoints": delta}},
	)
	if err != nil {
		return fmt.Errorf("mongo: adding %d points to %s: %w", delta, userID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (s *Store) TopByPoints(ctx context.Context, limit int) ([]model.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "ecoPoints", Value: -1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return s.findUsers(ctx, bson.M{}, opts)
}

func (s *Store) CountWithMorePoints(ctx context.Context, points int) (int, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{"ecoPoints": bson.M{"$gt": points}})
	if err != nil {
		return 0, fmt.Errorf("mongo: counting users above %d points: %w", points, err)
	}
	return int(n), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	return s.findUsers(ctx, bson.M{}, opts)
}

func (s *Store) SetSuspended(ctx context.Context, id string, suspended bool) (*model.User, error) {
	return s.updateUser(ctx, id, bson.M{"$set": bson.M{"suspended": suspended, "updatedAt": time.Now().UTC()}})
}

func (s *Store) SetRole(ctx context.Context, id string, role model.Role) (*model.User, error) {
	return s.updateUser(ctx, id, bson.M{"$set": bson.M{"role": role, "updatedAt": time.Now().UTC()}})
}

func (s *Store) findUsers(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.User, error) {
	cur, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing users: %w", err)
	}
	defer cur.Close(ctx)

	users := make([]model.User, 0)
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("mongo: decoding users: %w", err)
	}
	for i := range users {
		if users[i].Interests == nil {
			users[i].Interests = []string{}
		}
	}
	return users, nil
}
