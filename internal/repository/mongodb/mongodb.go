// Package mongodb implements the repository interfaces on MongoDB.
//
// Documents use xid strings as _id so ids look the same as in the SQLite
// backend. MongoDB has no cross-document foreign keys, so the existence
// checks the SQLite schema gets for free are done explicitly here.
//
// Point awards run in multi-document transactions together with the item
// write they belong to, so the server must be a replica set member (a
// single-node replica set is enough).
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/ecoloop/internal/repository"
)

var _ repository.Store = (*Store)(nil)

const (
	usersCollection     = "users"
	itemsCollection     = "items"
	messagesCollection  = "messages"
	favoritesCollection = "favorites"
)

// emailCollation makes email comparisons case-insensitive. Queries must
// pass the same collation as the index to use it.
var emailCollation = &options.Collation{Locale: "en", Strength: 2}

// Store is a MongoDB-backed repository.Store.
type Store struct {
	client    *mongo.Client
	users     *mongo.Collection
	items     *mongo.Collection
	messages  *mongo.Collection
	favorites *mongo.Collection
}

// New connects to uri, pings the server and ensures indexes on database.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	s := NewWithDatabase(client, client.Database(database))
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// NewWithDatabase wraps an existing connection. Indexes are not created.
func NewWithDatabase(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:    client,
		users:     db.Collection(usersCollection),
		items:     db.Collection(itemsCollection),
		messages:  db.Collection(messagesCollection),
		favorites: db.Collection(favoritesCollection),
	}
}

// withTx runs fn in a transaction. fn may be retried on transient errors,
// so it must reset any state it reports back to the caller.
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("mongo: starting session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	specs := map[*mongo.Collection][]mongo.IndexModel{
		s.users: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true).SetCollation(emailCollation),
			},
			{
				Keys:    bson.D{{Key: "githubId", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{Keys: bson.D{{Key: "ecoPoints", Value: -1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "resetTokenHash", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		s.items: {
			{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "ownerId", Value: 1}}},
			{Keys: bson.D{{Key: "category", Value: 1}}},
		},
		s.messages: {
			{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "read", Value: 1}}},
			{Keys: bson.D{{Key: "senderId", Value: 1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		s.favorites: {
			{
				Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "itemId", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
	for col, models := range specs {
		if _, err := col.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongo: creating indexes on %s: %w", col.Name(), err)
		}
	}
	return nil
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// exists reports whether col holds a document with the given _id.
func exists(ctx context.Context, col *mongo.Collection, id string) (bool, error) {
	n, err := col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("mongo: checking %s %s: %w", col.Name(), id, err)
	}
	return n > 0, nil
}
