package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/argus/internal/database"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	MetaDatabase    = "meta_db"
	CacheCollection = "cache"
)

// CollectionFunc yields the cache collection on the current connection.
type CollectionFunc func(ctx context.Context) (database.Collection, error)

// MongoStore keeps entries as {_id: key, date, data} documents in meta_db.cache
// so every process talking to the cluster shares them.
type MongoStore struct {
	collection CollectionFunc
}

func NewMongoStore(collection CollectionFunc) *MongoStore {
	return &MongoStore{collection: collection}
}

type cacheDocument struct {
	ID   string    `bson:"_id"`
	Date time.Time `bson:"date"`
	Data []string  `bson:"data"`
}

func (s *MongoStore) Get(ctx context.Context, key string) (*Entry, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	var doc cacheDocument
	if err := coll.FindOne(ctx, bson.M{"_id": key}, &doc); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache entry %s: %w", key, err)
	}
	if doc.Data == nil {
		doc.Data = []string{}
	}
	return &Entry{Data: doc.Data, Date: doc.Date}, nil
}

func (s *MongoStore) Set(ctx context.Context, key string, entry Entry) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	doc := cacheDocument{ID: key, Date: entry.Date, Data: entry.Data}
	if err := coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, true); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", key, err)
	}
	return nil
}

func (s *MongoStore) Append(ctx context.Context, key, item string) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	return coll.UpdateOne(ctx,
		bson.M{"_id": key, "data": bson.M{"$ne": item}},
		bson.M{"$push": bson.M{"data": item}},
		false,
	)
}

func (s *MongoStore) Remove(ctx context.Context, key, item string) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	return coll.UpdateOne(ctx, bson.M{"_id": key}, bson.M{"$pull": bson.M{"data": item}}, false)
}

func (s *MongoStore) Replace(ctx context.Context, key, old, item string) error {
	if err := s.Remove(ctx, key, old); err != nil {
		return err
	}
	return s.Append(ctx, key, item)
}
