package argus

import (
	"context"
	"errors"
	"sync"

	"github.com/life-stream-dev/argus/internal/database"
	"go.mongodb.org/mongo-driver/bson"
)

// Binding is a view of one library in its namespace. Durable state lives in
// the "<library>.ARGUS" metadata document; the binding only keeps the quota
// sampling countdown.
type Binding struct {
	store    *Store
	database string
	library  string

	mu  sync.Mutex
	gen uint64
	db  database.Database

	quotaMu        sync.Mutex
	quotaCountdown int64
}

func newBinding(store *Store, name string) (*Binding, error) {
	db, library, err := ParseLibraryName(name)
	if err != nil {
		return nil, err
	}
	return &Binding{store: store, database: db, library: library}, nil
}

func (b *Binding) Store() *Store {
	return b.store
}

func (b *Binding) DatabaseName() string {
	return b.database
}

func (b *Binding) Library() string {
	return b.library
}

// FullName is "<namespace>.<library>".
func (b *Binding) FullName() string {
	return b.database + "." + b.library
}

// DisplayName is the name ListLibraries reports for this library.
func (b *Binding) DisplayName() string {
	return displayName(b.database, b.library)
}

// DB returns the namespace handle, re-deriving and re-authenticating it
// whenever the Store's connection has been replaced.
func (b *Binding) DB(ctx context.Context) (database.Database, error) {
	conn, gen, err := b.store.connection(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.db != nil && b.gen == gen {
		db := b.db
		b.mu.Unlock()
		return db, nil
	}
	b.mu.Unlock()

	if err := b.store.authenticate(ctx, conn, gen, b.database); err != nil {
		return nil, err
	}
	db := conn.Database(b.database)

	b.mu.Lock()
	b.db = db
	b.gen = gen
	b.mu.Unlock()
	return db, nil
}

func (b *Binding) TopLevelCollection(ctx context.Context) (database.Collection, error) {
	db, err := b.DB(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(b.library), nil
}

// Collection returns the "<library>.<suffix>" sub collection.
func (b *Binding) Collection(ctx context.Context, suffix string) (database.Collection, error) {
	db, err := b.DB(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(b.library + "." + suffix), nil
}

func (b *Binding) metadataCollection(ctx context.Context) (database.Collection, error) {
	return b.Collection(ctx, MetadataCollection)
}

// Metadata reads one field of the metadata document; ok is false when the
// document or field is absent.
func (b *Binding) Metadata(ctx context.Context, field string) (value any, ok bool, err error) {
	err = b.store.retry.Do(ctx, "get_library_metadata", func(ctx context.Context) error {
		coll, err := b.metadataCollection(ctx)
		if err != nil {
			return err
		}
		var doc bson.M
		if err := coll.FindOne(ctx, bson.M{"_id": metadataDocID}, &doc); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil
			}
			return err
		}
		value, ok = doc[field]
		return nil
	})
	return value, ok, err
}

func (b *Binding) SetMetadata(ctx context.Context, field string, value any) error {
	return b.store.retry.Do(ctx, "set_library_metadata", func(ctx context.Context) error {
		coll, err := b.metadataCollection(ctx)
		if err != nil {
			return err
		}
		return coll.UpdateOne(ctx,
			bson.M{"_id": metadataDocID},
			bson.M{"$set": bson.M{field: value}},
			true,
		)
	})
}

// LibraryType returns the stored type tag, or "" when the library was never
// initialised.
func (b *Binding) LibraryType(ctx context.Context) (string, error) {
	value, ok, err := b.Metadata(ctx, fieldType)
	if err != nil || !ok {
		return "", err
	}
	tag, _ := value.(string)
	return tag, nil
}

func (b *Binding) SetLibraryType(ctx context.Context, tag string) error {
	return b.SetMetadata(ctx, fieldType, tag)
}

// Reset forgets the cached namespace handle and the quota countdown.
func (b *Binding) Reset() {
	b.mu.Lock()
	b.db = nil
	b.mu.Unlock()

	b.quotaMu.Lock()
	b.quotaCountdown = 0
	b.quotaMu.Unlock()
}
