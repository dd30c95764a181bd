// Package bsonstore is a pass-through library type storing arbitrary BSON
// documents in the library's top level collection.
package bsonstore

import (
	"context"

	"github.com/life-stream-dev/argus/internal/argus"
	"github.com/life-stream-dev/argus/internal/database"
)

// TypeName is the tag stored in the library metadata.
const TypeName = "BSONStore"

type libraryType struct{}

// Register adds the BSONStore type to registry.
func Register(registry *argus.Registry) error {
	return registry.Register(TypeName, libraryType{})
}

func (libraryType) Initialize(_ context.Context, _ *argus.Binding, _ map[string]any) error {
	return nil
}

func (libraryType) Open(_ context.Context, b *argus.Binding) (argus.Library, error) {
	return &Store{binding: b}, nil
}

// Store is an opened BSONStore library. Writes check the library quota first.
type Store struct {
	binding *argus.Binding
}

func (s *Store) Binding() *argus.Binding {
	return s.binding
}

func (s *Store) String() string {
	return "<BSONStore: " + s.binding.FullName() + ">"
}

func (s *Store) collection(ctx context.Context) (database.Collection, error) {
	return s.binding.TopLevelCollection(ctx)
}

func (s *Store) writable(ctx context.Context) (database.Collection, error) {
	if err := s.binding.CheckQuota(ctx); err != nil {
		return nil, err
	}
	return s.collection(ctx)
}

// Find decodes every document matching filter into results, a pointer to a slice.
func (s *Store) Find(ctx context.Context, filter any, results any) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	return coll.Find(ctx, filter, results)
}

// FindOne returns database.ErrNotFound when nothing matches.
func (s *Store) FindOne(ctx context.Context, filter any, out any) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	return coll.FindOne(ctx, filter, out)
}

func (s *Store) InsertOne(ctx context.Context, doc any) error {
	coll, err := s.writable(ctx)
	if err != nil {
		return err
	}
	return coll.InsertOne(ctx, doc)
}

func (s *Store) InsertMany(ctx context.Context, docs []any) error {
	coll, err := s.writable(ctx)
	if err != nil {
		return err
	}
	return coll.InsertMany(ctx, docs)
}

func (s *Store) ReplaceOne(ctx context.Context, filter, doc any, upsert bool) error {
	coll, err := s.writable(ctx)
	if err != nil {
		return err
	}
	return coll.ReplaceOne(ctx, filter, doc, upsert)
}

func (s *Store) UpdateOne(ctx context.Context, filter, update any, upsert bool) error {
	coll, err := s.writable(ctx)
	if err != nil {
		return err
	}
	return coll.UpdateOne(ctx, filter, update, upsert)
}

// DeleteOne never checks the quota, so an exhausted library can be trimmed.
func (s *Store) DeleteOne(ctx context.Context, filter any) (int64, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return 0, err
	}
	return coll.DeleteOne(ctx, filter)
}

func (s *Store) DeleteMany(ctx context.Context, filter any) (int64, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return 0, err
	}
	return coll.DeleteMany(ctx, filter)
}

func (s *Store) Count(ctx context.Context, filter any) (int64, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return 0, err
	}
	return coll.CountDocuments(ctx, filter)
}
