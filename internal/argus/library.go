package argus

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/life-stream-dev/argus/internal/catalog"
	"github.com/life-stream-dev/argus/internal/database"
	"github.com/life-stream-dev/argus/internal/errs"
)

// MaxNamespaces is the collection count above which InitializeLibrary refuses
// to add to a namespace.
const MaxNamespaces = 5000

// Binding returns the binding of an opened library, or a fresh one.
func (s *Store) Binding(ctx context.Context, name string) (*Binding, error) {
	b, err := newBinding(s, name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	lib, ok := s.libraries[b.FullName()]
	s.mu.Unlock()
	if ok {
		return lib.Binding(), nil
	}
	if _, err := b.DB(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) forgetLibrary(b *Binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.libraries, b.FullName())
}

// GetLibrary opens name with its registered type. Every failure to resolve it,
// including being denied its metadata, is reported as ErrLibraryNotFound.
func (s *Store) GetLibrary(ctx context.Context, name string) (Library, error) {
	b, err := newBinding(s, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	lib, ok := s.libraries[b.FullName()]
	s.mu.Unlock()
	if ok {
		return lib, nil
	}

	tag, err := b.LibraryType(ctx)
	if err != nil {
		if database.IsUnauthorized(err) {
			s.logger.Error("Unable to access library", "library", name, "host", s.host, "error", err)
			return nil, errs.Wrap(errs.ErrLibraryNotFound, err, "Library %s was not correctly initialized in %s.", name, s)
		}
		return nil, err
	}
	if tag == "" {
		return nil, errs.New(errs.ErrLibraryNotFound, "Library %s was not correctly initialized in %s.", name, s)
	}
	libraryType, ok := s.registry.Lookup(tag)
	if !ok {
		return nil, errs.New(errs.ErrLibraryNotFound,
			"Couldn't load LibraryType '%s' for '%s' (has the class been registered?)", tag, name)
	}

	lib, err = libraryType.Open(ctx, b)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.libraries[b.FullName()]; ok {
		return existing, nil
	}
	s.libraries[b.FullName()] = lib
	return lib, nil
}

// LibraryExists reports whether name can be opened. When its metadata cannot
// be read for lack of rights, the catalog decides.
func (s *Store) LibraryExists(ctx context.Context, name string) (bool, error) {
	b, err := newBinding(s, name)
	if err != nil {
		return false, err
	}
	if _, err := b.LibraryType(ctx); err != nil {
		if !database.IsUnauthorized(err) {
			return false, err
		}
		libraries, err := s.ListLibraries(ctx)
		if err != nil {
			return false, err
		}
		return slices.Contains(libraries, b.DisplayName()), nil
	}

	if _, err := s.GetLibrary(ctx, name); err != nil {
		if errors.Is(err, errs.ErrLibraryNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetLibraryType returns the stored type tag of name, "" when unset.
func (s *Store) GetLibraryType(ctx context.Context, name string) (string, error) {
	b, err := newBinding(s, name)
	if err != nil {
		return "", err
	}
	return b.LibraryType(ctx)
}

type initConfig struct {
	quota             *int64
	checkLibraryCount bool
	args              map[string]any
}

type InitOption func(*initConfig)

// WithQuota stores bytes as the quota instead of the 10 GiB default; 0 is unlimited.
func WithQuota(bytes int64) InitOption {
	return func(c *initConfig) { c.quota = &bytes }
}

// WithoutLibraryCountCheck skips the MaxNamespaces ceiling.
func WithoutLibraryCountCheck() InitOption {
	return func(c *initConfig) { c.checkLibraryCount = false }
}

// WithArgs passes type specific arguments to LibraryType.Initialize.
func WithArgs(args map[string]any) InitOption {
	return func(c *initConfig) { c.args = args }
}

// InitializeLibrary creates name as a library of type tag.
func (s *Store) InitializeLibrary(ctx context.Context, name, tag string, opts ...InitOption) error {
	cfg := initConfig{checkLibraryCount: true, args: map[string]any{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	libraryType, ok := s.registry.Lookup(tag)
	if !ok {
		return errs.New(errs.ErrLibraryNotFound,
			"Couldn't load LibraryType '%s' for '%s' (has the class been registered?)", tag, name)
	}
	b, err := newBinding(s, name)
	if err != nil {
		return err
	}

	if cfg.checkLibraryCount {
		var names []string
		err := s.retry.Do(ctx, "list_collections", func(ctx context.Context) error {
			db, err := b.DB(ctx)
			if err != nil {
				return err
			}
			names, err = db.ListCollectionNames(ctx)
			return err
		})
		if err != nil {
			return err
		}
		if len(names) > MaxNamespaces {
			return errs.New(errs.ErrTooManyNamespaces, "Too many namespaces %d, not creating: %s", len(names), name)
		}
	}

	if err := b.SetLibraryType(ctx, tag); err != nil {
		return err
	}
	if err := libraryType.Initialize(ctx, b, cfg.args); err != nil {
		return err
	}

	switch {
	case cfg.quota != nil:
		err = b.SetQuota(ctx, *cfg.quota)
	default:
		var quota int64
		quota, err = b.GetQuota(ctx)
		if err == nil && quota == 0 {
			err = b.SetQuota(ctx, DefaultQuota)
		}
	}
	if err != nil {
		return err
	}

	s.forgetLibrary(b)
	if err := s.cache.Append(ctx, catalog.LibrariesKey, b.DisplayName()); err != nil {
		s.logger.Warn("catalog cache update failed", "library", name, "error", err)
	}
	return nil
}

func (s *Store) libraryCollections(ctx context.Context, b *Binding) (database.Database, []string, error) {
	var (
		db    database.Database
		names []string
	)
	err := s.retry.Do(ctx, "list_collections", func(ctx context.Context) error {
		var err error
		db, err = b.DB(ctx)
		if err != nil {
			return err
		}
		names, err = db.ListCollectionNames(ctx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	owned := names[:0]
	for _, n := range names {
		if belongsToLibrary(n, b.library) {
			owned = append(owned, n)
		}
	}
	return db, owned, nil
}

// DeleteLibrary drops the library's collection and every "<library>.*" collection.
func (s *Store) DeleteLibrary(ctx context.Context, name string) error {
	b, err := newBinding(s, name)
	if err != nil {
		return err
	}
	db, collections, err := s.libraryCollections(ctx, b)
	if err != nil {
		return err
	}
	if len(collections) == 0 {
		s.logger.Info("Nothing to delete. Argus library " + b.library + " does not exist.")
	}
	for _, coll := range collections {
		s.logger.Info("Dropping collection: " + coll)
		err := s.retry.Do(ctx, "drop", func(ctx context.Context) error {
			return db.Collection(coll).Drop(ctx)
		})
		if err != nil {
			return err
		}
	}

	s.forgetLibrary(b)
	if err := s.cache.Remove(ctx, catalog.LibrariesKey, b.DisplayName()); err != nil {
		s.logger.Warn("catalog cache update failed", "library", name, "error", err)
	}
	return nil
}

// RenameLibrary moves every collection of from to to. Both names must resolve
// to the same namespace.
func (s *Store) RenameLibrary(ctx context.Context, from, to string) error {
	src, err := newBinding(s, from)
	if err != nil {
		return err
	}
	dst, err := newBinding(s, to)
	if err != nil {
		return err
	}
	if src.database != dst.database {
		return errs.New(errs.ErrCrossNamespaceRename, "Collection can only be renamed in the same database")
	}

	db, collections, err := s.libraryCollections(ctx, src)
	if err != nil {
		return err
	}
	for _, coll := range collections {
		target := dst.library + strings.TrimPrefix(coll, src.library)
		s.logger.Info("Renaming collection: " + coll + " to " + target)
		err := s.retry.Do(ctx, "rename", func(ctx context.Context) error {
			return db.RenameCollection(ctx, coll, target)
		})
		if err != nil {
			return err
		}
	}

	s.forgetLibrary(src)
	s.forgetLibrary(dst)
	if err := s.cache.Replace(ctx, catalog.LibrariesKey, src.DisplayName(), dst.DisplayName()); err != nil {
		s.logger.Warn("catalog cache update failed", "library", from, "error", err)
	}
	return nil
}

type listConfig struct {
	newerThan time.Duration
}

type ListOption func(*listConfig)

// NewerThan overrides the cache freshness threshold for one listing.
func NewerThan(d time.Duration) ListOption {
	return func(c *listConfig) { c.newerThan = d }
}

// ListLibraries serves the catalog cache when it is enabled and fresh and
// enumerates the cluster otherwise. It never populates the cache.
func (s *Store) ListLibraries(ctx context.Context, opts ...ListOption) ([]string, error) {
	var cfg listConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if _, err := s.Conn(ctx); err != nil {
		return nil, err
	}
	if data, result := s.cache.Lookup(ctx, catalog.LibrariesKey, cfg.newerThan); result == catalog.Hit {
		s.logger.Debug("Library names are in cache.")
		return slices.Clone(data), nil
	}
	return s.ListLibrariesUncached(ctx)
}

// ListLibrariesUncached scans every "argus" and "argus_*" database for
// metadata collections.
func (s *Store) ListLibrariesUncached(ctx context.Context) ([]string, error) {
	conn, gen, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}
	var dbs []string
	err = s.retry.Do(ctx, "list_databases", func(ctx context.Context) error {
		var err error
		dbs, err = conn.ListDatabaseNames(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	suffix := "." + MetadataCollection
	libraries := []string{}
	for _, dbName := range dbs {
		if !isArgusDatabase(dbName) {
			continue
		}
		if err := s.authenticate(ctx, conn, gen, dbName); err != nil {
			return nil, err
		}
		var names []string
		err := s.retry.Do(ctx, "list_collections", func(ctx context.Context) error {
			var err error
			names, err = conn.Database(dbName).ListCollectionNames(ctx)
			return err
		})
		if err != nil {
			if database.IsUnauthorized(err) {
				s.logger.Debug("skipping namespace", "database", dbName, "error", err)
				continue
			}
			return nil, err
		}
		for _, coll := range names {
			if strings.HasSuffix(coll, suffix) {
				libraries = append(libraries, displayName(dbName, strings.TrimSuffix(coll, suffix)))
			}
		}
	}
	sort.Strings(libraries)
	return libraries, nil
}

// ReloadCache replaces the cached catalog with a fresh enumeration.
func (s *Store) ReloadCache(ctx context.Context) error {
	libraries, err := s.ListLibrariesUncached(ctx)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, catalog.LibrariesKey, libraries)
}

func (s *Store) GetQuota(ctx context.Context, name string) (int64, error) {
	b, err := s.Binding(ctx, name)
	if err != nil {
		return 0, err
	}
	return b.GetQuota(ctx)
}

func (s *Store) SetQuota(ctx context.Context, name string, bytes int64) error {
	b, err := s.Binding(ctx, name)
	if err != nil {
		return err
	}
	return b.SetQuota(ctx, bytes)
}

// CheckQuota checks name through its opened handle so sampling state persists
// across calls.
func (s *Store) CheckQuota(ctx context.Context, name string) error {
	lib, err := s.GetLibrary(ctx, name)
	if err != nil {
		return err
	}
	return lib.Binding().CheckQuota(ctx)
}
