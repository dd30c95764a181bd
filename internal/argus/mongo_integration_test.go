//go:build integration

package argus

import (
	"context"
	"log/slog"
	"testing"

	"github.com/life-stream-dev/argus/internal/catalog"
	"github.com/life-stream-dev/argus/internal/database"
	"github.com/life-stream-dev/argus/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
)

func newMongoStore(t *testing.T) (*Store, *recordingHandler) {
	t.Helper()
	ctx := context.Background()

	container, err := tcmongo.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("failed to start MongoDB container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate MongoDB container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	logs := &recordingHandler{}
	store := New(uri, WithLogger(slog.New(logs)))
	t.Cleanup(func() { _ = store.Close(ctx) })
	require.NoError(t, store.Registry().Register(testLibraryType, &testType{}))
	return store, logs
}

func TestMongoLibraryLifecycle(t *testing.T) {
	ctx := context.Background()
	store, logs := newMongoStore(t)

	require.NoError(t, store.ReloadCache(ctx))
	require.NoError(t, store.InitializeLibrary(ctx, "a", testLibraryType))
	require.NoError(t, store.InitializeLibrary(ctx, "ns.b", testLibraryType))

	libraries, err := store.ListLibraries(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "ns.b"}, libraries)

	uncached, err := store.ListLibrariesUncached(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "ns.b"}, uncached)

	require.NoError(t, store.RenameLibrary(ctx, "a", "c"))
	require.NoError(t, store.DeleteLibrary(ctx, "ns.b"))
	assert.Contains(t, logs.messages(slog.LevelInfo), "Dropping collection: b.ARGUS")

	libraries, err = store.ListLibrariesUncached(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, libraries)

	cached, _, err := store.Catalog().Get(ctx, catalog.LibrariesKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, cached)
}

func TestMongoQuotaUsesCollectionStats(t *testing.T) {
	ctx := context.Background()
	store, _ := newMongoStore(t)
	require.NoError(t, store.InitializeLibrary(ctx, "q", testLibraryType, WithQuota(1024)))

	lib, err := store.GetLibrary(ctx, "q")
	require.NoError(t, err)
	coll, err := lib.Binding().TopLevelCollection(ctx)
	require.NoError(t, err)
	docs := make([]any, 0, 64)
	for i := range 64 {
		docs = append(docs, bson.M{"_id": i, "payload": "0123456789abcdef0123456789abcdef"})
	}
	require.NoError(t, coll.InsertMany(ctx, docs))

	assert.ErrorIs(t, lib.Binding().CheckQuota(ctx), errs.ErrQuotaExceeded)

	var doc bson.M
	err = coll.FindOne(ctx, bson.M{"_id": 1000}, &doc)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
