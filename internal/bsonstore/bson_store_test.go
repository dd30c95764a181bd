package bsonstore

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/life-stream-dev/argus/internal/argus"
	"github.com/life-stream-dev/argus/internal/catalog"
	"github.com/life-stream-dev/argus/internal/database"
	"github.com/life-stream-dev/argus/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type countingStats struct {
	calls int
	stats database.Stats
}

func (c *countingStats) Usage(context.Context, *argus.Binding) (database.Stats, error) {
	c.calls++
	return c.stats, nil
}

func openStore(t *testing.T, quota int64, stats argus.StatsSource) *Store {
	t.Helper()
	ctx := context.Background()
	opts := []argus.Option{
		argus.WithConnector(database.NewMemoryCluster()),
		argus.WithCatalog(catalog.New(catalog.NewMemoryStore())),
		argus.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if stats != nil {
		opts = append(opts, argus.WithStatsSource(stats))
	}
	store := argus.New("localhost:27017", opts...)
	t.Cleanup(func() { _ = store.Close(ctx) })
	require.NoError(t, Register(store.Registry()))
	require.NoError(t, store.InitializeLibrary(ctx, "ns.docs", TypeName, argus.WithQuota(quota)))

	lib, err := store.GetLibrary(ctx, "ns.docs")
	require.NoError(t, err)
	bs, ok := lib.(*Store)
	require.True(t, ok)
	return bs
}

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	bs := openStore(t, 0, nil)
	assert.Equal(t, "<BSONStore: argus_ns.docs>", bs.String())

	require.NoError(t, bs.InsertOne(ctx, bson.M{"_id": 1, "name": "a"}))
	require.NoError(t, bs.InsertMany(ctx, []any{
		bson.M{"_id": 2, "name": "b"},
		bson.M{"_id": 3, "name": "c"},
	}))
	require.NoError(t, bs.UpdateOne(ctx, bson.M{"_id": 1}, bson.M{"$set": bson.M{"name": "z"}}, false))
	require.NoError(t, bs.ReplaceOne(ctx, bson.M{"_id": 4}, bson.M{"_id": 4, "name": "d"}, true))

	var doc bson.M
	require.NoError(t, bs.FindOne(ctx, bson.M{"_id": 1}, &doc))
	assert.Equal(t, "z", doc["name"])

	var docs []bson.M
	require.NoError(t, bs.Find(ctx, bson.M{"name": bson.M{"$in": bson.A{"b", "c"}}}, &docs))
	assert.Len(t, docs, 2)

	count, err := bs.Count(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	deleted, err := bs.DeleteOne(ctx, bson.M{"_id": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	deleted, err = bs.DeleteMany(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	err = bs.FindOne(ctx, bson.M{"_id": 1}, &doc)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestWritesCheckQuota(t *testing.T) {
	ctx := context.Background()
	stats := &countingStats{stats: database.Stats{Size: 10, Count: 1}}
	bs := openStore(t, 1024*1024, stats)

	require.NoError(t, bs.InsertOne(ctx, bson.M{"_id": 1}))
	assert.Equal(t, 1, stats.calls)

	var doc bson.M
	require.NoError(t, bs.FindOne(ctx, bson.M{"_id": 1}, &doc))
	_, err := bs.Count(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.calls)
	assert.Equal(t, int64(5), bs.Binding().QuotaCountdown())
}

func TestQuotaExceededBlocksWritesOnly(t *testing.T) {
	ctx := context.Background()
	stats := &countingStats{stats: database.Stats{Size: 10, Count: 1}}
	bs := openStore(t, 1024*1024, stats)
	require.NoError(t, bs.InsertOne(ctx, bson.M{"_id": 1}))

	stats.stats = database.Stats{Size: 2 * 1024 * 1024, Count: 1}
	require.NoError(t, bs.Binding().SetQuota(ctx, 1024*1024))

	err := bs.InsertOne(ctx, bson.M{"_id": 2})
	assert.ErrorIs(t, err, errs.ErrQuotaExceeded)
	err = bs.UpdateOne(ctx, bson.M{"_id": 1}, bson.M{"$set": bson.M{"x": 1}}, false)
	assert.ErrorIs(t, err, errs.ErrQuotaExceeded)

	deleted, err := bs.DeleteOne(ctx, bson.M{"_id": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
