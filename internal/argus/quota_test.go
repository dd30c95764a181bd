package argus

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/life-stream-dev/argus/internal/database"
	"github.com/life-stream-dev/argus/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	mib int64 = 1024 * 1024
	gib int64 = 1024 * mib
)

type fakeStats struct {
	stats atomic.Pointer[database.Stats]
	calls atomic.Int32
}

func (f *fakeStats) set(size, count int64) {
	f.stats.Store(&database.Stats{Size: size, Count: count})
}

func (f *fakeStats) source() StatsSource {
	return StatsSourceFunc(func(context.Context, *Binding) (database.Stats, error) {
		f.calls.Add(1)
		return *f.stats.Load(), nil
	})
}

func newQuotaFixture(t *testing.T, quota int64) (*fixture, *fakeStats) {
	t.Helper()
	stats := &fakeStats{}
	stats.set(0, 0)
	f := newFixture(t, WithStatsSource(stats.source()))
	require.NoError(t, f.store.InitializeLibrary(context.Background(), "db.lib", testLibraryType, WithQuota(quota)))
	return f, stats
}

func TestCheckQuotaWarnsNearLimit(t *testing.T) {
	ctx := context.Background()
	f, stats := newQuotaFixture(t, gib)
	stats.set(900*mib, 100)

	require.NoError(t, f.store.CheckQuota(ctx, "db.lib"))
	assert.Equal(t, []string{"Mongo Quota: argus_db.lib 0.879 / 1 GB used"}, f.logs.messages(slog.LevelWarn))

	lib, err := f.store.GetLibrary(ctx, "db.lib")
	require.NoError(t, err)
	assert.Equal(t, int64(6), lib.Binding().QuotaCountdown())
}

func TestCheckQuotaInfoFarFromLimit(t *testing.T) {
	ctx := context.Background()
	f, stats := newQuotaFixture(t, gib)
	stats.set(mib, 100)

	require.NoError(t, f.store.CheckQuota(ctx, "db.lib"))
	assert.Contains(t, f.logs.messages(slog.LevelInfo), "Mongo Quota: argus_db.lib 0.001 / 1 GB used")
	assert.Empty(t, f.logs.messages(slog.LevelWarn))

	lib, err := f.store.GetLibrary(ctx, "db.lib")
	require.NoError(t, err)
	assert.Equal(t, int64(51153), lib.Binding().QuotaCountdown())
}

func TestCheckQuotaWarnsWithManyDocuments(t *testing.T) {
	f, stats := newQuotaFixture(t, gib)
	size := 0.91 * float64(gib)
	stats.set(int64(size), 1_000_000)

	require.NoError(t, f.store.CheckQuota(context.Background(), "db.lib"))
	assert.Equal(t, []string{"Mongo Quota: argus_db.lib 0.910 / 1 GB used"}, f.logs.messages(slog.LevelWarn))
}

func TestCheckQuotaExceeded(t *testing.T) {
	f, stats := newQuotaFixture(t, gib)
	stats.set(gib, 100)

	err := f.store.CheckQuota(context.Background(), "db.lib")
	require.ErrorIs(t, err, errs.ErrQuotaExceeded)
	assert.Equal(t, "Quota Exceeded: argus_db.lib 1.000 / 1 GB used", err.Error())
}

func TestCheckQuotaSamplesUsage(t *testing.T) {
	ctx := context.Background()
	f, stats := newQuotaFixture(t, gib)
	stats.set(900*mib, 100)

	require.NoError(t, f.store.CheckQuota(ctx, "db.lib"))
	assert.Equal(t, int32(1), stats.calls.Load())

	for range 6 {
		require.NoError(t, f.store.CheckQuota(ctx, "db.lib"))
	}
	assert.Equal(t, int32(1), stats.calls.Load())

	require.NoError(t, f.store.CheckQuota(ctx, "db.lib"))
	assert.Equal(t, int32(2), stats.calls.Load())
}

func TestSetQuotaForcesNextCheck(t *testing.T) {
	ctx := context.Background()
	f, stats := newQuotaFixture(t, gib)
	stats.set(mib, 100)

	require.NoError(t, f.store.CheckQuota(ctx, "db.lib"))
	require.NoError(t, f.store.CheckQuota(ctx, "db.lib"))
	assert.Equal(t, int32(1), stats.calls.Load())

	require.NoError(t, f.store.SetQuota(ctx, "db.lib", 2*mib))
	stats.set(2*mib, 100)
	err := f.store.CheckQuota(ctx, "db.lib")
	assert.ErrorIs(t, err, errs.ErrQuotaExceeded)
	assert.Equal(t, int32(2), stats.calls.Load())
}

func TestBindingResetRestartsSampling(t *testing.T) {
	ctx := context.Background()
	f, stats := newQuotaFixture(t, gib)
	stats.set(mib, 100)

	require.NoError(t, f.store.CheckQuota(ctx, "db.lib"))
	lib, err := f.store.GetLibrary(ctx, "db.lib")
	require.NoError(t, err)
	require.Equal(t, int64(51153), lib.Binding().QuotaCountdown())

	lib.Binding().Reset()
	assert.Zero(t, lib.Binding().QuotaCountdown())
	require.NoError(t, lib.Binding().CheckQuota(ctx))
	assert.Equal(t, int32(2), stats.calls.Load())
}

func TestCheckQuotaUnlimited(t *testing.T) {
	ctx := context.Background()
	f, stats := newQuotaFixture(t, 0)
	stats.set(100*gib, 100)

	quota, err := f.store.GetQuota(ctx, "db.lib")
	require.NoError(t, err)
	assert.Zero(t, quota)

	require.NoError(t, f.store.CheckQuota(ctx, "db.lib"))
	assert.Zero(t, stats.calls.Load())
}

func TestCheckQuotaOnCollectionStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.InitializeLibrary(ctx, "lib", testLibraryType, WithQuota(1)))

	lib, err := f.store.GetLibrary(ctx, "lib")
	require.NoError(t, err)
	coll, err := lib.Binding().TopLevelCollection(ctx)
	require.NoError(t, err)
	require.NoError(t, coll.InsertOne(ctx, bson.M{"_id": 1, "payload": "x"}))

	assert.ErrorIs(t, lib.Binding().CheckQuota(ctx), errs.ErrQuotaExceeded)
}

func TestQuotaCountdown(t *testing.T) {
	assert.Equal(t, int64(6), quotaCountdown(database.Stats{Size: 900 * mib, Count: 100}, gib))
	assert.Equal(t, int64(51153), quotaCountdown(database.Stats{Size: mib, Count: 100}, gib))
	// a single document is assumed to be 100 KiB
	assert.Equal(t, int64(5), quotaCountdown(database.Stats{Size: 10, Count: 1}, mib))
	assert.Zero(t, quotaCountdown(database.Stats{Size: 2 * gib, Count: 100}, gib))
}

func TestQuotaReachedExactly(t *testing.T) {
	ctx := context.Background()
	stats := &fakeStats{}
	stats.set(0, 0)
	f := newFixture(t, WithStatsSource(stats.source()))
	require.NoError(t, f.store.InitializeLibrary(ctx, "user.library", testLibraryType, WithQuota(100*gib)))

	quota, err := f.store.GetQuota(ctx, "user.library")
	require.NoError(t, err)
	assert.Equal(t, 100*1024*1024*1024, int(quota))

	stats.set(50*gib, 1000)
	require.NoError(t, f.store.CheckQuota(ctx, "user.library"))

	lib, err := f.store.GetLibrary(ctx, "user.library")
	require.NoError(t, err)
	for lib.Binding().QuotaCountdown() > 0 {
		require.NoError(t, f.store.CheckQuota(ctx, "user.library"))
	}

	stats.set(100*gib, 2000)
	err = f.store.CheckQuota(ctx, "user.library")
	require.ErrorIs(t, err, errs.ErrQuotaExceeded)
	assert.Equal(t, "Quota Exceeded: argus_user.library 1.000 / 100 GB used", err.Error())
}
