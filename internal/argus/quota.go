package argus

import (
	"context"
	"fmt"
	"math"

	"github.com/life-stream-dev/argus/internal/database"
	"github.com/life-stream-dev/argus/internal/errs"
	"github.com/life-stream-dev/argus/internal/metrics"
)

const (
	// DefaultQuota is applied by InitializeLibrary when none is stored yet.
	DefaultQuota int64 = 10 * 1024 * 1024 * 1024

	quotaWarnRatio       = 0.8
	defaultAvgObjectSize = 100 * 1024
)

// StatsSource reports the storage used by a library.
type StatsSource interface {
	Usage(ctx context.Context, b *Binding) (database.Stats, error)
}

type StatsSourceFunc func(ctx context.Context, b *Binding) (database.Stats, error)

func (f StatsSourceFunc) Usage(ctx context.Context, b *Binding) (database.Stats, error) {
	return f(ctx, b)
}

// collectionStats sums the library's collections in its namespace.
type collectionStats struct{}

func (collectionStats) Usage(ctx context.Context, b *Binding) (database.Stats, error) {
	var stats database.Stats
	err := b.store.retry.Do(ctx, "stats", func(ctx context.Context) error {
		db, err := b.DB(ctx)
		if err != nil {
			return err
		}
		stats, err = db.Stats(ctx, b.library)
		return err
	})
	return stats, err
}

func toGigabytes(bytes int64) float64 {
	return float64(bytes) / 1024.0 / 1024.0 / 1024.0
}

// GetQuota returns the stored quota in bytes, 0 meaning unset or unlimited.
func (b *Binding) GetQuota(ctx context.Context) (int64, error) {
	value, ok, err := b.Metadata(ctx, fieldQuota)
	if err != nil || !ok {
		return 0, err
	}
	return database.ToInt64(value), nil
}

// SetQuota stores the quota and forces a real check on the next write.
func (b *Binding) SetQuota(ctx context.Context, bytes int64) error {
	if err := b.SetMetadata(ctx, fieldQuota, bytes); err != nil {
		return err
	}
	b.quotaMu.Lock()
	b.quotaCountdown = 0
	b.quotaMu.Unlock()
	return nil
}

// QuotaCountdown is the number of writes left before usage is sampled again.
func (b *Binding) QuotaCountdown() int64 {
	b.quotaMu.Lock()
	defer b.quotaMu.Unlock()
	return b.quotaCountdown
}

// RefreshQuota samples usage now regardless of the countdown.
func (b *Binding) RefreshQuota(ctx context.Context) error {
	b.quotaMu.Lock()
	b.quotaCountdown = 0
	b.quotaMu.Unlock()
	return b.CheckQuota(ctx)
}

// CheckQuota runs on the write path. Usage is only sampled once the countdown
// reaches zero; the next countdown is half the number of average sized
// documents that would exhaust the remaining headroom.
func (b *Binding) CheckQuota(ctx context.Context) error {
	b.quotaMu.Lock()
	if b.quotaCountdown > 0 {
		b.quotaCountdown--
		b.quotaMu.Unlock()
		metrics.QuotaChecks.WithLabelValues("sampled").Inc()
		return nil
	}
	b.quotaMu.Unlock()

	quota, err := b.GetQuota(ctx)
	if err != nil {
		return err
	}
	if quota <= 0 {
		metrics.QuotaChecks.WithLabelValues("unlimited").Inc()
		return nil
	}

	stats, err := b.store.stats.Usage(ctx, b)
	if err != nil {
		return err
	}

	ratio := float64(stats.Size) / float64(quota)
	metrics.QuotaUsageRatio.WithLabelValues(b.FullName()).Set(ratio)
	if stats.Size >= quota {
		metrics.QuotaChecks.WithLabelValues("exceeded").Inc()
		return errs.New(errs.ErrQuotaExceeded, "Quota Exceeded: %s %.3f / %.0f GB used",
			b.FullName(), ratio, toGigabytes(quota))
	}

	msg := fmt.Sprintf("Mongo Quota: %s %.3f / %.0f GB used", b.FullName(), ratio, toGigabytes(quota))
	if ratio >= quotaWarnRatio {
		b.store.logger.Warn(msg)
		metrics.QuotaChecks.WithLabelValues("warning").Inc()
	} else {
		b.store.logger.Info(msg)
		metrics.QuotaChecks.WithLabelValues("ok").Inc()
	}

	countdown := quotaCountdown(stats, quota)
	b.quotaMu.Lock()
	b.quotaCountdown = countdown
	b.quotaMu.Unlock()
	return nil
}

func quotaCountdown(stats database.Stats, quota int64) int64 {
	avgSize := int64(defaultAvgObjectSize)
	if stats.Count > 1 {
		avgSize = stats.Size / stats.Count
	}
	if avgSize <= 0 {
		avgSize = 1
	}
	remaining := quota - stats.Size
	countdown := int64(math.Floor(float64(remaining) / float64(avgSize) / 2))
	if countdown < 0 {
		return 0
	}
	return countdown
}
