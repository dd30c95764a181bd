package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/life-stream-dev/argus/internal/database"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // cobra flags
var (
	quotaLibrary string
	quotaSetGB   float64
)

//nolint:gochecknoglobals // cobra commands are global
var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show or set a library quota",
	Long: `Show the quota and current usage of a library, or replace the quota.

Examples:
  argus quota --library research.prices
  argus quota --library research.prices --set 20
  argus quota --library research.prices@replica.example.com:27017`,
	RunE: run(runQuota),
}

func init() {
	rootCmd.AddCommand(quotaCmd)
	quotaCmd.Flags().StringVar(&quotaLibrary, "library", "", "library name")
	quotaCmd.Flags().Float64Var(&quotaSetGB, "set", -1, "new quota in GB, 0 for unlimited")
	_ = quotaCmd.MarkFlagRequired("library")
}

func humanizeBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func runQuota(ctx context.Context, a *app, _ []string) error {
	ctx, cancel := a.context(ctx)
	defer cancel()

	store, library, err := a.resolve(quotaLibrary)
	if err != nil {
		return err
	}
	if quotaSetGB >= 0 {
		return store.SetQuota(ctx, library, int64(quotaSetGB*gigabyte))
	}

	quota, err := store.GetQuota(ctx, library)
	if err != nil {
		return err
	}
	b, err := store.Binding(ctx, library)
	if err != nil {
		return err
	}
	db, err := b.DB(ctx)
	if err != nil {
		return err
	}
	var stats database.Stats
	if stats, err = db.Stats(ctx, b.Library()); err != nil {
		return err
	}

	if quota == 0 {
		fmt.Printf("%s: %s in %s documents, no quota\n",
			b.FullName(), humanizeBytes(stats.Size), humanize.Comma(stats.Count))
		return nil
	}
	fmt.Printf("%s: %s of %s used (%.1f%%) in %s documents\n",
		b.FullName(), humanizeBytes(stats.Size), humanizeBytes(quota),
		100*float64(stats.Size)/float64(quota), humanize.Comma(stats.Count))
	return nil
}
