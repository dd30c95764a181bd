package main

import (
	"context"
	"fmt"
	"time"

	"github.com/life-stream-dev/argus/internal/argus"
	"github.com/life-stream-dev/argus/internal/bsonstore"
	"github.com/life-stream-dev/argus/internal/errs"
	"github.com/life-stream-dev/argus/internal/logger"
	"github.com/spf13/cobra"
)

const gigabyte = 1024 * 1024 * 1024

//nolint:gochecknoglobals // cobra flags
var (
	initLibrary   string
	initType      string
	initQuotaGB   float64
	initNoCheck   bool
	deleteLibrary string
	renameFrom    string
	renameTo      string
	listNewerThan time.Duration
	listUncached  bool
)

//nolint:gochecknoglobals // cobra commands are global
var (
	initLibraryCmd = &cobra.Command{
		Use:   "init-library",
		Short: "Create a library",
		Long: `Create a library of the given type. Without --quota a 10 GB quota is
applied unless one is already stored; --quota 0 disables the quota.

Examples:
  argus init-library --library research.prices
  argus init-library --library prices --type BSONStore --quota 50`,
		RunE: run(runInitLibrary),
	}

	deleteLibraryCmd = &cobra.Command{
		Use:   "delete-library",
		Short: "Drop a library and all of its collections",
		RunE:  run(runDeleteLibrary),
	}

	renameLibraryCmd = &cobra.Command{
		Use:   "rename-library",
		Short: "Rename a library within its namespace",
		RunE:  run(runRenameLibrary),
	}

	listLibrariesCmd = &cobra.Command{
		Use:   "list-libraries",
		Short: "List the libraries on the cluster",
		RunE:  run(runListLibraries),
	}

	reloadCacheCmd = &cobra.Command{
		Use:   "reload-cache",
		Short: "Rebuild the cached library catalog",
		RunE:  run(runReloadCache),
	}
)

func init() {
	rootCmd.AddCommand(initLibraryCmd, deleteLibraryCmd, renameLibraryCmd, listLibrariesCmd, reloadCacheCmd)

	initLibraryCmd.Flags().StringVar(&initLibrary, "library", "", "library name, optionally namespaced (ns.library) or on another host (library@host)")
	initLibraryCmd.Flags().StringVar(&initType, "type", bsonstore.TypeName, "library type")
	initLibraryCmd.Flags().Float64Var(&initQuotaGB, "quota", -1, "quota in GB, 0 for unlimited")
	initLibraryCmd.Flags().BoolVar(&initNoCheck, "skip-namespace-check", false, "create even if the namespace holds too many collections")
	_ = initLibraryCmd.MarkFlagRequired("library")

	deleteLibraryCmd.Flags().StringVar(&deleteLibrary, "library", "", "library name")
	_ = deleteLibraryCmd.MarkFlagRequired("library")

	renameLibraryCmd.Flags().StringVar(&renameFrom, "from", "", "current library name")
	renameLibraryCmd.Flags().StringVar(&renameTo, "to", "", "new library name")
	_ = renameLibraryCmd.MarkFlagRequired("from")
	_ = renameLibraryCmd.MarkFlagRequired("to")

	listLibrariesCmd.Flags().DurationVar(&listNewerThan, "newer-than", 0, "only trust a cached catalog younger than this")
	listLibrariesCmd.Flags().BoolVar(&listUncached, "uncached", false, "always enumerate the cluster")
}

func runInitLibrary(ctx context.Context, a *app, _ []string) error {
	ctx, cancel := a.context(ctx)
	defer cancel()

	var opts []argus.InitOption
	if initQuotaGB >= 0 {
		opts = append(opts, argus.WithQuota(int64(initQuotaGB*gigabyte)))
	}
	if initNoCheck {
		opts = append(opts, argus.WithoutLibraryCountCheck())
	}
	store, library, err := a.resolve(initLibrary)
	if err != nil {
		return err
	}
	if err := store.InitializeLibrary(ctx, library, initType, opts...); err != nil {
		return err
	}
	logger.InfoF("Created %s library %s on %s", initType, library, store.Host())
	return nil
}

func runDeleteLibrary(ctx context.Context, a *app, _ []string) error {
	ctx, cancel := a.context(ctx)
	defer cancel()
	store, library, err := a.resolve(deleteLibrary)
	if err != nil {
		return err
	}
	if err := store.DeleteLibrary(ctx, library); err != nil {
		return err
	}
	logger.InfoF("Deleted library %s on %s", library, store.Host())
	return nil
}

func runRenameLibrary(ctx context.Context, a *app, _ []string) error {
	ctx, cancel := a.context(ctx)
	defer cancel()

	store, from, err := a.resolve(renameFrom)
	if err != nil {
		return err
	}
	target, to, err := a.resolve(renameTo)
	if err != nil {
		return err
	}
	if store != target {
		return errs.New(errs.ErrCrossNamespaceRename, "Collection can only be renamed in the same database")
	}
	return store.RenameLibrary(ctx, from, to)
}

func runListLibraries(ctx context.Context, a *app, _ []string) error {
	ctx, cancel := a.context(ctx)
	defer cancel()

	var (
		libraries []string
		err       error
	)
	if listUncached {
		libraries, err = a.store.ListLibrariesUncached(ctx)
	} else {
		libraries, err = a.store.ListLibraries(ctx, argus.NewerThan(listNewerThan))
	}
	if err != nil {
		return err
	}
	for _, library := range libraries {
		fmt.Println(library)
	}
	return nil
}

func runReloadCache(ctx context.Context, a *app, _ []string) error {
	ctx, cancel := a.context(ctx)
	defer cancel()
	if err := a.store.ReloadCache(ctx); err != nil {
		return err
	}
	logger.Info("Library catalog cache reloaded")
	return nil
}
