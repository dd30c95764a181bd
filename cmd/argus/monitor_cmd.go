package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/argus/internal/errs"
	"github.com/life-stream-dev/argus/internal/logger"
	"github.com/life-stream-dev/argus/internal/tasks"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // cobra flags
var (
	monitorLibraries []string
	monitorInterval  time.Duration
)

//nolint:gochecknoglobals // cobra commands are global
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Periodically check library quotas",
	Long: `Check the quota of each library every interval until interrupted. Without
--library every library on the cluster is monitored.

Examples:
  argus monitor --interval 5m
  argus monitor --library research.prices --library prices@backup.example.com --interval 30s`,
	RunE: run(runMonitor),
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringSliceVar(&monitorLibraries, "library", nil, "library to monitor, repeatable")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Minute, "time between checks")
}

func runMonitor(ctx context.Context, a *app, _ []string) error {
	if monitorInterval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", monitorInterval)
	}
	libraries := monitorLibraries
	if len(libraries) == 0 {
		listCtx, cancel := a.context(ctx)
		var err error
		libraries, err = a.store.ListLibraries(listCtx)
		cancel()
		if err != nil {
			return err
		}
	}
	if len(libraries) == 0 {
		logger.Warn("No libraries to monitor")
		return nil
	}

	for _, library := range libraries {
		if _, _, err := a.resolve(library); err != nil {
			return err
		}
	}

	monitored := make([]*tasks.Task, 0, len(libraries))
	for _, library := range libraries {
		_, task, err := a.pool.Submit(true, a.quotaCheck(ctx, library))
		if err != nil {
			return err
		}
		monitored = append(monitored, task)
	}
	logger.InfoF("Monitoring %d libraries every %s", len(monitored), monitorInterval)

	// the kill switch only interrupts the sleep; cancelling ends each loop
	go func() {
		<-a.killSwitch.Done()
		for _, task := range monitored {
			task.Cancel()
		}
	}()

	return tasks.WaitOrAbort(monitored, poolWindDown, a.killSwitch)
}

// quotaCheck returns one iteration of a looping task. Only a closed store
// ends the loop; every other failure is logged and retried next interval.
func (a *app) quotaCheck(ctx context.Context, library string) tasks.Func {
	return func() error {
		checkCtx, cancel := a.context(ctx)
		err := a.refreshQuota(checkCtx, library)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, errs.ErrClosed):
			return err
		case errors.Is(err, errs.ErrQuotaExceeded):
			logger.Error(err.Error())
		default:
			logger.WarnF("Quota check for %s failed: %v", library, err)
		}

		select {
		case <-a.killSwitch.Done():
		case <-ctx.Done():
			a.killSwitch.Set()
		case <-time.After(monitorInterval):
		}
		return nil
	}
}

func (a *app) refreshQuota(ctx context.Context, name string) error {
	store, library, err := a.resolve(name)
	if err != nil {
		return err
	}
	lib, err := store.GetLibrary(ctx, library)
	if err != nil {
		return err
	}
	return lib.Binding().RefreshQuota(ctx)
}
