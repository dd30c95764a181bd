package event

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/life-stream-dev/argus/internal/logger"
)

const (
	cleanerTimeout        = 10 * time.Second
	loggerShutdownTimeout = 3 * time.Second
)

type Callable interface {
	Invoke(ctx context.Context) error
}

// CallableFunc adapts a plain function to Callable.
type CallableFunc func(ctx context.Context) error

func (f CallableFunc) Invoke(ctx context.Context) error {
	return f(ctx)
}

// Cleaner runs registered shutdown hooks once, in registration order.
type Cleaner struct {
	cleaners       []Callable
	mu             sync.Mutex
	initOnce       sync.Once
	cleanOnce      sync.Once
	cleaning       bool
	cleanErr       error
	loggerShutdown Callable
	exit           func(code int)
}

func NewCleaner() *Cleaner {
	return &Cleaner{exit: os.Exit}
}

func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("Cleaner is already shutting down, ignoring new cleaner")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

// Clean invokes every hook with its own timeout and joins their errors.
// Calls after the first return the first result.
func (c *Cleaner) Clean(ctx context.Context) error {
	c.cleanOnce.Do(func() {
		c.mu.Lock()
		c.cleaning = true
		cleanersCopy := make([]Callable, len(c.cleaners))
		copy(cleanersCopy, c.cleaners)
		c.mu.Unlock()

		logger.DebugF("Starting cleanup of %d registered functions", len(cleanersCopy))

		var errs []error
		for i, callable := range cleanersCopy {
			func(idx int, cl Callable) {
				logger.DebugF("Invoking cleaner #%d (%T)", idx+1, cl)
				timeoutCtx, cancel := context.WithTimeout(ctx, cleanerTimeout)
				defer cancel()
				if err := cl.Invoke(timeoutCtx); err != nil {
					logger.ErrorF("Cleaner #%d (%T) failed: %v", idx+1, cl, err)
					errs = append(errs, err)
				}
			}(i, callable)
		}

		if len(errs) > 0 {
			logger.ErrorF("%d errors occurred during cleanup", len(errs))
		} else {
			logger.Debug("All cleaners executed successfully")
		}
		c.cleanErr = errors.Join(errs...)
	})
	return c.cleanErr
}

// Init cleans up and exits once SIGINT or SIGTERM arrives. loggerShutdown
// runs last so the cleanup itself is still logged.
func (c *Cleaner) Init(loggerShutdown Callable) {
	c.initOnce.Do(func() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		c.loggerShutdown = loggerShutdown

		go func() {
			<-ctx.Done()
			stop()
			logger.Info("Received interrupt signal, shutting down")
			c.Shutdown(0)
		}()
	})
}

// Shutdown runs the cleaners, flushes the logger and exits with code.
func (c *Cleaner) Shutdown(code int) {
	_ = c.Clean(context.Background())
	logger.Info("Cleanup finished, argus offline")

	if c.loggerShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), loggerShutdownTimeout)
		defer cancel()
		if err := c.loggerShutdown.Invoke(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "LOGGER SHUTDOWN ERROR: %v\n", err)
		}
	}
	c.exit(code)
}
