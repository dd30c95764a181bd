package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/life-stream-dev/argus/internal/argus"
	"github.com/life-stream-dev/argus/internal/bsonstore"
	"github.com/life-stream-dev/argus/internal/catalog"
	"github.com/life-stream-dev/argus/internal/config"
	"github.com/life-stream-dev/argus/internal/credentials"
	"github.com/life-stream-dev/argus/internal/database"
	"github.com/life-stream-dev/argus/internal/event"
	"github.com/life-stream-dev/argus/internal/logger"
	"github.com/life-stream-dev/argus/internal/metrics"
	"github.com/life-stream-dev/argus/internal/retry"
	"github.com/life-stream-dev/argus/internal/tasks"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const poolWindDown = 5 * time.Second

//nolint:gochecknoglobals // cobra flags
var (
	cfgFile  string
	logLevel string
)

//nolint:gochecknoglobals // cobra commands are global
var rootCmd = &cobra.Command{
	Use:   "argus",
	Short: "Manage argus libraries on a MongoDB cluster",
	Long: `argus administers libraries: named, typed, quota limited collection
groups living in "argus" and "argus_<namespace>" databases.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "./config.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error), overrides the config file")
}

// app holds everything a command needs. Every resource is registered with
// the cleaner so both a normal return and a signal release it.
type app struct {
	cfg            *config.Config
	cleaner        *event.Cleaner
	loggerCallback *logger.ShutdownCallback
	pool           *tasks.Pool
	killSwitch     *tasks.Event
	store          *argus.Store
	hosts          *argus.Hosts
}

func newApp() (*app, error) {
	cfg, err := config.ReadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	loggerCallback := logger.Init(logger.Options{Dir: cfg.Log.Dir, Level: level, DebugMode: cfg.DebugMode})
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)

	if cfg.Metrics.Address != "" {
		metrics.StartMetricsServer(cfg.Metrics.Address)
		cleaner.Add(metrics.StopMetricsServer{})
	}

	a := &app{cfg: cfg, cleaner: cleaner, loggerCallback: loggerCallback, killSwitch: tasks.NewEvent()}
	a.pool, err = tasks.NewPool(cfg.Tasks.Workers, tasks.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	// registered before the store so running tasks stop before it closes
	cleaner.Add(event.CallableFunc(a.stopTasks))

	cache, err := a.catalogCache()
	if err != nil {
		return nil, err
	}

	policy := retry.New(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelayDuration(),
		MaxDelay:    cfg.Retry.MaxDelayDuration(),
	})
	registry := argus.NewRegistry()
	if err := bsonstore.Register(registry); err != nil {
		return nil, err
	}
	common := []argus.Option{
		argus.WithAppName(cfg.AppName),
		argus.WithRetry(policy),
		argus.WithRegistry(registry),
		argus.WithCredentials(credentials.NewStatic(cfg.Credentials)),
		argus.WithConnectOptions(database.ConnectOptions{
			MaxPoolSize:            cfg.Database.MaxPoolSize,
			ConnectTimeout:         cfg.Database.ConnectTimeoutDuration(),
			SocketTimeout:          cfg.Database.SocketTimeoutDuration(),
			ServerSelectionTimeout: cfg.Database.ServerSelectionTimeoutDuration(),
			AllowSecondary:         cfg.Database.AllowSecondary,
			UseTLS:                 cfg.Database.UseTLS,
		}),
	}
	// other hosts keep their catalog in their own meta_db
	a.hosts = argus.NewHosts(common...)
	a.store = a.hosts.Add(argus.New(cfg.Database.Host, append(common, argus.WithCatalog(cache))...))
	cleaner.Add(a.hosts)
	return a, nil
}

// resolve maps a --library value to its Store. "library@host" addresses
// another cluster; a bare name lives on database.host.
func (a *app) resolve(name string) (*argus.Store, string, error) {
	if !strings.Contains(name, "@") {
		return a.store, name, nil
	}
	library, host, err := argus.ParseConnectionString(name)
	if err != nil {
		return nil, "", err
	}
	return a.hosts.Store(host), library, nil
}

// catalogCache builds the configured backend. The mongo backend reads through
// the Store, which does not exist yet, so it resolves a.store lazily.
func (a *app) catalogCache() (*catalog.Cache, error) {
	opts := []catalog.Option{
		catalog.WithEnabled(a.cfg.Cache.Enabled),
		catalog.WithExpiry(a.cfg.Cache.ExpiryDuration()),
		catalog.WithLogger(slog.Default()),
	}
	switch a.cfg.Cache.Backend {
	case "memory":
		return catalog.New(catalog.NewMemoryStore(), opts...), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Cache.Redis.Address})
		a.cleaner.Add(event.CallableFunc(func(context.Context) error { return client.Close() }))
		return catalog.New(catalog.NewRedisStore(client, a.cfg.Cache.Redis.Prefix), opts...), nil
	case "mongo":
		return catalog.New(catalog.NewMongoStore(func(ctx context.Context) (database.Collection, error) {
			conn, err := a.store.Conn(ctx)
			if err != nil {
				return nil, err
			}
			return conn.Database(catalog.MetaDatabase).Collection(catalog.CacheCollection), nil
		}), opts...), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
	}
}

func (a *app) stopTasks(context.Context) error {
	a.killSwitch.Set()
	a.pool.StopAllRunningTasks()
	a.pool.Shutdown(poolWindDown)
	return nil
}

// context bounds one administrative call by database.operation_timeout.
func (a *app) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, a.cfg.Database.OperationTimeoutDuration())
}

func (a *app) close() {
	if err := a.cleaner.Clean(context.Background()); err != nil {
		logger.ErrorF("Cleanup failed: %v", err)
	}
	_ = a.loggerCallback.Invoke(context.Background())
}

// run wraps a command body with app setup and teardown.
func run(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd.Context(), a, args)
	}
}
