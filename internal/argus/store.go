// Package argus is the control plane of the client: a lazily connected,
// fork aware Store binding logical library names to namespaces, enforcing
// quotas and caching the library catalog.
package argus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/life-stream-dev/argus/internal/catalog"
	"github.com/life-stream-dev/argus/internal/credentials"
	"github.com/life-stream-dev/argus/internal/database"
	"github.com/life-stream-dev/argus/internal/errs"
	"github.com/life-stream-dev/argus/internal/metrics"
	"github.com/life-stream-dev/argus/internal/retry"
)

const (
	// ApplicationName tags connections when no app name is configured.
	ApplicationName = "argus"

	adminDatabase = "admin"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store is the session with one cluster. The connection is created on first
// use and replaced whenever the process id differs from the one recorded at
// connect time.
type Store struct {
	host        string
	appName     string
	connOptions database.ConnectOptions
	connector   database.Connector
	creds       credentials.Provider
	retry       *retry.Policy
	registry    *Registry
	cache       *catalog.Cache
	stats       StatsSource
	logger      *slog.Logger
	pid         func() int

	mu            sync.Mutex
	cond          *sync.Cond
	state         State
	conn          database.Client
	connPID       int
	generation    uint64
	ownsConn      bool
	givenInstance bool
	forkWarned    bool
	invalidated   bool
	closed        bool
	nextReason    string
	authenticated map[string]bool
	libraries     map[string]Library
}

type Option func(*Store)

func WithConnector(connector database.Connector) Option {
	return func(s *Store) { s.connector = connector }
}

func WithCredentials(provider credentials.Provider) Option {
	return func(s *Store) { s.creds = provider }
}

func WithRetry(policy *retry.Policy) Option {
	return func(s *Store) { s.retry = policy }
}

func WithCatalog(cache *catalog.Cache) Option {
	return func(s *Store) { s.cache = cache }
}

func WithRegistry(registry *Registry) Option {
	return func(s *Store) { s.registry = registry }
}

func WithStatsSource(source StatsSource) Option {
	return func(s *Store) { s.stats = source }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func WithAppName(name string) Option {
	return func(s *Store) { s.appName = name }
}

// WithConnectOptions sets pool size and timeouts; Hosts is always the Store's host.
func WithConnectOptions(opts database.ConnectOptions) Option {
	return func(s *Store) { s.connOptions = opts }
}

func WithAllowSecondary(allow bool) Option {
	return func(s *Store) { s.connOptions.AllowSecondary = allow }
}

// WithProcessID replaces os.Getpid as the source of the process identity.
func WithProcessID(pid func() int) Option {
	return func(s *Store) { s.pid = pid }
}

func newStore(host string, opts []Option) *Store {
	s := &Store{
		host:          host,
		appName:       ApplicationName,
		connector:     database.NewMongoConnector(),
		registry:      NewRegistry(),
		stats:         collectionStats{},
		logger:        slog.Default(),
		pid:           os.Getpid,
		nextReason:    "initial",
		authenticated: make(map[string]bool),
		libraries:     make(map[string]Library),
	}
	s.cond = sync.NewCond(&s.mu)
	for _, opt := range opts {
		opt(s)
	}
	s.connOptions.Hosts = host
	s.connOptions.AppName = s.appName
	if s.cache == nil {
		s.cache = catalog.New(catalog.NewMongoStore(s.cacheCollection), catalog.WithLogger(s.logger))
	}
	return s
}

// New creates a Store for host. Nothing is dialled until first use.
func New(host string, opts ...Option) *Store {
	return newStore(host, opts)
}

// NewFromClient wraps an existing connection. The Store never closes it; a
// replacement after reset or fork is dialled from the client's hosts.
func NewFromClient(client database.Client, opts ...Option) *Store {
	s := newStore(strings.Join(client.Hosts(), ","), opts)
	s.conn = client
	s.connPID = s.pid()
	s.state = Connected
	s.generation = 1
	s.givenInstance = true
	return s
}

func (s *Store) Host() string {
	return s.host
}

func (s *Store) Registry() *Registry {
	return s.registry
}

func (s *Store) Catalog() *catalog.Cache {
	return s.cache
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) String() string {
	return fmt.Sprintf("<Argus at %p, connected to %s>", s, s.host)
}

// Conn returns the live connection, connecting first if needed.
func (s *Store) Conn(ctx context.Context) (database.Client, error) {
	conn, _, err := s.connection(ctx)
	return conn, err
}

// Invalidate drops the connection without closing it, as after a fork. The
// next access dials a new one.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = true
}

// connection implements Disconnected -> Connecting -> Connected. The returned
// generation changes every time the connection object is replaced.
func (s *Store) connection(ctx context.Context) (database.Client, uint64, error) {
	s.mu.Lock()
	for {
		if s.closed {
			s.mu.Unlock()
			return nil, 0, errs.New(errs.ErrClosed, "%s has been closed", s)
		}
		if s.state == Connected && (s.connPID != s.pid() || s.invalidated) {
			s.dropForeignLocked()
			continue
		}
		if s.state == Connected {
			conn, gen := s.conn, s.generation
			s.mu.Unlock()
			return conn, gen, nil
		}
		if s.state == Connecting {
			s.cond.Wait()
			continue
		}
		break
	}
	s.state = Connecting
	reason := s.nextReason
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	adminAuthed := err == nil && s.adminAuthenticated(ctx, conn)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.cond.Broadcast()
	if err != nil {
		s.state = Disconnected
		return nil, 0, err
	}
	if s.closed {
		_ = conn.Disconnect(ctx)
		s.state = Disconnected
		return nil, 0, errs.New(errs.ErrClosed, "%s has been closed", s)
	}

	s.conn = conn
	s.connPID = s.pid()
	s.ownsConn = true
	s.invalidated = false
	s.generation++
	s.authenticated = make(map[string]bool)
	s.state = Connected
	s.nextReason = "reset"
	metrics.Connections.WithLabelValues(reason).Inc()
	s.logger.Debug("connected", "host", s.host, "generation", s.generation, "reason", reason)
	if adminAuthed {
		s.authenticated[adminDatabase] = true
	}
	return conn, s.generation, nil
}

// dropForeignLocked forgets a connection created by another process. It is
// not closed since its sockets belong to the parent.
func (s *Store) dropForeignLocked() {
	if s.givenInstance && !s.forkWarned {
		s.logger.Warn("Forking process. Argus was passed a connection during init, " +
			"the new connection may have different parameters.")
		s.forkWarned = true
	}
	s.conn = nil
	s.state = Disconnected
	s.authenticated = make(map[string]bool)
	s.nextReason = "fork"
}

func (s *Store) dial(ctx context.Context) (database.Client, error) {
	return retry.Call(ctx, s.retry, "connect", func(ctx context.Context) (database.Client, error) {
		return s.connector.Connect(ctx, s.connOptions)
	})
}

func (s *Store) lookupCredential(ctx context.Context, db string) (*credentials.Credential, error) {
	if s.creds == nil {
		return nil, nil
	}
	return s.creds.Lookup(ctx, s.host, s.appName, db)
}

// adminAuthenticated authenticates a new connection as admin when
// credentials exist; a failure is logged, not fatal.
func (s *Store) adminAuthenticated(ctx context.Context, conn database.Client) bool {
	cred, err := s.lookupCredential(ctx, adminDatabase)
	if err != nil {
		s.logger.Warn("admin credential lookup failed", "host", s.host, "error", err)
		return false
	}
	if cred == nil {
		return false
	}
	err = s.retry.Do(ctx, "authenticate", func(ctx context.Context) error {
		return conn.Authenticate(ctx, adminDatabase, database.Credential{User: cred.User, Password: cred.Password, Source: adminDatabase})
	})
	if err != nil {
		s.logger.Error("Failed to authenticate as admin", "host", s.host, "error", err)
		return false
	}
	return true
}

// authenticate is idempotent per namespace and connection generation. An
// authorization failure is logged; later reads then fail as unauthorized.
func (s *Store) authenticate(ctx context.Context, conn database.Client, gen uint64, db string) error {
	s.mu.Lock()
	done := s.generation == gen && s.authenticated[db]
	s.mu.Unlock()
	if done {
		return nil
	}

	cred, err := s.lookupCredential(ctx, db)
	if err != nil {
		return fmt.Errorf("looking up credentials for %s: %w", db, err)
	}
	if cred == nil {
		return nil
	}

	source := cred.Database
	if source == "" {
		source = db
	}
	err = s.retry.Do(ctx, "authenticate", func(ctx context.Context) error {
		return conn.Authenticate(ctx, db, database.Credential{User: cred.User, Password: cred.Password, Source: source})
	})
	if err != nil {
		if database.IsUnauthorized(err) {
			s.logger.Error("Failed to authenticate", "host", s.host, "database", db, "error", err)
			return nil
		}
		return err
	}

	s.mu.Lock()
	if s.generation == gen {
		s.authenticated[db] = true
	}
	s.mu.Unlock()
	return nil
}

// IsAuthenticated reports whether db was authenticated on the current connection.
func (s *Store) IsAuthenticated(db string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Connected && s.connPID == s.pid() && !s.invalidated && s.authenticated[db]
}

// Reset drops the connection, closing it only when the Store dialled it, and
// forgets every opened library. Reconnection stays lazy.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	for s.state == Connecting {
		s.cond.Wait()
	}
	conn, owned := s.conn, s.ownsConn
	s.conn = nil
	s.ownsConn = false
	s.state = Disconnected
	s.authenticated = make(map[string]bool)
	s.nextReason = "reset"
	libraries := s.libraries
	s.libraries = make(map[string]Library)
	s.mu.Unlock()

	for _, lib := range libraries {
		if r, ok := lib.(Resetter); ok {
			r.Reset()
		}
	}
	if conn != nil && owned {
		return conn.Disconnect(ctx)
	}
	return nil
}

// Close resets the Store and rejects further work with ErrClosed.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Reset(ctx)
}

// Invoke satisfies event.Callable.
func (s *Store) Invoke(ctx context.Context) error {
	return s.Close(ctx)
}

func (s *Store) cacheCollection(ctx context.Context) (database.Collection, error) {
	conn, err := s.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return conn.Database(catalog.MetaDatabase).Collection(catalog.CacheCollection), nil
}
