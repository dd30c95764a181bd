package argus

import (
	"context"
	"errors"
	"regexp"
	"sync"

	"github.com/life-stream-dev/argus/internal/errs"
)

var connectionString = regexp.MustCompile(`^(\w+\.?\w+)@([^\s:]+:?\w+)$`)

// ParseConnectionString splits "library@host" or "ns.library@host[:port]".
func ParseConnectionString(s string) (library, host string, err error) {
	match := connectionString.FindStringSubmatch(s)
	if match == nil {
		return "", "", errs.New(errs.ErrInvalidLibraryName, "Invalid connection string: %s", s)
	}
	return match[1], match[2], nil
}

// Hosts keeps one Store per host so every library on a cluster shares a
// connection.
type Hosts struct {
	mu     sync.Mutex
	opts   []Option
	stores map[string]*Store
}

// NewHosts creates Stores on demand with opts.
func NewHosts(opts ...Option) *Hosts {
	return &Hosts{opts: opts, stores: make(map[string]*Store)}
}

func (h *Hosts) Store(host string) *Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.stores[host]
	if !ok {
		s = New(host, h.opts...)
		h.stores[host] = s
	}
	return s
}

// Add registers a Store built elsewhere under its host. When the host already
// has a Store that one is kept and returned.
func (h *Hosts) Add(s *Store) *Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.stores[s.Host()]; ok {
		return existing
	}
	h.stores[s.Host()] = s
	return s
}

// GetLibrary opens the library named by a "library@host" connection string.
func (h *Hosts) GetLibrary(ctx context.Context, connStr string) (Library, error) {
	library, host, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	return h.Store(host).GetLibrary(ctx, library)
}

// Close closes every Store and forgets them.
func (h *Hosts) Close(ctx context.Context) error {
	h.mu.Lock()
	stores := h.stores
	h.stores = make(map[string]*Store)
	h.mu.Unlock()

	var errList []error
	for _, s := range stores {
		if err := s.Close(ctx); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Invoke satisfies event.Callable.
func (h *Hosts) Invoke(ctx context.Context) error {
	return h.Close(ctx)
}
