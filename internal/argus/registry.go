package argus

import (
	"context"
	"sort"
	"sync"

	"github.com/life-stream-dev/argus/internal/errs"
)

// Library is an opened, type specific handle on a library.
type Library interface {
	Binding() *Binding
}

// Resetter is implemented by handles that hold state to drop on Store.Reset.
type Resetter interface {
	Reset()
}

// LibraryType is the plugin contract of a storage encoding.
type LibraryType interface {
	// Initialize prepares a freshly bound library.
	Initialize(ctx context.Context, b *Binding, args map[string]any) error
	Open(ctx context.Context, b *Binding) (Library, error)
}

// Registry maps type tags to library types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]LibraryType
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]LibraryType)}
}

func (r *Registry) Register(tag string, libraryType LibraryType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[tag]; ok {
		return errs.New(errs.ErrDuplicateLibraryType, "Library %s already registered", tag)
	}
	r.types[tag] = libraryType
	return nil
}

func (r *Registry) Lookup(tag string) (LibraryType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	libraryType, ok := r.types[tag]
	return libraryType, ok
}

func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.types))
	for tag := range r.types {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
