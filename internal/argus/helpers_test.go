package argus

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/life-stream-dev/argus/internal/catalog"
	"github.com/life-stream-dev/argus/internal/database"
	"github.com/stretchr/testify/require"
)

const testLibraryType = "test"

type testLibrary struct {
	binding *Binding
	resets  int
}

func (l *testLibrary) Binding() *Binding {
	return l.binding
}

func (l *testLibrary) Reset() {
	l.resets++
}

type testType struct {
	initialized []string
}

func (t *testType) Initialize(_ context.Context, b *Binding, _ map[string]any) error {
	t.initialized = append(t.initialized, b.FullName())
	return nil
}

func (t *testType) Open(_ context.Context, b *Binding) (Library, error) {
	return &testLibrary{binding: b}, nil
}

type record struct {
	level slog.Level
	msg   string
}

type recordingHandler struct {
	mu      sync.Mutex
	records []record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, record{level: r.Level, msg: r.Message})
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

func (h *recordingHandler) messages(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.records {
		if r.level == level {
			out = append(out, r.msg)
		}
	}
	return out
}

type fixture struct {
	cluster *database.MemoryCluster
	store   *Store
	logs    *recordingHandler
	cache   *catalog.Cache
	libType *testType
	pid     int
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		cluster: database.NewMemoryCluster(),
		logs:    &recordingHandler{},
		cache:   catalog.New(catalog.NewMemoryStore()),
		libType: &testType{},
		pid:     100,
	}
	base := []Option{
		WithConnector(f.cluster),
		WithLogger(slog.New(f.logs)),
		WithCatalog(f.cache),
		WithProcessID(func() int { return f.pid }),
	}
	f.store = New("localhost:27017", append(base, opts...)...)
	require.NoError(t, f.store.Registry().Register(testLibraryType, f.libType))
	t.Cleanup(func() { _ = f.store.Close(context.Background()) })
	return f
}

func (f *fixture) initialize(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, f.store.InitializeLibrary(context.Background(), name, testLibraryType))
	}
}
