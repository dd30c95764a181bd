package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/life-stream-dev/argus/internal/argus"
	"github.com/life-stream-dev/argus/internal/bsonstore"
	"github.com/life-stream-dev/argus/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	previous := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = previous })
}

func TestNewAppWiresStore(t *testing.T) {
	writeConfig(t, `
database:
  host: db.example.com:27017
cache:
  backend: memory
tasks:
  workers: 2
`)
	a, err := newApp()
	require.NoError(t, err)
	defer a.close()

	assert.Equal(t, "db.example.com:27017", a.store.Host())
	assert.Equal(t, argus.Disconnected, a.store.State())
	assert.Equal(t, []string{bsonstore.TypeName}, a.store.Registry().Tags())
	assert.Equal(t, 2, a.pool.Size())
	assert.False(t, a.pool.IsInitialized())
}

func TestResolveLibraryHost(t *testing.T) {
	writeConfig(t, `
database:
  host: db.example.com:27017
cache:
  backend: memory
`)
	a, err := newApp()
	require.NoError(t, err)
	defer a.close()

	store, library, err := a.resolve("research.prices")
	require.NoError(t, err)
	assert.Same(t, a.store, store)
	assert.Equal(t, "research.prices", library)

	store, library, err = a.resolve("research.prices@db.example.com:27017")
	require.NoError(t, err)
	assert.Same(t, a.store, store)
	assert.Equal(t, "research.prices", library)

	store, library, err = a.resolve("prices@backup.example.com:27017")
	require.NoError(t, err)
	assert.Equal(t, "backup.example.com:27017", store.Host())
	assert.Equal(t, "prices", library)
	assert.Equal(t, []string{bsonstore.TypeName}, store.Registry().Tags())
	assert.NotSame(t, a.store.Catalog(), store.Catalog())

	other, _, err := a.resolve("ns.other@backup.example.com:27017")
	require.NoError(t, err)
	assert.Same(t, store, other)

	_, _, err = a.resolve("prices@")
	assert.ErrorIs(t, err, errs.ErrInvalidLibraryName)
}

func TestNewAppRedisCatalog(t *testing.T) {
	mr := miniredis.RunT(t)
	writeConfig(t, `
cache:
  backend: redis
  redis:
    address: `+mr.Addr()+`
`)
	a, err := newApp()
	require.NoError(t, err)
	defer a.close()
	assert.True(t, a.store.Catalog().Enabled())
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	writeConfig(t, `
cache:
  backend: etcd
`)
	_, err := newApp()
	assert.Error(t, err)
}

func TestHumanizeBytes(t *testing.T) {
	assert.Equal(t, "1.0 GiB", humanizeBytes(gigabyte))
	assert.Equal(t, "0 B", humanizeBytes(-5))
}
