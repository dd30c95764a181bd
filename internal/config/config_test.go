package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigMissingFileUsesDefaults(t *testing.T) {
	config, err := ReadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "localhost:27017", config.Database.Host)
	assert.Equal(t, uint64(4), config.Database.MaxPoolSize)
	assert.Equal(t, 2*time.Second, config.Database.ConnectTimeoutDuration())
	assert.Equal(t, 10*time.Minute, config.Database.SocketTimeoutDuration())
	assert.Equal(t, 30*time.Second, config.Database.ServerSelectionTimeoutDuration())
	assert.True(t, config.Cache.Enabled)
	assert.Equal(t, time.Hour, config.Cache.ExpiryDuration())
	assert.Equal(t, "mongo", config.Cache.Backend)
	assert.Equal(t, 4, config.Tasks.Workers)
	assert.Equal(t, uint(5), config.Retry.MaxAttempts)
	assert.Equal(t, "argus", config.AppName)
}

func TestReadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
app_name: research
database:
  host: mongo1:27017,mongo2:27017
  max_pool_size: 16
  socket_timeout: 2d
cache:
  backend: redis
  redis:
    address: localhost:6379
credentials:
  - host: mongo1:27017
    database: argus_jdoe
    user: jdoe
    password: secret
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	config, err := ReadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "research", config.AppName)
	assert.Equal(t, uint64(16), config.Database.MaxPoolSize)
	assert.Equal(t, 48*time.Hour, config.Database.SocketTimeoutDuration())
	assert.Equal(t, "redis", config.Cache.Backend)
	assert.Equal(t, "argus", config.Cache.Redis.Prefix)
	require.Len(t, config.Credentials, 1)
	assert.Equal(t, "jdoe", config.Credentials[0].User)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"empty host", func(c *Config) { c.Database.Host = "" }, ErrHostRequired},
		{"zero workers", func(c *Config) { c.Tasks.Workers = 0 }, ErrInvalidWorkers},
		{"zero pool", func(c *Config) { c.Database.MaxPoolSize = 0 }, ErrInvalidPoolSize},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "etcd" }, ErrUnknownCacheStore},
		{"redis without address", func(c *Config) { c.Cache.Backend = "redis" }, ErrRedisAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := Default()
			require.NoError(t, err)
			tt.mutate(config)
			assert.ErrorIs(t, config.Validate(), tt.want)
		})
	}

	config, err := Default()
	require.NoError(t, err)
	config.Retry.BaseDelay = "soon"
	assert.Error(t, config.Validate())
}

func TestReadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [unclosed"), 0o600))

	_, err := ReadConfig(path)
	assert.Error(t, err)
}
