// Package config loads the argus client configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/life-stream-dev/argus/internal/utils"
	"gopkg.in/yaml.v3"
)

var (
	ErrHostRequired      = errors.New("database host is required")
	ErrInvalidPoolSize   = errors.New("max_pool_size must be at least 1")
	ErrInvalidWorkers    = errors.New("tasks.workers must be at least 1")
	ErrUnknownCacheStore = errors.New("cache.backend must be one of mongo, redis, memory")
	ErrRedisAddress      = errors.New("cache.redis.address is required for the redis backend")
)

type Database struct {
	Host                   string `yaml:"host" default:"localhost:27017"`
	UseTLS                 bool   `yaml:"use_tls"`
	MaxPoolSize            uint64 `yaml:"max_pool_size" default:"4"`
	ConnectTimeout         string `yaml:"connect_timeout" default:"2s"`
	SocketTimeout          string `yaml:"socket_timeout" default:"10m"`
	ServerSelectionTimeout string `yaml:"server_selection_timeout" default:"30s"`
	OperationTimeout       string `yaml:"operation_timeout" default:"30s"`
	AllowSecondary         bool   `yaml:"allow_secondary"`
}

type Redis struct {
	Address string `yaml:"address"`
	Prefix  string `yaml:"prefix" default:"argus"`
}

type Cache struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Expiry  string `yaml:"expiry" default:"1h"`
	Backend string `yaml:"backend" default:"mongo"`
	Redis   Redis  `yaml:"redis"`
}

type Tasks struct {
	Workers int `yaml:"workers" default:"4"`
}

type Retry struct {
	MaxAttempts uint   `yaml:"max_attempts" default:"5"`
	BaseDelay   string `yaml:"base_delay" default:"100ms"`
	MaxDelay    string `yaml:"max_delay" default:"5s"`
}

type Metrics struct {
	Address string `yaml:"address"`
}

type Log struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level" default:"info"`
}

type Credential struct {
	Host     string `yaml:"host"`
	AppName  string `yaml:"app_name"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type Config struct {
	Database    Database     `yaml:"database"`
	Cache       Cache        `yaml:"cache"`
	Tasks       Tasks        `yaml:"tasks"`
	Retry       Retry        `yaml:"retry"`
	Metrics     Metrics      `yaml:"metrics"`
	Log         Log          `yaml:"log"`
	Credentials []Credential `yaml:"credentials"`
	DebugMode   bool         `yaml:"debug_mode"`
	AppName     string       `yaml:"app_name" default:"argus"`
}

// Default returns a Config with every default applied.
func Default() (*Config, error) {
	config := &Config{}
	if err := defaults.Set(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ReadConfig loads path on top of the defaults. A missing file is not an error.
func ReadConfig(path string) (*Config, error) {
	config, err := Default()
	if err != nil {
		return nil, err
	}

	bytes, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return config, config.Validate()
		}
		return nil, fmt.Errorf("error occured while reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(bytes, config); err != nil {
		return nil, fmt.Errorf("the configuration file does not contain valid YAML: %w", err)
	}

	return config, config.Validate()
}

// Validate checks ranges and that every duration string parses.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return ErrHostRequired
	}
	if c.Database.MaxPoolSize < 1 {
		return ErrInvalidPoolSize
	}
	if c.Tasks.Workers < 1 {
		return ErrInvalidWorkers
	}
	switch c.Cache.Backend {
	case "mongo", "memory":
	case "redis":
		if c.Cache.Redis.Address == "" {
			return ErrRedisAddress
		}
	default:
		return ErrUnknownCacheStore
	}

	durations := map[string]string{
		"database.connect_timeout":          c.Database.ConnectTimeout,
		"database.socket_timeout":           c.Database.SocketTimeout,
		"database.server_selection_timeout": c.Database.ServerSelectionTimeout,
		"database.operation_timeout":        c.Database.OperationTimeout,
		"cache.expiry":                      c.Cache.Expiry,
		"retry.base_delay":                  c.Retry.BaseDelay,
		"retry.max_delay":                   c.Retry.MaxDelay,
	}
	for key, value := range durations {
		if _, err := utils.ParseStringTime(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func (d Database) ConnectTimeoutDuration() time.Duration {
	return utils.MustParseStringTime(d.ConnectTimeout)
}

func (d Database) SocketTimeoutDuration() time.Duration {
	return utils.MustParseStringTime(d.SocketTimeout)
}

func (d Database) ServerSelectionTimeoutDuration() time.Duration {
	return utils.MustParseStringTime(d.ServerSelectionTimeout)
}

func (d Database) OperationTimeoutDuration() time.Duration {
	return utils.MustParseStringTime(d.OperationTimeout)
}

func (c Cache) ExpiryDuration() time.Duration {
	return utils.MustParseStringTime(c.Expiry)
}

func (r Retry) BaseDelayDuration() time.Duration {
	return utils.MustParseStringTime(r.BaseDelay)
}

func (r Retry) MaxDelayDuration() time.Duration {
	return utils.MustParseStringTime(r.MaxDelay)
}
