// Package credentials resolves the user a Store authenticates with for a
// given (host, application, database).
package credentials

import (
	"context"
	"strings"
	"sync"

	"github.com/life-stream-dev/argus/internal/config"
)

// Credential is only held for the duration of one authentication attempt.
type Credential struct {
	Database string
	User     string
	Password string
}

// Provider returns (nil, nil) when it has nothing for the triple.
type Provider interface {
	Lookup(ctx context.Context, host, appName, database string) (*Credential, error)
}

type ProviderFunc func(ctx context.Context, host, appName, database string) (*Credential, error)

func (f ProviderFunc) Lookup(ctx context.Context, host, appName, database string) (*Credential, error) {
	return f(ctx, host, appName, database)
}

// Static serves credentials listed in the configuration file. Empty or "*"
// host and app_name entries match anything.
type Static struct {
	entries []config.Credential
}

func NewStatic(entries []config.Credential) *Static {
	return &Static{entries: append([]config.Credential(nil), entries...)}
}

func wildcard(pattern, value string) bool {
	return pattern == "" || pattern == "*" || strings.EqualFold(pattern, value)
}

func (s *Static) Lookup(_ context.Context, host, appName, database string) (*Credential, error) {
	for _, entry := range s.entries {
		if entry.Database != database || !wildcard(entry.Host, host) || !wildcard(entry.AppName, appName) {
			continue
		}
		return &Credential{Database: entry.Database, User: entry.User, Password: entry.Password}, nil
	}
	return nil, nil
}

// Hooks asks registered providers in order; the first hit wins.
type Hooks struct {
	mu        sync.RWMutex
	providers []Provider
}

func NewHooks(providers ...Provider) *Hooks {
	return &Hooks{providers: providers}
}

func (h *Hooks) Register(provider Provider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers = append(h.providers, provider)
}

func (h *Hooks) Lookup(ctx context.Context, host, appName, database string) (*Credential, error) {
	h.mu.RLock()
	providers := append([]Provider(nil), h.providers...)
	h.mu.RUnlock()

	for _, provider := range providers {
		cred, err := provider.Lookup(ctx, host, appName, database)
		if err != nil {
			return nil, err
		}
		if cred != nil {
			return cred, nil
		}
	}
	return nil, nil
}
