package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/life-stream-dev/argus/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticLookup(t *testing.T) {
	static := NewStatic([]config.Credential{
		{Host: "research", AppName: "argus", Database: "argus_jblackburn", User: "jb", Password: "pw"},
		{Database: "admin", User: "root", Password: "secret"},
	})
	ctx := context.Background()

	cred, err := static.Lookup(ctx, "research", "argus", "argus_jblackburn")
	require.NoError(t, err)
	assert.Equal(t, &Credential{Database: "argus_jblackburn", User: "jb", Password: "pw"}, cred)

	cred, err = static.Lookup(ctx, "other", "argus", "argus_jblackburn")
	require.NoError(t, err)
	assert.Nil(t, cred)

	cred, err = static.Lookup(ctx, "anything", "cli", "admin")
	require.NoError(t, err)
	assert.Equal(t, "root", cred.User)
}

func TestHooksFirstHitWins(t *testing.T) {
	ctx := context.Background()
	miss := ProviderFunc(func(context.Context, string, string, string) (*Credential, error) { return nil, nil })
	hit := ProviderFunc(func(_ context.Context, _, _, db string) (*Credential, error) {
		return &Credential{Database: db, User: "hook"}, nil
	})
	hooks := NewHooks(miss)
	hooks.Register(hit)
	hooks.Register(ProviderFunc(func(context.Context, string, string, string) (*Credential, error) {
		t.Fatal("later hook must not be consulted")
		return nil, nil
	}))

	cred, err := hooks.Lookup(ctx, "h", "a", "argus")
	require.NoError(t, err)
	assert.Equal(t, "hook", cred.User)

	boom := errors.New("vault down")
	failing := NewHooks(ProviderFunc(func(context.Context, string, string, string) (*Credential, error) { return nil, boom }))
	_, err = failing.Lookup(ctx, "h", "a", "argus")
	assert.ErrorIs(t, err, boom)
}
