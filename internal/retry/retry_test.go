package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/life-stream-dev/argus/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts uint) *Policy {
	return New(Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
}

func TestRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), "ping", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("ping: %w", database.ErrTransient)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestStopsOnPermanentError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := fastPolicy(5).Do(context.Background(), "find", func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Call(context.Background(), fastPolicy(3), "connect", func(context.Context) (int, error) {
		calls++
		return 0, database.ErrTransient
	})
	assert.ErrorIs(t, err, database.ErrTransient)
	assert.Equal(t, 3, calls)
}

func TestNilPolicyRunsOnce(t *testing.T) {
	var p *Policy
	calls := 0
	value, err := Call(context.Background(), p, "noop", func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 1, calls)
}
