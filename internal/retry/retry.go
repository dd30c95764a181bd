// Package retry retries connection-touching calls on transient failures.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/life-stream-dev/argus/internal/database"
)

// Config controls retry behaviour.
type Config struct {
	MaxAttempts uint
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// Policy retries operations whose error satisfies Retryable with exponential
// backoff. A nil *Policy runs every operation exactly once.
type Policy struct {
	cfg       Config
	logger    *slog.Logger
	retryable func(error) bool
}

type Option func(*Policy)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) { p.logger = logger }
}

// WithRetryable replaces the default database.IsTransient classifier.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) { p.retryable = fn }
}

func New(cfg Config, opts ...Option) *Policy {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 50 * time.Millisecond
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	p := &Policy{
		cfg:       cfg,
		logger:    slog.Default(),
		retryable: database.IsTransient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.BaseDelay
	b.MaxInterval = p.cfg.MaxDelay
	b.Multiplier = p.cfg.Multiplier
	return b
}

// Do runs fn until it succeeds, fails permanently or attempts run out.
func (p *Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Call(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Do for operations returning a value.
func Call[T any](ctx context.Context, p *Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	if p == nil || p.cfg.MaxAttempts <= 1 {
		return fn(ctx)
	}

	attempt := 0
	operation := func() (T, error) {
		attempt++
		result, err := fn(ctx)
		if err != nil && !p.retryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}
	notify := func(err error, next time.Duration) {
		p.logger.Warn("transient database error, retrying",
			"operation", op,
			"attempt", attempt,
			"max_attempts", p.cfg.MaxAttempts,
			"next_delay", next,
			"error", err,
		)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
}
