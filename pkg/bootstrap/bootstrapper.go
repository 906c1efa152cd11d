// Package bootstrap makes a dependent data store ready before a service starts
// accepting traffic.
package bootstrap

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"usersync/pkg/metrics"
)

// Readiness is implemented by anything that can report and apply outstanding
// setup work, such as schema migrations.
type Readiness interface {
	PendingChangesExist(ctx context.Context) (bool, error)
	ApplyChanges(ctx context.Context) error
}

// Config bounds the retry loop.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Bootstrapper runs Readiness once at startup with a bounded number of
// attempts separated by a fixed delay.
type Bootstrapper struct {
	target  Readiness
	cfg     Config
	log     *zap.Logger
	running atomic.Bool
}

// New creates a Bootstrapper for target. MaxRetries below 1 means a single
// attempt.
func New(target Readiness, cfg Config, log *zap.Logger) *Bootstrapper {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Bootstrapper{
		target: target,
		cfg:    cfg,
		log:    log.With(zap.String("component", "bootstrap")),
	}
}

// Start returns true once no pending changes remain. It returns false when
// every attempt failed, when ctx was cancelled, or when another Start is
// already in progress. It never panics on failure; the caller decides
// whether a false result is fatal.
func (b *Bootstrapper) Start(ctx context.Context) bool {
	if !b.running.CompareAndSwap(false, true) {
		b.log.Error("bootstrap already in progress, refusing concurrent start")
		return false
	}
	defer b.running.Store(false)

	attempt := 0
	operation := func() error {
		attempt++
		err := b.attempt(ctx)
		metrics.ObserveBootstrapAttempt(err)
		return err
	}
	notify := func(err error, wait time.Duration) {
		b.log.Warn("bootstrap attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", b.cfg.MaxRetries),
			zap.Duration("retry_in", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.cfg.RetryDelay), uint64(b.cfg.MaxRetries-1)),
		ctx,
	)

	err := backoff.RetryNotify(operation, policy, notify)
	switch {
	case err == nil:
		b.log.Info("bootstrap completed", zap.Int("attempts", attempt))
		return true
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		b.log.Warn("bootstrap cancelled", zap.Int("attempts", attempt), zap.Error(err))
		return false
	default:
		b.log.Error("bootstrap failed after all attempts", zap.Int("attempts", attempt), zap.Error(err))
		return false
	}
}

func (b *Bootstrapper) attempt(ctx context.Context) error {
	pending, err := b.target.PendingChangesExist(ctx)
	if err != nil {
		return err
	}
	if !pending {
		b.log.Info("no pending changes")
		return nil
	}
	b.log.Info("applying pending changes")
	return b.target.ApplyChanges(ctx)
}
