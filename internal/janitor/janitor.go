// Package janitor periodically deletes expired one-time codes.
package janitor

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth/internal/metrics"
)

const leaseKey = "otp-sweep"

// Sweeper deletes codes that expired before now. otp.Store satisfies it.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// Locker grants a time-bounded lease; cache.Lease satisfies it.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Janitor struct {
	store    Sweeper
	locker   Locker
	interval time.Duration
	clock    clockwork.Clock
	logger   *zap.SugaredLogger
}

// New returns a janitor sweeping every interval. A nil locker means every
// replica sweeps, which is safe because the sweep is idempotent.
func New(store Sweeper, locker Locker, interval time.Duration, clock clockwork.Clock, logger *zap.SugaredLogger) *Janitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Janitor{store: store, locker: locker, interval: interval, clock: clock, logger: logger}
}

// RunOnce performs one sweep unless another replica holds the lease.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	if j.locker != nil {
		// shorter than the interval so the next tick can take it again
		ok, err := j.locker.TryAcquire(ctx, leaseKey, j.interval*9/10)
		switch {
		case err != nil:
			j.logger.Warnw("sweep lease unavailable, sweeping anyway", "err", err)
		case !ok:
			j.logger.Debugw("sweep lease held elsewhere, skipping")
			return 0, nil
		}
	}
	n, err := j.store.SweepExpired(ctx, j.clock.Now())
	if err != nil {
		return 0, err
	}
	metrics.CodesSwept.Add(float64(n))
	if n > 0 {
		j.logger.Infow("expired codes swept", "count", n)
	}
	return n, nil
}

// Run sweeps immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	j.logger.Infow("janitor started", "interval", j.interval.String())
	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.Errorw("sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			j.logger.Infow("janitor stopped")
			return
		case <-ticker.Chan():
		}
	}
}
