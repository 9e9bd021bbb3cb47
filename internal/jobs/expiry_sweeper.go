// internal/jobs/expiry_sweeper.go
package jobs

import (
	"context"
	"errors"
	"time"

	"motorlist-service/internal/domain/token"
	"motorlist-service/internal/pkg/redislock"

	"go.uber.org/zap"
)

const sweepLockName = "token-expiry-sweep"

// Sweeper runs one expiry sweep.
type Sweeper interface {
	ProcessExpiredPlans(ctx context.Context) (*token.SweepResult, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out a cluster-wide lock. It returns redislock.ErrNotAcquired
// when another instance holds it.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
}

// RedisLocker adapts *redislock.Locker to Locker.
type RedisLocker struct {
	*redislock.Locker
}

func (l RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	lock, err := l.Locker.Acquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

type ExpirySweeper struct {
	sweeper  Sweeper
	locker   Locker
	interval time.Duration
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewExpirySweeper builds the job. A nil locker runs every tick unlocked.
func NewExpirySweeper(sweeper Sweeper, locker Locker, interval, lockTTL time.Duration, logger *zap.Logger) *ExpirySweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &ExpirySweeper{
		sweeper:  sweeper,
		locker:   locker,
		interval: interval,
		lockTTL:  lockTTL,
		logger:   logger,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *ExpirySweeper) Run(ctx context.Context) {
	j.logger.Info("expiry sweeper started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep if this instance wins the lock. It returns
// nil when the sweep was skipped or failed.
func (j *ExpirySweeper) RunOnce(ctx context.Context) *token.SweepResult {
	if j.locker != nil {
		lock, err := j.locker.Acquire(ctx, sweepLockName, j.lockTTL)
		if errors.Is(err, redislock.ErrNotAcquired) {
			j.logger.Info("expiry sweep skipped, another instance holds the lock")
			return nil
		}
		if err != nil {
			j.logger.Error("failed to acquire sweep lock", zap.Error(err))
			return nil
		}
		defer func() {
			// Release on a fresh context so shutdown does not leave the lock behind.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				j.logger.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	result, err := j.sweeper.ProcessExpiredPlans(ctx)
	if err != nil {
		j.logger.Error("expiry sweep failed", zap.Error(err))
		return nil
	}

	fields := []zap.Field{
		zap.Int("accounts_scanned", result.AccountsScanned),
		zap.Int("accounts_swept", result.AccountsSwept),
		zap.Int("listings_deactivated", result.ListingsDeactivated),
		zap.Int("failures", len(result.Failures)),
		zap.Duration("took", result.FinishedAt.Sub(result.StartedAt)),
	}
	if len(result.Failures) > 0 {
		j.logger.Warn("expiry sweep finished with failures", fields...)
	} else {
		j.logger.Info("expiry sweep finished", fields...)
	}

	return result
}
