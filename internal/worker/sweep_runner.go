package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/persistence"
	"github.com/spec-kit/sla-engine/internal/service"
)

// ErrLeaseHeld is returned by a LeaseAcquirer when another process owns the lease.
var ErrLeaseHeld = persistence.ErrLeaseHeld

// Sweeper runs one threshold sweep.
type Sweeper interface {
	SweepOnce(ctx context.Context, now time.Time) (service.SweepResult, error)
}

// Releaser gives back an acquired lease.
type Releaser interface {
	Release(ctx context.Context) error
}

// LeaseAcquirer takes a named, expiring lease.
type LeaseAcquirer interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (Releaser, error)
}

// RedisLeases adapts persistence.Redis to LeaseAcquirer.
type RedisLeases struct {
	Redis *persistence.Redis
}

func (r RedisLeases) AcquireLease(ctx context.Context, key string, ttl time.Duration) (Releaser, error) {
	lease, err := r.Redis.AcquireLease(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// SweepRunnerConfig configures scheduling and leasing.
type SweepRunnerConfig struct {
	Schedule string
	LeaseKey string
	LeaseTTL time.Duration
}

// SweepRunner runs the threshold watcher once or on a cron schedule. With a
// lease acquirer configured, only one process sweeps at a time.
type SweepRunner struct {
	sweeper Sweeper
	leases  LeaseAcquirer
	cfg     SweepRunnerConfig
	clock   func() time.Time
	logger  *zap.Logger
}

// NewSweepRunner creates a runner. leases may be nil.
func NewSweepRunner(sweeper Sweeper, leases LeaseAcquirer, cfg SweepRunnerConfig, logger *zap.Logger) *SweepRunner {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = "sla-engine:sweep"
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	return &SweepRunner{
		sweeper: sweeper,
		leases:  leases,
		cfg:     cfg,
		clock:   time.Now,
		logger:  observability.Component(logger, "sweep_runner"),
	}
}

// RunOnce performs a single sweep. skipped is true when another process holds
// the lease. A lease backend error is logged and the sweep proceeds unleased.
func (r *SweepRunner) RunOnce(ctx context.Context) (result service.SweepResult, skipped bool, err error) {
	if r.leases != nil {
		lease, lerr := r.leases.AcquireLease(ctx, r.cfg.LeaseKey, r.cfg.LeaseTTL)
		switch {
		case errors.Is(lerr, ErrLeaseHeld):
			r.logger.Info("sweep lease held elsewhere; skipping run", zap.String("lease_key", r.cfg.LeaseKey))
			return service.SweepResult{}, true, nil
		case lerr != nil:
			r.logger.Warn("sweep lease unavailable; sweeping without it", zap.Error(lerr))
		default:
			defer func() {
				if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
					r.logger.Warn("release sweep lease", zap.Error(rerr))
				}
			}()
		}
	}

	// A sweep must not outlive its lease.
	sweepCtx, cancel := context.WithTimeout(ctx, r.cfg.LeaseTTL)
	defer cancel()

	result, err = r.sweeper.SweepOnce(sweepCtx, r.clock())
	if err != nil {
		return result, false, fmt.Errorf("sweep: %w", err)
	}
	return result, false, nil
}

// RunScheduled sweeps on the configured cron schedule until ctx ends. Overlapping
// runs are skipped. It waits for a running sweep before returning.
func (r *SweepRunner) RunScheduled(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.cfg.Schedule, func() {
		if _, _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("scheduled sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", r.cfg.Schedule, err)
	}

	r.logger.Info("sweep scheduler started", zap.String("schedule", r.cfg.Schedule))
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	r.logger.Info("sweep scheduler stopped")
	return nil
}
