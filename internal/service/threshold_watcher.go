package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/businesstime"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/persistence"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/sla"
	util "github.com/spec-kit/sla-engine/pkg/util"
)

// ThresholdWatcher sweeps active SLA clocks for crossed reminder thresholds and
// breaches. Every finding goes through a dedupe key, so repeated sweeps are safe.
type ThresholdWatcher struct {
	uow       persistence.UnitOfWork
	statuses  repository.SLAStatusRepository
	policies  repository.SLAPolicyRepository
	calendars repository.CalendarRepository
	directory repository.RecipientDirectory
	writer    *OutboxWriter
	metrics   *observability.Metrics
	logger    *zap.Logger
	batchSize int
}

// WatcherDependencies bundles collaborators for the watcher.
type WatcherDependencies struct {
	UnitOfWork   persistence.UnitOfWork
	StatusRepo   repository.SLAStatusRepository
	PolicyRepo   repository.SLAPolicyRepository
	CalendarRepo repository.CalendarRepository
	Directory    repository.RecipientDirectory
	Writer       *OutboxWriter
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	BatchSize    int
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Scanned  int
	Warned   int
	Breached int
	Failed   int
}

// NewThresholdWatcher creates the watcher.
func NewThresholdWatcher(deps WatcherDependencies) *ThresholdWatcher {
	batch := deps.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &ThresholdWatcher{
		uow:       deps.UnitOfWork,
		statuses:  deps.StatusRepo,
		policies:  deps.PolicyRepo,
		calendars: deps.CalendarRepo,
		directory: deps.Directory,
		writer:    deps.Writer,
		metrics:   deps.Metrics,
		logger:    observability.Component(deps.Logger, "threshold_watcher"),
		batchSize: batch,
	}
}

// SweepOnce examines every ticket with a started, uncompleted dimension. A
// failing ticket is logged and skipped; cancellation stops between tickets.
func (w *ThresholdWatcher) SweepOnce(ctx context.Context, now time.Time) (SweepResult, error) {
	started := time.Now()
	cache := newSweepCache(w.policies, w.calendars)

	var (
		result SweepResult
		after  string
	)
	for {
		ids, err := w.statuses.ListActiveTicketIDs(ctx, after, w.batchSize)
		if err != nil {
			w.metrics.RecordSweep("error", result.Scanned, time.Since(started))
			return result, err
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				w.metrics.RecordSweep("cancelled", result.Scanned, time.Since(started))
				return result, err
			}
			warned, breached, err := w.sweepTicket(ctx, id, now, cache)
			result.Scanned++
			if err != nil {
				result.Failed++
				w.logger.Error("sweep ticket failed", zap.String("ticket_id", id), zap.Error(err))
				continue
			}
			result.Warned += warned
			result.Breached += breached
		}

		if len(ids) < w.batchSize {
			break
		}
		after = ids[len(ids)-1]
	}

	w.metrics.RecordSweep("ok", result.Scanned, time.Since(started))
	w.logger.Info("sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("warned", result.Warned),
		zap.Int("breached", result.Breached),
		zap.Int("failed", result.Failed),
		zap.Duration("took", time.Since(started)),
	)
	return result, nil
}

func (w *ThresholdWatcher) sweepTicket(ctx context.Context, ticketID string, now time.Time, cache *sweepCache) (int, int, error) {
	var warned, breached int
	err := w.uow.WithTx(ctx, func(ctx context.Context) error {
		warned, breached = 0, 0

		status, err := w.statuses.GetForUpdate(ctx, ticketID)
		if err != nil {
			if util.IsNotFound(err) {
				return nil
			}
			return err
		}
		policy, err := cache.policy(ctx, status.SLAID)
		if err != nil {
			return err
		}
		schedule, err := cache.schedule(ctx, status.CalendarID)
		if err != nil {
			return err
		}

		changed := false
		for _, d := range domain.Dimensions {
			state := status.Timer(d)
			if !state.Enabled() || !state.Active() {
				continue
			}
			timer := sla.NewTimer(state, schedule)
			preview, err := timer.Recompute(now)
			if err != nil {
				return err
			}

			for _, f := range policy.Thresholds(d) {
				if preview.Fraction < f {
					break
				}
				inserted, err := w.writer.EnqueueWarn(ctx, ticketID, d, f, preview.ProjectedDueAt)
				if err != nil {
					return err
				}
				if inserted {
					warned++
				}
			}

			if state.State() != domain.TimerRunning || state.DueAt == nil || now.Before(*state.DueAt) {
				continue
			}
			flagged, err := timer.MarkBreached()
			if err != nil {
				return err
			}
			if !flagged {
				continue
			}
			changed = true
			recipients, err := w.directory.TicketRecipients(ctx, ticketID)
			if err != nil {
				return err
			}
			inserted, err := w.writer.EnqueueBreach(ctx, ticketID, d, state.DueAt, recipients)
			if err != nil {
				return err
			}
			if inserted {
				breached++
				w.metrics.RecordBreach(string(d))
			}
		}

		if !changed {
			return nil
		}
		return w.statuses.Save(ctx, status)
	})
	return warned, breached, err
}

// sweepCache memoises policies and compiled calendars for one sweep.
type sweepCache struct {
	policies  repository.SLAPolicyRepository
	calendars repository.CalendarRepository
	byPolicy  map[string]*domain.SLAPolicy
	bySched   map[string]*businesstime.Schedule
}

func newSweepCache(policies repository.SLAPolicyRepository, calendars repository.CalendarRepository) *sweepCache {
	return &sweepCache{
		policies:  policies,
		calendars: calendars,
		byPolicy:  map[string]*domain.SLAPolicy{},
		bySched:   map[string]*businesstime.Schedule{},
	}
}

// policy returns nil for a deleted policy; thresholds then fall back to defaults.
func (c *sweepCache) policy(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	if p, ok := c.byPolicy[id]; ok {
		return p, nil
	}
	p, err := c.policies.GetByID(ctx, id)
	if err != nil && !util.IsNotFound(err) {
		return nil, err
	}
	c.byPolicy[id] = p
	return p, nil
}

func (c *sweepCache) schedule(ctx context.Context, calendarID *string) (*businesstime.Schedule, error) {
	if calendarID == nil || *calendarID == "" {
		return nil, nil
	}
	if s, ok := c.bySched[*calendarID]; ok {
		return s, nil
	}
	s, err := loadSchedule(ctx, c.calendars, calendarID)
	if err != nil {
		return nil, err
	}
	c.bySched[*calendarID] = s
	return s, nil
}
