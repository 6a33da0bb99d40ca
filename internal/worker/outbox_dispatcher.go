package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/mailer"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/outbox"
	"github.com/spec-kit/sla-engine/internal/persistence"
	"github.com/spec-kit/sla-engine/internal/repository"
)

const maxErrorLength = 1000

// errBudgetExhausted stops a batch before a row is sent; the row stays pending.
var errBudgetExhausted = errors.New("batch budget exhausted")

// DispatcherConfig tunes the outbox dispatcher.
type DispatcherConfig struct {
	Workers      int
	BatchSize    int
	IdleInterval time.Duration
	BatchTimeout time.Duration
	SendTimeout  time.Duration
	// MaxAttempts moves a row to the dead letter state once reached; 0 retries forever.
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	RatePerSecond float64
	Burst         int
}

// DispatcherDependencies bundles collaborators for the dispatcher.
type DispatcherDependencies struct {
	UnitOfWork persistence.UnitOfWork
	Outbox     repository.OutboxRepository
	Directory  repository.RecipientDirectory
	Renderer   *outbox.Renderer
	Mailer     mailer.Mailer
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Clock      func() time.Time
	Config     DispatcherConfig
}

// BatchResult summarises one claimed batch.
type BatchResult struct {
	Claimed      int
	Sent         int
	Skipped      int
	Poisoned     int
	Failed       int
	DeadLettered int
	// Deferred rows were claimed but left pending for the next poll.
	Deferred int
}

// OutboxDispatcher polls the outbox and hands rows to the mailer. Concurrent
// dispatchers, in or across processes, coordinate only through row locks.
type OutboxDispatcher struct {
	uow       persistence.UnitOfWork
	repo      repository.OutboxRepository
	directory repository.RecipientDirectory
	renderer  *outbox.Renderer
	mailer    mailer.Mailer
	limiter   *rate.Limiter
	metrics   *observability.Metrics
	logger    *zap.Logger
	clock     func() time.Time
	cfg       DispatcherConfig

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	workerWg sync.WaitGroup
}

// NewOutboxDispatcher creates the dispatcher.
func NewOutboxDispatcher(deps DispatcherDependencies) *OutboxDispatcher {
	cfg := deps.Config
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 2 * time.Minute
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &OutboxDispatcher{
		uow:       deps.UnitOfWork,
		repo:      deps.Outbox,
		directory: deps.Directory,
		renderer:  deps.Renderer,
		mailer:    deps.Mailer,
		limiter:   limiter,
		metrics:   deps.Metrics,
		logger:    observability.Component(deps.Logger, "outbox_dispatcher"),
		clock:     clock,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the worker loops.
func (d *OutboxDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	d.logger.Info("starting outbox dispatcher",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("batch_size", d.cfg.BatchSize),
	)

	for i := 0; i < d.cfg.Workers; i++ {
		d.workerWg.Add(1)
		go d.worker(ctx, uuid.NewString()[:8])
	}
	return nil
}

// Stop stops polling and waits for in-flight batches to finish.
func (d *OutboxDispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.logger.Info("stopping outbox dispatcher")
	d.workerWg.Wait()
	d.logger.Info("outbox dispatcher stopped")
}

// Run starts the workers and blocks until ctx ends, then stops gracefully.
func (d *OutboxDispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

func (d *OutboxDispatcher) worker(ctx context.Context, workerID string) {
	defer d.workerWg.Done()

	logger := d.logger.With(zap.String("worker_id", workerID))
	logger.Debug("worker started")

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		// Shutdown stops the batch from taking new rows; rows in flight finish.
		result, err := d.DispatchBatch(ctx)
		if err != nil {
			logger.Error("dispatch batch failed", zap.Error(err))
		}
		if err == nil && result.Claimed > 0 {
			continue
		}

		if err == nil {
			d.reportPending(ctx)
		}
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.IdleInterval):
		}
	}
}

// DispatchBatch claims one batch and processes its rows in order. The claim
// transaction holds the row locks; every outcome is written in its own
// savepoint so one failed write never rolls back rows already recorded.
//
// BatchTimeout and cancellation of ctx only stop the batch from taking more
// rows. Unprocessed rows are released when the transaction commits and stay
// pending. The first outcome that cannot be recorded also stops the batch; its
// error is returned after the rest commits.
func (d *OutboxDispatcher) DispatchBatch(ctx context.Context) (BatchResult, error) {
	deadline := time.Now().Add(d.cfg.BatchTimeout)
	txCtx := context.WithoutCancel(ctx)

	var (
		result    BatchResult
		recordErr error
	)
	err := d.uow.WithTx(txCtx, func(txCtx context.Context) error {
		result, recordErr = BatchResult{}, nil
		msgs, err := d.repo.ClaimPending(txCtx, d.clock(), d.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		result.Claimed = len(msgs)

		for i, msg := range msgs {
			if ctx.Err() != nil || (i > 0 && !d.hasBudget(deadline)) {
				result.Deferred = len(msgs) - i
				break
			}
			err := d.process(txCtx, deadline, msg, &result)
			if errors.Is(err, errBudgetExhausted) {
				result.Deferred = len(msgs) - i
				break
			}
			if err != nil {
				recordErr = err
				result.Deferred = len(msgs) - i - 1
				break
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	if result.Deferred > 0 {
		d.logger.Debug("batch budget exhausted; rows left pending", zap.Int("deferred", result.Deferred))
	}
	return result, recordErr
}

// hasBudget reports whether a full send still fits before deadline. The first
// row of a batch always starts so a short budget cannot stall the outbox.
func (d *OutboxDispatcher) hasBudget(deadline time.Time) bool {
	return time.Now().Add(d.cfg.SendTimeout).Before(deadline)
}

// process handles one row. It returns errBudgetExhausted when the row was left
// untouched, and any other error when the row's outcome could not be recorded.
func (d *OutboxDispatcher) process(ctx context.Context, deadline time.Time, m domain.OutboxMessage, result *BatchResult) error {
	id, kind := m.ID, m.Kind
	logger := d.logger.With(zap.Int64("outbox_id", id), zap.String("kind", kind))

	payload, err := outbox.Decode(kind, m.Payload)
	if err != nil {
		return d.poison(ctx, id, logger, err, result)
	}
	msg, err := d.renderer.Render(payload)
	if err != nil {
		return d.poison(ctx, id, logger, err, result)
	}

	var recipients []string
	err = d.savepoint(ctx, func(ctx context.Context) error {
		var rerr error
		recipients, rerr = d.recipients(ctx, payload)
		return rerr
	})
	if err != nil {
		return d.fail(ctx, m, logger, fmt.Errorf("resolve recipients: %w", err), result)
	}
	if len(recipients) == 0 {
		if err := d.markSent(ctx, id); err != nil {
			return err
		}
		result.Skipped++
		logger.Debug("no recipients; marked sent without delivery")
		return nil
	}

	waitCtx, cancelWait := context.WithDeadline(ctx, deadline)
	err = d.limiter.Wait(waitCtx)
	cancelWait()
	if err != nil {
		return errBudgetExhausted
	}

	started := time.Now()
	if err := d.send(ctx, recipients, msg); err != nil {
		d.metrics.RecordDelivery(kind, "failed", time.Since(started))
		return d.fail(ctx, m, logger, err, result)
	}
	d.metrics.RecordDelivery(kind, "sent", time.Since(started))

	if err := d.markSent(ctx, id); err != nil {
		// Delivered but unrecorded; the next poll sends it again.
		logger.Error("delivered but mark sent failed", zap.Error(err))
		return err
	}
	result.Sent++
	return nil
}

func (d *OutboxDispatcher) send(ctx context.Context, recipients []string, msg outbox.Message) error {
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}
	return d.mailer.Send(ctx, recipients, msg.Subject, msg.Body)
}

func (d *OutboxDispatcher) savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return d.uow.WithTx(ctx, fn)
}

func (d *OutboxDispatcher) markSent(ctx context.Context, id int64) error {
	err := d.savepoint(ctx, func(ctx context.Context) error {
		return d.repo.MarkSent(ctx, id, d.clock())
	})
	if err != nil {
		return fmt.Errorf("mark outbox message %d sent: %w", id, err)
	}
	return nil
}

func (d *OutboxDispatcher) recipients(ctx context.Context, payload outbox.Payload) ([]string, error) {
	switch p := payload.(type) {
	case outbox.SLAWarnPayload:
		set, err := d.directory.TicketRecipients(ctx, p.TicketID)
		if err != nil {
			return nil, err
		}
		return set.Staff().All(), nil
	case outbox.SLABreachPayload:
		return p.Recipients.All(), nil
	case outbox.TicketCreatedPayload:
		return p.Recipients.All(), nil
	case outbox.SLAAssignedPayload:
		return p.Recipients.All(), nil
	case outbox.CalendarPayload:
		return p.Recipients.All(), nil
	default:
		return nil, fmt.Errorf("%w: %T", outbox.ErrUnknownKind, payload)
	}
}

// poison acknowledges a row that can never be delivered.
func (d *OutboxDispatcher) poison(ctx context.Context, id int64, logger *zap.Logger, cause error, result *BatchResult) error {
	logger.Warn("poison outbox message; marking sent without delivery", zap.Error(cause))
	d.metrics.RecordPoison()
	if err := d.markSent(ctx, id); err != nil {
		return err
	}
	result.Poisoned++
	return nil
}

func (d *OutboxDispatcher) fail(ctx context.Context, m domain.OutboxMessage, logger *zap.Logger, cause error, result *BatchResult) error {
	now := d.clock()
	failure := repository.DeliveryFailure{
		ID:        m.ID,
		Attempts:  m.Attempts + 1,
		LastError: truncate(cause.Error(), maxErrorLength),
	}

	dead := d.cfg.MaxAttempts > 0 && failure.Attempts >= d.cfg.MaxAttempts
	if dead {
		failure.DeadLetteredAt = &now
	} else if delay := Backoff(failure.Attempts, d.cfg.BackoffBase, d.cfg.BackoffMax); delay > 0 {
		next := now.Add(delay)
		failure.NextAttemptAt = &next
	}

	err := d.savepoint(ctx, func(ctx context.Context) error {
		return d.repo.MarkFailed(ctx, failure)
	})
	if err != nil {
		return fmt.Errorf("record delivery failure %d: %w", m.ID, err)
	}

	if dead {
		result.DeadLettered++
		d.metrics.RecordDeadLetter()
		logger.Error("outbox message dead-lettered", zap.Int("attempts", failure.Attempts), zap.Error(cause))
		return nil
	}
	result.Failed++
	logger.Warn("outbox delivery failed", zap.Int("attempts", failure.Attempts), zap.Error(cause))
	return nil
}

func (d *OutboxDispatcher) reportPending(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	n, err := d.repo.CountPending(ctx)
	if err != nil {
		d.logger.Debug("count pending outbox rows", zap.Error(err))
		return
	}
	d.metrics.SetPending(n)
}

// Backoff returns base * 2^(attempt-1), capped at max. A zero base disables backoff.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 || attempt <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
