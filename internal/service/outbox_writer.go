package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/outbox"
	"github.com/spec-kit/sla-engine/internal/repository"
)

// OutboxWriter enqueues notification intents. Calls made with a transaction in
// ctx join it, so the intent commits or rolls back with the domain change.
type OutboxWriter struct {
	repo    repository.OutboxRepository
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewOutboxWriter builds the writer.
func NewOutboxWriter(repo repository.OutboxRepository, metrics *observability.Metrics, logger *zap.Logger) *OutboxWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxWriter{repo: repo, metrics: metrics, logger: logger}
}

// Enqueue stores payload under dedupeKey. A false result means the intent is
// already queued; it is not an error.
func (w *OutboxWriter) Enqueue(ctx context.Context, dedupeKey string, payload outbox.Payload) (bool, error) {
	raw, err := outbox.Encode(payload)
	if err != nil {
		return false, err
	}

	kind := string(payload.Kind())
	inserted, err := w.repo.Insert(ctx, kind, dedupeKey, raw)
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", kind, err)
	}

	w.metrics.RecordEnqueue(kind, inserted)
	if !inserted {
		w.logger.Debug("outbox message already queued",
			zap.String("kind", kind),
			zap.String("dedupe_key", dedupeKey),
		)
	}
	return inserted, nil
}

// EnqueueWarn queues the reminder for one crossed threshold.
func (w *OutboxWriter) EnqueueWarn(ctx context.Context, ticketID string, d domain.Dimension, fraction float64, dueAt *time.Time) (bool, error) {
	return w.Enqueue(ctx, outbox.WarnDedupeKey(d, ticketID, fraction), outbox.SLAWarnPayload{
		TicketID:  ticketID,
		Dimension: d,
		Fraction:  fraction,
		DueAt:     dueAt,
	})
}

// EnqueueBreach queues the single breach notice for a ticket dimension.
func (w *OutboxWriter) EnqueueBreach(ctx context.Context, ticketID string, d domain.Dimension, dueAt *time.Time, recipients domain.Recipients) (bool, error) {
	return w.Enqueue(ctx, outbox.BreachDedupeKey(d, ticketID), outbox.SLABreachPayload{
		TicketID:   ticketID,
		Dimension:  d,
		DueAt:      dueAt,
		Recipients: recipients,
	})
}

// EnqueueTicketCreated queues the new-ticket announcement.
func (w *OutboxWriter) EnqueueTicketCreated(ctx context.Context, p outbox.TicketCreatedPayload) (bool, error) {
	return w.Enqueue(ctx, outbox.TicketCreatedDedupeKey(p.TicketID), p)
}

// EnqueueSLAAssigned queues the policy-attached announcement.
func (w *OutboxWriter) EnqueueSLAAssigned(ctx context.Context, p outbox.SLAAssignedPayload) (bool, error) {
	return w.Enqueue(ctx, outbox.SLAAssignedDedupeKey(p.TicketID, p.SLAID), p)
}

// EnqueueCalendar queues a calendar created or deleted notice.
func (w *OutboxWriter) EnqueueCalendar(ctx context.Context, p outbox.CalendarPayload) (bool, error) {
	return w.Enqueue(ctx, outbox.CalendarDedupeKey(p.Kind(), p.CalendarID), p)
}
