package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/outbox"
	"github.com/spec-kit/sla-engine/internal/persistence"
	"github.com/spec-kit/sla-engine/internal/repository"
	util "github.com/spec-kit/sla-engine/pkg/util"
)

// TicketEventHandler translates ticket service events into SLA transitions
// and outbox intents.
type TicketEventHandler struct {
	uow       persistence.UnitOfWork
	sla       *SLAService
	writer    *OutboxWriter
	directory repository.RecipientDirectory
	clock     func() time.Time
	logger    *zap.Logger
}

// NewTicketEventHandler creates the handler. A nil clock uses time.Now.
func NewTicketEventHandler(uow persistence.UnitOfWork, slaService *SLAService, writer *OutboxWriter, directory repository.RecipientDirectory, clock func() time.Time, logger *zap.Logger) *TicketEventHandler {
	if clock == nil {
		clock = time.Now
	}
	return &TicketEventHandler{
		uow:       uow,
		sla:       slaService,
		writer:    writer,
		directory: directory,
		clock:     clock,
		logger:    observability.Component(logger, "ticket_events"),
	}
}

// RegisterHandlers subscribes to events.
func (h *TicketEventHandler) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventTicketCreated, h.handleTicketCreated)
	dispatcher.Subscribe(events.EventTicketSLAAssigned, h.handleSLAAssigned)
	dispatcher.Subscribe(events.EventTicketMessageAdded, h.handleMessageAdded)
	dispatcher.Subscribe(events.EventTicketStatusChanged, h.handleStatusChanged)
	dispatcher.Subscribe(events.EventSLAPauseRequested, h.handlePauseRequested)
	dispatcher.Subscribe(events.EventSLAResumeRequested, h.handleResumeRequested)
	dispatcher.Subscribe(events.EventCalendarCreated, h.handleCalendarChanged)
	dispatcher.Subscribe(events.EventCalendarDeleted, h.handleCalendarChanged)
}

func (h *TicketEventHandler) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return payloadError(event)
	}
	if payload.SLAID == "" {
		h.logger.Debug("ticket created without sla policy", zap.String("ticket_id", event.TicketID))
		return nil
	}

	ticket := domain.TicketRef{
		ID:       event.TicketID,
		OrgID:    payload.OrgID,
		Number:   payload.Number,
		Subject:  payload.Subject,
		Priority: payload.Priority,
		Severity: payload.Severity,
	}
	now := h.at(event)

	return h.uow.WithTx(ctx, func(ctx context.Context) error {
		status, err := h.attachAndStart(ctx, ticket, payload.SLAID, now)
		if err != nil {
			return err
		}
		recipients, err := h.directory.TicketRecipients(ctx, ticket.ID)
		if err != nil {
			return err
		}
		_, err = h.writer.EnqueueTicketCreated(ctx, outbox.TicketCreatedPayload{
			TicketID:           ticket.ID,
			Number:             ticket.Number,
			Subject:            ticket.Subject,
			Priority:           string(ticket.Priority),
			Severity:           ticket.Severity,
			FirstResponseDueAt: status.FirstResponse.DueAt,
			ResolutionDueAt:    status.Resolution.DueAt,
			Recipients:         recipients,
		})
		return err
	})
}

func (h *TicketEventHandler) handleSLAAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketSLAAssignedPayload)
	if !ok {
		return payloadError(event)
	}
	ticket := domain.TicketRef{ID: event.TicketID, Priority: payload.Priority}
	now := h.at(event)

	return h.uow.WithTx(ctx, func(ctx context.Context) error {
		status, err := h.attachAndStart(ctx, ticket, payload.SLAID, now)
		if err != nil {
			return err
		}
		recipients, err := h.directory.TicketRecipients(ctx, ticket.ID)
		if err != nil {
			return err
		}
		_, err = h.writer.EnqueueSLAAssigned(ctx, outbox.SLAAssignedPayload{
			TicketID:           ticket.ID,
			SLAID:              status.SLAID,
			FirstResponseDueAt: status.FirstResponse.DueAt,
			ResolutionDueAt:    status.Resolution.DueAt,
			Recipients:         recipients.Staff(),
		})
		return err
	})
}

func (h *TicketEventHandler) attachAndStart(ctx context.Context, ticket domain.TicketRef, slaID string, now time.Time) (*domain.TicketSLAStatus, error) {
	status, err := h.sla.AttachPolicy(ctx, ticket, slaID)
	if err != nil {
		return nil, err
	}
	for _, d := range domain.Dimensions {
		if status, err = h.sla.Start(ctx, ticket.ID, d, now); err != nil {
			return nil, err
		}
	}
	return status, nil
}

func (h *TicketEventHandler) handleMessageAdded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketMessageAddedPayload)
	if !ok {
		return payloadError(event)
	}
	if !domain.CountsAsFirstResponse(payload.AuthorType, payload.MessageType) {
		return nil
	}
	_, err := h.sla.Complete(ctx, event.TicketID, domain.DimensionFirstResponse, h.at(event))
	return h.ignoreTransition(err, event)
}

func (h *TicketEventHandler) handleStatusChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStatusChangedPayload)
	if !ok {
		return payloadError(event)
	}
	now := h.at(event)
	actor := actorID(event)

	enteringPending := payload.NewStatus == domain.TicketStatusPendingUser && payload.OldStatus != domain.TicketStatusPendingUser
	leavingPending := payload.OldStatus == domain.TicketStatusPendingUser && payload.NewStatus != domain.TicketStatusPendingUser

	return h.uow.WithTx(ctx, func(ctx context.Context) error {
		switch {
		case payload.NewStatus.Terminal():
			for _, d := range []domain.Dimension{domain.DimensionResolution, domain.DimensionFirstResponse} {
				_, err := h.sla.Complete(ctx, event.TicketID, d, now)
				if err := h.ignoreTransition(err, event); err != nil {
					return err
				}
			}
		case enteringPending:
			reason := fmt.Sprintf("status changed to %s", payload.NewStatus)
			return h.pauseAll(ctx, event, &reason, actor, now)
		case leavingPending:
			return h.resumeAll(ctx, event, actor, now)
		}
		return nil
	})
}

func (h *TicketEventHandler) handlePauseRequested(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SLAPauseRequestedPayload)
	if !ok {
		return payloadError(event)
	}
	now := h.at(event)
	if payload.Dimension != nil {
		_, err := h.sla.Pause(ctx, PauseInput{
			TicketID:  event.TicketID,
			Dimension: *payload.Dimension,
			ActorID:   actorID(event),
			Reason:    payload.Reason,
			At:        now,
		})
		return err
	}
	return h.uow.WithTx(ctx, func(ctx context.Context) error {
		return h.pauseAll(ctx, event, payload.Reason, actorID(event), now)
	})
}

func (h *TicketEventHandler) handleResumeRequested(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SLAResumeRequestedPayload)
	if !ok {
		return payloadError(event)
	}
	now := h.at(event)
	if payload.Dimension != nil {
		_, err := h.sla.Resume(ctx, ResumeInput{
			TicketID:  event.TicketID,
			Dimension: *payload.Dimension,
			ActorID:   actorID(event),
			At:        now,
		})
		return err
	}
	return h.uow.WithTx(ctx, func(ctx context.Context) error {
		return h.resumeAll(ctx, event, actorID(event), now)
	})
}

// pauseAll pauses every running dimension; dimensions in other states are left alone.
func (h *TicketEventHandler) pauseAll(ctx context.Context, event events.Event, reason *string, actor string, now time.Time) error {
	for _, d := range domain.Dimensions {
		_, err := h.sla.Pause(ctx, PauseInput{TicketID: event.TicketID, Dimension: d, ActorID: actor, Reason: reason, At: now})
		if err := h.ignoreTransition(err, event); err != nil {
			return err
		}
	}
	return nil
}

func (h *TicketEventHandler) resumeAll(ctx context.Context, event events.Event, actor string, now time.Time) error {
	for _, d := range domain.Dimensions {
		_, err := h.sla.Resume(ctx, ResumeInput{TicketID: event.TicketID, Dimension: d, ActorID: actor, At: now})
		if err := h.ignoreTransition(err, event); err != nil {
			return err
		}
	}
	return nil
}

func (h *TicketEventHandler) handleCalendarChanged(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.CalendarChangedPayload)
	if !ok {
		return payloadError(event)
	}
	_, err := h.writer.EnqueueCalendar(ctx, outbox.CalendarPayload{
		CalendarID: payload.CalendarID,
		OrgID:      payload.OrgID,
		Name:       payload.Name,
		Recipients: payload.Recipients,
		Deleted:    event.Type == events.EventCalendarDeleted,
	})
	return err
}

// ignoreTransition drops transitions that do not apply to the clock's current
// state, which is routine for fan-out events.
func (h *TicketEventHandler) ignoreTransition(err error, event events.Event) error {
	if err == nil || !util.IsInvalidTransition(err) {
		return err
	}
	h.logger.Debug("transition not applicable",
		zap.String("event", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.Error(err),
	)
	return nil
}

func (h *TicketEventHandler) at(event events.Event) time.Time {
	if event.Timestamp.IsZero() {
		return h.clock().UTC()
	}
	return event.Timestamp
}

func actorID(event events.Event) string {
	if event.Actor.ID != "" {
		return event.Actor.ID
	}
	return string(domain.AuthorTypeSystem)
}

func payloadError(event events.Event) error {
	return util.NewValidationError("unexpected event payload", map[string]any{
		"event":   string(event.Type),
		"payload": fmt.Sprintf("%T", event.Payload),
	})
}
