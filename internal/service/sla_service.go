package service

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/sla-engine/internal/businesstime"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/persistence"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/sla"
	util "github.com/spec-kit/sla-engine/pkg/util"
)

// SLAService drives the per-ticket SLA clocks. Each operation runs in one
// transaction holding the ticket's status row lock; a rejected transition
// writes nothing.
type SLAService struct {
	uow       persistence.UnitOfWork
	statuses  repository.SLAStatusRepository
	policies  repository.SLAPolicyRepository
	calendars repository.CalendarRepository
	history   repository.PauseHistoryRepository
}

// SLADependencies bundles collaborators for the SLA service.
type SLADependencies struct {
	UnitOfWork   persistence.UnitOfWork
	StatusRepo   repository.SLAStatusRepository
	PolicyRepo   repository.SLAPolicyRepository
	CalendarRepo repository.CalendarRepository
	HistoryRepo  repository.PauseHistoryRepository
}

// NewSLAService creates the service.
func NewSLAService(deps SLADependencies) *SLAService {
	return &SLAService{
		uow:       deps.UnitOfWork,
		statuses:  deps.StatusRepo,
		policies:  deps.PolicyRepo,
		calendars: deps.CalendarRepo,
		history:   deps.HistoryRepo,
	}
}

// PauseInput describes a pause request.
type PauseInput struct {
	TicketID  string
	Dimension domain.Dimension
	ActorID   string
	Reason    *string
	At        time.Time
}

// ResumeInput describes a resume request.
type ResumeInput struct {
	TicketID  string
	Dimension domain.Dimension
	ActorID   string
	At        time.Time
}

// StatusView is a ticket's stored clocks plus a preview of each at a point in time.
type StatusView struct {
	Status   *domain.TicketSLAStatus
	Previews map[domain.Dimension]sla.Preview
}

// AttachPolicy creates or resets the ticket's status for the policy's targeted
// dimensions. Timers are not started.
func (s *SLAService) AttachPolicy(ctx context.Context, ticket domain.TicketRef, slaID string) (*domain.TicketSLAStatus, error) {
	var out *domain.TicketSLAStatus
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		policy, err := s.policies.GetByID(ctx, slaID)
		if err != nil {
			if util.IsNotFound(err) {
				return util.NewNotFound("sla policy", map[string]any{"sla_id": slaID})
			}
			return err
		}
		if !policy.Active {
			return util.NewValidationError("sla policy is inactive", map[string]any{"sla_id": slaID})
		}
		// Fail on a broken calendar now rather than on the first start.
		if _, err := s.schedule(ctx, policy.CalendarID); err != nil {
			return err
		}

		if _, err := s.statuses.GetForUpdate(ctx, ticket.ID); err != nil && !util.IsNotFound(err) {
			return err
		}

		status := &domain.TicketSLAStatus{
			TicketID:   ticket.ID,
			SLAID:      policy.ID,
			CalendarID: policy.CalendarID,
		}
		for _, d := range domain.Dimensions {
			target, _ := policy.Target(d, ticket.Priority)
			sla.NewTimer(status.Timer(d), nil).Attach(target)
		}
		if err := s.statuses.Save(ctx, status); err != nil {
			return err
		}
		out = status
		return nil
	})
	return out, err
}

// Start begins a dimension's clock. Starting an already started or untargeted
// dimension is a no-op.
func (s *SLAService) Start(ctx context.Context, ticketID string, d domain.Dimension, now time.Time) (*domain.TicketSLAStatus, error) {
	return s.mutate(ctx, ticketID, d, func(ctx context.Context, t *sla.Timer) error {
		_, err := t.Start(now)
		return err
	})
}

// Pause freezes a running dimension and records the pause.
func (s *SLAService) Pause(ctx context.Context, in PauseInput) (*domain.TicketSLAStatus, error) {
	return s.mutate(ctx, in.TicketID, in.Dimension, func(ctx context.Context, t *sla.Timer) error {
		if err := t.Pause(in.At); err != nil {
			return err
		}
		return s.history.Create(ctx, &domain.SLAPauseHistory{
			TicketID:  in.TicketID,
			Dimension: in.Dimension,
			Action:    domain.PauseActionPause,
			ActorID:   in.ActorID,
			ActionAt:  in.At,
			Reason:    in.Reason,
		})
	})
}

// Resume restarts a paused dimension and records the pause length.
func (s *SLAService) Resume(ctx context.Context, in ResumeInput) (*domain.TicketSLAStatus, error) {
	return s.mutate(ctx, in.TicketID, in.Dimension, func(ctx context.Context, t *sla.Timer) error {
		result, err := t.Resume(in.At)
		if err != nil {
			return err
		}
		return s.history.Create(ctx, &domain.SLAPauseHistory{
			TicketID:                in.TicketID,
			Dimension:               in.Dimension,
			Action:                  domain.PauseActionResume,
			ActorID:                 in.ActorID,
			ActionAt:                in.At,
			PauseDurationMinutes:    &result.PauseDurationMinutes,
			DueDateExtensionMinutes: &result.DueDateExtensionMinutes,
		})
	})
}

// Complete stops a running or paused dimension.
func (s *SLAService) Complete(ctx context.Context, ticketID string, d domain.Dimension, now time.Time) (*domain.TicketSLAStatus, error) {
	return s.mutate(ctx, ticketID, d, func(ctx context.Context, t *sla.Timer) error {
		return t.Complete(now)
	})
}

// Recompute previews one dimension at now without writing.
func (s *SLAService) Recompute(ctx context.Context, ticketID string, d domain.Dimension, now time.Time) (sla.Preview, error) {
	view, err := s.Status(ctx, ticketID, now)
	if err != nil {
		return sla.Preview{}, err
	}
	return view.Previews[d], nil
}

// Status reads a ticket's clocks and previews both dimensions at now.
func (s *SLAService) Status(ctx context.Context, ticketID string, now time.Time) (*StatusView, error) {
	status, err := s.statuses.Get(ctx, ticketID)
	if err != nil {
		if util.IsNotFound(err) {
			return nil, util.NewNotFound("ticket sla status", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	schedule, err := s.schedule(ctx, status.CalendarID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{Status: status, Previews: make(map[domain.Dimension]sla.Preview, len(domain.Dimensions))}
	for _, d := range domain.Dimensions {
		preview, err := sla.NewTimer(status.Timer(d), schedule).Recompute(now)
		if err != nil {
			return nil, err
		}
		view.Previews[d] = preview
	}
	return view, nil
}

func (s *SLAService) mutate(ctx context.Context, ticketID string, d domain.Dimension, fn func(ctx context.Context, t *sla.Timer) error) (*domain.TicketSLAStatus, error) {
	if !d.Valid() {
		return nil, util.NewValidationError("unknown sla dimension", map[string]any{"dimension": string(d)})
	}

	var out *domain.TicketSLAStatus
	err := s.uow.WithTx(ctx, func(ctx context.Context) error {
		status, err := s.statuses.GetForUpdate(ctx, ticketID)
		if err != nil {
			if util.IsNotFound(err) {
				return util.NewInvalidTransition("operate", "missing", map[string]any{
					"ticket_id": ticketID,
					"dimension": string(d),
				})
			}
			return err
		}
		schedule, err := s.schedule(ctx, status.CalendarID)
		if err != nil {
			return err
		}
		if err := fn(ctx, sla.NewTimer(status.Timer(d), schedule)); err != nil {
			return withTicket(err, ticketID, d)
		}
		if err := s.statuses.Save(ctx, status); err != nil {
			return err
		}
		out = status
		return nil
	})
	return out, err
}

// schedule compiles the calendar; no id means around the clock.
func (s *SLAService) schedule(ctx context.Context, calendarID *string) (*businesstime.Schedule, error) {
	return loadSchedule(ctx, s.calendars, calendarID)
}

func loadSchedule(ctx context.Context, calendars repository.CalendarRepository, calendarID *string) (*businesstime.Schedule, error) {
	if calendarID == nil || *calendarID == "" {
		return nil, nil
	}
	cal, err := calendars.GetByID(ctx, *calendarID)
	if err != nil {
		if util.IsNotFound(err) {
			return nil, util.NewConfigurationError("business calendar not found", map[string]any{"calendar_id": *calendarID})
		}
		return nil, err
	}
	return businesstime.Compile(cal)
}

// withTicket tags transition errors with the ticket and dimension.
func withTicket(err error, ticketID string, d domain.Dimension) error {
	var domainErr *util.DomainError
	if errors.As(err, &domainErr) && domainErr.Code == util.CodeInvalidTransition {
		if domainErr.Details == nil {
			domainErr.Details = map[string]any{}
		}
		domainErr.Details["ticket_id"] = ticketID
		domainErr.Details["dimension"] = string(d)
	}
	return err
}
