package events

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketSLAAssigned   EventType = "ticket_sla_assigned"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketMessageAdded  EventType = "ticket_message_added"
	EventSLAPauseRequested   EventType = "sla_pause_requested"
	EventSLAResumeRequested  EventType = "sla_resume_requested"
	EventCalendarCreated     EventType = "calendar_created"
	EventCalendarDeleted     EventType = "calendar_deleted"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.MessageAuthorType `json:"type"`
	ID   string                   `json:"id,omitempty"`
}

// Event represents a domain event emitted by the ticket service.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload. An empty SLAID means no policy applies.
type TicketCreatedPayload struct {
	OrgID    string                `json:"org_id"`
	Number   string                `json:"number"`
	Subject  string                `json:"subject"`
	Priority domain.TicketPriority `json:"priority"`
	Severity string                `json:"severity,omitempty"`
	SLAID    string                `json:"sla_id,omitempty"`
}

// TicketSLAAssignedPayload payload.
type TicketSLAAssignedPayload struct {
	SLAID    string                `json:"sla_id"`
	Priority domain.TicketPriority `json:"priority"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Comment   string              `json:"comment,omitempty"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   string                   `json:"message_id"`
	MessageType domain.TicketMessageType `json:"message_type"`
	AuthorType  domain.MessageAuthorType `json:"author_type"`
	AuthorID    *string                  `json:"author_id,omitempty"`
}

// SLAPauseRequestedPayload payload. A nil Dimension applies to every running dimension.
type SLAPauseRequestedPayload struct {
	Dimension *domain.Dimension `json:"dimension,omitempty"`
	Reason    *string           `json:"reason,omitempty"`
}

// SLAResumeRequestedPayload payload. A nil Dimension applies to every paused dimension.
type SLAResumeRequestedPayload struct {
	Dimension *domain.Dimension `json:"dimension,omitempty"`
}

// CalendarChangedPayload payload for calendar_created and calendar_deleted.
type CalendarChangedPayload struct {
	CalendarID string            `json:"calendar_id"`
	OrgID      string            `json:"org_id"`
	Name       string            `json:"name"`
	Recipients domain.Recipients `json:"recipients"`
}
