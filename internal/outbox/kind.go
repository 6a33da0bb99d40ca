// Package outbox defines the notification kinds carried through the outbox
// table, their payloads, and how each one renders to mail.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// Kind tags an outbox row.
type Kind string

const (
	KindTicketCreated   Kind = "ticket.created"
	KindSLAAssigned     Kind = "sla.assigned"
	KindSLAWarn         Kind = "sla.warn"
	KindSLABreach       Kind = "sla.breach"
	KindCalendarCreated Kind = "calendar.created"
	KindCalendarDeleted Kind = "calendar.deleted"
)

// ErrUnknownKind marks rows no renderer understands.
var ErrUnknownKind = errors.New("unknown outbox kind")

// Payload is implemented by every kind-specific payload.
type Payload interface {
	Kind() Kind
}

// TicketCreatedPayload announces a new ticket and its SLA due dates.
type TicketCreatedPayload struct {
	TicketID           string            `json:"ticket_id"`
	Number             string            `json:"number"`
	Subject            string            `json:"subject"`
	Priority           string            `json:"priority"`
	Severity           string            `json:"severity,omitempty"`
	FirstResponseDueAt *time.Time        `json:"first_response_due_at"`
	ResolutionDueAt    *time.Time        `json:"resolution_due_at"`
	Recipients         domain.Recipients `json:"recipients"`
}

// SLAAssignedPayload announces a policy attached to an existing ticket.
type SLAAssignedPayload struct {
	TicketID           string            `json:"ticket_id"`
	SLAID              string            `json:"sla_id"`
	FirstResponseDueAt *time.Time        `json:"first_response_due_at"`
	ResolutionDueAt    *time.Time        `json:"resolution_due_at"`
	Recipients         domain.Recipients `json:"recipients"`
}

// SLAWarnPayload reports a crossed reminder threshold. Recipients are
// resolved at delivery time.
type SLAWarnPayload struct {
	TicketID  string           `json:"ticket_id"`
	Dimension domain.Dimension `json:"dimension"`
	Fraction  float64          `json:"fraction"`
	DueAt     *time.Time       `json:"due_at,omitempty"`
}

// SLABreachPayload reports a breached dimension.
type SLABreachPayload struct {
	TicketID   string            `json:"ticket_id"`
	Dimension  domain.Dimension  `json:"dimension"`
	DueAt      *time.Time        `json:"due_at,omitempty"`
	Recipients domain.Recipients `json:"recipients"`
}

// CalendarPayload announces a created or deleted business calendar.
type CalendarPayload struct {
	CalendarID string            `json:"calendar_id"`
	OrgID      string            `json:"org_id"`
	Name       string            `json:"name"`
	Recipients domain.Recipients `json:"recipients"`
	Deleted    bool              `json:"-"`
}

func (TicketCreatedPayload) Kind() Kind { return KindTicketCreated }
func (SLAAssignedPayload) Kind() Kind   { return KindSLAAssigned }
func (SLAWarnPayload) Kind() Kind       { return KindSLAWarn }
func (SLABreachPayload) Kind() Kind     { return KindSLABreach }

func (p CalendarPayload) Kind() Kind {
	if p.Deleted {
		return KindCalendarDeleted
	}
	return KindCalendarCreated
}

// Decode parses a stored payload according to its kind.
func Decode(kind string, raw json.RawMessage) (Payload, error) {
	var (
		payload Payload
		err     error
	)
	switch Kind(kind) {
	case KindTicketCreated:
		var p TicketCreatedPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindSLAAssigned:
		var p SLAAssignedPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindSLAWarn:
		var p SLAWarnPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindSLABreach:
		var p SLABreachPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindCalendarCreated, KindCalendarDeleted:
		var p CalendarPayload
		err = json.Unmarshal(raw, &p)
		p.Deleted = Kind(kind) == KindCalendarDeleted
		payload = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return payload, nil
}

// Encode serialises a payload for storage.
func Encode(p Payload) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return raw, nil
}

// WarnDedupeKey identifies one threshold reminder for one ticket dimension.
func WarnDedupeKey(d domain.Dimension, ticketID string, fraction float64) string {
	return fmt.Sprintf("sla.warn:%s:%s:%s", d, ticketID, strconv.FormatFloat(fraction, 'f', -1, 64))
}

// BreachDedupeKey identifies the single breach notice for a ticket dimension.
func BreachDedupeKey(d domain.Dimension, ticketID string) string {
	return fmt.Sprintf("sla.breach:%s:%s", d, ticketID)
}

func TicketCreatedDedupeKey(ticketID string) string {
	return "ticket.created:" + ticketID
}

func SLAAssignedDedupeKey(ticketID, slaID string) string {
	return fmt.Sprintf("sla.assigned:%s:%s", ticketID, slaID)
}

func CalendarDedupeKey(kind Kind, calendarID string) string {
	return fmt.Sprintf("%s:%s", kind, calendarID)
}
