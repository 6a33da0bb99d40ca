package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnknownEventType is returned by Decode for unsupported event types.
var ErrUnknownEventType = errors.New("unknown event type")

type wireEvent struct {
	Event
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a JSON event and types its payload by event type. A missing
// id is filled with a fresh uuid.
func Decode(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	event := w.Event
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	var err error
	switch event.Type {
	case EventTicketCreated:
		event.Payload, err = decodePayload[TicketCreatedPayload](w.Payload)
	case EventTicketSLAAssigned:
		event.Payload, err = decodePayload[TicketSLAAssignedPayload](w.Payload)
	case EventTicketStatusChanged:
		event.Payload, err = decodePayload[TicketStatusChangedPayload](w.Payload)
	case EventTicketMessageAdded:
		event.Payload, err = decodePayload[TicketMessageAddedPayload](w.Payload)
	case EventSLAPauseRequested:
		event.Payload, err = decodePayload[SLAPauseRequestedPayload](w.Payload)
	case EventSLAResumeRequested:
		event.Payload, err = decodePayload[SLAResumeRequestedPayload](w.Payload)
	case EventCalendarCreated, EventCalendarDeleted:
		event.Payload, err = decodePayload[CalendarChangedPayload](w.Payload)
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, event.Type)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return event, nil
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var p T
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}
