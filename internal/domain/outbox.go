package domain

import (
	"encoding/json"
	"time"
)

// OutboxMessage is a durable notification intent.
type OutboxMessage struct {
	ID             int64
	Kind           string
	DedupeKey      string
	Payload        json.RawMessage
	CreatedAt      time.Time
	SentAt         *time.Time
	Attempts       int
	LastError      *string
	NextAttemptAt  *time.Time
	DeadLetteredAt *time.Time
}

// Pending reports whether the message still awaits delivery.
func (m *OutboxMessage) Pending() bool {
	return m.SentAt == nil && m.DeadLetteredAt == nil
}
