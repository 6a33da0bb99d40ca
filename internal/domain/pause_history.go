package domain

import "time"

// PauseAction distinguishes pause and resume audit rows.
type PauseAction string

const (
	PauseActionPause  PauseAction = "pause"
	PauseActionResume PauseAction = "resume"
)

// SLAPauseHistory is an append-only audit entry for pause/resume.
type SLAPauseHistory struct {
	ID                      string
	TicketID                string
	Dimension               Dimension
	Action                  PauseAction
	ActorID                 string
	ActionAt                time.Time
	Reason                  *string
	PauseDurationMinutes    *int
	DueDateExtensionMinutes *int
}
