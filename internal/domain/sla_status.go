package domain

import "time"

// TimerState is the lifecycle state of one dimension clock.
type TimerState string

const (
	TimerNotStarted TimerState = "not_started"
	TimerRunning    TimerState = "running"
	TimerPaused     TimerState = "paused"
	TimerCompleted  TimerState = "completed"
)

// DimensionTimer is the persisted clock for one SLA dimension of a ticket.
type DimensionTimer struct {
	TargetMinutes      *int
	StartedAt          *time.Time
	CompletedAt        *time.Time
	DueAt              *time.Time
	ElapsedMinutes     int
	Paused             bool
	PausedAt           *time.Time
	TotalPausedMinutes int
	Breached           bool
	LastResumeAt       *time.Time
}

// State derives the lifecycle state from the stored fields.
func (t *DimensionTimer) State() TimerState {
	switch {
	case t.CompletedAt != nil:
		return TimerCompleted
	case t.StartedAt == nil:
		return TimerNotStarted
	case t.Paused:
		return TimerPaused
	default:
		return TimerRunning
	}
}

// Enabled reports whether the attached policy targets this dimension.
func (t *DimensionTimer) Enabled() bool {
	return t.TargetMinutes != nil && *t.TargetMinutes > 0
}

// Active reports whether the clock is running or paused.
func (t *DimensionTimer) Active() bool {
	s := t.State()
	return s == TimerRunning || s == TimerPaused
}

// TicketSLAStatus co-locates both dimension clocks for a ticket.
type TicketSLAStatus struct {
	TicketID      string
	SLAID         string
	CalendarID    *string
	FirstResponse DimensionTimer
	Resolution    DimensionTimer
	UpdatedAt     time.Time
}

// Timer returns the clock for a dimension.
func (s *TicketSLAStatus) Timer(d Dimension) *DimensionTimer {
	if d == DimensionResolution {
		return &s.Resolution
	}
	return &s.FirstResponse
}
