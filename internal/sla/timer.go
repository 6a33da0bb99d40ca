// Package sla implements the per-dimension SLA clock transitions:
// NotStarted -> Running <-> Paused -> Completed.
package sla

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/businesstime"
	"github.com/spec-kit/sla-engine/internal/domain"
	util "github.com/spec-kit/sla-engine/pkg/util"
)

// Timer applies transitions to one dimension clock against a schedule.
// Every transition validates before it writes, so a rejected call leaves
// the clock untouched.
type Timer struct {
	State    *domain.DimensionTimer
	Schedule *businesstime.Schedule
}

// NewTimer binds a clock to its schedule; a nil schedule is around the clock.
func NewTimer(state *domain.DimensionTimer, schedule *businesstime.Schedule) *Timer {
	return &Timer{State: state, Schedule: schedule}
}

// Preview is a read-only projection of a clock at a point in time.
type Preview struct {
	State            domain.TimerState
	ElapsedMinutes   int
	RemainingMinutes int
	ProjectedDueAt   *time.Time
	Fraction         float64
}

// PauseResult carries the audit values produced by Resume.
type PauseResult struct {
	PauseDurationMinutes    int
	DueDateExtensionMinutes int
}

// Attach resets the clock for a newly attached policy. targetMinutes <= 0
// disables the dimension.
func (t *Timer) Attach(targetMinutes int) {
	*t.State = domain.DimensionTimer{}
	if targetMinutes > 0 {
		target := targetMinutes
		t.State.TargetMinutes = &target
	}
}

// Start moves NotStarted to Running. It reports false when the clock was
// already started or the dimension has no target.
func (t *Timer) Start(now time.Time) (bool, error) {
	if t.State.StartedAt != nil || !t.State.Enabled() {
		return false, nil
	}
	due, err := t.Schedule.AddMinutes(now, t.remaining(t.State.ElapsedMinutes))
	if err != nil {
		return false, err
	}
	started := now
	t.State.StartedAt = &started
	t.State.LastResumeAt = &started
	t.State.DueAt = &due
	t.State.Paused = false
	t.State.PausedAt = nil
	return true, nil
}

// Pause banks the business minutes since the last resume and freezes the clock.
func (t *Timer) Pause(now time.Time) error {
	if state := t.State.State(); state != domain.TimerRunning {
		return util.NewInvalidTransition("pause", string(state), nil)
	}
	t.State.ElapsedMinutes += t.runningMinutes(now)
	paused := now
	t.State.Paused = true
	t.State.PausedAt = &paused
	t.State.LastResumeAt = nil
	return nil
}

// Resume restarts a paused clock and pushes the due date out by the
// wall-clock length of the pause.
func (t *Timer) Resume(now time.Time) (PauseResult, error) {
	if state := t.State.State(); state != domain.TimerPaused {
		return PauseResult{}, util.NewInvalidTransition("resume", string(state), nil)
	}
	var pauseMinutes int
	if t.State.PausedAt != nil && now.After(*t.State.PausedAt) {
		pauseMinutes = int(now.Sub(*t.State.PausedAt) / time.Minute)
	}
	extension := 0
	if t.State.DueAt != nil {
		due := t.State.DueAt.Add(time.Duration(pauseMinutes) * time.Minute)
		t.State.DueAt = &due
		extension = pauseMinutes
	}
	t.State.TotalPausedMinutes += pauseMinutes
	resumed := now
	t.State.LastResumeAt = &resumed
	t.State.Paused = false
	t.State.PausedAt = nil
	return PauseResult{PauseDurationMinutes: pauseMinutes, DueDateExtensionMinutes: extension}, nil
}

// Complete stops a running or paused clock, flags a breach when the due date
// passed or the target was consumed, and clears the due date.
func (t *Timer) Complete(now time.Time) error {
	state := t.State.State()
	if state != domain.TimerRunning && state != domain.TimerPaused {
		return util.NewInvalidTransition("complete", string(state), nil)
	}
	if state == domain.TimerRunning {
		t.State.ElapsedMinutes += t.runningMinutes(now)
	}
	if t.State.DueAt != nil && now.After(*t.State.DueAt) {
		t.State.Breached = true
	}
	if t.State.Enabled() && t.State.ElapsedMinutes >= *t.State.TargetMinutes {
		t.State.Breached = true
	}
	completed := now
	t.State.CompletedAt = &completed
	t.State.DueAt = nil
	t.State.Paused = false
	t.State.PausedAt = nil
	t.State.LastResumeAt = nil
	return nil
}

// MarkBreached flags a started clock as breached. It reports whether the
// flag changed.
func (t *Timer) MarkBreached() (bool, error) {
	if t.State.State() == domain.TimerNotStarted {
		return false, util.NewInvalidTransition("breach", string(domain.TimerNotStarted), nil)
	}
	if t.State.Breached {
		return false, nil
	}
	t.State.Breached = true
	return true, nil
}

// Recompute previews the clock at now without banking elapsed time. The
// projected due date counts the minutes already banked at pause points
// once, plus the business minutes of the current running stretch.
func (t *Timer) Recompute(now time.Time) (Preview, error) {
	state := t.State.State()
	p := Preview{State: state, ElapsedMinutes: t.State.ElapsedMinutes}
	if state == domain.TimerRunning {
		p.ElapsedMinutes += t.runningMinutes(now)
	}
	if !t.State.Enabled() {
		return p, nil
	}
	target := *t.State.TargetMinutes
	p.RemainingMinutes = t.remaining(p.ElapsedMinutes)
	p.Fraction = float64(p.ElapsedMinutes) / float64(target)

	switch state {
	case domain.TimerRunning:
		if p.RemainingMinutes == 0 && t.State.DueAt != nil && !t.State.DueAt.After(now) {
			due := *t.State.DueAt
			p.ProjectedDueAt = &due
			break
		}
		due, err := t.Schedule.AddMinutes(now, p.RemainingMinutes)
		if err != nil {
			return Preview{}, err
		}
		p.ProjectedDueAt = &due
	case domain.TimerPaused:
		if t.State.DueAt != nil {
			due := *t.State.DueAt
			p.ProjectedDueAt = &due
		}
	}
	return p, nil
}

func (t *Timer) runningMinutes(now time.Time) int {
	if t.State.LastResumeAt == nil {
		return 0
	}
	return t.Schedule.MinutesBetween(*t.State.LastResumeAt, now)
}

func (t *Timer) remaining(elapsed int) int {
	if !t.State.Enabled() {
		return 0
	}
	if r := *t.State.TargetMinutes - elapsed; r > 0 {
		return r
	}
	return 0
}
