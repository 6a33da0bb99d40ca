package businesstime

import (
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// BusinessMinutesBetween sums the overlap of [start, end] with the calendar's
// work windows, skipping holidays. A nil or inactive calendar counts every minute.
func BusinessMinutesBetween(cal *domain.BusinessCalendar, start, end time.Time) (int, error) {
	s, err := Compile(cal)
	if err != nil {
		return 0, err
	}
	return s.MinutesBetween(start, end), nil
}

// AddBusinessMinutes returns the instant at which the given number of business
// minutes after start have elapsed. Calendars without work windows fail with a
// configuration error instead of looping.
func AddBusinessMinutes(cal *domain.BusinessCalendar, start time.Time, minutes int) (time.Time, error) {
	s, err := Compile(cal)
	if err != nil {
		return time.Time{}, err
	}
	return s.AddMinutes(start, minutes)
}
