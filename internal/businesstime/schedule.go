// Package businesstime converts between wall-clock intervals and business
// minutes for a calendar of weekly work windows and holidays.
package businesstime

import (
	"sort"
	"time"

	"github.com/spec-kit/sla-engine/internal/domain"
	util "github.com/spec-kit/sla-engine/pkg/util"
)

// maxSearchDays caps AddMinutes when every remaining day is a holiday.
const maxSearchDays = 366 * 5

type window struct {
	start int
	end   int
}

// Schedule is a validated calendar ready for interval arithmetic. A nil
// Schedule is open around the clock.
type Schedule struct {
	loc      *time.Location
	windows  [7][]window
	holidays map[string]struct{}
	weekly   int
}

// Compile validates a calendar and resolves its timezone. A nil or inactive
// calendar yields a nil Schedule, which treats every minute as business time.
func Compile(cal *domain.BusinessCalendar) (*Schedule, error) {
	if cal == nil || !cal.Active {
		return nil, nil
	}

	loc := time.UTC
	if cal.Timezone != "" {
		l, err := time.LoadLocation(cal.Timezone)
		if err != nil {
			return nil, util.NewConfigurationError("unknown calendar timezone", map[string]any{
				"calendar_id": cal.ID,
				"timezone":    cal.Timezone,
			})
		}
		loc = l
	}

	s := &Schedule{loc: loc, holidays: make(map[string]struct{}, len(cal.Holidays))}
	for _, w := range cal.Windows {
		if w.Weekday < domain.Monday || w.Weekday > domain.Sunday {
			return nil, util.NewConfigurationError("work window weekday out of range", map[string]any{
				"calendar_id": cal.ID,
				"weekday":     int(w.Weekday),
			})
		}
		if w.StartMinute < 0 || w.EndMinute > domain.MinutesPerDay || w.StartMinute >= w.EndMinute {
			return nil, util.NewConfigurationError("work window must satisfy 0 <= start < end <= 1440", map[string]any{
				"calendar_id":  cal.ID,
				"weekday":      int(w.Weekday),
				"start_minute": w.StartMinute,
				"end_minute":   w.EndMinute,
			})
		}
		s.windows[w.Weekday] = append(s.windows[w.Weekday], window{start: w.StartMinute, end: w.EndMinute})
		s.weekly += w.EndMinute - w.StartMinute
	}

	for day := range s.windows {
		ws := s.windows[day]
		sort.Slice(ws, func(i, j int) bool { return ws[i].start < ws[j].start })
		for i := 1; i < len(ws); i++ {
			if ws[i].start < ws[i-1].end {
				return nil, util.NewConfigurationError("overlapping work windows", map[string]any{
					"calendar_id": cal.ID,
					"weekday":     day,
				})
			}
		}
	}

	for _, h := range cal.Holidays {
		s.holidays[h.DateKey()] = struct{}{}
	}
	return s, nil
}

// Location returns the calendar timezone (UTC for the around-the-clock schedule).
func (s *Schedule) Location() *time.Location {
	if s == nil {
		return time.UTC
	}
	return s.loc
}

// WeeklyMinutes returns the configured working minutes per week.
func (s *Schedule) WeeklyMinutes() int {
	if s == nil {
		return 7 * domain.MinutesPerDay
	}
	return s.weekly
}

// IsHoliday reports whether the local date of t is a holiday.
func (s *Schedule) IsHoliday(t time.Time) bool {
	if s == nil {
		return false
	}
	_, ok := s.holidays[t.In(s.loc).Format(time.DateOnly)]
	return ok
}

// MinutesBetween returns the business minutes inside [start, end], truncated
// to whole minutes. It is 0 when end is not after start.
func (s *Schedule) MinutesBetween(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	if s == nil {
		return int(end.Sub(start) / time.Minute)
	}

	var total time.Duration
	for day := midnight(start.In(s.loc)); !day.After(end); day = nextDay(day) {
		if s.IsHoliday(day) {
			continue
		}
		for _, w := range s.windows[domain.WeekdayOf(day.Weekday())] {
			wStart, wEnd := s.bounds(day, w)
			from := latest(start, wStart)
			to := earliest(end, wEnd)
			if to.After(from) {
				total += to.Sub(from)
			}
		}
	}
	return int(total / time.Minute)
}

// AddMinutes walks forward from start, consuming window capacity until the
// given number of business minutes is used up, and returns that instant.
func (s *Schedule) AddMinutes(start time.Time, minutes int) (time.Time, error) {
	if minutes <= 0 {
		return start, nil
	}
	if s == nil {
		return start.Add(time.Duration(minutes) * time.Minute), nil
	}
	if s.weekly == 0 {
		return time.Time{}, util.NewConfigurationError("calendar has no work windows", nil)
	}

	remaining := time.Duration(minutes) * time.Minute
	cursor := start.In(s.loc)
	day := midnight(cursor)
	for i := 0; i < maxSearchDays; i, day = i+1, nextDay(day) {
		if s.IsHoliday(day) {
			continue
		}
		for _, w := range s.windows[domain.WeekdayOf(day.Weekday())] {
			wStart, wEnd := s.bounds(day, w)
			if !wEnd.After(cursor) {
				continue
			}
			from := latest(cursor, wStart)
			available := wEnd.Sub(from)
			if remaining <= available {
				return from.Add(remaining), nil
			}
			remaining -= available
			cursor = wEnd
		}
	}
	return time.Time{}, util.NewConfigurationError("no business time found within search horizon", map[string]any{
		"days": maxSearchDays,
	})
}

// bounds converts a window on the given local date into instants. Using
// time.Date keeps wall-clock offsets correct across DST changes.
func (s *Schedule) bounds(day time.Time, w window) (time.Time, time.Time) {
	y, m, d := day.Date()
	return time.Date(y, m, d, w.start/60, w.start%60, 0, 0, s.loc),
		time.Date(y, m, d, w.end/60, w.end%60, 0, 0, s.loc)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func nextDay(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, day.Location())
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
