package domain

import "time"

// Weekday indexes work windows with Monday as 0 and Sunday as 6.
type Weekday int

const (
	Monday Weekday = iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// WeekdayOf maps a time.Weekday to the Monday-based index.
func WeekdayOf(d time.Weekday) Weekday {
	return Weekday((int(d) + 6) % 7)
}

// MinutesPerDay bounds work window offsets.
const MinutesPerDay = 24 * 60

// WorkWindow is a working interval on one weekday, in minutes from local midnight.
type WorkWindow struct {
	Weekday     Weekday
	StartMinute int
	EndMinute   int
}

// Holiday excludes a whole calendar date from business time.
type Holiday struct {
	Date  time.Time
	Label string
}

// DateKey returns the YYYY-MM-DD form used for holiday lookups.
func (h Holiday) DateKey() string {
	return h.Date.Format(time.DateOnly)
}

// BusinessCalendar describes working hours for an organization.
type BusinessCalendar struct {
	ID       string
	OrgID    string
	Name     string
	Timezone string
	Active   bool
	Windows  []WorkWindow
	Holidays []Holiday
}
