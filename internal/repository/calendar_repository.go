package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// CalendarRepository reads business calendars. Calendars are maintained by an
// administrative collaborator.
type CalendarRepository interface {
	GetByID(ctx context.Context, id string) (*domain.BusinessCalendar, error)
}

type calendarRepository struct {
	base
}

// NewCalendarRepository instantiates the repository.
func NewCalendarRepository(pool *pgxpool.Pool) CalendarRepository {
	return &calendarRepository{base{pool: pool}}
}

func (r *calendarRepository) GetByID(ctx context.Context, id string) (*domain.BusinessCalendar, error) {
	const calendarQuery = `
        SELECT id, org_id, name, timezone, active
        FROM business_calendars WHERE id=$1`
	const windowsQuery = `
        SELECT weekday, start_minute, end_minute
        FROM calendar_work_windows WHERE calendar_id=$1
        ORDER BY weekday, start_minute`
	const holidaysQuery = `
        SELECT holiday_date, label
        FROM calendar_holidays WHERE calendar_id=$1
        ORDER BY holiday_date`

	db := r.db(ctx)

	var cal domain.BusinessCalendar
	if err := db.QueryRow(ctx, calendarQuery, id).Scan(
		&cal.ID,
		&cal.OrgID,
		&cal.Name,
		&cal.Timezone,
		&cal.Active,
	); err != nil {
		return nil, err
	}

	rows, err := db.Query(ctx, windowsQuery, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var w domain.WorkWindow
		if err := rows.Scan(&w.Weekday, &w.StartMinute, &w.EndMinute); err != nil {
			rows.Close()
			return nil, err
		}
		cal.Windows = append(cal.Windows, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.Query(ctx, holidaysQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h domain.Holiday
		if err := rows.Scan(&h.Date, &h.Label); err != nil {
			return nil, err
		}
		cal.Holidays = append(cal.Holidays, h)
	}
	return &cal, rows.Err()
}
