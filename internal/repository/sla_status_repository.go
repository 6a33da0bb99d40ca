package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// SLAStatusRepository persists per-ticket SLA clocks.
type SLAStatusRepository interface {
	Get(ctx context.Context, ticketID string) (*domain.TicketSLAStatus, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, ticketID string) (*domain.TicketSLAStatus, error)
	Save(ctx context.Context, status *domain.TicketSLAStatus) error
	// ListActiveTicketIDs pages through tickets with a started, uncompleted
	// dimension, ordered by ticket id and strictly after afterID.
	ListActiveTicketIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

type slaStatusRepository struct {
	base
}

// NewSLAStatusRepository instantiates the repository.
func NewSLAStatusRepository(pool *pgxpool.Pool) SLAStatusRepository {
	return &slaStatusRepository{base{pool: pool}}
}

const statusColumns = `ticket_id, sla_id, calendar_id,
            fr_target_minutes, fr_started_at, fr_completed_at, fr_due_at, fr_elapsed_minutes, fr_paused,
            fr_paused_at, fr_total_paused_minutes, fr_breached, fr_last_resume_at,
            res_target_minutes, res_started_at, res_completed_at, res_due_at, res_elapsed_minutes, res_paused,
            res_paused_at, res_total_paused_minutes, res_breached, res_last_resume_at,
            updated_at`

func (r *slaStatusRepository) Get(ctx context.Context, ticketID string) (*domain.TicketSLAStatus, error) {
	const query = `SELECT ` + statusColumns + ` FROM ticket_sla_status WHERE ticket_id=$1`
	return scanStatus(r.db(ctx).QueryRow(ctx, query, ticketID))
}

func (r *slaStatusRepository) GetForUpdate(ctx context.Context, ticketID string) (*domain.TicketSLAStatus, error) {
	const query = `SELECT ` + statusColumns + ` FROM ticket_sla_status WHERE ticket_id=$1 FOR UPDATE`
	return scanStatus(r.db(ctx).QueryRow(ctx, query, ticketID))
}

func (r *slaStatusRepository) Save(ctx context.Context, status *domain.TicketSLAStatus) error {
	const query = `
        INSERT INTO ticket_sla_status (` + statusColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,NOW())
        ON CONFLICT (ticket_id) DO UPDATE SET
            sla_id=EXCLUDED.sla_id, calendar_id=EXCLUDED.calendar_id,
            fr_target_minutes=EXCLUDED.fr_target_minutes, fr_started_at=EXCLUDED.fr_started_at,
            fr_completed_at=EXCLUDED.fr_completed_at, fr_due_at=EXCLUDED.fr_due_at,
            fr_elapsed_minutes=EXCLUDED.fr_elapsed_minutes, fr_paused=EXCLUDED.fr_paused,
            fr_paused_at=EXCLUDED.fr_paused_at, fr_total_paused_minutes=EXCLUDED.fr_total_paused_minutes,
            fr_breached=EXCLUDED.fr_breached, fr_last_resume_at=EXCLUDED.fr_last_resume_at,
            res_target_minutes=EXCLUDED.res_target_minutes, res_started_at=EXCLUDED.res_started_at,
            res_completed_at=EXCLUDED.res_completed_at, res_due_at=EXCLUDED.res_due_at,
            res_elapsed_minutes=EXCLUDED.res_elapsed_minutes, res_paused=EXCLUDED.res_paused,
            res_paused_at=EXCLUDED.res_paused_at, res_total_paused_minutes=EXCLUDED.res_total_paused_minutes,
            res_breached=EXCLUDED.res_breached, res_last_resume_at=EXCLUDED.res_last_resume_at,
            updated_at=NOW()
        RETURNING updated_at`

	fr, res := &status.FirstResponse, &status.Resolution
	return r.db(ctx).QueryRow(ctx, query,
		status.TicketID,
		status.SLAID,
		status.CalendarID,
		fr.TargetMinutes, fr.StartedAt, fr.CompletedAt, fr.DueAt, fr.ElapsedMinutes, fr.Paused,
		fr.PausedAt, fr.TotalPausedMinutes, fr.Breached, fr.LastResumeAt,
		res.TargetMinutes, res.StartedAt, res.CompletedAt, res.DueAt, res.ElapsedMinutes, res.Paused,
		res.PausedAt, res.TotalPausedMinutes, res.Breached, res.LastResumeAt,
	).Scan(&status.UpdatedAt)
}

func (r *slaStatusRepository) ListActiveTicketIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	const query = `
        SELECT ticket_id FROM ticket_sla_status
        WHERE ticket_id > $1
          AND ((fr_started_at IS NOT NULL AND fr_completed_at IS NULL)
            OR (res_started_at IS NOT NULL AND res_completed_at IS NULL))
        ORDER BY ticket_id
        LIMIT $2`

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db(ctx).Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanStatus(row pgx.Row) (*domain.TicketSLAStatus, error) {
	var status domain.TicketSLAStatus
	fr, res := &status.FirstResponse, &status.Resolution
	if err := row.Scan(
		&status.TicketID,
		&status.SLAID,
		&status.CalendarID,
		&fr.TargetMinutes, &fr.StartedAt, &fr.CompletedAt, &fr.DueAt, &fr.ElapsedMinutes, &fr.Paused,
		&fr.PausedAt, &fr.TotalPausedMinutes, &fr.Breached, &fr.LastResumeAt,
		&res.TargetMinutes, &res.StartedAt, &res.CompletedAt, &res.DueAt, &res.ElapsedMinutes, &res.Paused,
		&res.PausedAt, &res.TotalPausedMinutes, &res.Breached, &res.LastResumeAt,
		&status.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &status, nil
}
