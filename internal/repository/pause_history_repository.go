package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// PauseHistoryRepository appends pause and resume audit entries.
type PauseHistoryRepository interface {
	Create(ctx context.Context, entry *domain.SLAPauseHistory) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.SLAPauseHistory, error)
}

type pauseHistoryRepository struct {
	base
}

// NewPauseHistoryRepository instantiates the repository.
func NewPauseHistoryRepository(pool *pgxpool.Pool) PauseHistoryRepository {
	return &pauseHistoryRepository{base{pool: pool}}
}

func (r *pauseHistoryRepository) Create(ctx context.Context, entry *domain.SLAPauseHistory) error {
	const query = `
        INSERT INTO sla_pause_history (id, ticket_id, dimension, action, actor_id, action_at, reason,
            pause_duration_minutes, due_date_extension_minutes)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	_, err := r.db(ctx).Exec(ctx, query,
		entry.ID,
		entry.TicketID,
		entry.Dimension,
		entry.Action,
		entry.ActorID,
		entry.ActionAt,
		entry.Reason,
		entry.PauseDurationMinutes,
		entry.DueDateExtensionMinutes,
	)
	return err
}

func (r *pauseHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.SLAPauseHistory, error) {
	const query = `
        SELECT id, ticket_id, dimension, action, actor_id, action_at, reason,
            pause_duration_minutes, due_date_extension_minutes
        FROM sla_pause_history WHERE ticket_id=$1
        ORDER BY action_at, id`

	rows, err := r.db(ctx).Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLAPauseHistory
	for rows.Next() {
		var entry domain.SLAPauseHistory
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.Dimension,
			&entry.Action,
			&entry.ActorID,
			&entry.ActionAt,
			&entry.Reason,
			&entry.PauseDurationMinutes,
			&entry.DueDateExtensionMinutes,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
