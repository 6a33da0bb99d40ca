package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/persistence"
)

// RecipientDirectory resolves notification audiences from the ticket-side
// tables owned by the ticket service.
type RecipientDirectory interface {
	TicketRecipients(ctx context.Context, ticketID string) (domain.Recipients, error)
}

type recipientDirectory struct {
	base
}

// NewRecipientDirectory instantiates the directory.
func NewRecipientDirectory(pool *pgxpool.Pool) RecipientDirectory {
	return &recipientDirectory{base{pool: pool}}
}

// TicketRecipients returns the assignee, team, watchers, and requester of a
// ticket. An unknown ticket yields an empty set.
func (r *recipientDirectory) TicketRecipients(ctx context.Context, ticketID string) (domain.Recipients, error) {
	const ticketQuery = `
        SELECT COALESCE(a.email, ''), COALESCE(u.email, ''), t.team_id
        FROM tickets t
        LEFT JOIN staff_members a ON a.id = t.assignee_staff_id AND a.active_flag
        LEFT JOIN users u ON u.id = t.requester_user_id
        WHERE t.id=$1`
	const teamQuery = `
        SELECT email FROM staff_members
        WHERE team_id=$1 AND active_flag
        ORDER BY email`
	const watchersQuery = `
        SELECT email FROM ticket_watchers
        WHERE ticket_id=$1
        ORDER BY email`

	db := r.db(ctx)

	var (
		out       domain.Recipients
		assignee  string
		requester string
		teamID    *string
	)
	err := db.QueryRow(ctx, ticketQuery, ticketID).Scan(&assignee, &requester, &teamID)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if assignee != "" {
		out.Assignee = []string{assignee}
	}
	if requester != "" {
		out.Requester = []string{requester}
	}

	if teamID != nil {
		if out.Team, err = collectStrings(ctx, db, teamQuery, *teamID); err != nil {
			return out, err
		}
	}
	if out.Watchers, err = collectStrings(ctx, db, watchersQuery, ticketID); err != nil {
		return out, err
	}
	return out, nil
}

func collectStrings(ctx context.Context, db persistence.DBTX, query string, args ...any) ([]string, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
