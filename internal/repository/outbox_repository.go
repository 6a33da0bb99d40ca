package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// OutboxRepository stores notification intents and tracks their delivery.
type OutboxRepository interface {
	// Insert adds a row unless dedupeKey already exists; inserted reports which.
	Insert(ctx context.Context, kind, dedupeKey string, payload json.RawMessage) (inserted bool, err error)
	// ClaimPending locks up to limit deliverable rows, oldest first, skipping
	// rows locked by other workers. Must run inside a transaction.
	ClaimPending(ctx context.Context, now time.Time, limit int) ([]domain.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, failure DeliveryFailure) error
	CountPending(ctx context.Context) (int64, error)
	GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.OutboxMessage, error)
}

// DeliveryFailure records a failed attempt. A non-nil DeadLetteredAt takes the
// row out of polling.
type DeliveryFailure struct {
	ID             int64
	Attempts       int
	LastError      string
	NextAttemptAt  *time.Time
	DeadLetteredAt *time.Time
}

type outboxRepository struct {
	base
}

// NewOutboxRepository instantiates the repository.
func NewOutboxRepository(pool *pgxpool.Pool) OutboxRepository {
	return &outboxRepository{base{pool: pool}}
}

const outboxColumns = `id, kind, dedupe_key, payload, created_at, sent_at, attempts, last_error, next_attempt_at, dead_lettered_at`

func (r *outboxRepository) Insert(ctx context.Context, kind, dedupeKey string, payload json.RawMessage) (bool, error) {
	const query = `
        INSERT INTO outbox_messages (kind, dedupe_key, payload)
        VALUES ($1,$2,$3)
        ON CONFLICT (dedupe_key) DO NOTHING
        RETURNING id`

	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	var id int64
	err := r.db(ctx).QueryRow(ctx, query, kind, dedupeKey, []byte(payload)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *outboxRepository) ClaimPending(ctx context.Context, now time.Time, limit int) ([]domain.OutboxMessage, error) {
	const query = `
        SELECT ` + outboxColumns + `
        FROM outbox_messages
        WHERE sent_at IS NULL
          AND dead_lettered_at IS NULL
          AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
        ORDER BY id
        LIMIT $2
        FOR UPDATE SKIP LOCKED`

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db(ctx).Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.OutboxMessage
	for rows.Next() {
		msg, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	return result, rows.Err()
}

func (r *outboxRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE outbox_messages SET sent_at=$1 WHERE id=$2 AND sent_at IS NULL`

	cmd, err := r.db(ctx).Exec(ctx, query, at, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, failure DeliveryFailure) error {
	const query = `
        UPDATE outbox_messages
        SET attempts=$1, last_error=$2, next_attempt_at=$3, dead_lettered_at=$4
        WHERE id=$5 AND sent_at IS NULL`

	cmd, err := r.db(ctx).Exec(ctx, query,
		failure.Attempts,
		failure.LastError,
		failure.NextAttemptAt,
		failure.DeadLetteredAt,
		failure.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *outboxRepository) CountPending(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM outbox_messages WHERE sent_at IS NULL AND dead_lettered_at IS NULL`

	var count int64
	err := r.db(ctx).QueryRow(ctx, query).Scan(&count)
	return count, err
}

func (r *outboxRepository) GetByDedupeKey(ctx context.Context, dedupeKey string) (*domain.OutboxMessage, error) {
	const query = `SELECT ` + outboxColumns + ` FROM outbox_messages WHERE dedupe_key=$1`
	return scanOutbox(r.db(ctx).QueryRow(ctx, query, dedupeKey))
}

func scanOutbox(row pgx.Row) (*domain.OutboxMessage, error) {
	var (
		msg     domain.OutboxMessage
		payload []byte
	)
	if err := row.Scan(
		&msg.ID,
		&msg.Kind,
		&msg.DedupeKey,
		&payload,
		&msg.CreatedAt,
		&msg.SentAt,
		&msg.Attempts,
		&msg.LastError,
		&msg.NextAttemptAt,
		&msg.DeadLetteredAt,
	); err != nil {
		return nil, err
	}
	msg.Payload = json.RawMessage(payload)
	return &msg, nil
}
