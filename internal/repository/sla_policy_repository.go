package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/domain"
)

// SLAPolicyRepository reads SLA policies.
type SLAPolicyRepository interface {
	GetByID(ctx context.Context, id string) (*domain.SLAPolicy, error)
}

type slaPolicyRepository struct {
	base
}

// NewSLAPolicyRepository instantiates the repository.
func NewSLAPolicyRepository(pool *pgxpool.Pool) SLAPolicyRepository {
	return &slaPolicyRepository{base{pool: pool}}
}

func (r *slaPolicyRepository) GetByID(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	const query = `
        SELECT id, org_id, active, first_response_target_minutes, resolution_target_minutes, calendar_id,
            reminder_thresholds, rules, target_matrix
        FROM sla_policies WHERE id=$1`

	var (
		policy     domain.SLAPolicy
		thresholds []byte
		rules      []byte
		matrix     []byte
	)
	if err := r.db(ctx).QueryRow(ctx, query, id).Scan(
		&policy.ID,
		&policy.OrgID,
		&policy.Active,
		&policy.FirstResponseTargetMinutes,
		&policy.ResolutionTargetMinutes,
		&policy.CalendarID,
		&thresholds,
		&rules,
		&matrix,
	); err != nil {
		return nil, err
	}

	if len(thresholds) > 0 {
		if err := json.Unmarshal(thresholds, &policy.ReminderThresholds); err != nil {
			return nil, fmt.Errorf("decode reminder_thresholds for policy %s: %w", id, err)
		}
	}
	if len(matrix) > 0 {
		if err := json.Unmarshal(matrix, &policy.TargetMatrix); err != nil {
			return nil, fmt.Errorf("decode target_matrix for policy %s: %w", id, err)
		}
	}
	policy.Rules = json.RawMessage(rules)
	return &policy, nil
}
