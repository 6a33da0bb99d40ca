package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/sla-engine/internal/persistence"
)

// base routes queries through the transaction carried by ctx when present.
type base struct {
	pool *pgxpool.Pool
}

func (b base) db(ctx context.Context) persistence.DBTX {
	return persistence.Executor(ctx, b.pool)
}
