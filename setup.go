package claimpool

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claimpool/claimpool/internal/pgstore"
)

// Setup initializes the claimpool tables in the database and returns a
// Manager backed by PostgreSQL. Schema creation is guarded by an advisory
// lock, so calling Setup concurrently from many processes is safe. The
// connection pool remains owned by the caller.
func Setup(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*Manager, error) {
	if err := pgstore.Setup(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to setup claimpool: %w", err)
	}
	return NewManager(NewPostgresStore(pool), opts...)
}

// Cleanup drops the claimpool tables and all their data. It is intended for
// tests and for tearing down environments, not for routine operation.
func Cleanup(ctx context.Context, pool *pgxpool.Pool) error {
	return pgstore.Cleanup(ctx, pool)
}
