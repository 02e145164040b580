package claimpool

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/claimpool/claimpool/internal/pgstore"
)

// PostgresStore implements Store on top of PostgreSQL via pgx. The underlying
// connection pool is owned by the caller and is not closed by Close.
type PostgresStore struct {
	store   *pgstore.Store
	queries *pgstore.Queries
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection pool. The claimpool tables
// must already exist; see Setup.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	store := pgstore.NewStore(pool)
	return &PostgresStore{store: store, queries: store.Queries()}
}

func (s *PostgresStore) CreatePool(ctx context.Context, p PoolRecord) (PoolRecord, error) {
	row, err := s.queries.CreatePool(ctx, pgstore.CreatePoolParams{
		ID:          p.ID,
		Strategy:    p.Strategy,
		BaseAddress: p.Prefix.Masked().Addr().String(),
		PrefixLen:   int32(p.Prefix.Bits()),
		Metadata:    p.Metadata,
	})
	if err != nil {
		if errors.Is(err, pgstore.ErrDuplicatePool) {
			return PoolRecord{}, fmt.Errorf("pool %s: %w", p.ID, ErrPoolExists)
		}
		return PoolRecord{}, err
	}
	return toPoolRecord(row)
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (PoolRecord, error) {
	row, err := s.queries.GetPool(ctx, id)
	if err != nil {
		if errors.Is(err, pgstore.ErrNotFound) {
			return PoolRecord{}, fmt.Errorf("pool %s: %w", id, ErrPoolNotFound)
		}
		return PoolRecord{}, err
	}
	return toPoolRecord(row)
}

func (s *PostgresStore) ListPools(ctx context.Context, prefix string) ([]string, error) {
	return s.queries.ListPools(ctx, prefix)
}

func (s *PostgresStore) DeletePool(ctx context.Context, id string) (bool, error) {
	affected, err := s.queries.DeletePool(ctx, id)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgresStore) ApplyClaim(ctx context.Context, batch ClaimBatch) error {
	resources := make([]pgstore.Resource, len(batch.Resources))
	for i, r := range batch.Resources {
		resources[i] = pgstore.Resource{
			ID:        r.ID,
			PoolID:    r.PoolID,
			Value:     r.Value,
			ClaimedAt: r.ClaimedAt,
		}
	}

	err := s.store.ApplyClaim(ctx, pgstore.ApplyClaimParams{
		PoolID:          batch.PoolID,
		ExpectedVersion: batch.ExpectedVersion,
		NewCursor:       batch.NewCursor,
		Resources:       resources,
		InsertBatchSize: batch.InsertBatchSize,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgstore.ErrVersionConflict):
		return fmt.Errorf("pool %s: %w", batch.PoolID, ErrVersionConflict)
	case errors.Is(err, pgstore.ErrDuplicateValue):
		return fmt.Errorf("pool %s: %w", batch.PoolID, ErrInconsistent)
	case errors.Is(err, pgstore.ErrNotFound):
		return fmt.Errorf("pool %s: %w", batch.PoolID, ErrPoolNotFound)
	default:
		return err
	}
}

func (s *PostgresStore) ListResources(ctx context.Context, poolID string) ([]Resource, error) {
	rows, err := s.queries.ListResources(ctx, poolID)
	if err != nil {
		return nil, err
	}
	resources := make([]Resource, len(rows))
	for i, r := range rows {
		resources[i] = Resource{
			ID:        r.ID,
			PoolID:    r.PoolID,
			Value:     r.Value,
			ClaimedAt: r.ClaimedAt,
		}
	}
	return resources, nil
}

func (s *PostgresStore) CountResources(ctx context.Context, poolID string) (int64, error) {
	return s.queries.CountResources(ctx, poolID)
}

// Close implements Store. The connection pool is externally owned, so there
// is nothing to release.
func (s *PostgresStore) Close() error { return nil }

func toPoolRecord(row pgstore.Pool) (PoolRecord, error) {
	addr, err := netip.ParseAddr(row.BaseAddress)
	if err != nil {
		return PoolRecord{}, fmt.Errorf("pool %s has malformed base address %q: %w",
			row.ID, row.BaseAddress, err)
	}
	prefix, err := addr.Prefix(int(row.PrefixLen))
	if err != nil {
		return PoolRecord{}, fmt.Errorf("pool %s has malformed prefix length %d: %w",
			row.ID, row.PrefixLen, err)
	}
	return PoolRecord{
		ID:        row.ID,
		Strategy:  row.Strategy,
		Prefix:    prefix,
		Metadata:  row.Metadata,
		Cursor:    row.Cursor,
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
	}, nil
}
