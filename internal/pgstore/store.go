package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the LISTEN/NOTIFY channel successful claims publish to.
// Payloads are JSON-encoded ClaimNotification values.
const NotifyChannel = "claimpool_claims"

// ClaimNotification is the payload published on NotifyChannel after each
// successful claim commit.
type ClaimNotification struct {
	PoolID  string `json:"pool_id"`
	Cursor  int64  `json:"cursor"`
	Version int64  `json:"version"`
	Count   int    `json:"count"`
}

// setupLockID is the advisory lock guarding concurrent schema creation.
// Arbitrary, but must be consistent across all processes.
const setupLockID int64 = 727450

// Setup creates the claimpool tables if they do not exist. It uses a
// PostgreSQL advisory lock to prevent concurrent setup attempts and is safe
// to call once at startup from any number of processes.
func Setup(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		q := New(tx)

		if err := q.AcquireAdvisoryXactLock(ctx, setupLockID); err != nil {
			return fmt.Errorf("failed to acquire advisory lock: %w", err)
		}

		ok, err := q.DoPoolsTableExist(ctx)
		if err != nil {
			return fmt.Errorf("failed to check if claimpool tables exist: %w", err)
		}
		if ok {
			return nil // Tables already exist, no need to set up
		}
		if err := q.CreateTables(ctx); err != nil {
			return fmt.Errorf("failed to create claimpool tables: %w", err)
		}
		return nil
	})
}

// Cleanup drops the claimpool tables and all their data.
func Cleanup(ctx context.Context, pool *pgxpool.Pool) error {
	if err := New(pool).DropTables(ctx); err != nil {
		return fmt.Errorf("failed to drop claimpool tables: %w", err)
	}
	return nil
}

// Store executes multi-statement operations against a connection pool.
// Plain reads go through Queries directly; Store adds the transactional
// claim commit.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store on top of an externally-owned connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Queries returns the query layer bound to the store's connection pool.
func (s *Store) Queries() *Queries {
	return New(s.pool)
}

// ApplyClaimParams is one claim commit: advance the pool's cursor and
// version, conditioned on ExpectedVersion, and insert the batch's resources.
type ApplyClaimParams struct {
	PoolID          string
	ExpectedVersion int64
	NewCursor       int64
	Resources       []Resource

	// InsertBatchSize caps the rows per INSERT statement; larger batches
	// are split into several statements inside the same transaction.
	// Zero means no cap.
	InsertBatchSize int
}

// ApplyClaim commits a claim in one short transaction.
//
// The version-conditioned update runs before the inserts: once it has
// matched, the transaction holds the pool row until commit, so no concurrent
// claim can pass the same version check and a uniqueness violation on insert
// is a genuine bookkeeping defect (ErrDuplicateValue) rather than a lost
// race. A failed version check aborts the transaction with
// ErrVersionConflict and nothing persists.
func (s *Store) ApplyClaim(ctx context.Context, params ApplyClaimParams) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		q := New(tx)

		affected, err := q.AdvancePool(ctx, AdvancePoolParams{
			ID:              params.PoolID,
			NewCursor:       params.NewCursor,
			ExpectedVersion: params.ExpectedVersion,
		})
		if err != nil {
			return fmt.Errorf("failed to advance pool %s: %w", params.PoolID, err)
		}
		if affected == 0 {
			// Distinguish a lost race from a vanished pool.
			if _, err := q.GetPool(ctx, params.PoolID); err != nil {
				if errors.Is(err, ErrNotFound) {
					return fmt.Errorf("pool %s: %w", params.PoolID, ErrNotFound)
				}
				return err
			}
			return fmt.Errorf("pool %s at version %d: %w",
				params.PoolID, params.ExpectedVersion, ErrVersionConflict)
		}

		for _, chunk := range chunkResources(params.Resources, params.InsertBatchSize) {
			if err := q.InsertResources(ctx, chunk); err != nil {
				return fmt.Errorf("pool %s: %w", params.PoolID, err)
			}
		}

		payload, err := json.Marshal(ClaimNotification{
			PoolID:  params.PoolID,
			Cursor:  params.NewCursor,
			Version: params.ExpectedVersion + 1,
			Count:   len(params.Resources),
		})
		if err != nil {
			return fmt.Errorf("failed to encode claim notification: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload)); err != nil {
			return fmt.Errorf("failed to notify claim: %w", err)
		}
		return nil
	})
}

func chunkResources(resources []Resource, size int) [][]Resource {
	if size <= 0 || len(resources) <= size {
		return [][]Resource{resources}
	}
	chunks := make([][]Resource, 0, (len(resources)+size-1)/size)
	for len(resources) > size {
		chunks = append(chunks, resources[:size])
		resources = resources[size:]
	}
	return append(chunks, resources)
}
