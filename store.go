package claimpool

import (
	"context"
	"encoding/json"
	"net/netip"
	"time"
)

// PoolRecord is the persisted state of a pool. The allocation parameters
// (Strategy, Prefix, Metadata) are immutable after creation; Cursor and
// Version only ever advance, and only via ApplyClaim.
type PoolRecord struct {
	ID       string
	Strategy string
	Prefix   netip.Prefix
	Metadata json.RawMessage

	// Cursor is the count of values already materialized from the pool's
	// address space.
	Cursor int64

	// Version is the optimistic-lock token, incremented exactly once per
	// successful claim.
	Version int64

	CreatedAt time.Time
}

// ClaimBatch is the unit of work a successful claim commits atomically:
// insert every resource and advance the pool's cursor and version, provided
// the pool's version still equals ExpectedVersion.
type ClaimBatch struct {
	PoolID          string
	ExpectedVersion int64
	NewCursor       int64
	Resources       []Resource

	// InsertBatchSize is a hint capping the rows per insert statement.
	// Implementations without statement-size concerns may ignore it.
	InsertBatchSize int
}

// Store is the storage contract the claim engine needs from a relational
// engine: plain reads of the pool row, a compare-and-swap style conditional
// update, and a write-time uniqueness constraint on resource values.
type Store interface {
	// CreatePool persists a new pool. Returns ErrPoolExists if the ID is
	// already taken, including when a concurrent creator won the race.
	CreatePool(ctx context.Context, p PoolRecord) (PoolRecord, error)

	// GetPool reads the current pool row without holding any lock.
	// Returns ErrPoolNotFound if no such pool exists.
	GetPool(ctx context.Context, id string) (PoolRecord, error)

	// ListPools returns the IDs of pools whose ID starts with prefix,
	// ordered by ID. An empty prefix lists all pools.
	ListPools(ctx context.Context, prefix string) ([]string, error)

	// DeletePool removes a pool and all of its resources. The returned
	// bool reports whether a pool was deleted.
	DeletePool(ctx context.Context, id string) (bool, error)

	// ApplyClaim commits a claim batch in a single transaction. It returns
	// ErrVersionConflict if the pool's version no longer equals
	// ExpectedVersion (nothing is persisted), ErrInconsistent if a resource
	// value collided despite a passing version check, and ErrPoolNotFound
	// if the pool vanished. On any error the transaction is fully rolled
	// back; partial batches are never observable.
	ApplyClaim(ctx context.Context, batch ClaimBatch) error

	// ListResources returns a pool's resources in claim order.
	ListResources(ctx context.Context, poolID string) ([]Resource, error)

	// CountResources returns the number of resources claimed from a pool.
	CountResources(ctx context.Context, poolID string) (int64, error)

	// Close releases resources held by the store. It does not close any
	// externally-owned database handle.
	Close() error
}
