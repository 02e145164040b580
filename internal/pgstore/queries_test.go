package pgstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimpool/claimpool/internal/pgstore"
)

func createPool(t *testing.T, id string) pgstore.Pool {
	t.Helper()
	p, err := pgstore.New(testPool).CreatePool(context.Background(), pgstore.CreatePoolParams{
		ID:          id,
		Strategy:    "ipv4",
		BaseAddress: "10.0.0.0",
		PrefixLen:   24,
	})
	require.NoError(t, err, "failed to create pool %s", id)
	return p
}

func makeResources(poolID string, values ...string) []pgstore.Resource {
	now := time.Now().UTC()
	resources := make([]pgstore.Resource, len(values))
	for i, v := range values {
		resources[i] = pgstore.Resource{ID: uuid.New(), PoolID: poolID, Value: v, ClaimedAt: now}
	}
	return resources
}

func TestSetup_Idempotent(t *testing.T) {
	ctx := context.Background()
	// TestMain already ran Setup once; running it again must be a no-op.
	require.NoError(t, pgstore.Setup(ctx, testPool))

	exists, err := pgstore.New(testPool).DoPoolsTableExist(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestQueries_CreateAndGetPool(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	q := pgstore.New(testPool)

	created := createPool(t, "p1")
	assert.Equal(t, int64(0), created.Cursor, "new pools start at cursor 0")
	assert.Equal(t, int64(0), created.Version, "new pools start at version 0")
	assert.False(t, created.CreatedAt.IsZero())

	got, err := q.GetPool(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0", got.BaseAddress)
	assert.Equal(t, int32(24), got.PrefixLen)
	assert.Equal(t, "ipv4", got.Strategy)

	_, err = q.GetPool(ctx, "missing")
	require.ErrorIs(t, err, pgstore.ErrNotFound)

	_, err = q.CreatePool(ctx, pgstore.CreatePoolParams{
		ID: "p1", Strategy: "ipv4", BaseAddress: "10.0.0.0", PrefixLen: 24,
	})
	require.ErrorIs(t, err, pgstore.ErrDuplicatePool)
}

func TestQueries_ListAndDeletePools(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	q := pgstore.New(testPool)

	for _, id := range []string{"prod-a", "prod-b", "stage-a"} {
		createPool(t, id)
	}

	all, err := q.ListPools(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"prod-a", "prod-b", "stage-a"}, all)

	prod, err := q.ListPools(ctx, "prod-")
	require.NoError(t, err)
	assert.Equal(t, []string{"prod-a", "prod-b"}, prod)

	affected, err := q.DeletePool(ctx, "prod-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	affected, err = q.DeletePool(ctx, "prod-a")
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
}

func TestQueries_AdvancePool(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	q := pgstore.New(testPool)
	createPool(t, "p")

	affected, err := q.AdvancePool(ctx, pgstore.AdvancePoolParams{
		ID: "p", NewCursor: 5, ExpectedVersion: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	got, err := q.GetPool(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Cursor)
	assert.Equal(t, int64(1), got.Version)

	// A stale version matches no row and changes nothing.
	affected, err = q.AdvancePool(ctx, pgstore.AdvancePoolParams{
		ID: "p", NewCursor: 10, ExpectedVersion: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	got, err = q.GetPool(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Cursor)
	assert.Equal(t, int64(1), got.Version)
}

func TestQueries_InsertResources(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	q := pgstore.New(testPool)
	createPool(t, "p")

	err := q.InsertResources(ctx, makeResources("p", "10.0.0.0", "10.0.0.1", "10.0.0.2"))
	require.NoError(t, err)

	count, err := q.CountResources(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	listed, err := q.ListResources(ctx, "p")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "10.0.0.0", listed[0].Value, "resources list in insertion order")
	assert.Equal(t, "10.0.0.2", listed[2].Value)

	err = q.InsertResources(ctx, makeResources("p", "10.0.0.3", "10.0.0.1"))
	require.ErrorIs(t, err, pgstore.ErrDuplicateValue)

	count, err = q.CountResources(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count, "a rejected statement inserts none of its rows")
}

func TestQueries_InsertResources_SameValueDifferentPools(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	q := pgstore.New(testPool)
	createPool(t, "a")
	createPool(t, "b")

	require.NoError(t, q.InsertResources(ctx, makeResources("a", "10.0.0.0")))
	require.NoError(t, q.InsertResources(ctx, makeResources("b", "10.0.0.0")),
		"uniqueness is scoped to the owning pool")
}

func TestStore_ApplyClaim(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := pgstore.NewStore(testPool)
	q := pgstore.New(testPool)
	createPool(t, "p")

	err := store.ApplyClaim(ctx, pgstore.ApplyClaimParams{
		PoolID:          "p",
		ExpectedVersion: 0,
		NewCursor:       2,
		Resources:       makeResources("p", "10.0.0.0", "10.0.0.1"),
	})
	require.NoError(t, err)

	got, err := q.GetPool(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Cursor)
	assert.Equal(t, int64(1), got.Version)
	count, err := q.CountResources(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStore_ApplyClaim_VersionConflict(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := pgstore.NewStore(testPool)
	q := pgstore.New(testPool)
	createPool(t, "p")

	require.NoError(t, store.ApplyClaim(ctx, pgstore.ApplyClaimParams{
		PoolID: "p", ExpectedVersion: 0, NewCursor: 1,
		Resources: makeResources("p", "10.0.0.0"),
	}))

	err := store.ApplyClaim(ctx, pgstore.ApplyClaimParams{
		PoolID: "p", ExpectedVersion: 0, NewCursor: 2,
		Resources: makeResources("p", "10.0.0.1"),
	})
	require.ErrorIs(t, err, pgstore.ErrVersionConflict)

	// The losing attempt must roll back completely.
	count, err := q.CountResources(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	got, err := q.GetPool(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestStore_ApplyClaim_DuplicateValueRollsBack(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := pgstore.NewStore(testPool)
	q := pgstore.New(testPool)
	createPool(t, "p")

	require.NoError(t, store.ApplyClaim(ctx, pgstore.ApplyClaimParams{
		PoolID: "p", ExpectedVersion: 0, NewCursor: 1,
		Resources: makeResources("p", "10.0.0.0"),
	}))

	err := store.ApplyClaim(ctx, pgstore.ApplyClaimParams{
		PoolID: "p", ExpectedVersion: 1, NewCursor: 3,
		Resources: makeResources("p", "10.0.0.1", "10.0.0.0"),
	})
	require.ErrorIs(t, err, pgstore.ErrDuplicateValue)

	// Neither the cursor advance nor the non-colliding row survives.
	got, err := q.GetPool(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Cursor)
	assert.Equal(t, int64(1), got.Version)
	count, err := q.CountResources(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_ApplyClaim_UnknownPool(t *testing.T) {
	resetDB(t)
	err := pgstore.NewStore(testPool).ApplyClaim(context.Background(), pgstore.ApplyClaimParams{
		PoolID: "ghost", ExpectedVersion: 0, NewCursor: 1,
		Resources: makeResources("ghost", "10.0.0.0"),
	})
	require.ErrorIs(t, err, pgstore.ErrNotFound)
}

func TestStore_ApplyClaim_SplitsLargeBatches(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := pgstore.NewStore(testPool)
	q := pgstore.New(testPool)
	createPool(t, "p")

	// Use distinct synthetic values so the test does not depend on a strategy.
	resources := make([]pgstore.Resource, 25)
	now := time.Now().UTC()
	for i := range resources {
		resources[i] = pgstore.Resource{ID: uuid.New(), PoolID: "p", Value: uuid.NewString(), ClaimedAt: now}
	}

	err := store.ApplyClaim(ctx, pgstore.ApplyClaimParams{
		PoolID: "p", ExpectedVersion: 0, NewCursor: 25,
		Resources: resources, InsertBatchSize: 10,
	})
	require.NoError(t, err)

	count, err := q.CountResources(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(25), count)
	got, err := q.GetPool(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version, "chunked inserts still commit as one claim")
}
