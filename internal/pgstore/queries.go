// Package pgstore implements the PostgreSQL persistence layer for claimpool.
// All SQL lives here; the root package translates between these row types
// and its public domain types.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when the referenced pool does not exist.
	ErrNotFound = errors.New("pool not found")

	// ErrDuplicatePool is returned when inserting a pool whose ID is taken.
	ErrDuplicatePool = errors.New("pool already exists")

	// ErrDuplicateValue is returned when inserting a resource whose value is
	// already claimed in the same pool.
	ErrDuplicateValue = errors.New("resource value already exists")

	// ErrVersionConflict is returned when the version-conditioned pool
	// update matched no row because a concurrent claim committed first.
	ErrVersionConflict = errors.New("pool version changed")
)

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// Pool mirrors one row of claimpool_pools.
type Pool struct {
	ID          string
	Strategy    string
	BaseAddress string
	PrefixLen   int32
	Cursor      int64
	Version     int64
	Metadata    []byte
	CreatedAt   time.Time
}

// Resource mirrors one row of claimpool_resources.
type Resource struct {
	ID        uuid.UUID
	PoolID    string
	Value     string
	ClaimedAt time.Time
}

// DBTX is the subset of pgx connection behavior the queries need. It is
// satisfied by *pgx.Conn, pgx.Tx and *pgxpool.Pool.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries bundles the hand-written SQL statements against a DBTX.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// CreateTables creates the claimpool tables if they do not exist.
func (q *Queries) CreateTables(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, schemaSQL); err != nil {
		return err
	}
	return nil
}

// DropTables removes the claimpool tables and their data.
func (q *Queries) DropTables(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `DROP TABLE IF EXISTS claimpool_resources, claimpool_pools`)
	return err
}

// DoPoolsTableExist reports whether the claimpool schema has been set up.
func (q *Queries) DoPoolsTableExist(ctx context.Context) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT to_regclass('claimpool_pools') IS NOT NULL`,
	).Scan(&exists)
	return exists, err
}

// AcquireAdvisoryXactLock takes an exclusive transaction-scoped advisory
// lock. It must run inside a transaction.
func (q *Queries) AcquireAdvisoryXactLock(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, id)
	return err
}

const poolColumns = `id, strategy, base_address, prefix_len, cursor_offset, version, metadata, created_at`

func scanPool(row pgx.Row) (Pool, error) {
	var p Pool
	err := row.Scan(
		&p.ID, &p.Strategy, &p.BaseAddress, &p.PrefixLen,
		&p.Cursor, &p.Version, &p.Metadata, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Pool{}, ErrNotFound
	}
	return p, err
}

// CreatePoolParams holds the immutable parameters of a new pool. Cursor and
// version always start at zero.
type CreatePoolParams struct {
	ID          string
	Strategy    string
	BaseAddress string
	PrefixLen   int32
	Metadata    []byte
}

// CreatePool inserts a new pool row with cursor 0 and version 0.
func (q *Queries) CreatePool(ctx context.Context, params CreatePoolParams) (Pool, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO claimpool_pools (id, strategy, base_address, prefix_len, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+poolColumns,
		params.ID, params.Strategy, params.BaseAddress, params.PrefixLen, params.Metadata,
	)
	p, err := scanPool(row)
	if isUniqueViolation(err) {
		return Pool{}, fmt.Errorf("pool %s: %w", params.ID, ErrDuplicatePool)
	}
	return p, err
}

// GetPool reads the current pool row. This is a plain read; no row lock is
// held afterwards.
func (q *Queries) GetPool(ctx context.Context, id string) (Pool, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM claimpool_pools WHERE id = $1`, id,
	)
	return scanPool(row)
}

// ListPools returns pool IDs starting with prefix, ordered by ID.
func (q *Queries) ListPools(ctx context.Context, prefix string) ([]string, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id FROM claimpool_pools WHERE starts_with(id, $1) ORDER BY id`, prefix,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeletePool removes a pool row; resources cascade. It returns the number of
// deleted pool rows.
func (q *Queries) DeletePool(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM claimpool_pools WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AdvancePoolParams drives the version-conditioned cursor advance.
type AdvancePoolParams struct {
	ID              string
	NewCursor       int64
	ExpectedVersion int64
}

// AdvancePool performs the compare-and-swap on the pool row: set the cursor
// and bump the version only if the version still equals ExpectedVersion.
// The returned count is 1 on success and 0 if a concurrent claim won.
func (q *Queries) AdvancePool(ctx context.Context, params AdvancePoolParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE claimpool_pools
		SET cursor_offset = $2, version = version + 1
		WHERE id = $1 AND version = $3`,
		params.ID, params.NewCursor, params.ExpectedVersion,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InsertResources inserts a batch of resources with a single multi-row
// INSERT statement. Round trips dominate latency at the batch sizes claims
// target, so the whole batch goes out in one statement.
func (q *Queries) InsertResources(ctx context.Context, resources []Resource) error {
	if len(resources) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT INTO claimpool_resources (id, pool_id, value, claimed_at) VALUES `)
	args := make([]any, 0, len(resources)*4)
	for i, r := range resources {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, r.ID, r.PoolID, r.Value, r.ClaimedAt)
	}

	if _, err := q.db.Exec(ctx, b.String(), args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert resources: %w", ErrDuplicateValue)
		}
		return err
	}
	return nil
}

// ListResources returns a pool's resources in claim order.
func (q *Queries) ListResources(ctx context.Context, poolID string) ([]Resource, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, pool_id, value, claimed_at
		FROM claimpool_resources
		WHERE pool_id = $1
		ORDER BY seq`,
		poolID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []Resource
	for rows.Next() {
		var r Resource
		if err := rows.Scan(&r.ID, &r.PoolID, &r.Value, &r.ClaimedAt); err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// CountResources returns the number of resources claimed from a pool.
func (q *Queries) CountResources(ctx context.Context, poolID string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx,
		`SELECT count(*) FROM claimpool_resources WHERE pool_id = $1`, poolID,
	).Scan(&count)
	return count, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
