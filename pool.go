package claimpool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Pool is a handle to one named pool. Handles are cheap, stateless and safe
// for concurrent use; all coordination happens through the pool row's version
// column in the store.
type Pool struct {
	id       string
	manager  *Manager
	strategy Strategy
}

// ID returns the unique identifier of the pool.
func (p *Pool) ID() string {
	return p.id
}

// Claim atomically materializes and returns count fresh resources from the
// pool. It either persists and returns exactly count resources or persists
// nothing and returns one of the typed errors: ErrInvalidCount,
// ErrPoolNotFound, ErrPoolExhausted, ErrContentionExhausted or
// ErrInconsistent.
//
// Each attempt reads the pool's cursor and version without holding a lock,
// derives candidate values from the cursor, and commits them together with a
// version-conditioned cursor advance in one short transaction. If another
// claim against the same pool committed first, the attempt is rolled back and
// retried from a fresh read after a randomized backoff.
func (p *Pool) Claim(ctx context.Context, count int) ([]Resource, error) {
	if p.manager.Closed() {
		return nil, ErrManagerClosed
	}
	if count <= 0 {
		return nil, fmt.Errorf("%w: given %d", ErrInvalidCount, count)
	}

	conf := p.manager.claim
	for attempt := 1; attempt <= conf.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepWithJitter(ctx, conf, attempt-1); err != nil {
				return nil, err
			}
		}

		rec, err := p.manager.store.GetPool(ctx, p.id)
		if err != nil {
			return nil, err
		}

		values, err := p.strategy.Generate(rec, rec.Cursor, int64(count))
		if err != nil {
			// Exhaustion is permanent for the current pool state; a retry
			// cannot produce fresh values.
			return nil, err
		}

		now := time.Now().UTC()
		resources := make([]Resource, len(values))
		for i, v := range values {
			resources[i] = Resource{
				ID:        uuid.New(),
				PoolID:    p.id,
				Value:     v,
				ClaimedAt: now,
			}
		}

		err = p.manager.store.ApplyClaim(ctx, ClaimBatch{
			PoolID:          p.id,
			ExpectedVersion: rec.Version,
			NewCursor:       rec.Cursor + int64(count),
			Resources:       resources,
			InsertBatchSize: conf.InsertBatchSize,
		})
		switch {
		case err == nil:
			return resources, nil
		case errors.Is(err, ErrVersionConflict):
			p.manager.logger.DebugContext(ctx, "claim attempt lost version race",
				"pool", p.id, "attempt", attempt, "version", rec.Version)
			continue
		case errors.Is(err, ErrInconsistent):
			p.manager.logger.ErrorContext(ctx, "resource value collision despite matching pool version",
				"pool", p.id, "cursor", rec.Cursor, "version", rec.Version, "error", err)
			return nil, err
		default:
			return nil, fmt.Errorf("failed to commit claim on pool %s: %w", p.id, err)
		}
	}

	return nil, fmt.Errorf("claim on pool %s failed after %d attempts: %w",
		p.id, conf.MaxAttempts, ErrContentionExhausted)
}

// PoolStatus is a point-in-time view of a pool's allocation progress.
type PoolStatus struct {
	ID       string
	Strategy string
	Cursor   int64
	Version  int64
	Capacity int64
	Free     int64
}

// Snapshot returns the pool's current cursor, version and remaining capacity.
func (p *Pool) Snapshot(ctx context.Context) (PoolStatus, error) {
	rec, err := p.manager.store.GetPool(ctx, p.id)
	if err != nil {
		return PoolStatus{}, err
	}
	capacity := p.strategy.Capacity(rec)
	return PoolStatus{
		ID:       rec.ID,
		Strategy: rec.Strategy,
		Cursor:   rec.Cursor,
		Version:  rec.Version,
		Capacity: capacity,
		Free:     capacity - rec.Cursor,
	}, nil
}

// Resources returns every resource claimed from the pool, in claim order.
func (p *Pool) Resources(ctx context.Context) ([]Resource, error) {
	return p.manager.store.ListResources(ctx, p.id)
}

// sleepWithJitter blocks for a randomized, exponentially growing delay or
// until the context is done. retries is the number of conflicts seen so far.
func sleepWithJitter(ctx context.Context, conf ClaimConfig, retries int) error {
	ceiling := conf.MinBackoff << (retries - 1)
	if ceiling > conf.MaxBackoff || ceiling <= 0 {
		ceiling = conf.MaxBackoff
	}
	delay := time.Duration(rand.Int64N(int64(ceiling))) + 1

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
