package claimpool

import "errors"

var (
	// ErrInvalidCount is returned when a claim asks for a non-positive
	// number of resources. Rejected before any storage interaction.
	ErrInvalidCount = errors.New("claim count must be positive")

	// ErrManagerClosed is returned by operations on a closed Manager or on
	// pool handles obtained from one.
	ErrManagerClosed = errors.New("manager is closed")

	// ErrPoolNotFound is returned when the referenced pool does not exist.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrPoolExists is returned when creating a pool whose ID is taken.
	ErrPoolExists = errors.New("pool already exists")

	// ErrPoolExhausted is returned when a claim asks for more values than
	// the pool's address space has left. The condition is permanent for the
	// current pool state and is never retried.
	ErrPoolExhausted = errors.New("pool address space exhausted")

	// ErrVersionConflict signals that the pool's version changed between the
	// read and the conditional commit of a claim attempt. Store
	// implementations return it from ApplyClaim; the claim coordinator
	// treats it as a retryable condition and callers normally never see it.
	ErrVersionConflict = errors.New("pool version changed concurrently")

	// ErrContentionExhausted is returned when a claim ran out of retry
	// attempts because concurrent claims against the same pool kept winning
	// the version race.
	ErrContentionExhausted = errors.New("claim retry budget exhausted")

	// ErrInconsistent is returned when a resource value collided with an
	// existing row even though the pool's version check passed. This cannot
	// happen unless cursor bookkeeping is broken or an external writer
	// inserted non-conforming rows, so it is surfaced as-is and never
	// retried.
	ErrInconsistent = errors.New("resource value conflict despite matching pool version")
)
