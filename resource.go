package claimpool

import (
	"time"

	"github.com/google/uuid"
)

// Resource is one claimed, uniquely-valued identifier belonging to a pool.
// The existence of the record is what marks the value as claimed; resources
// are never mutated or released once persisted.
type Resource struct {
	// ID is the stable identifier of the resource row.
	ID uuid.UUID

	// PoolID is the pool the resource was claimed from.
	PoolID string

	// Value is the allocated identifier, e.g. "10.0.0.7" for the IPv4
	// strategy. Unique within the owning pool.
	Value string

	// ClaimedAt records when the claim committed.
	ClaimedAt time.Time
}
