package claimpool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store implementation for tests and quick
// starts. It honors the same compare-and-swap and uniqueness semantics as the
// PostgreSQL store but emits no claim events.
type MemoryStore struct {
	mu        sync.RWMutex
	pools     map[string]PoolRecord
	resources map[string][]Resource
	claimed   map[string]map[string]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[string]PoolRecord),
		resources: make(map[string][]Resource),
		claimed:   make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) CreatePool(ctx context.Context, p PoolRecord) (PoolRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[p.ID]; ok {
		return PoolRecord{}, fmt.Errorf("pool %s: %w", p.ID, ErrPoolExists)
	}
	m.pools[p.ID] = p
	m.claimed[p.ID] = make(map[string]struct{})
	return p, nil
}

func (m *MemoryStore) GetPool(ctx context.Context, id string) (PoolRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[id]
	if !ok {
		return PoolRecord{}, fmt.Errorf("pool %s: %w", id, ErrPoolNotFound)
	}
	return p, nil
}

func (m *MemoryStore) ListPools(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) DeletePool(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[id]; !ok {
		return false, nil
	}
	delete(m.pools, id)
	delete(m.resources, id)
	delete(m.claimed, id)
	return true, nil
}

func (m *MemoryStore) ApplyClaim(ctx context.Context, batch ClaimBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[batch.PoolID]
	if !ok {
		return fmt.Errorf("pool %s: %w", batch.PoolID, ErrPoolNotFound)
	}
	if p.Version != batch.ExpectedVersion {
		return fmt.Errorf("pool %s: expected version %d, have %d: %w",
			batch.PoolID, batch.ExpectedVersion, p.Version, ErrVersionConflict)
	}
	taken := m.claimed[batch.PoolID]
	for _, r := range batch.Resources {
		if _, dup := taken[r.Value]; dup {
			return fmt.Errorf("pool %s: value %s already claimed: %w",
				batch.PoolID, r.Value, ErrInconsistent)
		}
	}

	for _, r := range batch.Resources {
		taken[r.Value] = struct{}{}
	}
	m.resources[batch.PoolID] = append(m.resources[batch.PoolID], batch.Resources...)
	p.Cursor = batch.NewCursor
	p.Version++
	m.pools[batch.PoolID] = p
	return nil
}

func (m *MemoryStore) ListResources(ctx context.Context, poolID string) ([]Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.pools[poolID]; !ok {
		return nil, fmt.Errorf("pool %s: %w", poolID, ErrPoolNotFound)
	}
	out := make([]Resource, len(m.resources[poolID]))
	copy(out, m.resources[poolID])
	return out, nil
}

func (m *MemoryStore) CountResources(ctx context.Context, poolID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.pools[poolID]; !ok {
		return 0, fmt.Errorf("pool %s: %w", poolID, ErrPoolNotFound)
	}
	return int64(len(m.resources[poolID])), nil
}

// Close implements Store. It is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
