package claimpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"time"
)

// ClaimConfig holds the tunables of the claim retry loop.
type ClaimConfig struct {
	// MaxAttempts bounds how many times a claim re-reads the pool after a
	// version conflict before giving up with ErrContentionExhausted.
	MaxAttempts int

	// MinBackoff and MaxBackoff bound the randomized delay between claim
	// attempts. The delay grows exponentially from MinBackoff and is capped
	// at MaxBackoff, with full jitter.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// InsertBatchSize caps how many resource rows go into one multi-row
	// INSERT statement. Claims larger than this are split into several
	// statements inside the same transaction.
	InsertBatchSize int
}

// DefaultClaimConfig returns the claim tunables used unless overridden via
// WithClaimConfig.
func DefaultClaimConfig() ClaimConfig {
	return ClaimConfig{
		MaxAttempts:     10,
		MinBackoff:      time.Millisecond,
		MaxBackoff:      50 * time.Millisecond,
		InsertBatchSize: 500,
	}
}

func (c ClaimConfig) validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive: given %d", c.MaxAttempts)
	}
	if c.MinBackoff <= 0 || c.MaxBackoff < c.MinBackoff {
		return fmt.Errorf("backoff bounds must satisfy 0 < min <= max: given %v..%v",
			c.MinBackoff, c.MaxBackoff)
	}
	if c.InsertBatchSize <= 0 {
		return fmt.Errorf("insert batch size must be positive: given %d", c.InsertBatchSize)
	}
	return nil
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for retry and consistency diagnostics.
// The Manager is silent by default.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClaimConfig overrides the claim retry tunables.
func WithClaimConfig(conf ClaimConfig) Option {
	return func(m *Manager) { m.claim = conf }
}

// WithStrategy registers a named allocation strategy. The IPv4 strategy is
// registered under StrategyIPv4 by default.
func WithStrategy(name string, s Strategy) Option {
	return func(m *Manager) { m.strategies[name] = s }
}

// Manager is the entry point for interacting with pools. It owns the storage
// backend and the strategy registry. It does not close an externally-owned
// database connection pool.
type Manager struct {
	store      Store
	strategies map[string]Strategy
	claim      ClaimConfig
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewManager creates a Manager on top of an arbitrary Store.
func NewManager(store Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		store: store,
		strategies: map[string]Strategy{
			StrategyIPv4: IPv4Strategy{},
		},
		claim:  DefaultClaimConfig(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.claim.validate(); err != nil {
		return nil, fmt.Errorf("invalid claim configuration: %w", err)
	}
	return m, nil
}

// Config holds the parameters for creating or opening a pool.
type Config struct {
	// ID is the unique identifier of the pool. Required.
	ID string

	// Prefix defines the address space the pool allocates from,
	// e.g. 10.0.0.0/8. Immutable after creation.
	Prefix netip.Prefix

	// Strategy names the registered allocation strategy to use.
	// Defaults to StrategyIPv4.
	Strategy string

	// Metadata is optional JSON attached to the pool. Not interpreted by
	// the library. Ignored if the pool already exists.
	Metadata json.RawMessage
}

// Validate checks the configuration for the default IPv4-style strategies.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("pool ID cannot be empty")
	}
	if !c.Prefix.IsValid() {
		return fmt.Errorf("pool prefix is not valid: %q", c.Prefix)
	}
	if !c.Prefix.Addr().Is4() {
		return fmt.Errorf("only IPv4 prefixes are supported: %q", c.Prefix)
	}
	return nil
}

// GetOrCreate retrieves a pool by ID, creating it if it does not exist.
// A newly created pool starts with cursor 0 and version 0. If the pool
// already exists with different allocation parameters, an error is returned.
func (m *Manager) GetOrCreate(ctx context.Context, conf Config) (*Pool, error) {
	if m.Closed() {
		return nil, ErrManagerClosed
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}
	if conf.Strategy == "" {
		conf.Strategy = StrategyIPv4
	}
	strategy, ok := m.strategies[conf.Strategy]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", conf.Strategy)
	}

	rec, err := m.store.GetPool(ctx, conf.ID)
	if errors.Is(err, ErrPoolNotFound) {
		rec, err = m.store.CreatePool(ctx, PoolRecord{
			ID:       conf.ID,
			Strategy: conf.Strategy,
			Prefix:   conf.Prefix.Masked(),
			Metadata: conf.Metadata,
		})
		if errors.Is(err, ErrPoolExists) {
			// Another process created the pool concurrently; fetch it and
			// fall through to the parameter check.
			rec, err = m.store.GetPool(ctx, conf.ID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get or create pool %s: %w", conf.ID, err)
	}

	if rec.Prefix != conf.Prefix.Masked() || rec.Strategy != conf.Strategy {
		return nil, fmt.Errorf("pool %s already exists with different parameters: have %s/%s, want %s/%s",
			conf.ID, rec.Strategy, rec.Prefix, conf.Strategy, conf.Prefix.Masked(),
		)
	}

	return &Pool{id: conf.ID, manager: m, strategy: strategy}, nil
}

// Open returns a handle to an existing pool. It returns ErrPoolNotFound if
// the pool does not exist and an error if its strategy is not registered.
func (m *Manager) Open(ctx context.Context, id string) (*Pool, error) {
	if m.Closed() {
		return nil, ErrManagerClosed
	}
	rec, err := m.store.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	strategy, ok := m.strategies[rec.Strategy]
	if !ok {
		return nil, fmt.Errorf("pool %s uses unregistered strategy %q", id, rec.Strategy)
	}
	return &Pool{id: id, manager: m, strategy: strategy}, nil
}

// ListPools returns the IDs of pools whose ID starts with prefix, ordered by
// ID. An empty prefix lists all pools.
func (m *Manager) ListPools(ctx context.Context, prefix string) ([]string, error) {
	if m.Closed() {
		return nil, ErrManagerClosed
	}
	return m.store.ListPools(ctx, prefix)
}

// DeletePool removes a pool and all resources claimed from it.
func (m *Manager) DeletePool(ctx context.Context, id string) error {
	if m.Closed() {
		return ErrManagerClosed
	}
	if id == "" {
		return fmt.Errorf("pool ID cannot be empty")
	}
	deleted, err := m.store.DeletePool(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete pool %s: %w", id, err)
	}
	if !deleted {
		return fmt.Errorf("delete pool %s: %w", id, ErrPoolNotFound)
	}
	return nil
}

// Close closes the Manager and its store. It does not close an
// externally-owned database connection pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.store.Close()
}

// Closed reports whether the Manager has been closed.
func (m *Manager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
