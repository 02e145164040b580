package claimpool

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// IPv4Strategy derives successive IPv4 addresses from a pool's prefix.
// The k-th value (0-indexed) is the prefix's network address plus k, so a
// pool with prefix 10.0.0.0/8 yields 10.0.0.0, 10.0.0.1, 10.0.0.2, ...
type IPv4Strategy struct{}

var _ Strategy = IPv4Strategy{}

// Capacity returns the number of addresses in the pool's prefix, or 0 when
// the prefix is not a valid IPv4 prefix.
func (IPv4Strategy) Capacity(pool PoolRecord) int64 {
	if !pool.Prefix.IsValid() || !pool.Prefix.Addr().Is4() {
		return 0
	}
	return int64(1) << (32 - pool.Prefix.Bits())
}

// Generate returns count successive addresses starting at the pool's network
// address plus offset.
func (s IPv4Strategy) Generate(pool PoolRecord, offset, count int64) ([]string, error) {
	if !pool.Prefix.IsValid() || !pool.Prefix.Addr().Is4() {
		return nil, fmt.Errorf("pool %s has invalid IPv4 prefix %q", pool.ID, pool.Prefix)
	}
	if offset < 0 || count <= 0 {
		return nil, fmt.Errorf("invalid generation range: offset=%d count=%d", offset, count)
	}
	capacity := s.Capacity(pool)
	if offset+count > capacity {
		return nil, fmt.Errorf("pool %s: need offsets %d..%d but %s holds only %d addresses: %w",
			pool.ID, offset, offset+count-1, pool.Prefix, capacity, ErrPoolExhausted,
		)
	}

	network := pool.Prefix.Masked().Addr().As4()
	base := binary.BigEndian.Uint32(network[:])

	values := make([]string, count)
	for k := int64(0); k < count; k++ {
		var a [4]byte
		binary.BigEndian.PutUint32(a[:], base+uint32(offset+k))
		values[k] = netip.AddrFrom4(a).String()
	}
	return values, nil
}
