package claimpool

// Strategy derives resource values from a pool's allocation parameters.
//
// Generate must be a pure function of its inputs: the same pool parameters,
// offset and count always yield the same sequence, and sequences produced for
// increasing offsets never overlap. This determinism is what lets the claim
// coordinator generate candidates outside any transaction and commit them
// with a single conditional update.
type Strategy interface {
	// Generate returns count distinct values for the half-open offset range
	// [offset, offset+count). It returns an error wrapping ErrPoolExhausted
	// when the range exceeds the pool's capacity.
	Generate(pool PoolRecord, offset, count int64) ([]string, error)

	// Capacity reports the total number of values derivable from the pool.
	Capacity(pool PoolRecord) int64
}

// StrategyIPv4 is the name of the built-in IPv4 strategy and the default for
// pools that do not specify one.
const StrategyIPv4 = "ipv4"
