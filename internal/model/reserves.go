package model

import "math/big"

// ReserveSnapshot holds pair reserves in the pair's own order (token0, token1)
// as returned by a single getReserves call.
type ReserveSnapshot struct {
	Reserve0           *big.Int `json:"reserve0"`
	Reserve1           *big.Int `json:"reserve1"`
	BlockTimestampLast uint32   `json:"block_timestamp_last"`
}

// IsZero reports whether the snapshot has never been filled.
func (r ReserveSnapshot) IsZero() bool {
	return r.Reserve0 == nil && r.Reserve1 == nil
}

// Copy returns a deep copy so callers cannot mutate a retained snapshot.
func (r ReserveSnapshot) Copy() ReserveSnapshot {
	out := ReserveSnapshot{BlockTimestampLast: r.BlockTimestampLast}
	if r.Reserve0 != nil {
		out.Reserve0 = new(big.Int).Set(r.Reserve0)
	}
	if r.Reserve1 != nil {
		out.Reserve1 = new(big.Int).Set(r.Reserve1)
	}
	return out
}
