package common

import (
	"math"
	"math/big"
)

// SaturatingAdd adds delta to counter, clamping at the uint64 ceiling. Global
// statistic counters must never wrap when transitions race in the host.
func SaturatingAdd(counter, delta uint64) uint64 {
	if counter > math.MaxUint64-delta {
		return math.MaxUint64
	}
	return counter + delta
}

// SaturatingSub subtracts delta from counter, clamping at zero.
func SaturatingSub(counter, delta uint64) uint64 {
	if delta > counter {
		return 0
	}
	return counter - delta
}

// SaturatingAddBig adds delta to total in place, treating nil operands as zero.
func SaturatingAddBig(total, delta *big.Int) *big.Int {
	if total == nil {
		total = big.NewInt(0)
	}
	if delta == nil || delta.Sign() <= 0 {
		return total
	}
	return total.Add(total, delta)
}

// SaturatingSubBig subtracts delta from total in place, clamping at zero.
func SaturatingSubBig(total, delta *big.Int) *big.Int {
	if total == nil {
		return big.NewInt(0)
	}
	if delta == nil || delta.Sign() <= 0 {
		return total
	}
	total.Sub(total, delta)
	if total.Sign() < 0 {
		total.SetInt64(0)
	}
	return total
}
