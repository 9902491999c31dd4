// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"math/bits"
	"time"
)

// CalculateBackoff returns min(minBackoff × 2^attempt, maxBackoff).
// The multiplication saturates, so any attempt (including MaxUint32) is safe.
func CalculateBackoff(attempt uint32, minBackoff, maxBackoff time.Duration) time.Duration {
	if minBackoff <= 0 {
		return 0
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	if attempt >= 63 {
		return maxBackoff
	}
	hi, lo := bits.Mul64(uint64(minBackoff), uint64(1)<<attempt)
	if hi != 0 || lo > uint64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(lo)
}
