// Package tiers maps donation amounts to supporter tiers.
package tiers

import (
	"errors"
	"fmt"
)

// Tier is a supporter level in 0..3.
type Tier uint8

const Count = 4

// Thresholds are the minimum lamports for tiers 0..3, non-decreasing.
type Thresholds [Count]uint64

var ErrInvalidThresholds = errors.New("invalid tier thresholds")

// DefaultThresholds: 0.1, 0.25, 0.5 and 1 SOL.
var DefaultThresholds = Thresholds{100_000_000, 250_000_000, 500_000_000, 1_000_000_000}

func (t Thresholds) Validate() error {
	for i := 1; i < Count; i++ {
		if t[i] < t[i-1] {
			return fmt.Errorf("%w: threshold %d (%d) is below threshold %d (%d)", ErrInvalidThresholds, i, t[i], i-1, t[i-1])
		}
	}
	return nil
}

// Classify returns the highest tier whose threshold amount meets, or 0.
func Classify(amount uint64, thresholds Thresholds) Tier {
	acc := Tier(0)
	for i := Count - 1; i >= 0; i-- {
		if amount >= thresholds[i] && Tier(i) > acc {
			acc = Tier(i)
		}
	}
	return acc
}
