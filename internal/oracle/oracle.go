/*

This file defines the price oracle collaborator consumed by the datum gate. The
oracle reports the asset1-per-asset0 exchange rate as a fixed-point integer in
its own decimals, together with the time of the last update.

*/

package oracle

import (
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
)

// PriceOracle is the external reference-price feed. Implementations must be
// safe for concurrent readers.
type PriceOracle interface {
	// LatestReading returns the raw oracle value and the time it was last
	// updated. The value may be negative or stale; callers are expected to
	// validate it.
	LatestReading() (value sdkmath.Int, updatedAt time.Time, err error)

	// Decimals returns the fixed-point precision of LatestReading values.
	Decimals() uint8
}

// Fixed is a settable in-memory oracle, used by tests and simulation runs.
type Fixed struct {
	mu        sync.RWMutex
	value     sdkmath.Int
	updatedAt time.Time
	decimals  uint8
}

// NewFixed returns a Fixed oracle seeded with the given reading.
func NewFixed(value sdkmath.Int, decimals uint8, updatedAt time.Time) *Fixed {
	return &Fixed{value: value, updatedAt: updatedAt, decimals: decimals}
}

// Set replaces the oracle reading.
func (f *Fixed) Set(value sdkmath.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = value
	f.updatedAt = updatedAt
}

// LatestReading implements PriceOracle.
func (f *Fixed) LatestReading() (sdkmath.Int, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value, f.updatedAt, nil
}

// Decimals implements PriceOracle.
func (f *Fixed) Decimals() uint8 {
	return f.decimals
}
