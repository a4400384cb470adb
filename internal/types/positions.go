/*

This file contains the types for venue-side positions and the snapshot records
persisted after each rebalance batch and performance review.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// PositionID identifies a concentrated-liquidity position on the venue.
type PositionID uint64

// PositionData carries the cached metadata for one tracked position. The
// manager only needs liquidity and the tick bounds to value the position at an
// arbitrary price.
type PositionData struct {
	Liquidity sdkmath.Int `json:"liquidity"`
	TickLower int32       `json:"tick_lower"`
	TickUpper int32       `json:"tick_upper"`
}

// TrackedPosition pairs a venue position ID with its cached metadata, for
// snapshot/reporting purposes.
type TrackedPosition struct {
	ID   PositionID   `json:"id"`
	Data PositionData `json:"data"`
}

// RebalanceSnapshot records the outcome of one rebalance batch for auditing.
// ValueBefore/ValueAfter are denominated in the base asset.
type RebalanceSnapshot struct {
	SnapshotID  int64             `json:"snapshot_id,omitempty"` // Auto-incremented by DB
	BatchID     string            `json:"batch_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Rate        string            `json:"rate"`
	ValueBefore string            `json:"value_before"`
	ValueAfter  string            `json:"value_after"`
	ShareSupply string            `json:"share_supply"`
	Actions     []Action          `json:"actions"`
	Positions   []TrackedPosition `json:"positions"`
	Success     bool              `json:"success"`
	Message     string            `json:"message,omitempty"`
}

// PerformanceReview records the outcome of one performance review commit.
type PerformanceReview struct {
	ReviewID      int64     `json:"review_id,omitempty"` // Auto-incremented by DB
	Timestamp     time.Time `json:"timestamp"`
	Metric        string    `json:"metric"`
	HighWatermark string    `json:"high_watermark"`
	FeeOwed       string    `json:"fee_owed"`
	PendingFee    string    `json:"pending_fee"`
	ShareSupply   string    `json:"share_supply"`
}
