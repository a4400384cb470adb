package types

import "fmt"

// PerformanceMetric selects the per-share value measure the accountant tracks
// its high-watermark in.
type PerformanceMetric uint8

const (
	// MetricAsset0 values shares in raw units of asset0.
	MetricAsset0 PerformanceMetric = iota
	// MetricAsset1 values shares in raw units of asset1.
	MetricAsset1
	// MetricLiquidity values shares in venue-liquidity units, the geometric
	// mean of the raw asset pair. Immune to pure price moves on a balanced
	// full-range holding.
	MetricLiquidity
)

func (m PerformanceMetric) String() string {
	switch m {
	case MetricAsset0:
		return "asset0"
	case MetricAsset1:
		return "asset1"
	case MetricLiquidity:
		return "liquidity"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Valid reports whether m is a member of the closed metric set.
func (m PerformanceMetric) Valid() bool {
	return m <= MetricLiquidity
}
