package flux

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxvault/fluxd/internal/types"
)

// seedShares puts supply and matching USDC into the vault so per-share value
// starts at exactly 1 USDC per share.
func seedShares(t *testing.T, h *harness, usdc int64, shares sdkmath.Int) {
	t.Helper()
	require.NoError(t, h.vaultMem.MintSharesAndTransferIn(depositorAddr, usdcAddr, sdkmath.NewInt(usdc), shares))
	require.NoError(t, h.manager.RefreshInternalFluxAccounting())
}

func TestFirstReviewSetsWatermarkWithoutFee(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	seedShares(t, h, 100_000_000, sdkmath.NewIntWithDecimal(100, 18))

	preview, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)

	// Supply at the previous review was zero, so the fee base is zero even
	// though the per-share value cleared the (zero) watermark.
	assert.Equal(t, sdkmath.NewInt(1_000_000), preview.AccumulatedPerShare)
	assert.True(t, preview.FeeOwed.IsZero())
	assert.Equal(t, sdkmath.NewInt(1_000_000), h.manager.HighWatermark())
	assert.True(t, h.manager.PendingFee().IsZero())
}

func TestReviewCooldown(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	seedShares(t, h, 100_000_000, sdkmath.NewIntWithDecimal(100, 18))

	_, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)

	_, err = h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.ErrorIs(t, err, ErrTooSoon)

	h.warp(2 * time.Hour)
	_, err = h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)
}

func TestReviewAccruesFeeAboveWatermark(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	seedShares(t, h, 100_000_000, sdkmath.NewIntWithDecimal(100, 18))

	_, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)

	// 10% gain: per-share moves from 1.000000 to 1.100000 USDC.
	h.vaultMem.SetBalance(usdcAddr, sdkmath.NewInt(110_000_000))
	h.warp(2 * time.Hour)

	preview, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)

	// profit 0.100000 per share * 100 shares * 10% fee = 1 USDC.
	assert.Equal(t, sdkmath.NewInt(1_100_000), preview.AccumulatedPerShare)
	assert.Equal(t, sdkmath.NewInt(1_000_000), preview.FeeOwed)
	assert.Equal(t, sdkmath.NewInt(1_100_000), h.manager.HighWatermark())
	assert.Equal(t, sdkmath.NewInt(1_000_000), h.manager.PendingFee())
}

func TestWatermarkIsMonotonic(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	seedShares(t, h, 100_000_000, sdkmath.NewIntWithDecimal(100, 18))

	_, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)

	h.vaultMem.SetBalance(usdcAddr, sdkmath.NewInt(90_000_000))
	h.warp(2 * time.Hour)

	preview, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)
	assert.True(t, preview.FeeOwed.IsZero())
	assert.Equal(t, sdkmath.NewInt(1_000_000), h.manager.HighWatermark())

	// Recovering back to the watermark accrues nothing either.
	h.vaultMem.SetBalance(usdcAddr, sdkmath.NewInt(100_000_000))
	h.warp(2 * time.Hour)
	preview, err = h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)
	assert.True(t, preview.FeeOwed.IsZero())
}

func TestSupplyInflationCannotInflateFeeBase(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	seedShares(t, h, 100_000_000, sdkmath.NewIntWithDecimal(100, 18))

	_, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)

	// Double the supply and the assets mid-period. Per-share gains 10% on top.
	require.NoError(t, h.vaultMem.MintSharesAndTransferIn(depositorAddr, usdcAddr,
		sdkmath.NewInt(100_000_000), sdkmath.NewIntWithDecimal(100, 18)))
	h.vaultMem.SetBalance(usdcAddr, sdkmath.NewInt(220_000_000))
	h.warp(2 * time.Hour)

	preview, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)

	// The fee base is the 100 shares of the last review, not the 200 of now.
	assert.Equal(t, sdkmath.NewInt(1_100_000), preview.AccumulatedPerShare)
	assert.Equal(t, sdkmath.NewInt(1_000_000), preview.FeeOwed)
}

func TestClaimFeesPaysOutAndResets(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	seedShares(t, h, 100_000_000, sdkmath.NewIntWithDecimal(100, 18))

	_, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)
	h.vaultMem.SetBalance(usdcAddr, sdkmath.NewInt(110_000_000))
	h.warp(2 * time.Hour)
	_, err = h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), h.manager.PendingFee())

	paid, err := h.manager.ClaimFees(strategist, true)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), paid)
	assert.True(t, h.manager.PendingFee().IsZero())

	balance, err := h.vaultMem.BalanceOf(usdcAddr)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(109_000_000), balance)

	// Claiming again is a no-op.
	paid, err = h.manager.ClaimFees(strategist, true)
	require.NoError(t, err)
	assert.True(t, paid.IsZero())
}

func TestReviewAndClaimRespectPause(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	seedShares(t, h, 100_000_000, sdkmath.NewIntWithDecimal(100, 18))

	require.NoError(t, h.manager.Pause(strategist))
	_, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.ErrorIs(t, err, ErrPaused)
	_, err = h.manager.ClaimFees(strategist, true)
	require.ErrorIs(t, err, ErrPaused)
}

func TestSwitchPerformanceMetric(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	seedShares(t, h, 100_000_000, sdkmath.NewIntWithDecimal(100, 18))
	h.vaultMem.SetBalance(wethAddr, sdkmath.NewInt(10_000_000_000_000_000))
	require.NoError(t, h.manager.RefreshInternalFluxAccounting())

	_, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)
	h.vaultMem.SetBalance(usdcAddr, sdkmath.NewInt(110_000_000))
	h.warp(2 * time.Hour)
	_, err = h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)
	require.True(t, h.manager.PendingFee().IsPositive())

	oldWatermark := h.manager.HighWatermark()
	err = h.manager.SwitchPerformanceMetric(strategist, types.MetricAsset1, true, testRate, rateDecimals)
	require.NoError(t, err)

	assert.Equal(t, types.MetricAsset1, h.manager.Metric())
	assert.True(t, h.manager.PendingFee().IsZero(), "switch force-claims pending fees")
	assert.NotEqual(t, oldWatermark, h.manager.HighWatermark())

	// The re-derived watermark must match what a preview under the new metric
	// reports, so a review right after switching accrues nothing.
	preview, err := h.manager.PreviewPerformance(testRate, rateDecimals)
	require.NoError(t, err)
	assert.Equal(t, h.manager.HighWatermark(), preview.AccumulatedPerShare)
	assert.True(t, preview.FeeOwed.IsZero())
}

func TestSwitchPerformanceMetricRejectsUnknown(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	err := h.manager.SwitchPerformanceMetric(strategist, types.PerformanceMetric(42), true, testRate, rateDecimals)
	require.Error(t, err)
}

func TestResetHighWatermarkSkipsAccrual(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	seedShares(t, h, 100_000_000, sdkmath.NewIntWithDecimal(100, 18))

	_, err := h.manager.ReviewPerformance(strategist, testRate, rateDecimals)
	require.NoError(t, err)

	h.vaultMem.SetBalance(usdcAddr, sdkmath.NewInt(150_000_000))
	h.warp(2 * time.Hour)

	require.NoError(t, h.manager.ResetHighWatermark(strategist, testRate, rateDecimals))
	assert.Equal(t, sdkmath.NewInt(1_500_000), h.manager.HighWatermark())
	assert.True(t, h.manager.PendingFee().IsZero(), "reset must not accrue fees")
}

func TestLiquidityMetricIgnoresPurePriceMoves(t *testing.T) {
	h := newHarness(t, types.MetricLiquidity, 0, true)
	seedShares(t, h, 100_000_000, sdkmath.NewIntWithDecimal(100, 18))
	h.vaultMem.SetBalance(wethAddr, sdkmath.NewInt(10_000_000_000_000_000))
	require.NoError(t, h.manager.RefreshInternalFluxAccounting())

	before, err := h.manager.PreviewPerformance(testRate, rateDecimals)
	require.NoError(t, err)

	// The geometric mean of the raw holdings does not depend on the rate as
	// long as the rate stays inside the datum band.
	nudged := testRate.MulRaw(10_200).QuoRaw(10_000)
	after, err := h.manager.PreviewPerformance(nudged, rateDecimals)
	require.NoError(t, err)
	assert.Equal(t, before.AccumulatedPerShare, after.AccumulatedPerShare)
}
