/*

This file contains the performance accountant: the per-share high-watermark,
the two-phase preview/commit review cycle, fee claiming and the metric switch.

The fee base is min(currentSupply, supplyAtLastReview): supply inflation
between reviews cannot inflate the fee base. Large mid-period redemptions
proportionally reduce fee capture.

*/

package flux

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/fluxvault/fluxd/internal/auth"
	"github.com/fluxvault/fluxd/internal/types"
	"github.com/fluxvault/fluxd/internal/venue"
)

// PerformancePreview is the pure output of the preview phase.
type PerformancePreview struct {
	// AccumulatedPerShare is the current per-share value in the active
	// metric's units, scaled by 10^decimalsShares.
	AccumulatedPerShare sdkmath.Int
	// CurrentTotalSupply is the share supply at preview time.
	CurrentTotalSupply sdkmath.Int
	// FeeOwed is the performance fee that a commit right now would accrue, in
	// the active metric's units.
	FeeOwed sdkmath.Int
}

// PreviewPerformance computes the review preview without committing anything.
// The rate must pass the datum gate.
func (m *Manager) PreviewPerformance(rate sdkmath.Int, rateDecimals uint8) (PerformancePreview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateRateLocked(rate, rateDecimals); err != nil {
		return PerformancePreview{}, err
	}
	return m.previewLocked(rate, rateDecimals)
}

func (m *Manager) previewLocked(rate sdkmath.Int, rateDecimals uint8) (PerformancePreview, error) {
	supply, err := m.vault.TotalShareSupply()
	if err != nil {
		return PerformancePreview{}, fmt.Errorf("failed to read share supply: %w", err)
	}

	perShare, err := m.accumulatedPerShareLocked(rate, rateDecimals, supply)
	if err != nil {
		return PerformancePreview{}, err
	}

	feeOwed := sdkmath.ZeroInt()
	if perShare.GT(m.highWatermark) {
		feeBase := sdkmath.MinInt(supply, m.totalSupplyLastReview)
		profit := perShare.Sub(m.highWatermark)
		feeOwed = profit.Mul(feeBase).
			Quo(pow10Int(m.decimalsShares)).
			MulRaw(int64(m.performanceFee)).
			QuoRaw(BpsScale)
	}

	return PerformancePreview{
		AccumulatedPerShare: perShare,
		CurrentTotalSupply:  supply,
		FeeOwed:             feeOwed,
	}, nil
}

// accumulatedPerShareLocked values one share (10^decimalsShares) under the
// active metric at the given rate.
func (m *Manager) accumulatedPerShareLocked(rate sdkmath.Int, rateDecimals uint8, supply sdkmath.Int) (sdkmath.Int, error) {
	switch m.metric {
	case types.MetricAsset0:
		return m.getRateLocked(rate, rateDecimals, true)
	case types.MetricAsset1:
		return m.getRateLocked(rate, rateDecimals, false)
	case types.MetricLiquidity:
		if supply.IsZero() {
			return sdkmath.ZeroInt(), nil
		}
		rawPrice, err := m.rawPrice(rate, rateDecimals)
		if err != nil {
			return sdkmath.Int{}, err
		}
		amount0, amount1, err := m.totalAssetsRawLocked(rawPrice)
		if err != nil {
			return sdkmath.Int{}, err
		}
		// Geometric mean of the raw pair: the full-range liquidity equivalent.
		totalLiquidity, err := sdkmath.LegacyNewDecFromInt(amount0.Mul(amount1)).ApproxSqrt()
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("liquidity metric sqrt failed: %w", err)
		}
		return totalLiquidity.TruncateInt().Mul(pow10Int(m.decimalsShares)).Quo(supply), nil
	default:
		return sdkmath.Int{}, fmt.Errorf("unknown performance metric %d", m.metric)
	}
}

// ReviewPerformance commits a performance review: if the per-share value
// exceeds the high-watermark, the watermark moves up and the fee accrues into
// pendingFee. The supply snapshot and review timestamp always refresh.
func (m *Manager) ReviewPerformance(caller common.Address, rate sdkmath.Int, rateDecimals uint8) (PerformancePreview, error) {
	if err := m.authorizer.Authorize(caller, auth.OpReviewPerformance); err != nil {
		return PerformancePreview{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isPaused {
		return PerformancePreview{}, ErrPaused
	}
	if !m.lastReview.IsZero() && m.now().Sub(m.lastReview) < m.reviewFrequency {
		return PerformancePreview{}, fmt.Errorf("%w: next review at %s",
			ErrTooSoon, m.lastReview.Add(m.reviewFrequency))
	}
	if err := m.validateRateLocked(rate, rateDecimals); err != nil {
		return PerformancePreview{}, err
	}
	if err := m.refreshBalancesLocked(); err != nil {
		return PerformancePreview{}, err
	}

	preview, err := m.previewLocked(rate, rateDecimals)
	if err != nil {
		return PerformancePreview{}, err
	}

	if preview.AccumulatedPerShare.GT(m.highWatermark) {
		m.highWatermark = preview.AccumulatedPerShare
		m.pendingFee = m.pendingFee.Add(preview.FeeOwed)
		m.logger.Info().
			Str("highWatermark", m.highWatermark.String()).
			Str("feeOwed", preview.FeeOwed.String()).
			Str("pendingFee", m.pendingFee.String()).
			Msg("Performance review accrued fee at new watermark")
	} else {
		m.logger.Info().
			Str("perShare", preview.AccumulatedPerShare.String()).
			Str("highWatermark", m.highWatermark.String()).
			Msg("Performance review below watermark, no fee accrued")
	}

	m.totalSupplyLastReview = preview.CurrentTotalSupply
	m.lastReview = m.now()
	return preview, nil
}

// ClaimFees converts the pending fee into the requested asset at the current
// datum rate, zeroes it and pays the payout address from the vault.
func (m *Manager) ClaimFees(caller common.Address, inAsset0 bool) (sdkmath.Int, error) {
	if err := m.authorizer.Authorize(caller, auth.OpClaimFees); err != nil {
		return sdkmath.Int{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isPaused {
		return sdkmath.Int{}, ErrPaused
	}
	return m.claimFeesLocked(inAsset0)
}

func (m *Manager) claimFeesLocked(inAsset0 bool) (sdkmath.Int, error) {
	if m.pendingFee.IsZero() {
		return sdkmath.ZeroInt(), nil
	}

	rate, err := m.datum.GetDatum()
	if err != nil {
		return sdkmath.Int{}, err
	}
	amount, err := m.metricToAssetLocked(m.pendingFee, rate, m.datum.Decimals(), inAsset0)
	if err != nil {
		return sdkmath.Int{}, err
	}

	token := m.token0
	if !inAsset0 {
		token = m.token1
	}
	if amount.IsPositive() {
		if err := m.vault.TransferOut(token, m.payout, amount); err != nil {
			return sdkmath.Int{}, fmt.Errorf("failed to pay out claimed fees: %w", err)
		}
	}

	claimed := m.pendingFee
	m.pendingFee = sdkmath.ZeroInt()
	m.logger.Info().
		Str("claimed", claimed.String()).
		Str("amount", amount.String()).
		Bool("inAsset0", inAsset0).
		Msg("Performance fees claimed")
	return amount, nil
}

// SwitchPerformanceMetric force-claims pending fees in the chosen asset, then
// resets the watermark against the new metric. Profit not yet captured under
// the old metric is forfeited.
func (m *Manager) SwitchPerformanceMetric(caller common.Address, newMetric types.PerformanceMetric, inAsset0 bool, rate sdkmath.Int, rateDecimals uint8) error {
	if err := m.authorizer.Authorize(caller, auth.OpSwitchMetric); err != nil {
		return err
	}
	if !newMetric.Valid() {
		return fmt.Errorf("unknown performance metric %d", newMetric)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isPaused {
		return ErrPaused
	}
	if err := m.validateRateLocked(rate, rateDecimals); err != nil {
		return err
	}

	if _, err := m.claimFeesLocked(inAsset0); err != nil {
		return err
	}

	previous := m.metric
	m.metric = newMetric
	if err := m.resetWatermarkLocked(rate, rateDecimals); err != nil {
		m.metric = previous
		return err
	}

	m.logger.Info().
		Str("from", previous.String()).
		Str("to", newMetric.String()).
		Msg("Performance metric switched")
	return nil
}

// ResetHighWatermark unconditionally re-derives and stores the watermark,
// supply snapshot and review timestamp without accruing any fee. An
// administrative escape hatch, separate from the review path.
func (m *Manager) ResetHighWatermark(caller common.Address, rate sdkmath.Int, rateDecimals uint8) error {
	if err := m.authorizer.Authorize(caller, auth.OpResetWatermark); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateRateLocked(rate, rateDecimals); err != nil {
		return err
	}
	if err := m.refreshBalancesLocked(); err != nil {
		return err
	}
	return m.resetWatermarkLocked(rate, rateDecimals)
}

func (m *Manager) resetWatermarkLocked(rate sdkmath.Int, rateDecimals uint8) error {
	supply, err := m.vault.TotalShareSupply()
	if err != nil {
		return fmt.Errorf("failed to read share supply: %w", err)
	}
	perShare, err := m.accumulatedPerShareLocked(rate, rateDecimals, supply)
	if err != nil {
		return err
	}
	m.highWatermark = perShare
	m.totalSupplyLastReview = supply
	m.lastReview = m.now()
	return nil
}

// metricToAssetLocked converts an amount in the active metric's units into raw
// units of the requested asset at the given rate, floored.
func (m *Manager) metricToAssetLocked(amount, rate sdkmath.Int, rateDecimals uint8, inAsset0 bool) (sdkmath.Int, error) {
	rawPrice, err := m.rawPrice(rate, rateDecimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	switch m.metric {
	case types.MetricAsset0:
		if inAsset0 {
			return amount, nil
		}
		return sdkmath.LegacyNewDecFromInt(amount).Mul(rawPrice).TruncateInt(), nil
	case types.MetricAsset1:
		if !inAsset0 {
			return amount, nil
		}
		return sdkmath.LegacyNewDecFromInt(amount).Quo(rawPrice).TruncateInt(), nil
	case types.MetricLiquidity:
		sqrtP, err := venue.SqrtFromRawPrice(rawPrice)
		if err != nil {
			return sdkmath.Int{}, err
		}
		if inAsset0 {
			return sdkmath.LegacyNewDecFromInt(amount).Quo(sqrtP).TruncateInt(), nil
		}
		return sdkmath.LegacyNewDecFromInt(amount).Mul(sqrtP).TruncateInt(), nil
	default:
		return sdkmath.Int{}, fmt.Errorf("unknown performance metric %d", m.metric)
	}
}

// assetToMetricLocked converts a raw asset amount into the active metric's
// units at the given rate, floored. Used to accrue rebalance profit into
// pendingFee.
func (m *Manager) assetToMetricLocked(amount, rate sdkmath.Int, rateDecimals uint8, fromAsset0 bool) (sdkmath.Int, error) {
	rawPrice, err := m.rawPrice(rate, rateDecimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	switch m.metric {
	case types.MetricAsset0:
		if fromAsset0 {
			return amount, nil
		}
		return sdkmath.LegacyNewDecFromInt(amount).Quo(rawPrice).TruncateInt(), nil
	case types.MetricAsset1:
		if !fromAsset0 {
			return amount, nil
		}
		return sdkmath.LegacyNewDecFromInt(amount).Mul(rawPrice).TruncateInt(), nil
	case types.MetricLiquidity:
		sqrtP, err := venue.SqrtFromRawPrice(rawPrice)
		if err != nil {
			return sdkmath.Int{}, err
		}
		if fromAsset0 {
			return sdkmath.LegacyNewDecFromInt(amount).Mul(sqrtP).TruncateInt(), nil
		}
		return sdkmath.LegacyNewDecFromInt(amount).Quo(sqrtP).TruncateInt(), nil
	default:
		return sdkmath.Int{}, fmt.Errorf("unknown performance metric %d", m.metric)
	}
}
