/*

This file contains the valuation engine: converting cached balances and tracked
venue positions into a total-assets figure at a datum-validated exchange rate,
and pricing vault shares against it.

Every conversion that determines how much a user receives floors. The manager
never rounds in its own favor's opposite; no result exceeds the exact
real-valued conversion.

*/

package flux

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/fluxvault/fluxd/internal/datum"
	"github.com/fluxvault/fluxd/internal/venue"
)

// TotalAssetsRaw returns the vault's holdings as a raw (asset0, asset1) pair:
// cached balances plus what every tracked position would yield at the price
// implied by rate. The rate must pass the datum gate.
func (m *Manager) TotalAssetsRaw(rate sdkmath.Int, rateDecimals uint8) (sdkmath.Int, sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateRateLocked(rate, rateDecimals); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	rawPrice, err := m.rawPrice(rate, rateDecimals)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return m.totalAssetsRawLocked(rawPrice)
}

// TotalAssets returns the vault's holdings as a single figure in the requested
// asset, floored. The rate must pass the datum gate.
func (m *Manager) TotalAssets(rate sdkmath.Int, rateDecimals uint8, quoteIn0 bool) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateRateLocked(rate, rateDecimals); err != nil {
		return sdkmath.Int{}, err
	}
	rawPrice, err := m.rawPrice(rate, rateDecimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return m.totalAssetsLocked(rawPrice, quoteIn0)
}

// GetRate returns the per-share value in the requested asset, scaled by
// 10^decimalsShares. The rate must pass the datum gate.
func (m *Manager) GetRate(rate sdkmath.Int, rateDecimals uint8, quoteIn0 bool) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateRateLocked(rate, rateDecimals); err != nil {
		return sdkmath.Int{}, err
	}
	return m.getRateLocked(rate, rateDecimals, quoteIn0)
}

// GetRateSafe is GetRate behind the pause gate. This is the only valuation
// entry point external depositors and withdrawers are expected to call.
func (m *Manager) GetRateSafe(rate sdkmath.Int, rateDecimals uint8, quoteIn0 bool) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isPaused {
		return sdkmath.Int{}, ErrPaused
	}
	if err := m.validateRateLocked(rate, rateDecimals); err != nil {
		return sdkmath.Int{}, err
	}
	return m.getRateLocked(rate, rateDecimals, quoteIn0)
}

// validateRateLocked runs the caller-supplied rate through the datum gate.
func (m *Manager) validateRateLocked(rate sdkmath.Int, rateDecimals uint8) error {
	return m.datum.ValidateExchangeRate(rate, rateDecimals, m.datumLowerBound, m.datumUpperBound)
}

// rawPrice converts an exchange rate (human asset1 per human asset0, in
// rateDecimals) into a raw price: raw asset1 units per raw asset0 unit.
func (m *Manager) rawPrice(rate sdkmath.Int, rateDecimals uint8) (sdkmath.LegacyDec, error) {
	if !rate.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("exchange rate must be positive, got %s", rate)
	}
	price := sdkmath.LegacyNewDecFromIntWithPrec(rate, int64(rateDecimals))
	return price.Mul(pow10Dec(m.decimals1)).Quo(pow10Dec(m.decimals0)), nil
}

func (m *Manager) totalAssetsRawLocked(rawPrice sdkmath.LegacyDec) (sdkmath.Int, sdkmath.Int, error) {
	amount0 := m.token0Balance
	amount1 := m.token1Balance

	if len(m.positionIDs) == 0 {
		return amount0, amount1, nil
	}

	sqrtP, err := venue.SqrtFromRawPrice(rawPrice)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	for i := range m.positionIDs {
		data := m.positionData[i]
		sqrtA, err := venue.TickToSqrtPrice(data.TickLower)
		if err != nil {
			return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("position %d: %w", m.positionIDs[i], err)
		}
		sqrtB, err := venue.TickToSqrtPrice(data.TickUpper)
		if err != nil {
			return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("position %d: %w", m.positionIDs[i], err)
		}
		pos0, pos1, err := venue.AmountsForLiquidity(sqrtP, sqrtA, sqrtB, data.Liquidity)
		if err != nil {
			return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("position %d: %w", m.positionIDs[i], err)
		}
		amount0 = amount0.Add(pos0)
		amount1 = amount1.Add(pos1)
	}
	return amount0, amount1, nil
}

func (m *Manager) totalAssetsLocked(rawPrice sdkmath.LegacyDec, quoteIn0 bool) (sdkmath.Int, error) {
	amount0, amount1, err := m.totalAssetsRawLocked(rawPrice)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if quoteIn0 {
		converted := sdkmath.LegacyNewDecFromInt(amount1).Quo(rawPrice).TruncateInt()
		return amount0.Add(converted), nil
	}
	converted := sdkmath.LegacyNewDecFromInt(amount0).Mul(rawPrice).TruncateInt()
	return amount1.Add(converted), nil
}

func (m *Manager) getRateLocked(rate sdkmath.Int, rateDecimals uint8, quoteIn0 bool) (sdkmath.Int, error) {
	supply, err := m.vault.TotalShareSupply()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to read share supply: %w", err)
	}
	if supply.IsZero() {
		return m.bootstrapRate(rate, rateDecimals, quoteIn0)
	}

	rawPrice, err := m.rawPrice(rate, rateDecimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	total, err := m.totalAssetsLocked(rawPrice, quoteIn0)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return total.Mul(pow10Int(m.decimalsShares)).Quo(supply), nil
}

// bootstrapRate prices the first share when supply is zero: one share is worth
// one human unit of the base asset, expressed in the requested asset. The
// four reachable (base, quote) combinations are enumerated; anything else
// returns ErrBootstrapUnreachable.
func (m *Manager) bootstrapRate(rate sdkmath.Int, rateDecimals uint8, quoteIn0 bool) (sdkmath.Int, error) {
	switch {
	case m.baseIn0 && quoteIn0:
		return pow10Int(m.decimals0), nil
	case !m.baseIn0 && !quoteIn0:
		return pow10Int(m.decimals1), nil
	case m.baseIn0 && !quoteIn0:
		// One unit of asset0 in raw asset1: the oracle rate rescaled.
		return datum.ChangeDecimals(rate, rateDecimals, m.decimals1), nil
	case !m.baseIn0 && quoteIn0:
		// One unit of asset1 in raw asset0: the reciprocal, floored.
		if !rate.IsPositive() {
			return sdkmath.Int{}, fmt.Errorf("exchange rate must be positive, got %s", rate)
		}
		return pow10Int(m.decimals0 + rateDecimals).Quo(rate), nil
	default:
		return sdkmath.Int{}, ErrBootstrapUnreachable
	}
}
