/*

This file contains the concentrated-liquidity math shared by the valuation
engine and the simulated venue: tick to sqrt-price conversion and the standard
amounts-for-liquidity / liquidity-for-amounts formulas.

Prices here are raw prices: raw units of asset1 per raw unit of asset0. All
integer results are floored; the manager must never round in its own favor.

*/

package venue

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInvalidTickRange     = errors.New("tick range is invalid")
	ErrSqrtPriceUnderflow   = errors.New("sqrt price underflows fixed-point precision")
	ErrNonPositiveAmount    = errors.New("amount must be positive")
	ErrNonPositivePrice     = errors.New("price must be positive")
	ErrLiquidityComputation = errors.New("liquidity computation failed")
)

const (
	// MinTick and MaxTick bound the usable tick range, matching the venue's
	// own limits.
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

var tickBase = sdkmath.LegacyMustNewDecFromStr("1.0001")

// TickToSqrtPrice returns sqrt(1.0001^tick) as a fixed-point decimal. For
// deeply negative ticks the result can underflow 18-decimal precision to zero;
// callers dividing by a bound must guard for that.
func TickToSqrtPrice(tick int32) (sdkmath.LegacyDec, error) {
	if tick < MinTick || tick > MaxTick {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: tick %d outside [%d, %d]", ErrInvalidTickRange, tick, MinTick, MaxTick)
	}

	abs := tick
	if abs < 0 {
		abs = -abs
	}
	price := tickBase.Power(uint64(abs))
	if tick < 0 {
		price = sdkmath.LegacyOneDec().Quo(price)
	}
	return price.ApproxSqrt()
}

// RawPrice converts a human exchange rate (asset1 per asset0, in rateDecimals)
// into a raw pool price: raw asset1 units per raw asset0 unit.
func RawPrice(rate sdkmath.Int, rateDecimals, decimals0, decimals1 uint8) sdkmath.LegacyDec {
	price := sdkmath.LegacyNewDecFromIntWithPrec(rate, int64(rateDecimals))
	scale0 := sdkmath.LegacyNewDecFromInt(sdkmath.NewIntWithDecimal(1, int(decimals0)))
	scale1 := sdkmath.LegacyNewDecFromInt(sdkmath.NewIntWithDecimal(1, int(decimals1)))
	return price.Mul(scale1).Quo(scale0)
}

// SqrtFromRawPrice returns sqrt(rawPrice) for a positive raw price.
func SqrtFromRawPrice(rawPrice sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	if !rawPrice.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s", ErrNonPositivePrice, rawPrice)
	}
	return rawPrice.ApproxSqrt()
}

// AmountsForLiquidity returns the raw token amounts a position of the given
// liquidity over [sqrtA, sqrtB] would yield at current sqrt price sqrtP,
// floored. This is the standard concentrated-liquidity valuation formula:
//
//	amount0 = L * (sqrtB - sqrtP) / (sqrtP * sqrtB)   for sqrtP < sqrtB
//	amount1 = L * (sqrtP - sqrtA)                     for sqrtP > sqrtA
//
// with sqrtP clamped into the bound pair.
func AmountsForLiquidity(sqrtP, sqrtA, sqrtB sdkmath.LegacyDec, liquidity sdkmath.Int) (amount0, amount1 sdkmath.Int, err error) {
	if !sqrtA.LT(sqrtB) {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: lower sqrt %s not below upper sqrt %s", ErrInvalidTickRange, sqrtA, sqrtB)
	}
	if liquidity.IsNegative() {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: liquidity %s", ErrNonPositiveAmount, liquidity)
	}

	clamped := sqrtP
	if clamped.LT(sqrtA) {
		clamped = sqrtA
	}
	if clamped.GT(sqrtB) {
		clamped = sqrtB
	}

	liq := sdkmath.LegacyNewDecFromInt(liquidity)
	amount0 = sdkmath.ZeroInt()
	amount1 = sdkmath.ZeroInt()

	if clamped.LT(sqrtB) {
		if !clamped.IsPositive() {
			return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: lower bound too small to price asset0", ErrSqrtPriceUnderflow)
		}
		amount0 = liq.Mul(sqrtB.Sub(clamped)).Quo(clamped.Mul(sqrtB)).TruncateInt()
	}
	if clamped.GT(sqrtA) {
		amount1 = liq.Mul(clamped.Sub(sqrtA)).TruncateInt()
	}
	return amount0, amount1, nil
}

// LiquidityForAmounts returns the maximum liquidity over [sqrtA, sqrtB] fully
// funded by the given raw amounts at sqrt price sqrtP, floored.
func LiquidityForAmounts(sqrtP, sqrtA, sqrtB sdkmath.LegacyDec, amount0, amount1 sdkmath.Int) (sdkmath.Int, error) {
	if !sqrtA.LT(sqrtB) {
		return sdkmath.Int{}, fmt.Errorf("%w: lower sqrt %s not below upper sqrt %s", ErrInvalidTickRange, sqrtA, sqrtB)
	}
	if amount0.IsNegative() || amount1.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: amounts (%s, %s)", ErrNonPositiveAmount, amount0, amount1)
	}

	switch {
	case !sqrtP.GT(sqrtA):
		// Entirely asset0 side.
		return liquidityFromAmount0(sqrtA, sqrtB, amount0)
	case !sqrtP.LT(sqrtB):
		// Entirely asset1 side.
		return liquidityFromAmount1(sqrtA, sqrtB, amount1)
	default:
		l0, err := liquidityFromAmount0(sqrtP, sqrtB, amount0)
		if err != nil {
			return sdkmath.Int{}, err
		}
		l1, err := liquidityFromAmount1(sqrtA, sqrtP, amount1)
		if err != nil {
			return sdkmath.Int{}, err
		}
		return sdkmath.MinInt(l0, l1), nil
	}
}

// liquidityFromAmount0 computes L = amount0 * sqrtA * sqrtB / (sqrtB - sqrtA).
func liquidityFromAmount0(sqrtA, sqrtB sdkmath.LegacyDec, amount0 sdkmath.Int) (sdkmath.Int, error) {
	span := sqrtB.Sub(sqrtA)
	if !span.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: degenerate sqrt span", ErrLiquidityComputation)
	}
	return sdkmath.LegacyNewDecFromInt(amount0).Mul(sqrtA).Mul(sqrtB).Quo(span).TruncateInt(), nil
}

// liquidityFromAmount1 computes L = amount1 / (sqrtB - sqrtA).
func liquidityFromAmount1(sqrtA, sqrtB sdkmath.LegacyDec, amount1 sdkmath.Int) (sdkmath.Int, error) {
	span := sqrtB.Sub(sqrtA)
	if !span.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: degenerate sqrt span", ErrLiquidityComputation)
	}
	return sdkmath.LegacyNewDecFromInt(amount1).Quo(span).TruncateInt(), nil
}
