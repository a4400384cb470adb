/*
This file contains common utility functions for converting raw fixed-point
amounts into human display values for the ops API and logs. Display conversion
only; nothing here feeds accounting math.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrNotFinite        = errors.New("value is not finite")
)

// RawToFloat64 converts a raw fixed-point amount with the given decimal
// precision into a float64 for display.
func RawToFloat64(amount sdkmath.Int, decimals uint8) (float64, error) {
	if decimals > 18 {
		return 0, fmt.Errorf("%w: %d (must be at most 18)", ErrInvalidPrecision, decimals)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}

	value := sdkmath.LegacyNewDecFromIntWithPrec(amount, int64(decimals))
	result, err := value.Float64()
	if err != nil {
		return 0, fmt.Errorf("failed to convert %s to float: %w", amount, err)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, result)
	}
	return result, nil
}

// FormatRaw renders a raw amount as a human decimal string, for logs and API
// payloads where float rounding would be misleading.
func FormatRaw(amount sdkmath.Int, decimals uint8) string {
	if amount.IsNil() {
		return "0"
	}
	if decimals > 18 {
		return amount.String()
	}
	return sdkmath.LegacyNewDecFromIntWithPrec(amount, int64(decimals)).String()
}
