/*

This file implements the price datum: a validated wrapper around the external
price oracle. Every exchange rate supplied by a caller must pass through
ValidateExchangeRate before any valuation or rebalance trusts it; this is the
single gate against stale or manipulated prices.

*/

package datum

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/fluxvault/fluxd/internal/logger"
	"github.com/fluxvault/fluxd/internal/oracle"
)

var datumLogger = logger.GetForComponent("price_datum")

var (
	ErrStaleAnswer    = errors.New("oracle answer is stale")
	ErrNegativeAnswer = errors.New("oracle answer is negative")
	ErrInvalidConfig  = errors.New("datum configuration is invalid")
)

// BpsScale is the basis-point denominator used throughout the manager.
const BpsScale = 10_000

// InvalidExchangeRateError reports a caller-supplied rate outside the datum
// tolerance band. Provided, Lower and Upper are all in the datum's decimals so
// the caller can diagnose and retry with a corrected rate.
type InvalidExchangeRateError struct {
	Provided sdkmath.Int
	Lower    sdkmath.Int
	Upper    sdkmath.Int
}

func (e *InvalidExchangeRateError) Error() string {
	return fmt.Sprintf("exchange rate %s outside datum bounds [%s, %s]",
		e.Provided, e.Lower, e.Upper)
}

// Datum wraps a price oracle and exposes heartbeat-checked readings plus rate
// validation against a basis-point tolerance band.
type Datum struct {
	source    oracle.PriceOracle
	heartbeat time.Duration
	now       func() time.Time
}

// Config holds the parameters for creating a Datum.
type Config struct {
	Source    oracle.PriceOracle
	Heartbeat time.Duration
	Now       func() time.Time // Optional; defaults to time.Now
}

// New creates a Datum with validation of its configuration.
func New(cfg Config) (*Datum, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: oracle source cannot be nil", ErrInvalidConfig)
	}
	if cfg.Heartbeat <= 0 {
		return nil, fmt.Errorf("%w: heartbeat must be positive, got %s", ErrInvalidConfig, cfg.Heartbeat)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Datum{source: cfg.Source, heartbeat: cfg.Heartbeat, now: now}, nil
}

// Decimals returns the oracle's native fixed-point precision.
func (d *Datum) Decimals() uint8 {
	return d.source.Decimals()
}

// GetDatum returns the oracle's current exchange rate in the oracle's native
// decimals. Fails with ErrStaleAnswer when the reading is older than the
// heartbeat and ErrNegativeAnswer when the raw value is below zero.
func (d *Datum) GetDatum() (sdkmath.Int, error) {
	value, updatedAt, err := d.source.LatestReading()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to read oracle: %w", err)
	}
	if age := d.now().Sub(updatedAt); age > d.heartbeat {
		return sdkmath.Int{}, fmt.Errorf("%w: age %s exceeds heartbeat %s", ErrStaleAnswer, age, d.heartbeat)
	}
	if value.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrNegativeAnswer, value)
	}
	return value, nil
}

// GetDatumInDecimals returns the current datum rescaled to the requested
// precision. Downscaling floors.
func (d *Datum) GetDatumInDecimals(decimals uint8) (sdkmath.Int, error) {
	value, err := d.GetDatum()
	if err != nil {
		return sdkmath.Int{}, err
	}
	return ChangeDecimals(value, d.source.Decimals(), decimals), nil
}

// ValidateExchangeRate rescales the caller-supplied rate into the datum's
// decimals and checks it against [datum*lowerBps/10000, datum*upperBps/10000].
// Returns an InvalidExchangeRateError carrying the computed bounds when the
// rate falls outside.
func (d *Datum) ValidateExchangeRate(rate sdkmath.Int, rateDecimals uint8, lowerBps, upperBps uint16) error {
	current, err := d.GetDatum()
	if err != nil {
		return err
	}

	scaled := ChangeDecimals(rate, rateDecimals, d.source.Decimals())
	lower := current.MulRaw(int64(lowerBps)).QuoRaw(BpsScale)
	upper := current.MulRaw(int64(upperBps)).QuoRaw(BpsScale)

	if scaled.LT(lower) || scaled.GT(upper) {
		datumLogger.Warn().
			Str("provided", scaled.String()).
			Str("lower", lower.String()).
			Str("upper", upper.String()).
			Msg("Exchange rate rejected by datum gate")
		return &InvalidExchangeRateError{Provided: scaled, Lower: lower, Upper: upper}
	}
	return nil
}

// ChangeDecimals rescales a fixed-point integer between precisions, flooring
// when precision is reduced.
func ChangeDecimals(value sdkmath.Int, from, to uint8) sdkmath.Int {
	if from == to {
		return value
	}
	if to > from {
		return value.Mul(pow10(to - from))
	}
	return value.Quo(pow10(from - to))
}

func pow10(n uint8) sdkmath.Int {
	result := sdkmath.NewInt(1)
	ten := sdkmath.NewInt(10)
	for i := uint8(0); i < n; i++ {
		result = result.Mul(ten)
	}
	return result
}
