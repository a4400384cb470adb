/*

This file contains the error taxonomy of the flux manager. Validation and
integrity failures are hard aborts of the single call that raised them; retry
policy belongs to the off-chain caller.

*/

package flux

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/fluxvault/fluxd/internal/types"
)

var (
	// ErrPaused blocks valuation and accounting entry points while the
	// manager is paused. Recoverable by an admin unpausing.
	ErrPaused = errors.New("manager is paused")

	// ErrTooSoon rejects a performance review before the review cooldown has
	// elapsed.
	ErrTooSoon = errors.New("performance review attempted before cooldown elapsed")

	// ErrRebalanceChangedTotalSupply aborts a batch that minted, burned or
	// otherwise moved vault shares. Rebalancing must never touch supply.
	ErrRebalanceChangedTotalSupply = errors.New("rebalance changed total share supply")

	// ErrSwapAggregatorBadToken0 and ErrSwapAggregatorBadToken1 abort a batch
	// whose aggregator swap moved a token balance outside the promised
	// deltas.
	ErrSwapAggregatorBadToken0 = errors.New("aggregator swap moved token0 balance outside promised delta")
	ErrSwapAggregatorBadToken1 = errors.New("aggregator swap moved token1 balance outside promised delta")

	// Configuration-time validation failures on admin setters.
	ErrBadRebalanceDeviation = errors.New("rebalance deviation bounds are invalid")
	ErrBadDatumBounds        = errors.New("datum tolerance bounds are invalid")
	ErrBadPerformanceFee     = errors.New("performance fee exceeds maximum")

	// ErrBootstrapUnreachable guards the default case of the zero-supply
	// bootstrap pricing table.
	ErrBootstrapUnreachable = errors.New("unreachable bootstrap pricing state")

	// ErrInvalidManagerConfig rejects a bad Manager construction.
	ErrInvalidManagerConfig = errors.New("manager configuration is invalid")

	// ErrMalformedAction aborts a batch containing an action whose payload
	// does not satisfy its kind's schema.
	ErrMalformedAction = errors.New("malformed rebalance action")
)

// PositionNotFoundError reports a liquidity action referencing an untracked
// position identifier.
type PositionNotFoundError struct {
	ID types.PositionID
}

func (e *PositionNotFoundError) Error() string {
	return fmt.Sprintf("position %d is not tracked by the manager", e.ID)
}

// RebalanceDeviationError reports a post-rebalance valuation outside the
// configured deviation band, with the bounds echoed for diagnosability.
type RebalanceDeviationError struct {
	Value sdkmath.Int
	Lower sdkmath.Int
	Upper sdkmath.Int
}

func (e *RebalanceDeviationError) Error() string {
	return fmt.Sprintf("rebalance moved total assets to %s, outside [%s, %s]",
		e.Value, e.Lower, e.Upper)
}

// InvalidAggregatorError reports a swap routed at an address missing from the
// aggregator allow-list.
type InvalidAggregatorError struct {
	Aggregator string
}

func (e *InvalidAggregatorError) Error() string {
	return fmt.Sprintf("aggregator %s is not on the allow-list", e.Aggregator)
}
