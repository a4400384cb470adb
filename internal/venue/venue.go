/*

This file defines the liquidity venue collaborator: the external concentrated
liquidity AMM the manager deploys vault assets into. The venue is treated as an
opaque synchronous service; the manager only depends on this interface.

*/

package venue

import (
	sdkmath "cosmossdk.io/math"

	"github.com/fluxvault/fluxd/internal/types"
)

// MintResult reports the outcome of opening a new position.
type MintResult struct {
	ID        types.PositionID
	Liquidity sdkmath.Int
	Amount0   sdkmath.Int // Amount of asset0 actually consumed
	Amount1   sdkmath.Int // Amount of asset1 actually consumed
}

// LiquidityVenue is the interface for interacting with the external AMM.
// All amounts are raw token units. Implementations must return leftover
// balances to the vault themselves (mint sweeps are the venue's concern).
type LiquidityVenue interface {
	// NextPositionID returns the identifier the venue will assign to the next
	// minted position. Used to predict a position's ID before it is confirmed.
	NextPositionID() (types.PositionID, error)

	// Mint opens a new position over [tickLower, tickUpper], consuming at most
	// the desired amounts and failing if either consumed amount falls below
	// its minimum.
	Mint(tickLower, tickUpper int32, amount0Desired, amount1Desired, amount0Min, amount1Min sdkmath.Int) (MintResult, error)

	// IncreaseLiquidity adds liquidity to an existing position and returns the
	// liquidity added plus the amounts consumed.
	IncreaseLiquidity(id types.PositionID, amount0Desired, amount1Desired sdkmath.Int) (added, used0, used1 sdkmath.Int, err error)

	// DecreaseLiquidity removes liquidity from a position and returns the
	// amounts released to the vault.
	DecreaseLiquidity(id types.PositionID, liquidity sdkmath.Int) (amount0, amount1 sdkmath.Int, err error)

	// CollectFees harvests accrued trading fees for a position into the vault
	// without changing its liquidity.
	CollectFees(id types.PositionID) (amount0, amount1 sdkmath.Int, err error)

	// Burn closes a position entirely, releasing its principal and any
	// uncollected fees to the vault.
	Burn(id types.PositionID) (amount0, amount1 sdkmath.Int, err error)

	// SwapExactIn swaps amountIn of one asset for the other through the
	// venue's pool, failing when the output falls below minOut.
	SwapExactIn(zeroForOne bool, amountIn, minOut sdkmath.Int) (amountOut sdkmath.Int, err error)
}
