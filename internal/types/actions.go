/*

This file contains the closed set of rebalance actions. A rebalance batch is an
ordered list of Actions applied atomically against the liquidity venue; there is
no open-ended "call anything" primitive, every venue interaction goes through
one of these kinds.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// ActionType defines the specific low-level rebalance operations.
type ActionType string

const (
	ActionMint               ActionType = "MINT"
	ActionBurn               ActionType = "BURN"
	ActionIncreaseLiquidity  ActionType = "INCREASE_LIQUIDITY"
	ActionDecreaseLiquidity  ActionType = "DECREASE_LIQUIDITY"
	ActionCollectFees        ActionType = "COLLECT_FEES"
	ActionSwapInPool         ActionType = "SWAP_IN_POOL"
	ActionSwapWithAggregator ActionType = "SWAP_WITH_AGGREGATOR"
	ActionApproveERC20       ActionType = "APPROVE_ERC20"
)

// Action represents a single, executable step in a rebalance batch.
// Only the fields relevant to the action's Type are consulted.
type Action struct {
	Type ActionType `json:"type"`

	// Fields for MINT
	TickLower      int32       `json:"tick_lower,omitempty"`
	TickUpper      int32       `json:"tick_upper,omitempty"`
	Amount0Desired sdkmath.Int `json:"amount_0_desired,omitempty"`
	Amount1Desired sdkmath.Int `json:"amount_1_desired,omitempty"`
	Amount0Min     sdkmath.Int `json:"amount_0_min,omitempty"`
	Amount1Min     sdkmath.Int `json:"amount_1_min,omitempty"`

	// Fields for BURN / INCREASE_LIQUIDITY / DECREASE_LIQUIDITY / COLLECT_FEES
	PositionID PositionID  `json:"position_id,omitempty"`
	Liquidity  sdkmath.Int `json:"liquidity,omitempty"`

	// Fields for SWAP_IN_POOL
	ZeroForOne bool        `json:"zero_for_one,omitempty"`
	AmountIn   sdkmath.Int `json:"amount_in,omitempty"`
	MinOut     sdkmath.Int `json:"min_out,omitempty"`

	// Fields for SWAP_WITH_AGGREGATOR
	Aggregator common.Address `json:"aggregator,omitempty"`
	InputIs0   bool           `json:"input_is_0,omitempty"`
	Payload    []byte         `json:"payload,omitempty"`

	// Fields for APPROVE_ERC20
	Token   common.Address `json:"token,omitempty"`
	Spender common.Address `json:"spender,omitempty"`
	Amount  sdkmath.Int    `json:"amount,omitempty"`
}

// RebalancePlan holds a validated rebalance batch with the exchange rate it was
// built against.
type RebalancePlan struct {
	Description  string      `json:"description"`
	ExchangeRate sdkmath.Int `json:"exchange_rate"`
	RateDecimals uint8       `json:"rate_decimals"`
	Actions      []Action    `json:"actions"`
}
