/*

This file contains the strategist plan loader: YAML rebalance-plan files are
parsed and validated into the closed typed action set before anything reaches
the manager. Amounts are decimal strings, addresses are hex, router payloads
are hex bytes. A plan with any malformed field is rejected whole.

*/

package plan

import (
	"errors"
	"fmt"
	"os"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"

	"github.com/fluxvault/fluxd/internal/types"
	"github.com/fluxvault/fluxd/internal/venue"
)

var (
	ErrEmptyPlan         = errors.New("plan contains no actions")
	ErrInvalidPlanRate   = errors.New("plan exchange rate is invalid")
	ErrInvalidPlanAction = errors.New("plan action is invalid")
)

// File is the on-disk YAML shape of a rebalance plan.
type File struct {
	Description  string       `yaml:"description"`
	ExchangeRate string       `yaml:"exchange_rate"`
	RateDecimals uint8        `yaml:"rate_decimals"`
	Actions      []ActionFile `yaml:"actions"`
}

// ActionFile is one action entry; only the fields for its type are read.
type ActionFile struct {
	Type string `yaml:"type"`

	TickLower      int32  `yaml:"tick_lower"`
	TickUpper      int32  `yaml:"tick_upper"`
	Amount0Desired string `yaml:"amount_0_desired"`
	Amount1Desired string `yaml:"amount_1_desired"`
	Amount0Min     string `yaml:"amount_0_min"`
	Amount1Min     string `yaml:"amount_1_min"`

	PositionID uint64 `yaml:"position_id"`
	Liquidity  string `yaml:"liquidity"`

	ZeroForOne bool   `yaml:"zero_for_one"`
	AmountIn   string `yaml:"amount_in"`
	MinOut     string `yaml:"min_out"`

	Aggregator string `yaml:"aggregator"`
	InputIs0   bool   `yaml:"input_is_0"`
	Payload    string `yaml:"payload"`

	Token   string `yaml:"token"`
	Spender string `yaml:"spender"`
	Amount  string `yaml:"amount"`
}

// Load reads and validates a plan file.
func Load(path string) (types.RebalancePlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.RebalancePlan{}, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Parse(raw)
}

// Parse validates YAML plan bytes into a typed plan.
func Parse(raw []byte) (types.RebalancePlan, error) {
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return types.RebalancePlan{}, fmt.Errorf("failed to parse plan YAML: %w", err)
	}

	rate, err := requiredInt(file.ExchangeRate, "exchange_rate")
	if err != nil {
		return types.RebalancePlan{}, fmt.Errorf("%w: %w", ErrInvalidPlanRate, err)
	}
	if !rate.IsPositive() {
		return types.RebalancePlan{}, fmt.Errorf("%w: exchange_rate must be positive, got %s", ErrInvalidPlanRate, rate)
	}
	if len(file.Actions) == 0 {
		return types.RebalancePlan{}, ErrEmptyPlan
	}

	actions := make([]types.Action, 0, len(file.Actions))
	for i, entry := range file.Actions {
		action, err := parseAction(entry)
		if err != nil {
			return types.RebalancePlan{}, fmt.Errorf("%w: action %d: %w", ErrInvalidPlanAction, i, err)
		}
		actions = append(actions, action)
	}

	return types.RebalancePlan{
		Description:  file.Description,
		ExchangeRate: rate,
		RateDecimals: file.RateDecimals,
		Actions:      actions,
	}, nil
}

func parseAction(entry ActionFile) (types.Action, error) {
	action := types.Action{Type: types.ActionType(entry.Type)}

	switch action.Type {
	case types.ActionMint:
		if err := validTickRange(entry.TickLower, entry.TickUpper); err != nil {
			return types.Action{}, err
		}
		var err error
		if action.Amount0Desired, err = requiredInt(entry.Amount0Desired, "amount_0_desired"); err != nil {
			return types.Action{}, err
		}
		if action.Amount1Desired, err = requiredInt(entry.Amount1Desired, "amount_1_desired"); err != nil {
			return types.Action{}, err
		}
		if action.Amount0Min, err = optionalInt(entry.Amount0Min, "amount_0_min"); err != nil {
			return types.Action{}, err
		}
		if action.Amount1Min, err = optionalInt(entry.Amount1Min, "amount_1_min"); err != nil {
			return types.Action{}, err
		}
		action.TickLower = entry.TickLower
		action.TickUpper = entry.TickUpper

	case types.ActionBurn, types.ActionCollectFees:
		if entry.PositionID == 0 {
			return types.Action{}, errors.New("position_id is required")
		}
		action.PositionID = types.PositionID(entry.PositionID)

	case types.ActionIncreaseLiquidity:
		if entry.PositionID == 0 {
			return types.Action{}, errors.New("position_id is required")
		}
		var err error
		if action.Amount0Desired, err = requiredInt(entry.Amount0Desired, "amount_0_desired"); err != nil {
			return types.Action{}, err
		}
		if action.Amount1Desired, err = requiredInt(entry.Amount1Desired, "amount_1_desired"); err != nil {
			return types.Action{}, err
		}
		action.PositionID = types.PositionID(entry.PositionID)

	case types.ActionDecreaseLiquidity:
		if entry.PositionID == 0 {
			return types.Action{}, errors.New("position_id is required")
		}
		liquidity, err := requiredInt(entry.Liquidity, "liquidity")
		if err != nil {
			return types.Action{}, err
		}
		if !liquidity.IsPositive() {
			return types.Action{}, errors.New("liquidity must be positive")
		}
		action.PositionID = types.PositionID(entry.PositionID)
		action.Liquidity = liquidity

	case types.ActionSwapInPool:
		amountIn, err := requiredInt(entry.AmountIn, "amount_in")
		if err != nil {
			return types.Action{}, err
		}
		if !amountIn.IsPositive() {
			return types.Action{}, errors.New("amount_in must be positive")
		}
		if action.MinOut, err = optionalInt(entry.MinOut, "min_out"); err != nil {
			return types.Action{}, err
		}
		action.ZeroForOne = entry.ZeroForOne
		action.AmountIn = amountIn

	case types.ActionSwapWithAggregator:
		aggregator, err := requiredAddress(entry.Aggregator, "aggregator")
		if err != nil {
			return types.Action{}, err
		}
		amountIn, err := requiredInt(entry.AmountIn, "amount_in")
		if err != nil {
			return types.Action{}, err
		}
		if !amountIn.IsPositive() {
			return types.Action{}, errors.New("amount_in must be positive")
		}
		if action.MinOut, err = optionalInt(entry.MinOut, "min_out"); err != nil {
			return types.Action{}, err
		}
		if entry.Payload == "" {
			return types.Action{}, errors.New("payload is required")
		}
		payload, err := hexutil.Decode(entry.Payload)
		if err != nil {
			return types.Action{}, fmt.Errorf("invalid payload hex: %w", err)
		}
		action.Aggregator = aggregator
		action.InputIs0 = entry.InputIs0
		action.AmountIn = amountIn
		action.Payload = payload

	case types.ActionApproveERC20:
		token, err := requiredAddress(entry.Token, "token")
		if err != nil {
			return types.Action{}, err
		}
		spender, err := requiredAddress(entry.Spender, "spender")
		if err != nil {
			return types.Action{}, err
		}
		if action.Amount, err = optionalInt(entry.Amount, "amount"); err != nil {
			return types.Action{}, err
		}
		action.Token = token
		action.Spender = spender

	default:
		return types.Action{}, fmt.Errorf("unknown action type %q", entry.Type)
	}

	return action, nil
}

func validTickRange(lower, upper int32) error {
	if lower >= upper {
		return fmt.Errorf("tick_lower %d must be below tick_upper %d", lower, upper)
	}
	if lower < venue.MinTick || upper > venue.MaxTick {
		return fmt.Errorf("tick range [%d, %d] outside [%d, %d]", lower, upper, venue.MinTick, venue.MaxTick)
	}
	return nil
}

func requiredInt(value, field string) (sdkmath.Int, error) {
	if value == "" {
		return sdkmath.Int{}, fmt.Errorf("%s is required", field)
	}
	parsed, ok := sdkmath.NewIntFromString(value)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%s is not a valid integer: %q", field, value)
	}
	if parsed.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%s cannot be negative: %s", field, parsed)
	}
	return parsed, nil
}

func optionalInt(value, field string) (sdkmath.Int, error) {
	if value == "" {
		return sdkmath.ZeroInt(), nil
	}
	return requiredInt(value, field)
}

func requiredAddress(value, field string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s is not a valid address: %q", field, value)
	}
	return common.HexToAddress(value), nil
}
