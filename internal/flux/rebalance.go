/*

This file contains the rebalance executor: datum validation, before/after
valuation snapshots, ordered dispatch of the closed action set against the
venue, supply-invariance and deviation checks, and fee accrual on profit.

A batch either applies in full or leaves the manager's bookkeeping untouched.
The executor holds the manager mutex for the whole call and restores its state
snapshot on any failure; venue-side atomicity is the venue adapter's contract
(a live adapter submits the batch as one transaction).

*/

package flux

import (
	"bytes"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/fluxvault/fluxd/internal/auth"
	"github.com/fluxvault/fluxd/internal/types"
)

// RebalanceResult reports a committed batch for auditing.
type RebalanceResult struct {
	BatchID     string
	ValueBefore sdkmath.Int // In the base asset
	ValueAfter  sdkmath.Int // In the base asset
	ShareSupply sdkmath.Int
	FeeAccrued  sdkmath.Int // In the active metric's units
}

// Rebalance validates the rate, executes the ordered action batch against the
// venue and enforces the supply-invariance and deviation checks. Restricted to
// the strategist role. No partial application: any failure aborts the batch.
func (m *Manager) Rebalance(caller common.Address, rate sdkmath.Int, rateDecimals uint8, actions []types.Action) (RebalanceResult, error) {
	if err := m.authorizer.Authorize(caller, auth.OpRebalance); err != nil {
		return RebalanceResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isPaused {
		return RebalanceResult{}, ErrPaused
	}
	if err := m.validateRateLocked(rate, rateDecimals); err != nil {
		return RebalanceResult{}, err
	}

	batchID := uuid.New().String()
	batchLogger := m.logger.With().Str("batch_id", batchID).Logger()
	batchLogger.Info().Int("actions", len(actions)).Msg("Starting rebalance batch")

	checkpoint := m.snapshotStateLocked()
	result, err := m.rebalanceLocked(batchID, rate, rateDecimals, actions)
	if err != nil {
		m.restoreStateLocked(checkpoint)
		batchLogger.Error().Err(err).Msg("Rebalance batch aborted, manager state restored")
		return RebalanceResult{}, err
	}

	batchLogger.Info().
		Str("valueBefore", result.ValueBefore.String()).
		Str("valueAfter", result.ValueAfter.String()).
		Str("feeAccrued", result.FeeAccrued.String()).
		Msg("Rebalance batch committed")
	return result, nil
}

func (m *Manager) rebalanceLocked(batchID string, rate sdkmath.Int, rateDecimals uint8, actions []types.Action) (RebalanceResult, error) {
	rawPrice, err := m.rawPrice(rate, rateDecimals)
	if err != nil {
		return RebalanceResult{}, err
	}

	// Count all holdings uniformly: a wrapped-native base is unwrapped before
	// the batch and re-wrapped after.
	if m.baseIsNative {
		if _, err := m.vault.UnwrapAllNative(); err != nil {
			return RebalanceResult{}, fmt.Errorf("failed to unwrap native holdings: %w", err)
		}
		defer func() {
			// Re-wrap attempt on the abort path too; the state restore covers
			// the manager's own bookkeeping either way.
			if _, wrapErr := m.vault.WrapAllNative(); wrapErr != nil {
				m.logger.Error().Err(wrapErr).Msg("Failed to re-wrap native holdings")
			}
		}()
	}

	if err := m.refreshBalancesLocked(); err != nil {
		return RebalanceResult{}, err
	}

	supplyBefore, err := m.vault.TotalShareSupply()
	if err != nil {
		return RebalanceResult{}, fmt.Errorf("failed to read share supply: %w", err)
	}
	valueBefore, err := m.totalAssetsLocked(rawPrice, m.baseIn0)
	if err != nil {
		return RebalanceResult{}, err
	}

	for i, action := range actions {
		if err := m.executeActionLocked(action); err != nil {
			return RebalanceResult{}, fmt.Errorf("action %d (%s): %w", i, action.Type, err)
		}
	}

	if m.baseIsNative {
		if _, err := m.vault.WrapAllNative(); err != nil {
			return RebalanceResult{}, fmt.Errorf("failed to re-wrap native holdings: %w", err)
		}
	}
	if err := m.refreshBalancesLocked(); err != nil {
		return RebalanceResult{}, err
	}

	supplyAfter, err := m.vault.TotalShareSupply()
	if err != nil {
		return RebalanceResult{}, fmt.Errorf("failed to read share supply: %w", err)
	}
	if !supplyAfter.Equal(supplyBefore) {
		return RebalanceResult{}, fmt.Errorf("%w: before %s, after %s",
			ErrRebalanceChangedTotalSupply, supplyBefore, supplyAfter)
	}

	valueAfter, err := m.totalAssetsLocked(rawPrice, m.baseIn0)
	if err != nil {
		return RebalanceResult{}, err
	}
	lower := valueBefore.MulRaw(int64(m.deviationMin)).QuoRaw(BpsScale)
	upper := valueBefore.MulRaw(int64(m.deviationMax)).QuoRaw(BpsScale)
	if valueAfter.LT(lower) || valueAfter.GT(upper) {
		return RebalanceResult{}, &RebalanceDeviationError{Value: valueAfter, Lower: lower, Upper: upper}
	}

	feeAccrued := sdkmath.ZeroInt()
	if valueAfter.GT(valueBefore) {
		profit := valueAfter.Sub(valueBefore)
		feeBase := profit.MulRaw(int64(m.performanceFee)).QuoRaw(BpsScale)
		feeAccrued, err = m.assetToMetricLocked(feeBase, rate, rateDecimals, m.baseIn0)
		if err != nil {
			return RebalanceResult{}, err
		}
		m.pendingFee = m.pendingFee.Add(feeAccrued)
	}

	return RebalanceResult{
		BatchID:     batchID,
		ValueBefore: valueBefore,
		ValueAfter:  valueAfter,
		ShareSupply: supplyAfter,
		FeeAccrued:  feeAccrued,
	}, nil
}

// executeActionLocked dispatches one action by kind. The action set is a
// closed enumeration; a malformed payload fails the whole batch.
func (m *Manager) executeActionLocked(action types.Action) error {
	switch action.Type {
	case types.ActionMint:
		return m.executeMintLocked(action)
	case types.ActionBurn:
		return m.executeBurnLocked(action)
	case types.ActionIncreaseLiquidity:
		return m.executeIncreaseLocked(action)
	case types.ActionDecreaseLiquidity:
		return m.executeDecreaseLocked(action)
	case types.ActionCollectFees:
		return m.executeCollectLocked(action)
	case types.ActionSwapInPool:
		return m.executeSwapInPoolLocked(action)
	case types.ActionSwapWithAggregator:
		return m.executeAggregatorSwapLocked(action)
	case types.ActionApproveERC20:
		return m.executeApproveLocked(action)
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrMalformedAction, action.Type)
	}
}

func (m *Manager) executeMintLocked(action types.Action) error {
	if action.Amount0Desired.IsNil() || action.Amount1Desired.IsNil() {
		return fmt.Errorf("%w: mint requires desired amounts", ErrMalformedAction)
	}
	amount0Min := orZero(action.Amount0Min)
	amount1Min := orZero(action.Amount1Min)

	predictedID, err := m.venue.NextPositionID()
	if err != nil {
		return fmt.Errorf("failed to predict position ID: %w", err)
	}
	result, err := m.venue.Mint(action.TickLower, action.TickUpper,
		action.Amount0Desired, action.Amount1Desired, amount0Min, amount1Min)
	if err != nil {
		return err
	}
	if result.ID != predictedID {
		return fmt.Errorf("venue assigned position %d, predicted %d", result.ID, predictedID)
	}

	if err := m.trackPositionLocked(result.ID, types.PositionData{
		Liquidity: result.Liquidity,
		TickLower: action.TickLower,
		TickUpper: action.TickUpper,
	}); err != nil {
		return err
	}
	// Leftover desired amounts are swept back by the venue; the cache is
	// refreshed after the batch.
	m.token0Balance = m.token0Balance.Sub(result.Amount0)
	m.token1Balance = m.token1Balance.Sub(result.Amount1)
	return nil
}

func (m *Manager) executeBurnLocked(action types.Action) error {
	if _, found := m.findPositionLocked(action.PositionID); !found {
		return &PositionNotFoundError{ID: action.PositionID}
	}
	amount0, amount1, err := m.venue.Burn(action.PositionID)
	if err != nil {
		return err
	}
	if err := m.untrackPositionLocked(action.PositionID); err != nil {
		return err
	}
	m.token0Balance = m.token0Balance.Add(amount0)
	m.token1Balance = m.token1Balance.Add(amount1)
	return nil
}

func (m *Manager) executeIncreaseLocked(action types.Action) error {
	index, found := m.findPositionLocked(action.PositionID)
	if !found {
		return &PositionNotFoundError{ID: action.PositionID}
	}
	if action.Amount0Desired.IsNil() || action.Amount1Desired.IsNil() {
		return fmt.Errorf("%w: increase requires desired amounts", ErrMalformedAction)
	}
	added, used0, used1, err := m.venue.IncreaseLiquidity(action.PositionID, action.Amount0Desired, action.Amount1Desired)
	if err != nil {
		return err
	}
	m.positionData[index].Liquidity = m.positionData[index].Liquidity.Add(added)
	m.token0Balance = m.token0Balance.Sub(used0)
	m.token1Balance = m.token1Balance.Sub(used1)
	return nil
}

func (m *Manager) executeDecreaseLocked(action types.Action) error {
	index, found := m.findPositionLocked(action.PositionID)
	if !found {
		return &PositionNotFoundError{ID: action.PositionID}
	}
	if action.Liquidity.IsNil() || !action.Liquidity.IsPositive() {
		return fmt.Errorf("%w: decrease requires positive liquidity", ErrMalformedAction)
	}
	if action.Liquidity.GT(m.positionData[index].Liquidity) {
		return fmt.Errorf("%w: position %d holds %s liquidity, removing %s",
			ErrMalformedAction, action.PositionID, m.positionData[index].Liquidity, action.Liquidity)
	}
	amount0, amount1, err := m.venue.DecreaseLiquidity(action.PositionID, action.Liquidity)
	if err != nil {
		return err
	}
	m.positionData[index].Liquidity = m.positionData[index].Liquidity.Sub(action.Liquidity)
	m.token0Balance = m.token0Balance.Add(amount0)
	m.token1Balance = m.token1Balance.Add(amount1)
	return nil
}

func (m *Manager) executeCollectLocked(action types.Action) error {
	if _, found := m.findPositionLocked(action.PositionID); !found {
		return &PositionNotFoundError{ID: action.PositionID}
	}
	amount0, amount1, err := m.venue.CollectFees(action.PositionID)
	if err != nil {
		return err
	}
	m.token0Balance = m.token0Balance.Add(amount0)
	m.token1Balance = m.token1Balance.Add(amount1)
	return nil
}

func (m *Manager) executeSwapInPoolLocked(action types.Action) error {
	if action.AmountIn.IsNil() || !action.AmountIn.IsPositive() {
		return fmt.Errorf("%w: swap requires positive input amount", ErrMalformedAction)
	}
	amountOut, err := m.venue.SwapExactIn(action.ZeroForOne, action.AmountIn, orZero(action.MinOut))
	if err != nil {
		return err
	}
	if action.ZeroForOne {
		m.token0Balance = m.token0Balance.Sub(action.AmountIn)
		m.token1Balance = m.token1Balance.Add(amountOut)
	} else {
		m.token1Balance = m.token1Balance.Sub(action.AmountIn)
		m.token0Balance = m.token0Balance.Add(amountOut)
	}
	return nil
}

// executeAggregatorSwapLocked routes a swap through an allow-listed external
// router. The input balance must decrease by exactly the promised amount and
// the output balance must increase by at least the promised minimum; the
// asymmetry catches both router misbehavior and accidental overspend.
func (m *Manager) executeAggregatorSwapLocked(action types.Action) error {
	if _, allowed := m.aggregators[action.Aggregator]; !allowed {
		return &InvalidAggregatorError{Aggregator: action.Aggregator.Hex()}
	}
	if action.AmountIn.IsNil() || !action.AmountIn.IsPositive() {
		return fmt.Errorf("%w: aggregator swap requires positive input amount", ErrMalformedAction)
	}
	if len(action.Payload) == 0 {
		return fmt.Errorf("%w: aggregator swap requires a router payload", ErrMalformedAction)
	}
	minOut := orZero(action.MinOut)

	tokenIn, tokenOut := m.token0, m.token1
	if !action.InputIs0 {
		tokenIn, tokenOut = m.token1, m.token0
	}

	if err := m.vault.Approve(tokenIn, action.Aggregator, action.AmountIn); err != nil {
		return fmt.Errorf("failed to approve aggregator: %w", err)
	}

	inBefore, err := m.vault.BalanceOf(tokenIn)
	if err != nil {
		return err
	}
	outBefore, err := m.vault.BalanceOf(tokenOut)
	if err != nil {
		return err
	}

	// External call before the post-balance checks; the surrounding mutex and
	// state restore stand in for host-level call atomicity.
	if _, err := m.vault.Forward(action.Aggregator, cloneBytes(action.Payload)); err != nil {
		return fmt.Errorf("aggregator call failed: %w", err)
	}

	inAfter, err := m.vault.BalanceOf(tokenIn)
	if err != nil {
		return err
	}
	outAfter, err := m.vault.BalanceOf(tokenOut)
	if err != nil {
		return err
	}

	spent := inBefore.Sub(inAfter)
	received := outAfter.Sub(outBefore)
	if !spent.Equal(action.AmountIn) {
		return fmt.Errorf("%w: spent %s, promised exactly %s", m.badTokenErr(action.InputIs0), spent, action.AmountIn)
	}
	if received.LT(minOut) {
		return fmt.Errorf("%w: received %s, promised at least %s", m.badTokenErr(!action.InputIs0), received, minOut)
	}

	if action.InputIs0 {
		m.token0Balance = m.token0Balance.Sub(spent)
		m.token1Balance = m.token1Balance.Add(received)
	} else {
		m.token1Balance = m.token1Balance.Sub(spent)
		m.token0Balance = m.token0Balance.Add(received)
	}
	return nil
}

func (m *Manager) executeApproveLocked(action types.Action) error {
	if action.Token != m.token0 && action.Token != m.token1 {
		return fmt.Errorf("%w: approval token %s is not part of the pair", ErrMalformedAction, action.Token.Hex())
	}
	return m.vault.Approve(action.Token, action.Spender, orZero(action.Amount))
}

// badTokenErr selects the integrity error for the side that misbehaved.
func (m *Manager) badTokenErr(isToken0 bool) error {
	if isToken0 {
		return ErrSwapAggregatorBadToken0
	}
	return ErrSwapAggregatorBadToken1
}

func orZero(value sdkmath.Int) sdkmath.Int {
	if value.IsNil() {
		return sdkmath.ZeroInt()
	}
	return value
}

func cloneBytes(payload []byte) []byte {
	return bytes.Clone(payload)
}
