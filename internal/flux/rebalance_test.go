package flux

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxvault/fluxd/internal/auth"
	"github.com/fluxvault/fluxd/internal/datum"
	"github.com/fluxvault/fluxd/internal/types"
)

func fullRangeMint(usdc, weth int64) types.Action {
	return types.Action{
		Type:           types.ActionMint,
		TickLower:      -887_220,
		TickUpper:      887_220,
		Amount0Desired: sdkmath.NewInt(usdc),
		Amount1Desired: sdkmath.NewInt(weth),
	}
}

func TestRebalanceRequiresAuthorization(t *testing.T) {
	roles := auth.NewRoleTable()
	h := newHarnessWithAuthorizer(t, types.MetricAsset0, 0, true, roles)
	h.seed(t, 26_400_000, 10_000_000_000_000_000)

	_, err := h.manager.Rebalance(strategist, testRate, rateDecimals, nil)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	roles.Grant(strategist, auth.OpRebalance)
	_, err = h.manager.Rebalance(strategist, testRate, rateDecimals, nil)
	require.NoError(t, err)
}

func TestRebalanceRespectsPauseAndDatumGate(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	h.seed(t, 26_400_000, 10_000_000_000_000_000)

	require.NoError(t, h.manager.Pause(strategist))
	_, err := h.manager.Rebalance(strategist, testRate, rateDecimals, nil)
	require.ErrorIs(t, err, ErrPaused)
	require.NoError(t, h.manager.Unpause(strategist))

	var rateErr *datum.InvalidExchangeRateError
	_, err = h.manager.Rebalance(strategist, testRate.MulRaw(2), rateDecimals, nil)
	require.ErrorAs(t, err, &rateErr)
}

func TestRebalanceMintThenBurn(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	h.seed(t, 26_400_000, 10_000_000_000_000_000)

	result, err := h.manager.Rebalance(strategist, testRate, rateDecimals,
		[]types.Action{fullRangeMint(26_400_000, 10_000_000_000_000_000)})
	require.NoError(t, err)
	require.Len(t, h.manager.TrackedPositions(), 1)
	assert.NotEmpty(t, result.BatchID)

	id := h.manager.TrackedPositions()[0].ID
	_, err = h.manager.Rebalance(strategist, testRate, rateDecimals,
		[]types.Action{{Type: types.ActionBurn, PositionID: id}})
	require.NoError(t, err)
	assert.Empty(t, h.manager.TrackedPositions())

	// Burning everything returns the holdings to cash, minus flooring dust.
	balance, err := h.vaultMem.BalanceOf(usdcAddr)
	require.NoError(t, err)
	require.InEpsilon(t, 26_400_000.0, float64(balance.Int64()), 0.02)
}

func TestRebalanceUnknownPositionAborts(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	h.seed(t, 26_400_000, 10_000_000_000_000_000)

	var notFound *PositionNotFoundError
	_, err := h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{
		{Type: types.ActionDecreaseLiquidity, PositionID: 99, Liquidity: sdkmath.NewInt(1)},
	})
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, types.PositionID(99), notFound.ID)
	assert.Empty(t, h.manager.TrackedPositions())
}

func TestRebalanceOverDecreaseRollsBack(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	h.seed(t, 26_400_000, 10_000_000_000_000_000)

	_, err := h.manager.Rebalance(strategist, testRate, rateDecimals,
		[]types.Action{fullRangeMint(26_400_000, 10_000_000_000_000_000)})
	require.NoError(t, err)
	tracked := h.manager.TrackedPositions()
	require.Len(t, tracked, 1)

	_, err = h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{{
		Type:       types.ActionDecreaseLiquidity,
		PositionID: tracked[0].ID,
		Liquidity:  tracked[0].Data.Liquidity.AddRaw(1),
	}})
	require.ErrorIs(t, err, ErrMalformedAction)

	after := h.manager.TrackedPositions()
	require.Len(t, after, 1)
	assert.Equal(t, tracked[0].Data.Liquidity, after[0].Data.Liquidity)
}

func TestRebalanceMalformedActionsAbort(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	h.seed(t, 26_400_000, 10_000_000_000_000_000)

	cases := map[string]types.Action{
		"mint without amounts":    {Type: types.ActionMint, TickLower: -100, TickUpper: 100},
		"swap without amount":     {Type: types.ActionSwapInPool, ZeroForOne: true},
		"unknown kind":            {Type: types.ActionType("DO_EVERYTHING")},
		"approve token off pair":  {Type: types.ActionApproveERC20, Token: routerAddr, Spender: routerAddr},
		"aggregator swap no data": {Type: types.ActionSwapWithAggregator, Aggregator: routerAddr, InputIs0: true, AmountIn: sdkmath.NewInt(1)},
	}
	require.NoError(t, h.manager.SetAggregator(strategist, routerAddr, true))
	for name, action := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{action})
			require.ErrorIs(t, err, ErrMalformedAction)
		})
	}
}

func TestRebalanceSupplyInvariance(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	h.seed(t, 26_400_000, 10_000_000_000_000_000)
	require.NoError(t, h.manager.SetAggregator(strategist, routerAddr, true))

	// A router that honors the promised token deltas but also mints shares.
	h.vaultMem.RegisterTarget(routerAddr, func([]byte) ([]byte, error) {
		balance, err := h.vaultMem.BalanceOf(usdcAddr)
		if err != nil {
			return nil, err
		}
		h.vaultMem.SetBalance(usdcAddr, balance.SubRaw(1_000_000))
		return nil, h.vaultMem.MintSharesAndTransferIn(depositorAddr, wethAddr,
			sdkmath.NewInt(400_000_000_000_000), sdkmath.NewIntWithDecimal(1, 18))
	})

	_, err := h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{{
		Type:       types.ActionSwapWithAggregator,
		Aggregator: routerAddr,
		InputIs0:   true,
		AmountIn:   sdkmath.NewInt(1_000_000),
		Payload:    []byte{0x01},
	}})
	require.ErrorIs(t, err, ErrRebalanceChangedTotalSupply)
	assert.True(t, h.manager.PendingFee().IsZero())
	assert.Empty(t, h.manager.TrackedPositions())
}

func TestRebalanceDeviationBand(t *testing.T) {
	// 20% swap fee so dumping the whole USDC leg burns ~20% of total value.
	h := newHarness(t, types.MetricAsset0, 2_000, true)
	h.seed(t, 26_400_000, 0)

	pendingBefore := h.manager.PendingFee()
	_, err := h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{{
		Type:       types.ActionSwapInPool,
		ZeroForOne: true,
		AmountIn:   sdkmath.NewInt(26_400_000),
	}})

	var devErr *RebalanceDeviationError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, sdkmath.NewInt(23_760_000), devErr.Lower)
	assert.Equal(t, sdkmath.NewInt(29_040_000), devErr.Upper)
	assert.True(t, devErr.Value.LT(devErr.Lower))
	assert.Equal(t, pendingBefore, h.manager.PendingFee())
}

func TestAggregatorSwapIntegrityChecks(t *testing.T) {
	t.Run("aggregator off allow-list", func(t *testing.T) {
		h := newHarness(t, types.MetricAsset0, 0, true)
		h.seed(t, 26_400_000, 10_000_000_000_000_000)

		var aggErr *InvalidAggregatorError
		_, err := h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{{
			Type:       types.ActionSwapWithAggregator,
			Aggregator: routerAddr,
			InputIs0:   true,
			AmountIn:   sdkmath.NewInt(1_000_000),
			Payload:    []byte{0x01},
		}})
		require.ErrorAs(t, err, &aggErr)
	})

	t.Run("partial spend aborts", func(t *testing.T) {
		h := newHarness(t, types.MetricAsset0, 0, true)
		h.seed(t, 26_400_000, 10_000_000_000_000_000)
		require.NoError(t, h.manager.SetAggregator(strategist, routerAddr, true))

		h.vaultMem.RegisterTarget(routerAddr, func([]byte) ([]byte, error) {
			balance, _ := h.vaultMem.BalanceOf(usdcAddr)
			h.vaultMem.SetBalance(usdcAddr, balance.SubRaw(500_000)) // half of the promise
			out, _ := h.vaultMem.BalanceOf(wethAddr)
			h.vaultMem.SetBalance(wethAddr, out.AddRaw(400_000_000_000_000))
			return nil, nil
		})

		_, err := h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{{
			Type:       types.ActionSwapWithAggregator,
			Aggregator: routerAddr,
			InputIs0:   true,
			AmountIn:   sdkmath.NewInt(1_000_000),
			Payload:    []byte{0x01},
		}})
		require.ErrorIs(t, err, ErrSwapAggregatorBadToken0)
	})

	t.Run("output below minimum aborts", func(t *testing.T) {
		h := newHarness(t, types.MetricAsset0, 0, true)
		h.seed(t, 26_400_000, 10_000_000_000_000_000)
		require.NoError(t, h.manager.SetAggregator(strategist, routerAddr, true))

		h.vaultMem.RegisterTarget(routerAddr, func([]byte) ([]byte, error) {
			balance, _ := h.vaultMem.BalanceOf(usdcAddr)
			h.vaultMem.SetBalance(usdcAddr, balance.SubRaw(1_000_000))
			out, _ := h.vaultMem.BalanceOf(wethAddr)
			h.vaultMem.SetBalance(wethAddr, out.AddRaw(100_000_000_000_000))
			return nil, nil
		})

		_, err := h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{{
			Type:       types.ActionSwapWithAggregator,
			Aggregator: routerAddr,
			InputIs0:   true,
			AmountIn:   sdkmath.NewInt(1_000_000),
			MinOut:     sdkmath.NewInt(370_000_000_000_000),
			Payload:    []byte{0x01},
		}})
		require.ErrorIs(t, err, ErrSwapAggregatorBadToken1)
	})

	t.Run("honest router commits", func(t *testing.T) {
		h := newHarness(t, types.MetricAsset0, 0, true)
		h.seed(t, 26_400_000, 10_000_000_000_000_000)
		require.NoError(t, h.manager.SetAggregator(strategist, routerAddr, true))

		h.vaultMem.RegisterTarget(routerAddr, func([]byte) ([]byte, error) {
			balance, _ := h.vaultMem.BalanceOf(usdcAddr)
			h.vaultMem.SetBalance(usdcAddr, balance.SubRaw(1_000_000))
			out, _ := h.vaultMem.BalanceOf(wethAddr)
			h.vaultMem.SetBalance(wethAddr, out.AddRaw(400_000_000_000_000))
			return nil, nil
		})

		result, err := h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{{
			Type:       types.ActionSwapWithAggregator,
			Aggregator: routerAddr,
			InputIs0:   true,
			AmountIn:   sdkmath.NewInt(1_000_000),
			MinOut:     sdkmath.NewInt(370_000_000_000_000),
			Payload:    []byte{0x01},
		}})
		require.NoError(t, err)

		// The router gave a better-than-oracle fill, so the batch accrued a
		// performance fee on the profit.
		assert.True(t, result.ValueAfter.GT(result.ValueBefore))
		assert.True(t, result.FeeAccrued.IsPositive())
		assert.Equal(t, result.FeeAccrued, h.manager.PendingFee())
		assert.Equal(t, sdkmath.NewInt(1_000_000), h.vaultMem.Allowance(usdcAddr, routerAddr))

		balance, err := h.vaultMem.BalanceOf(usdcAddr)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.NewInt(25_400_000), balance)
	})
}

func TestRebalanceCollectedFeesAreProfit(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	h.seed(t, 26_400_000, 10_000_000_000_000_000)

	_, err := h.manager.Rebalance(strategist, testRate, rateDecimals,
		[]types.Action{fullRangeMint(26_400_000, 10_000_000_000_000_000)})
	require.NoError(t, err)
	id := h.manager.TrackedPositions()[0].ID

	// Trading fees landed on the position since the last batch.
	h.venueSim.AccrueFees(id, sdkmath.NewInt(1_000_000), sdkmath.ZeroInt())

	result, err := h.manager.Rebalance(strategist, testRate, rateDecimals,
		[]types.Action{{Type: types.ActionCollectFees, PositionID: id}})
	require.NoError(t, err)

	// 1 USDC of profit at a 10% performance fee.
	assert.Equal(t, result.ValueBefore.AddRaw(1_000_000), result.ValueAfter)
	assert.Equal(t, sdkmath.NewInt(100_000), result.FeeAccrued)
	assert.Equal(t, sdkmath.NewInt(100_000), h.manager.PendingFee())
}

func TestRebalanceIncreaseAndDecrease(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	h.seed(t, 26_400_000, 10_000_000_000_000_000)

	_, err := h.manager.Rebalance(strategist, testRate, rateDecimals,
		[]types.Action{fullRangeMint(13_200_000, 5_000_000_000_000_000)})
	require.NoError(t, err)
	tracked := h.manager.TrackedPositions()
	require.Len(t, tracked, 1)
	initial := tracked[0].Data.Liquidity

	_, err = h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{{
		Type:           types.ActionIncreaseLiquidity,
		PositionID:     tracked[0].ID,
		Amount0Desired: sdkmath.NewInt(6_600_000),
		Amount1Desired: sdkmath.NewInt(2_500_000_000_000_000),
	}})
	require.NoError(t, err)
	grown := h.manager.TrackedPositions()[0].Data.Liquidity
	require.True(t, grown.GT(initial))

	_, err = h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{{
		Type:       types.ActionDecreaseLiquidity,
		PositionID: tracked[0].ID,
		Liquidity:  grown.Sub(initial),
	}})
	require.NoError(t, err)
	assert.Equal(t, initial, h.manager.TrackedPositions()[0].Data.Liquidity)
}

func TestRebalanceApproveAction(t *testing.T) {
	h := newHarness(t, types.MetricAsset0, 0, true)
	h.seed(t, 26_400_000, 10_000_000_000_000_000)

	_, err := h.manager.Rebalance(strategist, testRate, rateDecimals, []types.Action{{
		Type:    types.ActionApproveERC20,
		Token:   usdcAddr,
		Spender: routerAddr,
		Amount:  sdkmath.NewInt(500_000),
	}})
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(500_000), h.vaultMem.Allowance(usdcAddr, routerAddr))
}
