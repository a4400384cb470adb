package teller

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxvault/fluxd/internal/auth"
	"github.com/fluxvault/fluxd/internal/datum"
	"github.com/fluxvault/fluxd/internal/flux"
	"github.com/fluxvault/fluxd/internal/oracle"
	"github.com/fluxvault/fluxd/internal/types"
	"github.com/fluxvault/fluxd/internal/vault"
	"github.com/fluxvault/fluxd/internal/venue"
)

var (
	usdcAddr   = common.HexToAddress("0x0000000000000000000000000000000000000B01")
	wethAddr   = common.HexToAddress("0x0000000000000000000000000000000000000B02")
	settler    = common.HexToAddress("0x0000000000000000000000000000000000000B03")
	alice      = common.HexToAddress("0x0000000000000000000000000000000000000B04")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000B05")
	payoutAddr = common.HexToAddress("0x0000000000000000000000000000000000000B06")
)

const rateDecimals uint8 = 18

// testRate is ~1/2640 WETH per USDC.
var testRate = sdkmath.NewInt(378_787_870_000_000)

type tellerHarness struct {
	clock    time.Time
	feed     *oracle.Fixed
	vaultMem *vault.Memory
	teller   *Teller
}

func newTellerHarness(t *testing.T, lock time.Duration) *tellerHarness {
	t.Helper()

	h := &tellerHarness{clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	nowFn := func() time.Time { return h.clock }

	h.feed = oracle.NewFixed(testRate, rateDecimals, h.clock)
	gate, err := datum.New(datum.Config{Source: h.feed, Heartbeat: time.Hour, Now: nowFn})
	require.NoError(t, err)

	h.vaultMem = vault.NewMemory(18, common.Address{})
	book := &vault.PairBook{Vault: h.vaultMem, Token0: usdcAddr, Token1: wethAddr}
	sim, err := venue.NewSimulator(book, venue.RawPrice(testRate, rateDecimals, 6, 18), 0)
	require.NoError(t, err)

	manager, err := flux.NewManager(flux.Config{
		Authorizer:      auth.Open{},
		Vault:           h.vaultMem,
		Venue:           sim,
		Datum:           gate,
		Token0:          usdcAddr,
		Token1:          wethAddr,
		Decimals0:       6,
		Decimals1:       18,
		BaseIn0:         true,
		DatumLowerBound: 9_500,
		DatumUpperBound: 10_500,
		DeviationMin:    9_000,
		DeviationMax:    11_000,
		PerformanceFee:  1_000,
		ReviewFrequency: time.Hour,
		Payout:          payoutAddr,
		Metric:          types.MetricLiquidity,
		Now:             nowFn,
	})
	require.NoError(t, err)

	h.teller, err = NewTeller(Config{
		Manager:           manager,
		Vault:             h.vaultMem,
		Authorizer:        auth.Open{},
		Token0:            usdcAddr,
		Token1:            wethAddr,
		ShareLockDuration: lock,
		Now:               nowFn,
	})
	require.NoError(t, err)
	return h
}

func (h *tellerHarness) warp(d time.Duration) {
	h.clock = h.clock.Add(d)
	h.feed.Set(testRate, h.clock)
}

func TestNewTellerValidatesConfig(t *testing.T) {
	h := newTellerHarness(t, time.Hour)

	cases := map[string]Config{
		"missing vault":   {Manager: h.teller.manager, Authorizer: auth.Open{}, Token0: usdcAddr, Token1: wethAddr},
		"missing manager": {Vault: h.vaultMem, Authorizer: auth.Open{}, Token0: usdcAddr, Token1: wethAddr},
		"same tokens":     {Manager: h.teller.manager, Vault: h.vaultMem, Authorizer: auth.Open{}, Token0: usdcAddr, Token1: usdcAddr},
		"zero token":      {Manager: h.teller.manager, Vault: h.vaultMem, Authorizer: auth.Open{}, Token0: usdcAddr},
		"negative lock":   {Manager: h.teller.manager, Vault: h.vaultMem, Authorizer: auth.Open{}, Token0: usdcAddr, Token1: wethAddr, ShareLockDuration: -time.Hour},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTeller(cfg)
			require.ErrorIs(t, err, ErrInvalidTellerConfig)
		})
	}
}

func TestDepositBootstrapsFirstShares(t *testing.T) {
	h := newTellerHarness(t, time.Hour)

	// First depositor: 0.01 WETH against an empty vault. The bootstrap prices
	// one share at one USDC, so ~26.4 shares should come out.
	amount := sdkmath.NewInt(10_000_000_000_000_000)
	shares, err := h.teller.Deposit(settler, alice, wethAddr, amount, testRate, rateDecimals, sdkmath.ZeroInt())
	require.NoError(t, err)
	require.True(t, shares.GTE(sdkmath.NewIntWithDecimal(264, 17)), "got %s shares", shares)
	require.True(t, shares.LT(sdkmath.NewIntWithDecimal(2641, 16)), "got %s shares", shares)

	// Floor math: the minted shares are never worth more than the deposit.
	backing := shares.Mul(testRate).Quo(sdkmath.NewIntWithDecimal(1, 18))
	require.True(t, backing.LTE(amount))

	assert.Equal(t, shares, h.vaultMem.ShareBalanceOf(alice))
	supply, err := h.vaultMem.TotalShareSupply()
	require.NoError(t, err)
	assert.Equal(t, shares, supply)

	balance, err := h.vaultMem.BalanceOf(wethAddr)
	require.NoError(t, err)
	assert.Equal(t, amount, balance)
}

func TestDepositValidation(t *testing.T) {
	h := newTellerHarness(t, time.Hour)

	_, err := h.teller.Deposit(settler, alice, common.HexToAddress("0xBEEF"),
		sdkmath.NewInt(1_000_000), testRate, rateDecimals, sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrUnsupportedAsset)

	_, err = h.teller.Deposit(settler, alice, usdcAddr, sdkmath.ZeroInt(), testRate, rateDecimals, sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrZeroAmount)

	// Minimum shares above what the deposit can mint.
	_, err = h.teller.Deposit(settler, alice, usdcAddr, sdkmath.NewInt(1_000_000),
		testRate, rateDecimals, sdkmath.NewIntWithDecimal(1_000, 18))
	require.ErrorIs(t, err, ErrMinimumNotMet)
}

func TestDepositRequiresAuthorization(t *testing.T) {
	h := newTellerHarness(t, time.Hour)
	roles := auth.NewRoleTable()
	restricted, err := NewTeller(Config{
		Manager:    h.teller.manager,
		Vault:      h.vaultMem,
		Authorizer: roles,
		Token0:     usdcAddr,
		Token1:     wethAddr,
		Now:        func() time.Time { return h.clock },
	})
	require.NoError(t, err)

	_, err = restricted.Deposit(settler, alice, usdcAddr, sdkmath.NewInt(1_000_000),
		testRate, rateDecimals, sdkmath.ZeroInt())
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	roles.Grant(settler, auth.OpDeposit)
	_, err = restricted.Deposit(settler, alice, usdcAddr, sdkmath.NewInt(1_000_000),
		testRate, rateDecimals, sdkmath.ZeroInt())
	require.NoError(t, err)
}

func TestShareLockGatesTransfersAndWithdrawals(t *testing.T) {
	h := newTellerHarness(t, time.Hour)

	shares, err := h.teller.Deposit(settler, alice, usdcAddr, sdkmath.NewInt(26_400_000),
		testRate, rateDecimals, sdkmath.ZeroInt())
	require.NoError(t, err)

	wantUnlock := h.clock.Add(time.Hour)
	assert.Equal(t, wantUnlock, h.teller.LockedUntil(alice))

	var locked *SharesLockedError
	err = h.teller.TransferShares(alice, bob, shares)
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, alice, locked.Holder)
	assert.Equal(t, wantUnlock, locked.Until)

	_, err = h.teller.Withdraw(settler, alice, usdcAddr, shares, testRate, rateDecimals, sdkmath.ZeroInt())
	require.ErrorAs(t, err, &locked)

	// Past the lock both paths open up.
	h.warp(time.Hour + time.Minute)
	assert.True(t, h.teller.LockedUntil(alice).IsZero())

	half := shares.QuoRaw(2)
	require.NoError(t, h.teller.TransferShares(alice, bob, half))
	assert.Equal(t, half, h.vaultMem.ShareBalanceOf(bob))

	// The recipient was never locked.
	require.NoError(t, h.teller.TransferShares(bob, alice, half))
}

func TestWithdrawPaysFlooredAssets(t *testing.T) {
	h := newTellerHarness(t, 0) // no lock

	deposited := sdkmath.NewInt(26_400_000)
	shares, err := h.teller.Deposit(settler, alice, usdcAddr, deposited, testRate, rateDecimals, sdkmath.ZeroInt())
	require.NoError(t, err)

	assets, err := h.teller.Withdraw(settler, alice, usdcAddr, shares, testRate, rateDecimals, sdkmath.ZeroInt())
	require.NoError(t, err)

	// Round-trip never pays out more than went in; flooring dust stays behind.
	assert.True(t, assets.LTE(deposited))
	assert.True(t, assets.GTE(deposited.SubRaw(10)))
	assert.True(t, h.vaultMem.ShareBalanceOf(alice).IsZero())

	supply, err := h.vaultMem.TotalShareSupply()
	require.NoError(t, err)
	assert.True(t, supply.IsZero())
}

func TestWithdrawValidation(t *testing.T) {
	h := newTellerHarness(t, 0)

	shares, err := h.teller.Deposit(settler, alice, usdcAddr, sdkmath.NewInt(26_400_000),
		testRate, rateDecimals, sdkmath.ZeroInt())
	require.NoError(t, err)

	_, err = h.teller.Withdraw(settler, alice, usdcAddr, sdkmath.ZeroInt(), testRate, rateDecimals, sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrZeroAmount)

	_, err = h.teller.Withdraw(settler, alice, usdcAddr, shares, testRate, rateDecimals,
		sdkmath.NewInt(27_000_000))
	require.ErrorIs(t, err, ErrMinimumNotMet)

	// More shares than the holder owns fails at the vault.
	_, err = h.teller.Withdraw(settler, bob, usdcAddr, shares, testRate, rateDecimals, sdkmath.ZeroInt())
	require.Error(t, err)
}

func TestDepositRefreshesLockOnEachDeposit(t *testing.T) {
	h := newTellerHarness(t, time.Hour)

	_, err := h.teller.Deposit(settler, alice, usdcAddr, sdkmath.NewInt(1_000_000),
		testRate, rateDecimals, sdkmath.ZeroInt())
	require.NoError(t, err)

	h.warp(50 * time.Minute)
	_, err = h.teller.Deposit(settler, alice, usdcAddr, sdkmath.NewInt(1_000_000),
		testRate, rateDecimals, sdkmath.ZeroInt())
	require.NoError(t, err)

	// The second deposit extended the lock past the first one's expiry.
	assert.Equal(t, h.clock.Add(time.Hour), h.teller.LockedUntil(alice))
}
