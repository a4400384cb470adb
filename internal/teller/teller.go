/*

This file contains the teller: the deposit/withdraw front door for the vault.
It prices user intents through the manager's pause- and datum-gated rate,
mints/burns shares through the vault with floor share math and caller-supplied
minimums, and enforces the post-deposit share lock that gates transfers and
withdrawals.

Unlike the rebalance path, every teller entry point takes an explicit mutex:
deposits and withdrawals are initiated by external callers and must never
interleave their refresh-then-price-then-settle sequence.

*/

package teller

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/fluxvault/fluxd/internal/auth"
	"github.com/fluxvault/fluxd/internal/logger"
	"github.com/fluxvault/fluxd/internal/vault"
)

var (
	ErrInvalidTellerConfig = errors.New("invalid teller configuration")
	ErrUnsupportedAsset    = errors.New("asset is not part of the managed pair")
	ErrZeroAmount          = errors.New("amount must be positive")
	ErrMinimumNotMet       = errors.New("output below caller-supplied minimum")
)

// SharesLockedError reports a transfer or withdrawal attempted before the
// holder's share lock expired.
type SharesLockedError struct {
	Holder common.Address
	Until  time.Time
}

func (e *SharesLockedError) Error() string {
	return fmt.Sprintf("shares of %s are locked until %s", e.Holder.Hex(), e.Until.Format(time.RFC3339))
}

// RateSource is the slice of the manager the teller prices against.
type RateSource interface {
	// RefreshInternalFluxAccounting re-reads vault balances so the rate the
	// teller settles at reflects current holdings.
	RefreshInternalFluxAccounting() error

	// GetRateSafe returns the per-share value in the requested asset, scaled
	// by 10^shareDecimals. Fails when paused or when rate fails the datum gate.
	GetRateSafe(rate sdkmath.Int, rateDecimals uint8, quoteIn0 bool) (sdkmath.Int, error)
}

// Config wires a Teller.
type Config struct {
	Manager    RateSource
	Vault      vault.Vault
	Authorizer auth.Authorizer

	Token0 common.Address
	Token1 common.Address

	// ShareLockDuration is how long after a deposit the depositor's shares
	// stay non-transferable. The lock window doubles as the intent's
	// revocation window. Zero disables locking.
	ShareLockDuration time.Duration

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Teller converts deposit/withdraw intents into vault share mints and burns at
// a manager-priced rate. Signature verification of intents happens upstream;
// the teller trusts its authorizer for who may settle.
type Teller struct {
	mu     sync.Mutex
	logger zerolog.Logger

	manager    RateSource
	vault      vault.Vault
	authorizer auth.Authorizer

	token0 common.Address
	token1 common.Address

	shareLockDuration time.Duration
	now               func() time.Time

	// lockedUntil tracks the share-lock expiry per holder. A fresh deposit
	// always extends the lock to now + duration.
	lockedUntil map[common.Address]time.Time
}

// NewTeller validates the configuration and returns a ready Teller.
func NewTeller(cfg Config) (*Teller, error) {
	var errs []error
	if cfg.Manager == nil {
		errs = append(errs, errors.New("manager is required"))
	}
	if cfg.Vault == nil {
		errs = append(errs, errors.New("vault is required"))
	}
	if cfg.Authorizer == nil {
		errs = append(errs, errors.New("authorizer is required"))
	}
	if cfg.Token0 == (common.Address{}) || cfg.Token1 == (common.Address{}) {
		errs = append(errs, errors.New("both pair tokens are required"))
	}
	if cfg.Token0 == cfg.Token1 {
		errs = append(errs, errors.New("pair tokens must differ"))
	}
	if cfg.ShareLockDuration < 0 {
		errs = append(errs, errors.New("share lock duration cannot be negative"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTellerConfig, errors.Join(errs...))
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Teller{
		logger:            logger.GetForComponent("teller"),
		manager:           cfg.Manager,
		vault:             cfg.Vault,
		authorizer:        cfg.Authorizer,
		token0:            cfg.Token0,
		token1:            cfg.Token1,
		shareLockDuration: cfg.ShareLockDuration,
		now:               now,
		lockedUntil:       make(map[common.Address]time.Time),
	}, nil
}

// Deposit settles a deposit intent: prices amount of asset at the datum-gated
// rate, mints shares to the depositor (floored, never fewer than minShares)
// and starts the depositor's share lock.
func (t *Teller) Deposit(caller, depositor, asset common.Address, amount, rate sdkmath.Int, rateDecimals uint8, minShares sdkmath.Int) (sdkmath.Int, error) {
	if err := t.authorizer.Authorize(caller, auth.OpDeposit); err != nil {
		return sdkmath.Int{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	quoteIn0, err := t.assetSide(asset)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.Int{}, ErrZeroAmount
	}

	perShare, err := t.priceLocked(rate, rateDecimals, quoteIn0)
	if err != nil {
		return sdkmath.Int{}, err
	}

	// shares = amount * 10^shareDecimals / perShare, floored: a depositor
	// never receives more shares than the exact conversion.
	shares := amount.Mul(pow10(t.vault.ShareDecimals())).Quo(perShare)
	if !shares.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: deposit of %s mints zero shares", ErrZeroAmount, amount)
	}
	if !minShares.IsNil() && shares.LT(minShares) {
		return sdkmath.Int{}, fmt.Errorf("%w: would mint %s shares, minimum %s", ErrMinimumNotMet, shares, minShares)
	}

	if err := t.vault.MintSharesAndTransferIn(depositor, asset, amount, shares); err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to settle deposit: %w", err)
	}

	if t.shareLockDuration > 0 {
		t.lockedUntil[depositor] = t.now().Add(t.shareLockDuration)
	}

	t.logger.Info().
		Str("depositor", depositor.Hex()).
		Str("asset", asset.Hex()).
		Str("amount", amount.String()).
		Str("shares", shares.String()).
		Msg("Deposit settled")
	return shares, nil
}

// Withdraw settles a withdraw intent: burns shares from the holder and pays
// out the priced amount of asset (floored, never less than minAssetsOut).
// Fails while the holder's share lock is active.
func (t *Teller) Withdraw(caller, holder, asset common.Address, shares, rate sdkmath.Int, rateDecimals uint8, minAssetsOut sdkmath.Int) (sdkmath.Int, error) {
	if err := t.authorizer.Authorize(caller, auth.OpWithdraw); err != nil {
		return sdkmath.Int{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	quoteIn0, err := t.assetSide(asset)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.Int{}, ErrZeroAmount
	}
	if err := t.checkLockLocked(holder); err != nil {
		return sdkmath.Int{}, err
	}

	perShare, err := t.priceLocked(rate, rateDecimals, quoteIn0)
	if err != nil {
		return sdkmath.Int{}, err
	}

	assets := shares.Mul(perShare).Quo(pow10(t.vault.ShareDecimals()))
	if !assets.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: burning %s shares pays out nothing", ErrZeroAmount, shares)
	}
	if !minAssetsOut.IsNil() && assets.LT(minAssetsOut) {
		return sdkmath.Int{}, fmt.Errorf("%w: would pay %s, minimum %s", ErrMinimumNotMet, assets, minAssetsOut)
	}

	if err := t.vault.BurnSharesAndTransferOut(holder, asset, assets, shares); err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to settle withdrawal: %w", err)
	}

	t.logger.Info().
		Str("holder", holder.Hex()).
		Str("asset", asset.Hex()).
		Str("shares", shares.String()).
		Str("assets", assets.String()).
		Msg("Withdrawal settled")
	return assets, nil
}

// TransferShares moves shares between holders, subject to the sender's share
// lock. The recipient's lock is unaffected.
func (t *Teller) TransferShares(from, to common.Address, shares sdkmath.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if shares.IsNil() || !shares.IsPositive() {
		return ErrZeroAmount
	}
	if err := t.checkLockLocked(from); err != nil {
		return err
	}
	return t.vault.TransferShares(from, to, shares)
}

// LockedUntil reports when the holder's shares unlock. The zero time means no
// active lock.
func (t *Teller) LockedUntil(holder common.Address) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	until, ok := t.lockedUntil[holder]
	if !ok || !t.now().Before(until) {
		return time.Time{}
	}
	return until
}

// priceLocked refreshes manager accounting and returns the per-share value.
// The refresh happens inside the teller's mutex so the rate reflects the
// balances the settlement will act on.
func (t *Teller) priceLocked(rate sdkmath.Int, rateDecimals uint8, quoteIn0 bool) (sdkmath.Int, error) {
	if err := t.manager.RefreshInternalFluxAccounting(); err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to refresh manager accounting: %w", err)
	}
	perShare, err := t.manager.GetRateSafe(rate, rateDecimals, quoteIn0)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !perShare.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("manager returned non-positive per-share value %s", perShare)
	}
	return perShare, nil
}

func (t *Teller) checkLockLocked(holder common.Address) error {
	until, ok := t.lockedUntil[holder]
	if ok && t.now().Before(until) {
		return &SharesLockedError{Holder: holder, Until: until}
	}
	return nil
}

func (t *Teller) assetSide(asset common.Address) (bool, error) {
	switch asset {
	case t.token0:
		return true, nil
	case t.token1:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
}

func pow10(decimals uint8) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(1, int(decimals))
}
