package vault

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Vault defines the interface to the share-issuing vault the manager is
// attached to. The vault holds all raw asset balances; the manager never
// custodies funds itself, it only instructs the vault. Authorization of the
// instruction path is the vault owner's concern, not modelled here.
type Vault interface {
	// TotalShareSupply returns the current vault share supply.
	TotalShareSupply() (sdkmath.Int, error)

	// ShareDecimals returns the fixed-point precision of vault shares.
	ShareDecimals() uint8

	// BalanceOf returns the vault's raw balance of the given token.
	BalanceOf(token common.Address) (sdkmath.Int, error)

	// Approve sets a token allowance from the vault to a spender.
	Approve(token, spender common.Address, amount sdkmath.Int) error

	// Forward performs a generic authorized call from the vault to a target
	// with an opaque payload. Only the aggregator-swap path uses this; every
	// other venue interaction goes through the typed venue interface.
	Forward(target common.Address, payload []byte) ([]byte, error)

	// TransferOut sends raw tokens from the vault to a recipient. Used to pay
	// claimed performance fees.
	TransferOut(token, to common.Address, amount sdkmath.Int) error

	// UnwrapAllNative unwraps the vault's entire wrapped-native balance into
	// native currency and returns the amount unwrapped.
	UnwrapAllNative() (sdkmath.Int, error)

	// WrapAllNative wraps the vault's entire native balance back into the
	// wrapped token and returns the amount wrapped.
	WrapAllNative() (sdkmath.Int, error)

	// MintSharesAndTransferIn pulls a deposit from the depositor and mints
	// shares against it. Used only by the teller.
	MintSharesAndTransferIn(depositor, asset common.Address, assetAmount, shares sdkmath.Int) error

	// BurnSharesAndTransferOut burns shares from the holder and pays out the
	// withdrawal. Used only by the teller.
	BurnSharesAndTransferOut(holder, asset common.Address, assetAmount, shares sdkmath.Int) error

	// TransferShares moves vault shares between holders. The teller's lock
	// hook gates calls into this.
	TransferShares(from, to common.Address, shares sdkmath.Int) error
}
