/*

This file implements an in-memory vault, used by the test suite and dry-run
mode. Balances, share accounting, allowances and forward targets all live in
process; the live deployment swaps this for a chain-backed client behind the
same interface.

*/

package vault

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/fluxvault/fluxd/internal/logger"
)

var vaultLogger = logger.GetForComponent("vault_memory")

var (
	ErrInsufficientBalance = errors.New("insufficient vault balance")
	ErrInsufficientShares  = errors.New("insufficient share balance")
	ErrUnknownTarget       = errors.New("no handler registered for forward target")
)

// ForwardHandler simulates the contract living at a forward target address.
type ForwardHandler func(payload []byte) ([]byte, error)

// Memory is an in-memory Vault implementation.
type Memory struct {
	mu sync.Mutex

	shareDecimals uint8
	shareSupply   sdkmath.Int
	shareBalances map[common.Address]sdkmath.Int

	balances      map[common.Address]sdkmath.Int
	native        sdkmath.Int
	wrappedNative common.Address

	allowances map[[2]common.Address]sdkmath.Int
	targets    map[common.Address]ForwardHandler
}

// NewMemory creates an empty in-memory vault. wrappedNative may be the zero
// address when the pair has no native leg.
func NewMemory(shareDecimals uint8, wrappedNative common.Address) *Memory {
	return &Memory{
		shareDecimals: shareDecimals,
		shareSupply:   sdkmath.ZeroInt(),
		shareBalances: make(map[common.Address]sdkmath.Int),
		balances:      make(map[common.Address]sdkmath.Int),
		native:        sdkmath.ZeroInt(),
		wrappedNative: wrappedNative,
		allowances:    make(map[[2]common.Address]sdkmath.Int),
		targets:       make(map[common.Address]ForwardHandler),
	}
}

// SetBalance seeds the vault's balance of a token.
func (m *Memory) SetBalance(token common.Address, amount sdkmath.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[token] = amount
}

// RegisterTarget installs the handler simulating the contract at target.
func (m *Memory) RegisterTarget(target common.Address, handler ForwardHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[target] = handler
}

// ShareBalanceOf returns a holder's share balance.
func (m *Memory) ShareBalanceOf(holder common.Address) sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shareBalanceLocked(holder)
}

// TotalShareSupply implements Vault.
func (m *Memory) TotalShareSupply() (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shareSupply, nil
}

// ShareDecimals implements Vault.
func (m *Memory) ShareDecimals() uint8 {
	return m.shareDecimals
}

// BalanceOf implements Vault.
func (m *Memory) BalanceOf(token common.Address) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(token), nil
}

// Approve implements Vault.
func (m *Memory) Approve(token, spender common.Address, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount.IsNegative() {
		return fmt.Errorf("allowance cannot be negative: %s", amount)
	}
	m.allowances[[2]common.Address{token, spender}] = amount
	return nil
}

// Allowance returns the current allowance for a (token, spender) pair.
func (m *Memory) Allowance(token, spender common.Address) sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowance, ok := m.allowances[[2]common.Address{token, spender}]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return allowance
}

// Forward implements Vault by dispatching to the registered handler.
func (m *Memory) Forward(target common.Address, payload []byte) ([]byte, error) {
	m.mu.Lock()
	handler, ok := m.targets[target]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target.Hex())
	}
	return handler(payload)
}

// TransferOut implements Vault.
func (m *Memory) TransferOut(token, to common.Address, amount sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.debitLocked(token, amount); err != nil {
		return err
	}
	vaultLogger.Debug().
		Str("token", token.Hex()).
		Str("to", to.Hex()).
		Str("amount", amount.String()).
		Msg("Transferred tokens out of vault")
	return nil
}

// UnwrapAllNative implements Vault.
func (m *Memory) UnwrapAllNative() (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wrapped := m.balanceLocked(m.wrappedNative)
	m.balances[m.wrappedNative] = sdkmath.ZeroInt()
	m.native = m.native.Add(wrapped)
	return wrapped, nil
}

// WrapAllNative implements Vault.
func (m *Memory) WrapAllNative() (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount := m.native
	m.native = sdkmath.ZeroInt()
	m.balances[m.wrappedNative] = m.balanceLocked(m.wrappedNative).Add(amount)
	return amount, nil
}

// MintSharesAndTransferIn implements Vault.
func (m *Memory) MintSharesAndTransferIn(depositor, asset common.Address, assetAmount, shares sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !assetAmount.IsPositive() || !shares.IsPositive() {
		return fmt.Errorf("deposit amounts must be positive, got asset %s shares %s", assetAmount, shares)
	}
	m.balances[asset] = m.balanceLocked(asset).Add(assetAmount)
	m.shareSupply = m.shareSupply.Add(shares)
	m.shareBalances[depositor] = m.shareBalanceLocked(depositor).Add(shares)
	return nil
}

// BurnSharesAndTransferOut implements Vault.
func (m *Memory) BurnSharesAndTransferOut(holder, asset common.Address, assetAmount, shares sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !assetAmount.IsPositive() || !shares.IsPositive() {
		return fmt.Errorf("withdrawal amounts must be positive, got asset %s shares %s", assetAmount, shares)
	}
	if m.shareBalanceLocked(holder).LT(shares) {
		return fmt.Errorf("%w: holder %s has %s, burning %s", ErrInsufficientShares, holder.Hex(), m.shareBalanceLocked(holder), shares)
	}
	if err := m.debitLocked(asset, assetAmount); err != nil {
		return err
	}
	m.shareSupply = m.shareSupply.Sub(shares)
	m.shareBalances[holder] = m.shareBalanceLocked(holder).Sub(shares)
	return nil
}

// TransferShares implements Vault.
func (m *Memory) TransferShares(from, to common.Address, shares sdkmath.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !shares.IsPositive() {
		return fmt.Errorf("share transfer must be positive, got %s", shares)
	}
	if m.shareBalanceLocked(from).LT(shares) {
		return fmt.Errorf("%w: holder %s has %s, transferring %s", ErrInsufficientShares, from.Hex(), m.shareBalanceLocked(from), shares)
	}
	m.shareBalances[from] = m.shareBalanceLocked(from).Sub(shares)
	m.shareBalances[to] = m.shareBalanceLocked(to).Add(shares)
	return nil
}

func (m *Memory) balanceLocked(token common.Address) sdkmath.Int {
	balance, ok := m.balances[token]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return balance
}

func (m *Memory) shareBalanceLocked(holder common.Address) sdkmath.Int {
	balance, ok := m.shareBalances[holder]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return balance
}

func (m *Memory) debitLocked(token common.Address, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return fmt.Errorf("debit cannot be negative: %s", amount)
	}
	balance := m.balanceLocked(token)
	if balance.LT(amount) {
		return fmt.Errorf("%w: token %s has %s, need %s", ErrInsufficientBalance, token.Hex(), balance, amount)
	}
	m.balances[token] = balance.Sub(amount)
	return nil
}

// PairBook adapts a Memory vault to the venue's two-token balance book.
type PairBook struct {
	Vault  *Memory
	Token0 common.Address
	Token1 common.Address
}

// Credit moves value from the venue into the vault.
func (b *PairBook) Credit(amount0, amount1 sdkmath.Int) error {
	b.Vault.mu.Lock()
	defer b.Vault.mu.Unlock()
	b.Vault.balances[b.Token0] = b.Vault.balanceLocked(b.Token0).Add(amount0)
	b.Vault.balances[b.Token1] = b.Vault.balanceLocked(b.Token1).Add(amount1)
	return nil
}

// Debit moves value from the vault into the venue.
func (b *PairBook) Debit(amount0, amount1 sdkmath.Int) error {
	b.Vault.mu.Lock()
	defer b.Vault.mu.Unlock()
	if err := b.Vault.debitLocked(b.Token0, amount0); err != nil {
		return err
	}
	return b.Vault.debitLocked(b.Token1, amount1)
}
