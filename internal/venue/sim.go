/*

This file implements an in-memory simulated venue, used by the test suite and
by dry-run mode. It tracks positions and a flat pool price, settling every
amount against the vault's balance book so batches mutate real balances the
way a live venue would.

*/

package venue

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/fluxvault/fluxd/internal/logger"
	"github.com/fluxvault/fluxd/internal/types"
)

var simLogger = logger.GetForComponent("venue_simulator")

var (
	ErrUnknownPosition  = errors.New("position is not known to the venue")
	ErrSlippageExceeded = errors.New("swap output below minimum")
	ErrMintTooLittle    = errors.New("minted amounts below minimums")
)

// BalanceBook is the venue's view of the vault's balances. Credits move value
// from the venue to the vault, debits the other way.
type BalanceBook interface {
	Credit(amount0, amount1 sdkmath.Int) error
	Debit(amount0, amount1 sdkmath.Int) error
}

// Simulator is an in-memory LiquidityVenue.
type Simulator struct {
	mu sync.Mutex

	book       BalanceBook
	rawPrice   sdkmath.LegacyDec // raw asset1 per raw asset0
	swapFeeBps uint16

	nextID      types.PositionID
	positions   map[types.PositionID]types.PositionData
	accruedFees map[types.PositionID][2]sdkmath.Int
}

// NewSimulator creates a simulated venue at the given raw pool price.
func NewSimulator(book BalanceBook, rawPrice sdkmath.LegacyDec, swapFeeBps uint16) (*Simulator, error) {
	if book == nil {
		return nil, errors.New("balance book cannot be nil")
	}
	if !rawPrice.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrNonPositivePrice, rawPrice)
	}
	return &Simulator{
		book:        book,
		rawPrice:    rawPrice,
		swapFeeBps:  swapFeeBps,
		nextID:      1,
		positions:   make(map[types.PositionID]types.PositionData),
		accruedFees: make(map[types.PositionID][2]sdkmath.Int),
	}, nil
}

// SetRawPrice moves the simulated pool price.
func (s *Simulator) SetRawPrice(rawPrice sdkmath.LegacyDec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawPrice = rawPrice
}

// AccrueFees credits pending trading fees to a position, to be harvested by
// CollectFees or Burn.
func (s *Simulator) AccrueFees(id types.PositionID, amount0, amount1 sdkmath.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.accruedFees[id]
	if !ok {
		prev = [2]sdkmath.Int{sdkmath.ZeroInt(), sdkmath.ZeroInt()}
	}
	s.accruedFees[id] = [2]sdkmath.Int{prev[0].Add(amount0), prev[1].Add(amount1)}
}

// NextPositionID implements LiquidityVenue.
func (s *Simulator) NextPositionID() (types.PositionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID, nil
}

// Mint implements LiquidityVenue.
func (s *Simulator) Mint(tickLower, tickUpper int32, amount0Desired, amount1Desired, amount0Min, amount1Min sdkmath.Int) (MintResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqrtP, sqrtA, sqrtB, err := s.sqrtTriple(tickLower, tickUpper)
	if err != nil {
		return MintResult{}, err
	}

	liquidity, err := LiquidityForAmounts(sqrtP, sqrtA, sqrtB, amount0Desired, amount1Desired)
	if err != nil {
		return MintResult{}, err
	}
	used0, used1, err := AmountsForLiquidity(sqrtP, sqrtA, sqrtB, liquidity)
	if err != nil {
		return MintResult{}, err
	}
	if used0.LT(amount0Min) || used1.LT(amount1Min) {
		return MintResult{}, fmt.Errorf("%w: used (%s, %s), minimums (%s, %s)",
			ErrMintTooLittle, used0, used1, amount0Min, amount1Min)
	}

	if err := s.book.Debit(used0, used1); err != nil {
		return MintResult{}, err
	}

	id := s.nextID
	s.nextID++
	s.positions[id] = types.PositionData{Liquidity: liquidity, TickLower: tickLower, TickUpper: tickUpper}

	simLogger.Debug().
		Uint64("positionID", uint64(id)).
		Str("liquidity", liquidity.String()).
		Msg("Minted simulated position")

	return MintResult{ID: id, Liquidity: liquidity, Amount0: used0, Amount1: used1}, nil
}

// IncreaseLiquidity implements LiquidityVenue.
func (s *Simulator) IncreaseLiquidity(id types.PositionID, amount0Desired, amount1Desired sdkmath.Int) (sdkmath.Int, sdkmath.Int, sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return sdkmath.Int{}, sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %d", ErrUnknownPosition, id)
	}
	sqrtP, sqrtA, sqrtB, err := s.sqrtTriple(pos.TickLower, pos.TickUpper)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, sdkmath.Int{}, err
	}

	added, err := LiquidityForAmounts(sqrtP, sqrtA, sqrtB, amount0Desired, amount1Desired)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, sdkmath.Int{}, err
	}
	used0, used1, err := AmountsForLiquidity(sqrtP, sqrtA, sqrtB, added)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, sdkmath.Int{}, err
	}
	if err := s.book.Debit(used0, used1); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, sdkmath.Int{}, err
	}

	pos.Liquidity = pos.Liquidity.Add(added)
	s.positions[id] = pos
	return added, used0, used1, nil
}

// DecreaseLiquidity implements LiquidityVenue.
func (s *Simulator) DecreaseLiquidity(id types.PositionID, liquidity sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decreaseLocked(id, liquidity)
}

func (s *Simulator) decreaseLocked(id types.PositionID, liquidity sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	pos, ok := s.positions[id]
	if !ok {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %d", ErrUnknownPosition, id)
	}
	if liquidity.GT(pos.Liquidity) {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("cannot remove %s liquidity from position %d holding %s",
			liquidity, id, pos.Liquidity)
	}
	sqrtP, sqrtA, sqrtB, err := s.sqrtTriple(pos.TickLower, pos.TickUpper)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	amount0, amount1, err := AmountsForLiquidity(sqrtP, sqrtA, sqrtB, liquidity)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	if err := s.book.Credit(amount0, amount1); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	pos.Liquidity = pos.Liquidity.Sub(liquidity)
	s.positions[id] = pos
	return amount0, amount1, nil
}

// CollectFees implements LiquidityVenue.
func (s *Simulator) CollectFees(id types.PositionID) (sdkmath.Int, sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectLocked(id)
}

func (s *Simulator) collectLocked(id types.PositionID) (sdkmath.Int, sdkmath.Int, error) {
	if _, ok := s.positions[id]; !ok {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %d", ErrUnknownPosition, id)
	}
	fees, ok := s.accruedFees[id]
	if !ok {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), nil
	}
	delete(s.accruedFees, id)
	if err := s.book.Credit(fees[0], fees[1]); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return fees[0], fees[1], nil
}

// Burn implements LiquidityVenue.
func (s *Simulator) Burn(id types.PositionID) (sdkmath.Int, sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %d", ErrUnknownPosition, id)
	}
	principal0, principal1, err := s.decreaseLocked(id, pos.Liquidity)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	fees0, fees1, err := s.collectLocked(id)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	delete(s.positions, id)
	return principal0.Add(fees0), principal1.Add(fees1), nil
}

// SwapExactIn implements LiquidityVenue. Output is quoted at the flat pool
// price minus the swap fee.
func (s *Simulator) SwapExactIn(zeroForOne bool, amountIn, minOut sdkmath.Int) (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !amountIn.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: amountIn %s", ErrNonPositiveAmount, amountIn)
	}

	in := sdkmath.LegacyNewDecFromInt(amountIn)
	var out sdkmath.Int
	if zeroForOne {
		out = in.Mul(s.rawPrice).TruncateInt()
	} else {
		out = in.Quo(s.rawPrice).TruncateInt()
	}
	fee := out.MulRaw(int64(s.swapFeeBps)).QuoRaw(10_000)
	out = out.Sub(fee)

	if out.LT(minOut) {
		return sdkmath.Int{}, fmt.Errorf("%w: out %s below min %s", ErrSlippageExceeded, out, minOut)
	}

	if zeroForOne {
		if err := s.book.Debit(amountIn, sdkmath.ZeroInt()); err != nil {
			return sdkmath.Int{}, err
		}
		if err := s.book.Credit(sdkmath.ZeroInt(), out); err != nil {
			return sdkmath.Int{}, err
		}
	} else {
		if err := s.book.Debit(sdkmath.ZeroInt(), amountIn); err != nil {
			return sdkmath.Int{}, err
		}
		if err := s.book.Credit(out, sdkmath.ZeroInt()); err != nil {
			return sdkmath.Int{}, err
		}
	}
	return out, nil
}

func (s *Simulator) sqrtTriple(tickLower, tickUpper int32) (sqrtP, sqrtA, sqrtB sdkmath.LegacyDec, err error) {
	sqrtP, err = SqrtFromRawPrice(s.rawPrice)
	if err != nil {
		return
	}
	sqrtA, err = TickToSqrtPrice(tickLower)
	if err != nil {
		return
	}
	sqrtB, err = TickToSqrtPrice(tickUpper)
	return
}
