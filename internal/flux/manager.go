/*

This file contains the FluxManager aggregate: construction, admin
configuration, the pause gate, the cached balance refresh and the tracked
position arena. Valuation, performance accounting and rebalance execution live
in their sibling files.

*/

package flux

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/fluxvault/fluxd/internal/auth"
	"github.com/fluxvault/fluxd/internal/datum"
	"github.com/fluxvault/fluxd/internal/logger"
	"github.com/fluxvault/fluxd/internal/types"
	"github.com/fluxvault/fluxd/internal/vault"
	"github.com/fluxvault/fluxd/internal/venue"
)

const (
	// BpsScale is the basis-point denominator.
	BpsScale = 10_000

	// MaxPerformanceFee caps the performance fee at 30%.
	MaxPerformanceFee uint16 = 3_000

	// MinDatumBound and MaxDatumBound clamp the datum tolerance band:
	// lower in [MinDatumBound, 10000], upper in [10000, MaxDatumBound].
	MinDatumBound uint16 = 8_000
	MaxDatumBound uint16 = 12_000

	// MinRebalanceDeviation and MaxRebalanceDeviation are the hard limits on
	// the configurable rebalance deviation band (90% - 110%).
	MinRebalanceDeviation uint16 = 9_000
	MaxRebalanceDeviation uint16 = 11_000
)

// Manager is the vault-attached fund manager. All mutable state is owned
// exclusively by the Manager instance; entry points serialize on an internal
// mutex because the Go runtime provides no whole-call atomicity.
type Manager struct {
	mu     sync.Mutex
	logger zerolog.Logger

	authorizer auth.Authorizer
	vault      vault.Vault
	venue      venue.LiquidityVenue
	datum      *datum.Datum
	now        func() time.Time

	// Immutable pair wiring.
	token0         common.Address
	token1         common.Address
	decimals0      uint8
	decimals1      uint8
	decimalsShares uint8
	baseIn0        bool // true when asset0 is the base asset
	baseIsNative   bool // base asset is the wrapped-native placeholder

	// Mutable configuration.
	isPaused        bool
	datumLowerBound uint16
	datumUpperBound uint16
	deviationMin    uint16
	deviationMax    uint16
	performanceFee  uint16 // bps
	reviewFrequency time.Duration
	payout          common.Address
	aggregators     map[common.Address]struct{}

	// Performance accounting state.
	metric                types.PerformanceMetric
	highWatermark         sdkmath.Int
	totalSupplyLastReview sdkmath.Int
	pendingFee            sdkmath.Int
	lastReview            time.Time

	// Cached balances, refreshed explicitly and never implicitly. Staleness
	// between refreshes is accepted; callers refresh before relying on them.
	token0Balance sdkmath.Int
	token1Balance sdkmath.Int

	// Tracked positions as a parallel arena with O(1) swap-with-last removal.
	// Iteration order is NOT stable across removals.
	positionIDs  []types.PositionID
	positionData []types.PositionData
}

// Config holds the wiring for creating a Manager.
type Config struct {
	Authorizer auth.Authorizer
	Vault      vault.Vault
	Venue      venue.LiquidityVenue
	Datum      *datum.Datum

	Token0    common.Address
	Token1    common.Address
	Decimals0 uint8
	Decimals1 uint8

	// BaseIn0 selects asset0 as the base asset for bootstrap pricing and
	// deviation checks; false selects asset1.
	BaseIn0 bool

	// BaseIsNative marks the base asset as the wrapped-native placeholder;
	// rebalances then unwrap before and re-wrap after the batch.
	BaseIsNative bool

	DatumLowerBound uint16
	DatumUpperBound uint16
	DeviationMin    uint16
	DeviationMax    uint16
	PerformanceFee  uint16
	ReviewFrequency time.Duration
	Payout          common.Address
	Metric          types.PerformanceMetric

	Now func() time.Time // Optional; defaults to time.Now
}

// NewManager creates a Manager with full validation of its configuration.
func NewManager(cfg Config) (*Manager, error) {
	if err := validateManagerConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManagerConfig, err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		logger:                logger.GetForComponent("flux_manager"),
		authorizer:            cfg.Authorizer,
		vault:                 cfg.Vault,
		venue:                 cfg.Venue,
		datum:                 cfg.Datum,
		now:                   now,
		token0:                cfg.Token0,
		token1:                cfg.Token1,
		decimals0:             cfg.Decimals0,
		decimals1:             cfg.Decimals1,
		decimalsShares:        cfg.Vault.ShareDecimals(),
		baseIn0:               cfg.BaseIn0,
		baseIsNative:          cfg.BaseIsNative,
		datumLowerBound:       cfg.DatumLowerBound,
		datumUpperBound:       cfg.DatumUpperBound,
		deviationMin:          cfg.DeviationMin,
		deviationMax:          cfg.DeviationMax,
		performanceFee:        cfg.PerformanceFee,
		reviewFrequency:       cfg.ReviewFrequency,
		payout:                cfg.Payout,
		aggregators:           make(map[common.Address]struct{}),
		metric:                cfg.Metric,
		highWatermark:         sdkmath.ZeroInt(),
		totalSupplyLastReview: sdkmath.ZeroInt(),
		pendingFee:            sdkmath.ZeroInt(),
		token0Balance:         sdkmath.ZeroInt(),
		token1Balance:         sdkmath.ZeroInt(),
	}

	m.logger.Info().
		Str("token0", cfg.Token0.Hex()).
		Str("token1", cfg.Token1.Hex()).
		Bool("baseIn0", cfg.BaseIn0).
		Str("metric", cfg.Metric.String()).
		Msg("Flux manager created")

	return m, nil
}

// validateManagerConfig validates the manager configuration.
func validateManagerConfig(cfg Config) error {
	if cfg.Authorizer == nil {
		return fmt.Errorf("authorizer cannot be nil")
	}
	if cfg.Vault == nil {
		return fmt.Errorf("vault cannot be nil")
	}
	if cfg.Venue == nil {
		return fmt.Errorf("venue cannot be nil")
	}
	if cfg.Datum == nil {
		return fmt.Errorf("datum cannot be nil")
	}
	if cfg.Token0 == cfg.Token1 {
		return fmt.Errorf("token0 and token1 must differ")
	}
	if cfg.Decimals0 > 18 || cfg.Decimals1 > 18 {
		return fmt.Errorf("token decimals out of range: %d / %d", cfg.Decimals0, cfg.Decimals1)
	}
	if err := checkDatumBounds(cfg.DatumLowerBound, cfg.DatumUpperBound); err != nil {
		return err
	}
	if err := checkDeviationBounds(cfg.DeviationMin, cfg.DeviationMax); err != nil {
		return err
	}
	if cfg.PerformanceFee > MaxPerformanceFee {
		return fmt.Errorf("%w: %d bps", ErrBadPerformanceFee, cfg.PerformanceFee)
	}
	if !cfg.Metric.Valid() {
		return fmt.Errorf("unknown performance metric %d", cfg.Metric)
	}
	if cfg.ReviewFrequency <= 0 {
		return fmt.Errorf("review frequency must be positive, got %s", cfg.ReviewFrequency)
	}
	return nil
}

func checkDatumBounds(lower, upper uint16) error {
	if lower < MinDatumBound || lower > BpsScale || upper < BpsScale || upper > MaxDatumBound {
		return fmt.Errorf("%w: [%d, %d]", ErrBadDatumBounds, lower, upper)
	}
	return nil
}

func checkDeviationBounds(min, max uint16) error {
	if min < MinRebalanceDeviation || min > BpsScale || max < BpsScale || max > MaxRebalanceDeviation {
		return fmt.Errorf("%w: [%d, %d]", ErrBadRebalanceDeviation, min, max)
	}
	return nil
}

// RefreshInternalFluxAccounting re-reads the vault's raw balances into the
// manager's cache. Exposed so the teller can refresh atomically inside its own
// deposit/withdraw critical section.
func (m *Manager) RefreshInternalFluxAccounting() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshBalancesLocked()
}

func (m *Manager) refreshBalancesLocked() error {
	balance0, err := m.vault.BalanceOf(m.token0)
	if err != nil {
		return fmt.Errorf("failed to read token0 balance: %w", err)
	}
	balance1, err := m.vault.BalanceOf(m.token1)
	if err != nil {
		return fmt.Errorf("failed to read token1 balance: %w", err)
	}
	m.token0Balance = balance0
	m.token1Balance = balance1
	return nil
}

// Pause gates all valuation and accounting entry points.
func (m *Manager) Pause(caller common.Address) error {
	if err := m.authorizer.Authorize(caller, auth.OpPause); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isPaused = true
	m.logger.Warn().Str("caller", caller.Hex()).Msg("Manager paused")
	return nil
}

// Unpause lifts the pause gate.
func (m *Manager) Unpause(caller common.Address) error {
	if err := m.authorizer.Authorize(caller, auth.OpPause); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isPaused = false
	m.logger.Info().Str("caller", caller.Hex()).Msg("Manager unpaused")
	return nil
}

// IsPaused reports the pause gate state.
func (m *Manager) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isPaused
}

// SetPerformanceFee updates the performance fee, capped at MaxPerformanceFee.
func (m *Manager) SetPerformanceFee(caller common.Address, feeBps uint16) error {
	if err := m.authorizer.Authorize(caller, auth.OpConfigure); err != nil {
		return err
	}
	if feeBps > MaxPerformanceFee {
		return fmt.Errorf("%w: %d bps", ErrBadPerformanceFee, feeBps)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.performanceFee = feeBps
	m.logger.Info().Uint16("feeBps", feeBps).Msg("Performance fee updated")
	return nil
}

// SetPayout updates the fee payout recipient.
func (m *Manager) SetPayout(caller, payout common.Address) error {
	if err := m.authorizer.Authorize(caller, auth.OpConfigure); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payout = payout
	m.logger.Info().Str("payout", payout.Hex()).Msg("Payout address updated")
	return nil
}

// ConfigureDatumBounds updates the datum tolerance band. The band must keep
// parity (10000 bps) inside it and stay within the hard clamp.
func (m *Manager) ConfigureDatumBounds(caller common.Address, lowerBps, upperBps uint16) error {
	if err := m.authorizer.Authorize(caller, auth.OpConfigure); err != nil {
		return err
	}
	if err := checkDatumBounds(lowerBps, upperBps); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datumLowerBound = lowerBps
	m.datumUpperBound = upperBps
	m.logger.Info().Uint16("lowerBps", lowerBps).Uint16("upperBps", upperBps).Msg("Datum bounds updated")
	return nil
}

// SetRebalanceDeviation updates the allowed post-rebalance valuation band.
func (m *Manager) SetRebalanceDeviation(caller common.Address, minBps, maxBps uint16) error {
	if err := m.authorizer.Authorize(caller, auth.OpConfigure); err != nil {
		return err
	}
	if err := checkDeviationBounds(minBps, maxBps); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviationMin = minBps
	m.deviationMax = maxBps
	m.logger.Info().Uint16("minBps", minBps).Uint16("maxBps", maxBps).Msg("Rebalance deviation bounds updated")
	return nil
}

// SetAggregator adds or removes a swap router from the allow-list.
func (m *Manager) SetAggregator(caller, aggregator common.Address, allowed bool) error {
	if err := m.authorizer.Authorize(caller, auth.OpConfigure); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if allowed {
		m.aggregators[aggregator] = struct{}{}
	} else {
		delete(m.aggregators, aggregator)
	}
	m.logger.Info().Str("aggregator", aggregator.Hex()).Bool("allowed", allowed).Msg("Aggregator allow-list updated")
	return nil
}

// SetReviewFrequency updates the performance review cooldown.
func (m *Manager) SetReviewFrequency(caller common.Address, frequency time.Duration) error {
	if err := m.authorizer.Authorize(caller, auth.OpConfigure); err != nil {
		return err
	}
	if frequency <= 0 {
		return fmt.Errorf("review frequency must be positive, got %s", frequency)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviewFrequency = frequency
	return nil
}

// PendingFee returns the accrued-but-unclaimed performance fee in the active
// metric's units.
func (m *Manager) PendingFee() sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingFee
}

// HighWatermark returns the current per-share high-watermark in the active
// metric's units.
func (m *Manager) HighWatermark() sdkmath.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highWatermark
}

// Metric returns the active performance metric.
func (m *Manager) Metric() types.PerformanceMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metric
}

// TrackedPositions returns a copy of the tracked position arena. The order is
// an implementation detail and is not stable across removals.
func (m *Manager) TrackedPositions() []types.TrackedPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	tracked := make([]types.TrackedPosition, len(m.positionIDs))
	for i, id := range m.positionIDs {
		tracked[i] = types.TrackedPosition{ID: id, Data: m.positionData[i]}
	}
	return tracked
}

// trackPositionLocked appends a position to the arena. A position identifier
// appears at most once.
func (m *Manager) trackPositionLocked(id types.PositionID, data types.PositionData) error {
	if _, found := m.findPositionLocked(id); found {
		return fmt.Errorf("position %d is already tracked", id)
	}
	m.positionIDs = append(m.positionIDs, id)
	m.positionData = append(m.positionData, data)
	return nil
}

// untrackPositionLocked removes a position by swapping with the last entry and
// popping, so removal is O(1) and ordering is not preserved.
func (m *Manager) untrackPositionLocked(id types.PositionID) error {
	index, found := m.findPositionLocked(id)
	if !found {
		return &PositionNotFoundError{ID: id}
	}
	last := len(m.positionIDs) - 1
	m.positionIDs[index] = m.positionIDs[last]
	m.positionData[index] = m.positionData[last]
	m.positionIDs = m.positionIDs[:last]
	m.positionData = m.positionData[:last]
	return nil
}

func (m *Manager) findPositionLocked(id types.PositionID) (int, bool) {
	for i, tracked := range m.positionIDs {
		if tracked == id {
			return i, true
		}
	}
	return 0, false
}

// managerState is a restorable snapshot of the manager's mutable bookkeeping,
// taken before a rebalance batch and restored on any failure so a failed batch
// leaves the manager's view exactly as it was.
type managerState struct {
	token0Balance         sdkmath.Int
	token1Balance         sdkmath.Int
	positionIDs           []types.PositionID
	positionData          []types.PositionData
	highWatermark         sdkmath.Int
	totalSupplyLastReview sdkmath.Int
	pendingFee            sdkmath.Int
	lastReview            time.Time
}

func (m *Manager) snapshotStateLocked() managerState {
	ids := make([]types.PositionID, len(m.positionIDs))
	copy(ids, m.positionIDs)
	data := make([]types.PositionData, len(m.positionData))
	copy(data, m.positionData)
	return managerState{
		token0Balance:         m.token0Balance,
		token1Balance:         m.token1Balance,
		positionIDs:           ids,
		positionData:          data,
		highWatermark:         m.highWatermark,
		totalSupplyLastReview: m.totalSupplyLastReview,
		pendingFee:            m.pendingFee,
		lastReview:            m.lastReview,
	}
}

func (m *Manager) restoreStateLocked(state managerState) {
	m.token0Balance = state.token0Balance
	m.token1Balance = state.token1Balance
	m.positionIDs = state.positionIDs
	m.positionData = state.positionData
	m.highWatermark = state.highWatermark
	m.totalSupplyLastReview = state.totalSupplyLastReview
	m.pendingFee = state.pendingFee
	m.lastReview = state.lastReview
}

// baseToken returns the base asset's address.
func (m *Manager) baseToken() common.Address {
	if m.baseIn0 {
		return m.token0
	}
	return m.token1
}

func pow10Int(n uint8) sdkmath.Int {
	result := sdkmath.NewInt(1)
	ten := sdkmath.NewInt(10)
	for i := uint8(0); i < n; i++ {
		result = result.Mul(ten)
	}
	return result
}

func pow10Dec(n uint8) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDecFromInt(pow10Int(n))
}
