/*

This file contains the fluxd run loop: cron-scheduled performance reviews
driven by the datum, accounting refreshes, and execution of operator-submitted
rebalance plans with audit snapshots persisted to the database.

*/

package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fluxvault/fluxd/internal/datum"
	"github.com/fluxvault/fluxd/internal/flux"
	"github.com/fluxvault/fluxd/internal/logger"
	"github.com/fluxvault/fluxd/internal/plan"
	"github.com/fluxvault/fluxd/internal/state"
	"github.com/fluxvault/fluxd/internal/types"
	"github.com/fluxvault/fluxd/internal/utils"
)

var ErrInvalidDaemonConfig = errors.New("invalid daemon configuration")

// Daemon drives the manager on a schedule: periodic performance reviews plus
// on-demand plan execution from the ops API.
type Daemon struct {
	logger   zerolog.Logger
	manager  *flux.Manager
	datum    *datum.Datum
	operator common.Address

	reviewSchedule string
	persist        bool
	cron           *cron.Cron
}

// Config holds the configuration for creating a new Daemon instance.
type Config struct {
	Manager  *flux.Manager
	Datum    *datum.Datum
	Operator common.Address

	// ReviewSchedule is a cron expression for scheduled performance reviews.
	ReviewSchedule string
	// Persist enables writing audit records through the state package.
	Persist bool
}

// NewDaemon creates a new Daemon instance with dependency injection.
func NewDaemon(cfg Config) (*Daemon, error) {
	if err := validateDaemonConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDaemonConfig, err)
	}

	d := &Daemon{
		logger:         logger.GetForComponent("daemon"),
		manager:        cfg.Manager,
		datum:          cfg.Datum,
		operator:       cfg.Operator,
		reviewSchedule: cfg.ReviewSchedule,
		persist:        cfg.Persist,
		cron:           cron.New(),
	}

	d.logger.Info().
		Str("operator", d.operator.Hex()).
		Str("reviewSchedule", d.reviewSchedule).
		Msg("Daemon instance created")

	return d, nil
}

func validateDaemonConfig(cfg Config) error {
	if cfg.Manager == nil {
		return fmt.Errorf("manager cannot be nil")
	}
	if cfg.Datum == nil {
		return fmt.Errorf("datum cannot be nil")
	}
	if cfg.Operator == (common.Address{}) {
		return fmt.Errorf("operator address cannot be zero")
	}
	if cfg.ReviewSchedule == "" {
		return fmt.Errorf("review schedule cannot be empty")
	}
	return nil
}

// Run starts the scheduled review loop and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if _, err := d.cron.AddFunc(d.reviewSchedule, d.runScheduledReview); err != nil {
		return fmt.Errorf("failed to register review schedule: %w", err)
	}

	d.logger.Info().Str("schedule", d.reviewSchedule).Msg("Starting daemon loop")
	d.cron.Start()

	<-ctx.Done()
	d.logger.Info().Msg("Daemon loop stopped due to context cancellation")

	stopCtx := d.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

// runScheduledReview performs one datum-priced performance review. A failed
// review is logged and retried on the next tick; ErrTooSoon is expected when
// the cron fires faster than the manager's cooldown.
func (d *Daemon) runScheduledReview() {
	preview, err := d.RunReview()
	if err != nil {
		if errors.Is(err, flux.ErrTooSoon) {
			d.logger.Debug().Msg("Performance review skipped, cooldown still active")
			return
		}
		d.logger.Error().Err(err).Msg("Scheduled performance review failed")
		return
	}
	d.logger.Info().
		Str("accumulatedPerShare", preview.AccumulatedPerShare.String()).
		Str("feeOwed", preview.FeeOwed.String()).
		Msg("Scheduled performance review committed")
}

// RunReview refreshes accounting and commits one performance review at the
// current datum reading.
func (d *Daemon) RunReview() (flux.PerformancePreview, error) {
	rate, err := d.datum.GetDatum()
	if err != nil {
		return flux.PerformancePreview{}, fmt.Errorf("failed to read datum: %w", err)
	}

	preview, err := d.manager.ReviewPerformance(d.operator, rate, d.datum.Decimals())
	if err != nil {
		return flux.PerformancePreview{}, err
	}

	if d.persist {
		record := types.PerformanceReview{
			Timestamp:     time.Now().UTC(),
			Metric:        d.manager.Metric().String(),
			HighWatermark: d.manager.HighWatermark().String(),
			FeeOwed:       preview.FeeOwed.String(),
			PendingFee:    d.manager.PendingFee().String(),
			ShareSupply:   preview.CurrentTotalSupply.String(),
		}
		if _, err := state.SavePerformanceReview(record); err != nil {
			d.logger.Error().Err(err).Msg("Failed to persist performance review")
		}
	}

	return preview, nil
}

// ExecutePlanFile loads a strategist plan from a YAML file and executes it.
func (d *Daemon) ExecutePlanFile(path string) (types.RebalanceSnapshot, error) {
	p, err := plan.Load(path)
	if err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to load plan file: %w", err)
	}
	d.logger.Info().
		Str("file", path).
		Int("actions", len(p.Actions)).
		Str("rate", utils.FormatRaw(p.ExchangeRate, p.RateDecimals)).
		Msg("Executing plan file")
	return d.ExecutePlan(p)
}

// ExecutePlan runs one rebalance plan against the manager and persists the
// outcome, success or failure. Implements web.PlanExecutor.
func (d *Daemon) ExecutePlan(plan types.RebalancePlan) (types.RebalanceSnapshot, error) {
	result, err := d.manager.Rebalance(d.operator, plan.ExchangeRate, plan.RateDecimals, plan.Actions)

	snapshot := types.RebalanceSnapshot{
		BatchID:   result.BatchID,
		Timestamp: time.Now().UTC(),
		Rate:      plan.ExchangeRate.String(),
		Actions:   plan.Actions,
		Positions: d.manager.TrackedPositions(),
		Success:   err == nil,
	}
	if err != nil {
		snapshot.Message = err.Error()
		snapshot.ValueBefore = "0"
		snapshot.ValueAfter = "0"
		snapshot.ShareSupply = "0"
	} else {
		snapshot.ValueBefore = result.ValueBefore.String()
		snapshot.ValueAfter = result.ValueAfter.String()
		snapshot.ShareSupply = result.ShareSupply.String()
	}

	if d.persist {
		if id, saveErr := state.SaveRebalanceSnapshot(snapshot); saveErr != nil {
			d.logger.Error().Err(saveErr).Msg("Failed to persist rebalance snapshot")
		} else {
			snapshot.SnapshotID = id
		}
	}

	return snapshot, err
}
