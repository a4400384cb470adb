package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/fluxvault/fluxd/internal/auth"
	"github.com/fluxvault/fluxd/internal/config"
	"github.com/fluxvault/fluxd/internal/daemon"
	"github.com/fluxvault/fluxd/internal/datum"
	"github.com/fluxvault/fluxd/internal/flux"
	"github.com/fluxvault/fluxd/internal/logger"
	"github.com/fluxvault/fluxd/internal/oracle"
	"github.com/fluxvault/fluxd/internal/state"
	"github.com/fluxvault/fluxd/internal/types"
	"github.com/fluxvault/fluxd/internal/vault"
	"github.com/fluxvault/fluxd/internal/venue"
	"github.com/fluxvault/fluxd/internal/web"
)

// main is the entry point for the fluxd manager daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("fluxd starting...")

	// Initialize database connection for audit records
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Datum Wiring ---
	feed, err := oracle.NewHTTPFeed(config.PriceFeedURL, config.PriceFeedDecimals)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create price feed")
	}
	priceDatum, err := datum.New(datum.Config{
		Source:    feed,
		Heartbeat: config.DatumHeartbeat,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create price datum")
	}

	// --- 3. Vault and Venue Wiring (with Safety Switch) ---
	operator, err := requiredAddressEnv("FLUX_OPERATOR")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read operator address")
	}

	fluxMode := os.Getenv("FLUX_MODE")
	if fluxMode != "sim" {
		// A live venue adapter submits batches as real transactions; until one
		// is wired the daemon refuses to start in anything but sim mode.
		log.Fatal().Msg("FLUX_MODE is not set to 'sim'. Halting to prevent accidental execution. Set FLUX_MODE=sim to run against the simulated venue.")
	}
	log.Warn().Msg("Initializing fluxd in SIM mode. All venue interactions are simulated in memory.")

	wrappedNative := common.Address{}
	if config.BaseIsNative {
		if config.BaseIn0 {
			wrappedNative = config.Token0
		} else {
			wrappedNative = config.Token1
		}
	}
	memVault := vault.NewMemory(config.ShareDecimals, wrappedNative)

	initialRate, err := priceDatum.GetDatum()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read initial datum for the simulated venue")
	}
	book := &vault.PairBook{Vault: memVault, Token0: config.Token0, Token1: config.Token1}
	simVenue, err := venue.NewSimulator(book, venue.RawPrice(initialRate, priceDatum.Decimals(), config.Decimals0, config.Decimals1), 30)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create simulated venue")
	}

	// --- 4. Manager Wiring ---
	roles := auth.NewRoleTable()
	for _, op := range []string{
		auth.OpRebalance, auth.OpReviewPerformance, auth.OpClaimFees,
		auth.OpSwitchMetric, auth.OpResetWatermark, auth.OpConfigure, auth.OpPause,
	} {
		roles.Grant(operator, op)
	}

	manager, err := flux.NewManager(flux.Config{
		Authorizer:      roles,
		Vault:           memVault,
		Venue:           simVenue,
		Datum:           priceDatum,
		Token0:          config.Token0,
		Token1:          config.Token1,
		Decimals0:       config.Decimals0,
		Decimals1:       config.Decimals1,
		BaseIn0:         config.BaseIn0,
		BaseIsNative:    config.BaseIsNative,
		DatumLowerBound: config.DatumLowerBound,
		DatumUpperBound: config.DatumUpperBound,
		DeviationMin:    config.DeviationMinBps,
		DeviationMax:    config.DeviationMaxBps,
		PerformanceFee:  config.PerformanceFeeBps,
		ReviewFrequency: config.ReviewFrequency,
		Payout:          config.Payout,
		Metric:          types.MetricLiquidity,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create flux manager")
	}

	// --- 5. Daemon and Web Server ---
	d, err := daemon.NewDaemon(daemon.Config{
		Manager:        manager,
		Datum:          priceDatum,
		Operator:       operator,
		ReviewSchedule: config.ReviewSchedule,
		Persist:        true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create daemon")
	}

	// A plan file supplied at startup is executed once before the loop runs.
	if planFile := os.Getenv("FLUX_PLAN_FILE"); planFile != "" {
		snapshot, err := d.ExecutePlanFile(planFile)
		if err != nil {
			log.Error().Err(err).Str("file", planFile).Msg("Startup plan execution failed")
		} else {
			log.Info().Str("batchId", snapshot.BatchID).Msg("Startup plan executed")
		}
	}

	server := web.NewServer(config.ListenAddr, manager, d)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed")
		}
	}()

	// --- 6. Run Until Signalled ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := d.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Daemon loop failed")
	}
	log.Info().Msg("fluxd stopped")
}

// mustAtoi converts a string to int with a default value.
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}

func requiredAddressEnv(key string) (common.Address, error) {
	value := os.Getenv(key)
	if !common.IsHexAddress(value) {
		return common.Address{}, &invalidAddressError{key: key, value: value}
	}
	return common.HexToAddress(value), nil
}

type invalidAddressError struct {
	key   string
	value string
}

func (e *invalidAddressError) Error() string {
	return "environment variable " + e.key + " must be a valid hex address, got: " + e.value
}
