package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Token0 and Token1 are the managed pair, Token0 being the lower-sorted
	// asset on the venue.
	Token0 common.Address
	Token1 common.Address
	// Decimals0/Decimals1 are the raw fixed-point precisions of the pair.
	Decimals0 uint8
	Decimals1 uint8
	// ShareDecimals is the fixed-point precision of vault shares.
	ShareDecimals uint8

	// BaseIn0 selects which asset denominates bootstrap pricing and the
	// rebalance deviation checks.
	BaseIn0 bool
	// BaseIsNative marks the base asset as the wrapped-native token.
	BaseIsNative bool

	// DatumLowerBound/DatumUpperBound are the basis-point tolerance band
	// around the oracle datum.
	DatumLowerBound uint16
	DatumUpperBound uint16
	// DatumHeartbeat is the maximum accepted oracle reading age.
	DatumHeartbeat time.Duration

	// PerformanceFeeBps is the fee on new profit, in basis points.
	PerformanceFeeBps uint16
	// ReviewFrequency is the performance-review cooldown.
	ReviewFrequency time.Duration
	// ReviewSchedule is the cron expression driving scheduled reviews.
	ReviewSchedule string
	// Payout receives claimed performance fees.
	Payout common.Address

	// DeviationMinBps/DeviationMaxBps bound how much a rebalance may move the
	// vault's base-asset valuation.
	DeviationMinBps uint16
	DeviationMaxBps uint16

	// ShareLockDuration is the teller's post-deposit transfer lock.
	ShareLockDuration time.Duration
)

// Endpoint configuration.
var (
	// PriceFeedURL is the HTTP JSON price feed the datum polls.
	PriceFeedURL string
	// PriceFeedDecimals is the feed's fixed-point precision.
	PriceFeedDecimals uint8
	// ListenAddr is the ops API bind address.
	ListenAddr string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Token0, err = getEnvAsAddress("FLUX_TOKEN0")
	if err != nil {
		return err
	}
	Token1, err = getEnvAsAddress("FLUX_TOKEN1")
	if err != nil {
		return err
	}
	Decimals0, err = getEnvAsUint8("FLUX_DECIMALS0")
	if err != nil {
		return err
	}
	Decimals1, err = getEnvAsUint8("FLUX_DECIMALS1")
	if err != nil {
		return err
	}
	ShareDecimals, err = getEnvAsUint8("FLUX_SHARE_DECIMALS")
	if err != nil {
		return err
	}

	BaseIn0, err = getEnvAsBool("FLUX_BASE_IN_0")
	if err != nil {
		return err
	}
	BaseIsNative, err = getEnvAsBool("FLUX_BASE_IS_NATIVE")
	if err != nil {
		return err
	}

	DatumLowerBound, err = getEnvAsUint16("FLUX_DATUM_LOWER_BPS")
	if err != nil {
		return err
	}
	DatumUpperBound, err = getEnvAsUint16("FLUX_DATUM_UPPER_BPS")
	if err != nil {
		return err
	}
	DatumHeartbeat, err = getEnvAsDuration("FLUX_DATUM_HEARTBEAT")
	if err != nil {
		return err
	}

	PerformanceFeeBps, err = getEnvAsUint16("FLUX_PERFORMANCE_FEE_BPS")
	if err != nil {
		return err
	}
	ReviewFrequency, err = getEnvAsDuration("FLUX_REVIEW_FREQUENCY")
	if err != nil {
		return err
	}
	ReviewSchedule, err = getEnv("FLUX_REVIEW_SCHEDULE")
	if err != nil {
		return err
	}
	Payout, err = getEnvAsAddress("FLUX_PAYOUT")
	if err != nil {
		return err
	}

	DeviationMinBps, err = getEnvAsUint16("FLUX_DEVIATION_MIN_BPS")
	if err != nil {
		return err
	}
	DeviationMaxBps, err = getEnvAsUint16("FLUX_DEVIATION_MAX_BPS")
	if err != nil {
		return err
	}

	ShareLockDuration, err = getEnvAsDuration("FLUX_SHARE_LOCK_DURATION")
	if err != nil {
		return err
	}

	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("Token0", Token0.Hex()).
		Str("Token1", Token1.Hex()).
		Bool("BaseIn0", BaseIn0).
		Msg("Configuration loaded successfully.")

	return nil
}

// loadEndpointConfig loads endpoint configuration from environment variables.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	PriceFeedURL, err = getEnv("FLUX_PRICE_FEED_URL")
	if err != nil {
		return err
	}
	PriceFeedDecimals, err = getEnvAsUint8("FLUX_PRICE_FEED_DECIMALS")
	if err != nil {
		return err
	}
	ListenAddr, err = getEnv("FLUX_LISTEN_ADDR")
	if err != nil {
		return err
	}

	log.Debug().
		Str("PriceFeedURL", PriceFeedURL).
		Str("ListenAddr", ListenAddr).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint8 retrieves an environment variable as a uint8.
func getEnvAsUint8(key string) (uint8, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 8)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint8, got: " + valueStr)
	}
	return uint8(value), nil
}

// getEnvAsUint16 retrieves an environment variable as a uint16.
func getEnvAsUint16(key string) (uint16, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 16)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint16, got: " + valueStr)
	}
	return uint16(value), nil
}

// getEnvAsBool retrieves an environment variable as a bool.
func getEnvAsBool(key string) (bool, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return false, err
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDuration retrieves an environment variable as a time.Duration.
func getEnvAsDuration(key string) (time.Duration, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsAddress retrieves an environment variable as a hex address.
func getEnvAsAddress(key string) (common.Address, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(valueStr) {
		return common.Address{}, errors.New("environment variable " + key + " must be a valid hex address, got: " + valueStr)
	}
	return common.HexToAddress(valueStr), nil
}
