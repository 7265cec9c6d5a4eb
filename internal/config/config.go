package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/dragonfarm/farmd/internal/utils"
)

// Engine configuration loaded from environment variables at startup.
var (
	// RewardAsset is the asset identifier of the emitted reward token.
	RewardAsset string
	// AssetDecimals is the number of fractional digits in the reward
	// asset's display unit.
	AssetDecimals int

	// EmissionRate is the reward emitted per reward period, in base units.
	// The environment value is given in display units and scaled by
	// AssetDecimals.
	EmissionRate sdkmath.Int
	// RewardPeriod is the number of counter units per reward period. A
	// period of 1 with a block-height clock reproduces per-block accrual.
	RewardPeriod uint64
	// StartAt is the counter value at which accrual begins.
	StartAt uint64

	// DevFeeBps is the emission cut routed to the dev account, in basis points.
	DevFeeBps uint32
	// MaxDepositFeeBps caps the per-pool deposit fee.
	MaxDepositFeeBps uint32

	// DevAccount receives the dev cut of every settlement.
	DevAccount string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. All listed variables are required.
func LoadConfig() error {
	log.Info().Msg("Loading farm configuration from environment variables...")

	var err error

	RewardAsset, err = getEnv("FARM_REWARD_ASSET")
	if err != nil {
		return err
	}

	decimals, err := getEnvAsUint64("FARM_ASSET_DECIMALS")
	if err != nil {
		return err
	}
	if decimals > 18 {
		return errors.New("FARM_ASSET_DECIMALS must not exceed 18")
	}
	AssetDecimals = int(decimals)

	rateStr, err := getEnv("FARM_EMISSION_RATE")
	if err != nil {
		return err
	}
	EmissionRate, err = utils.ParseUnits(rateStr, AssetDecimals)
	if err != nil {
		return fmt.Errorf("FARM_EMISSION_RATE: %w", err)
	}

	RewardPeriod, err = getEnvAsUint64("FARM_REWARD_PERIOD")
	if err != nil {
		return err
	}
	if RewardPeriod == 0 {
		return errors.New("FARM_REWARD_PERIOD must be positive")
	}

	StartAt, err = getEnvAsUint64("FARM_START_AT")
	if err != nil {
		return err
	}

	devBps, err := getEnvAsUint64("FARM_DEV_FEE_BPS")
	if err != nil {
		return err
	}
	maxFeeBps, err := getEnvAsUint64("FARM_MAX_DEPOSIT_FEE_BPS")
	if err != nil {
		return err
	}
	if devBps > 10000 || maxFeeBps > 10000 {
		return errors.New("basis point values must not exceed 10000")
	}
	DevFeeBps = uint32(devBps)
	MaxDepositFeeBps = uint32(maxFeeBps)

	DevAccount, err = getEnv("FARM_DEV_ACCOUNT")
	if err != nil {
		return err
	}

	log.Debug().
		Str("RewardAsset", RewardAsset).
		Str("EmissionRate", EmissionRate.String()).
		Uint64("RewardPeriod", RewardPeriod).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}
