package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/dragonfarm/farmd/internal/chef"
	"github.com/dragonfarm/farmd/internal/config"
	"github.com/dragonfarm/farmd/internal/logger"
	"github.com/dragonfarm/farmd/internal/nest"
	"github.com/dragonfarm/farmd/internal/state"
	"github.com/dragonfarm/farmd/internal/token"
	"github.com/dragonfarm/farmd/internal/types"
	"github.com/dragonfarm/farmd/internal/vault"
	"github.com/dragonfarm/farmd/internal/web"
)

const (
	chefEscrow = types.Account("chef:escrow")
	nestEscrow = types.Account("nest:escrow")
)

// main is the entry point for the farm ledger daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Farm ledger starting...")

	// The daemon runs the ledger against in-memory capabilities; real
	// token and DEX backends live outside this process. Halt unless that
	// was asked for explicitly.
	if os.Getenv("FARM_MODE") != "dev" {
		log.Fatal().Msg("FARM_MODE is not set to 'dev'. Halting to prevent accidental execution with in-memory capabilities. Set FARM_MODE=dev to run.")
	}

	// --- 2. Event sinks ---
	memJournal := state.NewMemJournal(4096)
	sinks := state.TeeSink{state.NewLogSink(), memJournal}

	if os.Getenv("DB_HOST") != "" {
		dbCfg := state.DBConfig{
			Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
			User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
			DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
		}
		pgJournal, err := state.OpenPGJournal(dbCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open event journal database")
		}
		defer pgJournal.Close()
		sinks = append(sinks, pgJournal)
	}

	// --- 3. Ledger aggregates ---
	clock := types.SystemClock{}
	assets := token.NewMemLedger()
	nfts := token.NewMemCollection()

	feeNest, err := nest.New(nest.Config{
		Account: nestEscrow,
		Clock:   clock,
		Assets:  assets,
		NFTs:    nfts,
		Events:  sinks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create fee nest")
	}

	engine, err := chef.New(chef.Config{
		RewardAsset:      types.AssetID(config.RewardAsset),
		EmissionRate:     config.EmissionRate,
		RewardPeriod:     config.RewardPeriod,
		StartAt:          config.StartAt,
		DevFeeBps:        config.DevFeeBps,
		MaxDepositFeeBps: config.MaxDepositFeeBps,
		Account:          chefEscrow,
		DevAccount:       types.Account(config.DevAccount),
		Clock:            clock,
		Assets:           assets,
		Fees:             feeNest,
		Events:           sinks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create reward engine")
	}

	vaults, err := vault.New(vault.Config{
		Clock:  clock,
		Assets: assets,
		Events: sinks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault registry")
	}

	// --- 4. Web query surface ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}
	webServer := web.NewWebServer(webPort, engine, feeNest, vaults, memJournal, config.AssetDecimals)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting farm query API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	log.Info().
		Str("rewardAsset", config.RewardAsset).
		Str("emissionRate", config.EmissionRate.String()).
		Uint64("rewardPeriod", config.RewardPeriod).
		Msg("Farm ledger running")

	// --- 5. Block until shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down farm ledger")
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
