package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/api"
	"futures-trading-engine/internal/auth"
	"futures-trading-engine/internal/bot"
	"futures-trading-engine/internal/database"
	"futures-trading-engine/internal/engine"
	"futures-trading-engine/internal/events"
	"futures-trading-engine/internal/exchange"
	"futures-trading-engine/internal/logging"
	"futures-trading-engine/internal/monitor"
	"futures-trading-engine/internal/notification"
	"futures-trading-engine/internal/position"
	"futures-trading-engine/internal/request"
	"futures-trading-engine/internal/risk"
	tradesignal "futures-trading-engine/internal/signal"
	"futures-trading-engine/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LoggingConfig)
	logger.Info().Bool("dry_run", cfg.ExchangeConfig.DryRun).Msg("Starting futures trading engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	notifier := notification.NewManager(cfg.NotificationConfig, logger)

	// Exchange credentials come from Vault when enabled, from config
	// otherwise.
	vaultClient, err := vault.NewClient(cfg.VaultConfig, vault.Credentials{
		APIKey:    cfg.ExchangeConfig.APIKey,
		SecretKey: cfg.ExchangeConfig.SecretKey,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create vault client")
	}

	var adapter exchange.Adapter
	if cfg.ExchangeConfig.DryRun {
		adapter = exchange.NewMockAdapter(10000, nil)
		logger.Info().Msg("Dry run: using mock exchange adapter")
	} else {
		creds, err := vaultClient.ExchangeCredentials(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load exchange credentials")
		}
		adapter = exchange.NewBinanceAdapter(creds.APIKey, creds.SecretKey, cfg.ExchangeConfig.TestNet)
	}

	// Every exchange call goes through the serialized request layer.
	layer := request.New(request.Config{
		MaxAttempts:       cfg.RequestConfig.MaxAttempts,
		BaseDelay:         cfg.RequestConfig.BaseDelay,
		RateLimitCooldown: cfg.RequestConfig.RateLimitCooldown,
		MinInterval:       cfg.RequestConfig.MinInterval,
		QueueSize:         cfg.RequestConfig.QueueSize,
	}, logger)
	hardened := request.NewExchange(layer, adapter)

	var store position.Store
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(cfg.DatabaseConfig, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		store = database.NewPostgresStore(db)
	} else {
		store = position.NewMemoryStore()
		logger.Warn().Msg("Database disabled, positions held in memory only")
	}

	redisClient := database.NewRedisClient(cfg.RedisConfig)
	snapshots := database.NewRedisSnapshotRepository(redisClient, logger)
	if cfg.RedisConfig.Enabled && !snapshots.Available() {
		logger.Warn().Msg("Trailing snapshots will not survive restarts until Redis recovers")
	}

	riskMgr := risk.NewManager(cfg.RiskConfig, logger)
	trailing := risk.NewTrailingTracker(cfg.TrailingConfig, logger)

	eng := engine.New(cfg.EngineConfig, hardened, store, riskMgr, trailing, bus, notifier, logger)

	var source tradesignal.Source
	if cfg.EngineConfig.SignalSource == "crossover" {
		source = tradesignal.NewCrossoverSource(tradesignal.CrossoverConfig{}, hardened, logger)
	}

	mon := monitor.New(cfg.MonitorConfig, hardened, store, eng, trailing, source, snapshots, bus, logger)
	trader := bot.New(cfg, layer, hardened, eng, mon, store, trailing, source, snapshots, bus, logger)
	if err := trader.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start trading bot")
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		authMgr := auth.NewManager(cfg.AuthConfig)
		server = api.NewServer(cfg.ServerConfig, trader, authMgr, bus, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("API server failed")
				cancel()
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
	}

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("API server shutdown failed")
		}
	}

	trader.Stop()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info().Msg("Shutdown complete")
}
