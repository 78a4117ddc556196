// Command riskd is the real-time risk-enforcement daemon. It loads
// configuration, opens the durable store, wires every component through
// internal/wiring, and runs until SIGINT/SIGTERM, shutting down gracefully
// so in-flight enforcement actions finish first.
//
// Grounded on the teacher's cmd/server/main.go: logger first, config load,
// store open, component construction, background start, signal wait,
// bounded-context shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/riskguard/internal/brokerageclient"
	"github.com/aristath/riskguard/internal/config"
	"github.com/aristath/riskguard/internal/wiring"
	"github.com/aristath/riskguard/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	logger.SetGlobalLogger(log)

	log.Info().Msg("starting riskd")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log.Info().Str("level", cfg.LogLevel).Bool("dev_mode", cfg.DevMode).Msg("configuration loaded")

	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)

	rest := brokerageclient.New(cfg.BrokerageRESTURL, log)

	container, err := wiring.Build(cfg, log, wiring.Brokerage{
		REST:              rest,
		UserHubURL:        cfg.BrokerageUserHubURL,
		MarketHubURL:      cfg.BrokerageMarketHubURL,
		DecodeUserFrame:   brokerageclient.DecodeUserFrame,
		DecodeMarketFrame: brokerageclient.DecodeMarketFrame,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire components")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	container.Run(ctx)

	log.Info().Int("port", cfg.Port).Ints64("accounts", cfg.Accounts).Msg("riskd started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down riskd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := container.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}

	log.Info().Msg("riskd stopped")
}
