package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"gridbot/api"
	"gridbot/config"
	"gridbot/exchange"
	"gridbot/grid"
	"gridbot/logger"
	"gridbot/notify"
	"gridbot/store"
)

func main() {
	// Load .env (ignore if missing, env vars may be set directly)
	if err := godotenv.Load(); err != nil {
		logger.Info("📄 no .env file found, using environment variables")
	}

	config.Init()
	cfg := config.Get()

	if err := logger.Init(&logger.Config{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		logger.Fatalf("logger init failed: %v", err)
	}

	if len(cfg.Pairs) == 0 {
		logger.Fatal("GRID_PAIRS is empty, nothing to trade")
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("store init failed: %v", err)
	}

	client := exchange.NewBinance(cfg.BinanceAPIKey, cfg.BinanceSecretKey, cfg.PaperTrading)

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			logger.Warnf("telegram notifier unavailable, falling back to log: %v", err)
		} else {
			notifier = tg
		}
	}

	// One ledger per process: the single arbiter across all strategies
	// sharing this exchange account
	ledger := grid.NewLedger()

	mode := grid.ModeLive
	if cfg.PaperTrading {
		mode = grid.ModePaper
	}

	ctx := context.Background()
	var engines []*grid.Engine
	for _, pair := range cfg.Pairs {
		strategyCfg := &grid.StrategyConfig{
			Pair:              pair,
			TotalCapital:      decimal.NewFromFloat(cfg.TotalCapital),
			GridLevels:        cfg.GridLevels,
			PriceRangePercent: decimal.NewFromFloat(cfg.PriceRangePercent),
			StopLossPercent:   decimal.NewFromFloat(cfg.StopLossPercent),
			TrailingUp:        cfg.TrailingUp,
			Mode:              mode,
			MinOrderValue:     decimal.NewFromFloat(cfg.MinOrderValue),
			PriceTick:         decimal.RequireFromString("0.01"),
			QtyStep:           decimal.RequireFromString("0.00001"),
		}
		e := grid.NewEngine(strategyCfg, client, ledger, st.Grid(), st.Decision(), notifier,
			cfg.ReconcileInterval, cfg.TransitionInterval)
		if err := e.StartWithRetry(ctx, 3, 5*time.Second); err != nil {
			logger.Errorf("engine for %s did not start: %v", pair, err)
			continue
		}
		engines = append(engines, e)
	}
	if len(engines) == 0 {
		logger.Fatal("no engine started, exiting")
	}

	apiServer := api.NewServer(engines, st, cfg.APIServerPort)
	if err := apiServer.Start(); err != nil {
		logger.Fatalf("API server start failed: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("📛 shutdown signal received, stopping...")

	for _, e := range engines {
		e.Stop()
	}

	if err := apiServer.Stop(); err != nil {
		logger.Warnf("API server shutdown: %v", err)
	}

	if err := st.Close(); err != nil {
		logger.Errorf("database close failed: %v", err)
	} else {
		logger.Info("💾 database closed, all state persisted")
	}
}
