package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Global config instance
var global *Config

// Config process-level configuration (loaded from .env)
// Only truly global settings live here; per-strategy settings are in grid.StrategyConfig
type Config struct {
	// Service
	APIServerPort int
	DBPath        string
	LogLevel      string
	LogFile       string

	// Venue
	BinanceAPIKey    string
	BinanceSecretKey string
	PaperTrading     bool

	// Notifications
	TelegramToken  string
	TelegramChatID int64

	// Engine cadence
	ReconcileInterval  time.Duration
	TransitionInterval time.Duration

	// Strategy defaults applied to every configured pair
	Pairs             []string
	TotalCapital      float64 // per pair, quote units
	GridLevels        int
	PriceRangePercent float64
	StopLossPercent   float64
	TrailingUp        bool
	MinOrderValue     float64
}

// Init initializes global configuration from environment variables
func Init() {
	cfg := &Config{
		APIServerPort:      8080,
		DBPath:             "data/gridbot.db",
		LogLevel:           "info",
		ReconcileInterval:  10 * time.Second,
		TransitionInterval: time.Hour,
		TotalCapital:       1000,
		GridLevels:         30,
		PriceRangePercent:  10.0,
		StopLossPercent:    5.0,
		TrailingUp:         true,
		MinOrderValue:      10.0,
	}

	if v := os.Getenv("API_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.APIServerPort = port
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = strings.TrimSpace(v)
	}

	cfg.BinanceAPIKey = strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	cfg.BinanceSecretKey = strings.TrimSpace(os.Getenv("BINANCE_SECRET_KEY"))
	if v := os.Getenv("PAPER_TRADING"); v != "" {
		cfg.PaperTrading = strings.ToLower(v) == "true"
	}

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = id
		}
	}

	if v := os.Getenv("RECONCILE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReconcileInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("TRANSITION_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TransitionInterval = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("GRID_PAIRS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Pairs = append(cfg.Pairs, p)
			}
		}
	}
	if v := os.Getenv("GRID_TOTAL_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.TotalCapital = f
		}
	}
	if v := os.Getenv("GRID_LEVELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GridLevels = n
		}
	}
	if v := os.Getenv("GRID_PRICE_RANGE_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.PriceRangePercent = f
		}
	}
	if v := os.Getenv("GRID_STOP_LOSS_PERCENT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.StopLossPercent = f
		}
	}
	if v := os.Getenv("GRID_TRAILING_UP"); v != "" {
		cfg.TrailingUp = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("GRID_MIN_ORDER_VALUE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.MinOrderValue = f
		}
	}

	global = cfg
}

// Get returns the global configuration
func Get() *Config {
	if global == nil {
		Init()
	}
	return global
}
