// Package config provides configuration management for the risk daemon.
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Load from environment variables
// 3. Load rule parameters from the rules file (YAML); the account list
//    comes from the RISKD_ACCOUNTS environment variable
//
// This mirrors the teacher's env-then-settings-override loading order, with
// the settings-database layer replaced by a rules file since this daemon has
// no admin UI to write settings back through (§1 Non-goal: admin CLI).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/riskguard/internal/rerr"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	DataDir string // Base directory for the durable store and holiday calendar file
	Port    int    // Admin HTTP server port
	LogLevel string
	DevMode bool

	Accounts []int64 // accounts to supervise

	ResetScheduler ResetSchedulerConfig
	ContractCache  ContractCacheConfig
	QuoteStaleness time.Duration
	Executor       ExecutorConfig
	Rules          RulesConfig

	// CredentialProvider is opaque to the core per §6; it is resolved by
	// whatever concrete brokerage client implementation is wired in, not by
	// this package.
	BrokerageAPIKey      string
	BrokerageAPISecret   string
	BrokerageRESTURL     string
	BrokerageUserHubURL  string
	BrokerageMarketHubURL string
}

// ResetSchedulerConfig is the §6 "Reset scheduler" configuration block.
type ResetSchedulerConfig struct {
	Hour        int
	Minute      int
	Zone        string
	HolidaysPath string
}

// ContractCacheConfig is the §6 "Contract cache" configuration block.
type ContractCacheConfig struct {
	MaxSize    int
	TTLSeconds int
}

// ExecutorConfig is the §6 "Executor retry" configuration block.
type ExecutorConfig struct {
	Attempts     int
	BaseDelayMs  int
	MaxDelayMs   int
	RatePerSec   float64
	ShutdownGraceSeconds int
}

// RulesConfig holds the per-rule toggle/parameter blocks matching §4.11's
// columns. Each rule also carries an Enabled flag.
type RulesConfig struct {
	MaxContracts           MaxContractsConfig           `yaml:"max_contracts"`
	MaxContractsPerSymbol  MaxContractsPerSymbolConfig  `yaml:"max_contracts_per_symbol"`
	DailyRealizedLoss      DailyRealizedLossConfig      `yaml:"daily_realized_loss"`
	DailyUnrealizedLoss    DailyUnrealizedLossConfig    `yaml:"daily_unrealized_loss"`
	MaxUnrealizedProfit    MaxUnrealizedProfitConfig    `yaml:"max_unrealized_profit"`
	TradeFrequencyLimit    TradeFrequencyLimitConfig    `yaml:"trade_frequency_limit"`
	CooldownAfterLoss      CooldownAfterLossConfig      `yaml:"cooldown_after_loss"`
	NoStopLossGrace        NoStopLossGraceConfig        `yaml:"no_stop_loss_grace"`
	SessionBlockOutside    SessionBlockOutsideConfig    `yaml:"session_block_outside"`
	AuthLossGuard          AuthLossGuardConfig          `yaml:"auth_loss_guard"`
	SymbolBlocks           SymbolBlocksConfig           `yaml:"symbol_blocks"`
	TradeManagement        TradeManagementConfig        `yaml:"trade_management"`
}

type MaxContractsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Limit   int64  `yaml:"limit"`
	// CountType accepts "net" or "gross". "gross" currently aliases to "net"
	// per SPEC_FULL.md Open Question #1 (the source defines but does not use
	// a distinct gross-counting code path); this is documented, not silently
	// ignored.
	CountType string `yaml:"count_type"`

	// CloseAll and ReduceToLimit select the enforcement action and are
	// independent of Lockout, mirroring the source's close_all (default
	// true) / reduce_to_limit (default false) / lockout_on_breach (default
	// false) trio. ReduceToLimit takes precedence when both are set, same as
	// the source's enforce() only branching on reduce_to_limit.
	CloseAll      bool `yaml:"close_all"`
	ReduceToLimit bool `yaml:"reduce_to_limit"`
	Lockout       bool `yaml:"lockout"`
}

type MaxContractsPerSymbolConfig struct {
	Enabled             bool             `yaml:"enabled"`
	LimitsBySymbol      map[string]int64 `yaml:"limits_by_symbol"`
	UnknownSymbolAction string           `yaml:"unknown_symbol_action"` // "reject" or "allow"
}

type DailyRealizedLossConfig struct {
	Enabled   bool    `yaml:"enabled"`
	LossLimit float64 `yaml:"loss_limit"` // positive magnitude; breach when realized <= -LossLimit
}

type DailyUnrealizedLossConfig struct {
	Enabled   bool    `yaml:"enabled"`
	LossLimit float64 `yaml:"loss_limit"`
	Scope     string  `yaml:"scope"` // "per_position" or "total"
	Lockout   bool    `yaml:"lockout"`
}

type MaxUnrealizedProfitConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Mode          string  `yaml:"mode"` // "target" or "breakeven"
	ProfitTarget  float64 `yaml:"profit_target"`
}

type TradeFrequencyLimitConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxTrades       int           `yaml:"max_trades"`
	Window          string        `yaml:"window"` // "minute" or "hour"
	CooldownSeconds int           `yaml:"cooldown_seconds"`
}

// CooldownTier is one {lossAmount, cooldownDuration} entry in Rule 7's
// ladder. LossAmount is negative.
type CooldownTier struct {
	LossAmount      float64 `yaml:"loss_amount"`
	CooldownSeconds int     `yaml:"cooldown_seconds"`
}

type CooldownAfterLossConfig struct {
	Enabled bool           `yaml:"enabled"`
	Tiers   []CooldownTier `yaml:"tiers"`
}

type NoStopLossGraceConfig struct {
	Enabled            bool `yaml:"enabled"`
	GracePeriodSeconds int  `yaml:"grace_period_seconds"`
}

type SessionBlockOutsideConfig struct {
	Enabled bool   `yaml:"enabled"`
	Start   string `yaml:"start"` // HH:MM in Zone
	End     string `yaml:"end"`
	Zone    string `yaml:"zone"`
}

type AuthLossGuardConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SymbolBlocksConfig struct {
	Enabled       bool     `yaml:"enabled"`
	BlockedSymbols []string `yaml:"blocked_symbols"`
	CloseExisting bool     `yaml:"close_existing"`
	Lockout       bool     `yaml:"lockout"`
}

type TradeManagementConfig struct {
	Enabled       bool `yaml:"enabled"`
	StopLossTicks int  `yaml:"stop_loss_ticks"`
}

// Load reads configuration from environment variables and, if present, a
// rules YAML file.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("RISKD_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("RISKD_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		ResetScheduler: ResetSchedulerConfig{
			Hour:         getEnvAsInt("RISKD_RESET_HOUR", 17),
			Minute:       getEnvAsInt("RISKD_RESET_MINUTE", 0),
			Zone:         getEnv("RISKD_RESET_ZONE", "America/New_York"),
			HolidaysPath: getEnv("RISKD_HOLIDAYS_PATH", filepath.Join(absDataDir, "holidays.yaml")),
		},
		ContractCache: ContractCacheConfig{
			MaxSize:    getEnvAsInt("RISKD_CONTRACT_CACHE_MAX_SIZE", 1000),
			TTLSeconds: getEnvAsInt("RISKD_CONTRACT_CACHE_TTL_SECONDS", 3600),
		},
		QuoteStaleness: time.Duration(getEnvAsInt("RISKD_QUOTE_STALE_SECONDS", 10)) * time.Second,
		Executor: ExecutorConfig{
			Attempts:             getEnvAsInt("RISKD_EXECUTOR_RETRY_ATTEMPTS", 3),
			BaseDelayMs:          getEnvAsInt("RISKD_EXECUTOR_BASE_DELAY_MS", 200),
			MaxDelayMs:           getEnvAsInt("RISKD_EXECUTOR_MAX_DELAY_MS", 5000),
			RatePerSec:           10,
			ShutdownGraceSeconds: getEnvAsInt("RISKD_SHUTDOWN_GRACE_SECONDS", 10),
		},
		BrokerageAPIKey:       getEnv("BROKERAGE_API_KEY", ""),
		BrokerageAPISecret:    getEnv("BROKERAGE_API_SECRET", ""),
		BrokerageRESTURL:      getEnv("BROKERAGE_REST_URL", "http://localhost:9000"),
		BrokerageUserHubURL:   getEnv("BROKERAGE_USER_HUB_URL", "ws://localhost:9001/user"),
		BrokerageMarketHubURL: getEnv("BROKERAGE_MARKET_HUB_URL", "ws://localhost:9001/market"),
	}

	accounts, err := parseAccounts(getEnv("RISKD_ACCOUNTS", ""))
	if err != nil {
		return nil, rerr.ConfigInvalid("accounts", err.Error())
	}
	cfg.Accounts = accounts

	rulesPath := getEnv("RISKD_RULES_PATH", "")
	if rulesPath != "" {
		if err := cfg.loadRulesFile(rulesPath); err != nil {
			return nil, err
		}
	} else {
		cfg.Rules = defaultRulesConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadRulesFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return rerr.ConfigInvalid("rules_path", err.Error())
	}
	var rules RulesConfig
	if err := yaml.Unmarshal(content, &rules); err != nil {
		return rerr.ConfigInvalid("rules_path", err.Error())
	}
	c.Rules = rules
	return nil
}

func defaultRulesConfig() RulesConfig {
	return RulesConfig{
		MaxContracts: MaxContractsConfig{Enabled: true, Limit: 10, CountType: "net", CloseAll: true, ReduceToLimit: false, Lockout: false},
	}
}

// Validate checks that required configuration is internally consistent.
// Per §7, a rule-config validation failure refuses to start and names the
// field path.
func (c *Config) Validate() error {
	if c.ResetScheduler.Hour < 0 || c.ResetScheduler.Hour > 23 {
		return rerr.ConfigInvalid("reset_scheduler.hour", "must be 0-23")
	}
	if c.ResetScheduler.Minute < 0 || c.ResetScheduler.Minute > 59 {
		return rerr.ConfigInvalid("reset_scheduler.minute", "must be 0-59")
	}
	if _, err := time.LoadLocation(c.ResetScheduler.Zone); err != nil {
		return rerr.ConfigInvalid("reset_scheduler.zone", err.Error())
	}
	if c.ContractCache.MaxSize <= 0 {
		return rerr.ConfigInvalid("contract_cache.max_size", "must be positive")
	}
	if c.Rules.MaxContracts.Enabled && c.Rules.MaxContracts.Limit <= 0 {
		return rerr.ConfigInvalid("rules.max_contracts.limit", "must be positive when enabled")
	}
	if ct := c.Rules.MaxContracts.CountType; ct != "" && ct != "net" && ct != "gross" {
		return rerr.ConfigInvalid("rules.max_contracts.count_type", "must be net or gross")
	}
	return nil
}

func parseAccounts(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var out []int64
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			seg := raw[start:i]
			start = i + 1
			if seg == "" {
				continue
			}
			n, err := strconv.ParseInt(seg, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid account id %q: %w", seg, err)
			}
			out = append(out, n)
		}
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
