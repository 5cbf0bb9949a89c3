// Package config defines all configuration for the perpetual-futures trading
// engine. Config is loaded from a YAML file (default: configs/config.yaml)
// with sensitive fields overridable via PERP_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Venue     VenueConfig     `mapstructure:"venue"`
	Decision  DecisionConfig  `mapstructure:"decision"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// VenueConfig holds the HTTP/WS endpoints and agent credential used to reach
// the trading venue. AgentKey is never the user's master wallet key — it
// signs only as a delegated agent (see pkg/types.AgentCredential) and the
// actual signing happens out of process (VenueConfig.SignerPath).
type VenueConfig struct {
	InfoBaseURL     string `mapstructure:"info_base_url"`
	WSMarketURL     string `mapstructure:"ws_market_url"`
	UserWallet      string `mapstructure:"user_wallet"`
	AgentAddress    string `mapstructure:"agent_address"`
	AgentKey        string `mapstructure:"agent_key"`
	SignerPath      string `mapstructure:"signer_path"` // subprocess that performs the actual signing
	NetworkMode     string `mapstructure:"network_mode"` // paper | testnet | mainnet
}

// DecisionConfig tunes the confluence-scoring decision engine (C4). The
// tick cadence itself is not configurable here: it's mode-dependent
// (decision.TickInterval(mode)), per spec.md §4.4.
//
//   - Mode: aggressive | moderate | conservative, selects tick interval and thresholds.
//   - MinConfirmations: minimum number of aligned confluence votes required to
//     act, seeded into a new wallet's Settings; 0 keeps the mode default.
//   - UseDynamicSizing: not read by the engine; Kelly-fraction/drawdown-aware
//     sizing always runs.
//   - CorrelationGroups: not read by the engine; the correlation check always
//     uses the decision package's fixed groups.
type DecisionConfig struct {
	Mode              string     `mapstructure:"mode"`
	MinConfirmations  float64    `mapstructure:"min_confirmations"`
	UseDynamicSizing  bool       `mapstructure:"use_dynamic_sizing"`
	CorrelationGroups [][]string `mapstructure:"correlation_groups"`
}

// RiskConfig sets hard limits enforced by the safety/control plane (C7).
//
//   - MaxDailyLossPct: max combined daily loss (pct of equity) before kill switch.
//   - MaxDrawdownPct: not read by the engine; the drawdown gate uses the
//     per-user Settings.MaxDrawdownPct.
//   - CooldownAfterKill: not read by the engine; the kill switch stays
//     engaged until reset with the confirmation phrase.
//   - AssetCooldown: not read by the engine; the per-asset cooldown is
//     safety.DefaultAssetCooldown.
type RiskConfig struct {
	MaxDailyLossPct   float64       `mapstructure:"max_daily_loss_pct"`
	MaxDrawdownPct    float64       `mapstructure:"max_drawdown_pct"`
	CooldownAfterKill time.Duration `mapstructure:"cooldown_after_kill"`
	AssetCooldown     time.Duration `mapstructure:"asset_cooldown"`
}

// SentimentConfig tunes the LLM sentiment gate (C8), which is strictly
// rate-limited and never required for a trade decision to proceed.
type SentimentConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	DailyLimit      int           `mapstructure:"daily_limit"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	MinScoreToQuery float64       `mapstructure:"min_score_to_query"`
	MaxVolatility   float64       `mapstructure:"max_volatility"`
}

// StoreConfig sets where settings/trade/agent data is persisted (JSON files).
// EncryptionKeyHex is the hex-encoded 32-byte key used to seal agent
// signing keys at rest (see internal/store's JSONAgentStore); overridable
// via PERP_STORE_ENCRYPTION_KEY.
type StoreConfig struct {
	DataDir          string `mapstructure:"data_dir"`
	EncryptionKeyHex string `mapstructure:"encryption_key_hex"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the status and control-plane HTTP server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: PERP_AGENT_KEY, PERP_SENTIMENT_API_KEY, PERP_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("PERP_AGENT_KEY"); key != "" {
		cfg.Venue.AgentKey = key
	}
	if key := os.Getenv("PERP_SENTIMENT_API_KEY"); key != "" {
		cfg.Sentiment.APIKey = key
	}
	if os.Getenv("PERP_DRY_RUN") == "true" || os.Getenv("PERP_DRY_RUN") == "1" {
		cfg.DryRun = true
	}
	if key := os.Getenv("PERP_STORE_ENCRYPTION_KEY"); key != "" {
		cfg.Store.EncryptionKeyHex = key
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Venue.InfoBaseURL == "" {
		return fmt.Errorf("venue.info_base_url is required")
	}
	if c.Venue.WSMarketURL == "" {
		return fmt.Errorf("venue.ws_market_url is required")
	}
	if !c.DryRun {
		if c.Venue.AgentAddress == "" {
			return fmt.Errorf("venue.agent_address is required unless dry_run is set")
		}
		if c.Venue.AgentKey == "" {
			return fmt.Errorf("venue.agent_key is required unless dry_run is set (set PERP_AGENT_KEY)")
		}
		if c.Venue.SignerPath == "" {
			return fmt.Errorf("venue.signer_path is required unless dry_run is set")
		}
	}
	switch c.Venue.NetworkMode {
	case "paper", "testnet", "mainnet":
	default:
		return fmt.Errorf("venue.network_mode must be one of: paper, testnet, mainnet")
	}
	switch c.Decision.Mode {
	case "aggressive", "moderate", "conservative":
	default:
		return fmt.Errorf("decision.mode must be one of: aggressive, moderate, conservative")
	}
	if c.Risk.MaxDailyLossPct <= 0 {
		return fmt.Errorf("risk.max_daily_loss_pct must be > 0")
	}
	if c.Sentiment.Enabled && c.Sentiment.APIKey == "" {
		return fmt.Errorf("sentiment.api_key is required when sentiment.enabled is true (set PERP_SENTIMENT_API_KEY)")
	}
	if c.Sentiment.Enabled && c.Sentiment.BaseURL == "" {
		return fmt.Errorf("sentiment.base_url is required when sentiment.enabled is true")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if !c.DryRun && c.Store.EncryptionKeyHex == "" {
		return fmt.Errorf("store.encryption_key_hex is required unless dry_run is set (set PERP_STORE_ENCRYPTION_KEY)")
	}
	return nil
}
