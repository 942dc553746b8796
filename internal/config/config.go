// Package config loads and validates the bot's JSON configuration (spec
// §6), adapted from the teacher's viper-based Load/setDefaults pattern.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/fundingbot/fundingbot/internal/errs"
	"github.com/fundingbot/fundingbot/internal/risk"
)

// Config is the root configuration shape from spec §6.
type Config struct {
	BotName        string                    `mapstructure:"bot_name" json:"bot_name"`
	SimulationMode bool                      `mapstructure:"simulation_mode" json:"simulation_mode"`
	LogLevel       string                    `mapstructure:"log_level" json:"log_level"`
	LogFile        string                    `mapstructure:"log_file" json:"log_file"`
	Exchanges      map[string]ExchangeConfig `mapstructure:"exchanges" json:"exchanges"`
	Strategies     []StrategyConfig          `mapstructure:"strategies" json:"strategies"`
	RiskConfig     risk.Config               `mapstructure:"risk_config" json:"risk_config"`

	// Ambient: additive durability/observability, not part of spec §6's
	// persisted-state contract but carried per the ambient-stack rule.
	Database   DatabaseConfig   `mapstructure:"database" json:"database,omitempty"`
	Redis      RedisConfig      `mapstructure:"redis" json:"redis,omitempty"`
	NATS       NATSConfig       `mapstructure:"nats" json:"nats,omitempty"`
	API        APIConfig        `mapstructure:"api" json:"api,omitempty"`
	Vault      VaultConfig      `mapstructure:"vault" json:"vault,omitempty"`
	Telegram   TelegramConfig   `mapstructure:"telegram" json:"telegram,omitempty"`
}

// TelegramConfig configures the optional Telegram alert channel
// (internal/alerts.TelegramAlerter). Left with an empty BotToken, the
// engine falls back to log-only alerting.
type TelegramConfig struct {
	BotToken string  `mapstructure:"bot_token" json:"bot_token,omitempty"`
	ChatIDs  []int64 `mapstructure:"chat_ids" json:"chat_ids,omitempty"`
}

// ExchangeConfig is one venue's connection settings and credentials.
type ExchangeConfig struct {
	APIKey           string `mapstructure:"api_key" json:"api_key"`
	APISecret        string `mapstructure:"api_secret" json:"api_secret"`
	Passphrase       string `mapstructure:"passphrase" json:"passphrase,omitempty"`
	BaseURL          string `mapstructure:"base_url" json:"base_url,omitempty"`
	UseTestnet       bool   `mapstructure:"use_testnet" json:"use_testnet"`
	ConnectTimeoutMS int    `mapstructure:"connect_timeout_ms" json:"connect_timeout_ms"`
	RequestTimeoutMS int    `mapstructure:"request_timeout_ms" json:"request_timeout_ms"`
}

// ConnectTimeout and RequestTimeout convert the millisecond config
// fields into time.Duration for the venue adapters.
func (e ExchangeConfig) ConnectTimeout() time.Duration {
	return time.Duration(e.ConnectTimeoutMS) * time.Millisecond
}

func (e ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutMS) * time.Millisecond
}

// StrategyConfig selects and tunes one strategy variant (spec §4.4).
type StrategyConfig struct {
	Type               string  `mapstructure:"type" json:"type"` // same_venue_spot_perp, cross_venue_perp, cross_venue_spot_perp
	MinFundingRate      float64 `mapstructure:"min_funding_rate" json:"min_funding_rate"`
	MinExpectedProfit   float64 `mapstructure:"min_expected_profit" json:"min_expected_profit"`
	ScanIntervalSeconds int     `mapstructure:"scan_interval_seconds" json:"scan_interval_seconds"`
}

// DatabaseConfig contains optional Postgres settings for the additive
// durable store (internal/store.PostgresStore).
type DatabaseConfig struct {
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     int    `mapstructure:"port" json:"port,omitempty"`
	User     string `mapstructure:"user" json:"user,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	Database string `mapstructure:"database" json:"database,omitempty"`
	SSLMode  string `mapstructure:"ssl_mode" json:"ssl_mode,omitempty"`
	PoolSize int    `mapstructure:"pool_size" json:"pool_size,omitempty"`
}

func (c DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig contains optional Redis settings for the fee cache
// (internal/store.FeeCache).
type RedisConfig struct {
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     int    `mapstructure:"port" json:"port,omitempty"`
	Password string `mapstructure:"password" json:"password,omitempty"`
	DB       int    `mapstructure:"db" json:"db,omitempty"`
}

func (c RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig contains optional NATS settings for internal/bus. An
// empty URL means the engine runs without a bus publisher.
type NATSConfig struct {
	URL             string `mapstructure:"url" json:"url,omitempty"`
	Prefix          string `mapstructure:"prefix" json:"prefix,omitempty"`
	EnableJetStream bool   `mapstructure:"enable_jetstream" json:"enable_jetstream"`
}

// APIConfig contains the thin status/health HTTP surface settings.
type APIConfig struct {
	Host string `mapstructure:"host" json:"host,omitempty"`
	Port int    `mapstructure:"port" json:"port,omitempty"`
}

func (c APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads the bot's JSON config file plus FUNDINGBOT_-prefixed
// environment overrides, applying the same defaults the teacher's
// setDefaults establishes for its own config shape.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("bot_config")
		v.SetConfigType("json")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("json")

	v.AutomaticEnv()
	v.SetEnvPrefix("FUNDINGBOT")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range cfg.Strategies {
		if cfg.Strategies[i].ScanIntervalSeconds == 0 {
			cfg.Strategies[i].ScanIntervalSeconds = 60
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errs.New(errs.ConfigError, "config.Load", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot_name", "fundingbot")
	v.SetDefault("simulation_mode", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetDefault("risk_config.max_position_size_usd", 5000.0)
	v.SetDefault("risk_config.max_total_position_usd", 20000.0)
	v.SetDefault("risk_config.max_position_per_exchange", 10000.0)
	v.SetDefault("risk_config.max_price_divergence_pct", 2.0)
	v.SetDefault("risk_config.target_profit_pct", 1.0)
	v.SetDefault("risk_config.stop_loss_pct", 1.0)
	v.SetDefault("risk_config.dynamic_position_sizing", true)
	v.SetDefault("risk_config.min_liquidity_depth", 1.5)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "fundingbot")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.prefix", "fundingbot.")
	v.SetDefault("nats.enable_jetstream", false)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.mount_path", "fundingbot")
	v.SetDefault("vault.secret_path", "production")
	v.SetDefault("vault.auth_method", "token")
}

// Validate checks the fields spec §6/§7 require to be present before the
// bot can run; Load returns its failures wrapped as an errs.ConfigError.
func (c *Config) Validate() error {
	if c.BotName == "" {
		return fmt.Errorf("bot_name is required")
	}
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("at least one exchange must be configured")
	}
	for name, ex := range c.Exchanges {
		if !c.SimulationMode && (ex.APIKey == "" || ex.APISecret == "") {
			return fmt.Errorf("exchanges.%s: api_key/api_secret required outside simulation_mode", name)
		}
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy must be configured")
	}
	for i, s := range c.Strategies {
		if s.Type == "" {
			return fmt.Errorf("strategies[%d].type is required", i)
		}
		if s.ScanIntervalSeconds <= 0 {
			return fmt.Errorf("strategies[%d].scan_interval_seconds must be positive", i)
		}
	}
	if c.RiskConfig.MaxTotalPositionUSD <= 0 {
		return fmt.Errorf("risk_config.max_total_position_usd must be positive")
	}
	return nil
}

// Save writes the config back out in the same JSON shape Load reads,
// implementing the original bot's unimplemented saveConfig symmetrically
// (Open Question 1).
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
