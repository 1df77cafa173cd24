package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the yaml config at path, applies ORDERCORE_* environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ORDERCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8710"
	}
	if c.Broker.Driver == "" {
		c.Broker.Driver = "dry_run"
	}
	if c.Broker.TimeoutSeconds <= 0 {
		c.Broker.TimeoutSeconds = 10
	}
	if c.Risk.KillSwitchEnv == "" {
		c.Risk.KillSwitchEnv = "ORDERCORE_KILL_SWITCH"
	}
	if c.Risk.KillSwitchTTLSeconds <= 0 {
		c.Risk.KillSwitchTTLSeconds = 2
	}
	if c.Engine.TenantID == "" {
		c.Engine.TenantID = "default"
	}
	if c.Engine.UID == "" {
		c.Engine.UID = "default"
	}
	if c.Engine.Workers <= 0 {
		c.Engine.Workers = 4
	}
	if c.Engine.ReconcileAttempts <= 0 {
		c.Engine.ReconcileAttempts = 3
	}
	if c.Engine.ReconcileBackoffMS <= 0 {
		c.Engine.ReconcileBackoffMS = 500
	}
	if c.Engine.PollIntervalMS <= 0 {
		c.Engine.PollIntervalMS = 2000
	}
	if c.Engine.PollRatePerSec <= 0 {
		c.Engine.PollRatePerSec = 10
	}
	if c.Engine.DrainTimeoutSeconds <= 0 {
		c.Engine.DrainTimeoutSeconds = 30
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "data/ledger.db"
	}
}

func validate(c *Config) error {
	switch c.Broker.Driver {
	case "dry_run":
	case "alpaca":
		if c.Broker.APIKey == "" || c.Broker.APISecret == "" {
			return fmt.Errorf("broker.api_key and broker.api_secret are required for the alpaca driver")
		}
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required for the alpaca driver")
		}
	default:
		return fmt.Errorf("unknown broker.driver %q (want dry_run or alpaca)", c.Broker.Driver)
	}
	if c.Risk.MaxPositionQty < 0 {
		return fmt.Errorf("risk.max_position_qty cannot be negative")
	}
	if c.Risk.MaxDailyTrades < 0 {
		return fmt.Errorf("risk.max_daily_trades cannot be negative")
	}
	for _, side := range c.Risk.CooldownSides {
		if side != "buy" && side != "sell" {
			return fmt.Errorf("risk.cooldown_sides entries must be buy or sell, got %q", side)
		}
	}
	if c.Engine.FeesPerFill < 0 || c.Engine.SlippagePerFill < 0 {
		return fmt.Errorf("engine fee and slippage estimates cannot be negative")
	}
	return nil
}
