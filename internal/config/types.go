package config

// Config is the main configuration carrier for the execution core.
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Broker BrokerConfig `mapstructure:"broker"`
	Risk   RiskConfig   `mapstructure:"risk"`
	Engine EngineConfig `mapstructure:"engine"`
	Ledger LedgerConfig `mapstructure:"ledger"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// BrokerConfig selects and configures the broker implementation.
type BrokerConfig struct {
	Driver         string `mapstructure:"driver"` // "dry_run" | "alpaca"
	APIKey         string `mapstructure:"api_key"`
	APISecret      string `mapstructure:"api_secret"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type RiskConfig struct {
	MaxDailyTrades          int            `mapstructure:"max_daily_trades"`
	MaxPositionQty          float64        `mapstructure:"max_position_qty"`
	CooldownSeconds         int            `mapstructure:"cooldown_seconds"`
	CooldownSymbolOverrides map[string]int `mapstructure:"cooldown_symbol_overrides"`
	CooldownSides           []string       `mapstructure:"cooldown_sides"`
	MarketDataMaxAgeSeconds int            `mapstructure:"market_data_max_age_seconds"`
	MaxVolatilityRatio      float64        `mapstructure:"max_volatility_ratio"`
	MaxConsecutiveLosses    int            `mapstructure:"max_consecutive_losses"`
	// OverrideOnDataUnavailable admits intents when risk data reads fail
	// instead of rejecting them. Operator escape hatch; every use is logged
	// as a warning.
	OverrideOnDataUnavailable bool   `mapstructure:"override_on_data_unavailable"`
	KillSwitchEnv             string `mapstructure:"kill_switch_env"`
	KillSwitchFile            string `mapstructure:"kill_switch_file"`
	KillSwitchTTLSeconds      int    `mapstructure:"kill_switch_ttl_seconds"`
}

type EngineConfig struct {
	TenantID            string  `mapstructure:"tenant_id"`
	UID                 string  `mapstructure:"uid"`
	DryRun              bool    `mapstructure:"dry_run"`
	Workers             int     `mapstructure:"workers"`
	ReconcileAttempts   int     `mapstructure:"reconcile_attempts"`
	ReconcileBackoffMS  int     `mapstructure:"reconcile_backoff_ms"`
	PollIntervalMS      int     `mapstructure:"poll_interval_ms"`
	PollRatePerSec      float64 `mapstructure:"poll_rate_per_sec"`
	FeesPerFill         float64 `mapstructure:"fees_per_fill"`
	SlippagePerFill     float64 `mapstructure:"slippage_per_fill"`
	DrainTimeoutSeconds int     `mapstructure:"drain_timeout_seconds"`
}

type LedgerConfig struct {
	Path string `mapstructure:"path"`
}
