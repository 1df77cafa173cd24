package types

// Reason is a stable machine-readable code attached to every rejection and
// recoverable failure. Codes are part of the external contract and must not
// be renamed.
type Reason string

const (
	ReasonNone                          Reason = ""
	ReasonRiskDataUnavailable           Reason = "risk_data_unavailable"
	ReasonRiskDataUnavailableOverridden Reason = "risk_data_unavailable_overridden"
	ReasonKillSwitchEnabled             Reason = "kill_switch_enabled"
	ReasonCooldownActive                Reason = "cooldown_active"
	ReasonMaxDailyTradesExceeded        Reason = "max_daily_trades_exceeded"
	ReasonMaxPositionExceeded           Reason = "max_position_exceeded"
	ReasonCircuitBreakerTriggered       Reason = "circuit_breaker_triggered"
	ReasonShutdownInProgress            Reason = "shutdown_in_progress"
	ReasonBrokerError                   Reason = "broker_error"
	ReasonLifecycleInvariantViolation   Reason = "lifecycle_invariant_violation"
	ReasonLedgerWriteConflict           Reason = "ledger_write_conflict"
)

// Breaker sub-reasons reported in RiskDecision.Detail.
const (
	BreakerMarketDataMissing = "market_data_missing"
	BreakerVolatilityRatio   = "volatility_ratio"
	BreakerConsecutiveLosses = "consecutive_losses"
)
