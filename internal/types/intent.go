package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Sign returns +1 for buy and -1 for sell.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderIntent is a strategy's desired trade action before risk and broker
// involvement. It is immutable once created; ClientIntentID is the caller
// supplied idempotency token and maps the intent to at most one broker order.
type OrderIntent struct {
	StrategyID      string          `json:"strategy_id"`
	BrokerAccountID string          `json:"broker_account_id"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Qty             decimal.Decimal `json:"qty"`
	OrderType       OrderType       `json:"order_type"`
	LimitPrice      decimal.Decimal `json:"limit_price,omitempty"`
	// AssetClass is optional; when set (e.g. "option") it drives the contract
	// multiplier on ledger rows without relying on symbol pattern matching.
	AssetClass     string `json:"asset_class,omitempty"`
	ClientIntentID string `json:"client_intent_id"`
}

func (i OrderIntent) Validate() error {
	if strings.TrimSpace(i.Symbol) == "" {
		return fmt.Errorf("intent %s: empty symbol", i.ClientIntentID)
	}
	if !i.Side.Valid() {
		return fmt.Errorf("intent %s: invalid side %q", i.ClientIntentID, i.Side)
	}
	if !i.Qty.IsPositive() {
		return fmt.Errorf("intent %s: qty must be positive, got %s", i.ClientIntentID, i.Qty)
	}
	if strings.TrimSpace(i.ClientIntentID) == "" {
		return fmt.Errorf("intent for %s: empty client_intent_id", i.Symbol)
	}
	return nil
}

// NormalizedSymbol returns the uppercase symbol used everywhere downstream.
func (i OrderIntent) NormalizedSymbol() string {
	return strings.ToUpper(strings.TrimSpace(i.Symbol))
}

type IntentStatus string

const (
	IntentAccepted     IntentStatus = "accepted"
	IntentRejected     IntentStatus = "rejected"
	IntentDryRun       IntentStatus = "dry_run"
	IntentShuttingDown IntentStatus = "shutting_down"
	IntentError        IntentStatus = "error"
)

// IntentResult is the per-intent outcome returned to the caller.
type IntentResult struct {
	Status        IntentStatus `json:"status"`
	Risk          RiskDecision `json:"risk"`
	BrokerOrderID string       `json:"broker_order_id,omitempty"`
	Err           string       `json:"error,omitempty"`
}

// RiskDecision is produced per intent and only ever logged, never persisted
// as authoritative state.
type RiskDecision struct {
	Allowed     bool      `json:"allowed"`
	Reason      Reason    `json:"reason"`
	Detail      string    `json:"detail,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}
