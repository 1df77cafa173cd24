package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the canonical lifecycle status of a broker order, independent of
// any broker-specific status vocabulary.
type State string

const (
	StateNew             State = "NEW"
	StateAccepted        State = "ACCEPTED"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StateCancelled       State = "CANCELLED"
	StateExpired         State = "EXPIRED"
)

// Terminal reports whether the state admits no further transitions other
// than idempotent self-loops.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateExpired:
		return true
	}
	return false
}

// Order is the engine's view of one submitted broker order. It is owned
// exclusively by the engine instance that submitted it; cumulative fields
// are monotonically non-decreasing.
type Order struct {
	BrokerOrderID     string          `json:"broker_order_id"`
	Intent            OrderIntent     `json:"intent"`
	State             State           `json:"state"`
	CumFilledQty      decimal.Decimal `json:"cumulative_filled_qty"`
	CumFilledNotional decimal.Decimal `json:"cumulative_filled_notional"`
	SubmittedAt       time.Time       `json:"submitted_at"`
}

// OrderView is a broker's report of order progress, already normalized to a
// canonical state. FilledAvgPrice is zero until the broker reports one.
type OrderView struct {
	BrokerOrderID  string
	ClientOrderID  string
	Symbol         string
	Side           Side
	Qty            decimal.Decimal
	FilledQty      decimal.Decimal
	FilledAvgPrice decimal.Decimal
	State          State
	RawStatus      string
}

// LedgerTrade is one append-only fill record. Immutable after creation; the
// natural key is (BrokerOrderID, FillSeq), where FillSeq is a per-order
// counter for orders that fill incrementally.
type LedgerTrade struct {
	TenantID      string          `json:"tenant_id"`
	UID           string          `json:"uid"`
	StrategyID    string          `json:"strategy_id"`
	RunID         string          `json:"run_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	Fees          decimal.Decimal `json:"fees"`
	Slippage      decimal.Decimal `json:"slippage"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	AssetClass    string          `json:"asset_class,omitempty"`
	BrokerOrderID string          `json:"broker_order_id"`
	FillSeq       int             `json:"fill_seq"`
	FilledAt      time.Time       `json:"ts"`
}

// ScopeKey identifies one FIFO lot queue.
type ScopeKey struct {
	TenantID   string `json:"tenant_id"`
	UID        string `json:"uid"`
	StrategyID string `json:"strategy_id"`
	Symbol     string `json:"symbol"`
}

func (t LedgerTrade) Scope() ScopeKey {
	return ScopeKey{TenantID: t.TenantID, UID: t.UID, StrategyID: t.StrategyID, Symbol: t.Symbol}
}
