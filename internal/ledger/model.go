package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"ordercore/internal/types"
)

// tradeModel is the persisted form of one fill record. Rows are append-only:
// the unique index over (broker_order_id, fill_seq) plus an ON CONFLICT DO
// NOTHING insert makes writes safe to retry.
type tradeModel struct {
	ID            int64           `gorm:"column:id;primaryKey;autoIncrement"`
	TenantID      string          `gorm:"column:tenant_id;index:idx_scope"`
	UID           string          `gorm:"column:uid;index:idx_scope"`
	StrategyID    string          `gorm:"column:strategy_id;index:idx_scope"`
	RunID         string          `gorm:"column:run_id"`
	Symbol        string          `gorm:"column:symbol;index:idx_scope"`
	Side          string          `gorm:"column:side"`
	Qty           decimal.Decimal `gorm:"column:qty;type:text"`
	Price         decimal.Decimal `gorm:"column:price;type:text"`
	Fees          decimal.Decimal `gorm:"column:fees;type:text"`
	Slippage      decimal.Decimal `gorm:"column:slippage;type:text"`
	Multiplier    decimal.Decimal `gorm:"column:multiplier;type:text"`
	AssetClass    string          `gorm:"column:asset_class"`
	BrokerOrderID string          `gorm:"column:broker_order_id;uniqueIndex:idx_fill_key"`
	FillSeq       int             `gorm:"column:fill_seq;uniqueIndex:idx_fill_key"`
	FilledAt      time.Time       `gorm:"column:filled_at"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
}

func (tradeModel) TableName() string { return "ledger_trades" }

// positionModel carries the net open position per (account, symbol) used by
// risk admission projection.
type positionModel struct {
	BrokerAccountID string          `gorm:"column:broker_account_id;primaryKey"`
	Symbol          string          `gorm:"column:symbol;primaryKey"`
	Qty             decimal.Decimal `gorm:"column:qty;type:text"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (positionModel) TableName() string { return "positions" }

// submissionModel records each accepted broker submission for daily trade
// counting and symbol/side cooldowns.
type submissionModel struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	BrokerAccountID string    `gorm:"column:broker_account_id;index:idx_sub_day"`
	TradingDate     string    `gorm:"column:trading_date;index:idx_sub_day"`
	Symbol          string    `gorm:"column:symbol;index"`
	Side            string    `gorm:"column:side"`
	ClientIntentID  string    `gorm:"column:client_intent_id;uniqueIndex"`
	SubmittedAt     time.Time `gorm:"column:submitted_at"`
}

func (submissionModel) TableName() string { return "submissions" }

func toModel(t *types.LedgerTrade) *tradeModel {
	return &tradeModel{
		TenantID:      t.TenantID,
		UID:           t.UID,
		StrategyID:    t.StrategyID,
		RunID:         t.RunID,
		Symbol:        t.Symbol,
		Side:          string(t.Side),
		Qty:           t.Qty,
		Price:         t.Price,
		Fees:          t.Fees,
		Slippage:      t.Slippage,
		Multiplier:    t.Multiplier,
		AssetClass:    t.AssetClass,
		BrokerOrderID: t.BrokerOrderID,
		FillSeq:       t.FillSeq,
		FilledAt:      t.FilledAt,
	}
}

func fromModel(m *tradeModel) types.LedgerTrade {
	return types.LedgerTrade{
		TenantID:      m.TenantID,
		UID:           m.UID,
		StrategyID:    m.StrategyID,
		RunID:         m.RunID,
		Symbol:        m.Symbol,
		Side:          types.Side(m.Side),
		Qty:           m.Qty,
		Price:         m.Price,
		Fees:          m.Fees,
		Slippage:      m.Slippage,
		Multiplier:    m.Multiplier,
		AssetClass:    m.AssetClass,
		BrokerOrderID: m.BrokerOrderID,
		FillSeq:       m.FillSeq,
		FilledAt:      m.FilledAt,
	}
}
