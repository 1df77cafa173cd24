// Package ledger persists the append-only fill ledger and the position and
// submission records that risk admission reads. SQLite provides the
// create-if-absent semantics; the engine never assumes exclusive access.
package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ordercore/internal/logger"
	"ordercore/internal/metrics"
	"ordercore/internal/types"
)

// Store is the gorm-backed ledger and position store.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger: database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&tradeModel{}, &positionModel{}, &submissionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a couple of connections keeps read parallelism without
	// lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append writes one fill record. The write is create-only: if a row with the
// same (broker_order_id, fill_seq) already exists the call is a no-op and
// still succeeds, which is what makes ledger writes safe to retry.
func (s *Store) Append(ctx context.Context, t *types.LedgerTrade) error {
	if !t.Qty.IsPositive() {
		return fmt.Errorf("ledger: qty must be positive, got %s", t.Qty)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("ledger: price must be positive, got %s", t.Price)
	}
	m := toModel(t)
	m.Symbol = strings.ToUpper(m.Symbol)
	if m.Multiplier.IsZero() {
		m.Multiplier = decimal.NewFromInt(1)
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		metrics.LedgerConflicts.Inc()
		logger.Debugf("%s: fill %s/%d already recorded, skipping", types.ReasonLedgerWriteConflict, t.BrokerOrderID, t.FillSeq)
		return nil
	}
	metrics.LedgerAppends.Inc()
	return nil
}

// FillsForScope returns the scope's fills in fill order, oldest first.
func (s *Store) FillsForScope(ctx context.Context, scope types.ScopeKey) ([]types.LedgerTrade, error) {
	var rows []tradeModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND uid = ? AND strategy_id = ? AND symbol = ?",
			scope.TenantID, scope.UID, scope.StrategyID, strings.ToUpper(scope.Symbol)).
		Order("filled_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.LedgerTrade, 0, len(rows))
	for i := range rows {
		out = append(out, fromModel(&rows[i]))
	}
	return out, nil
}

// AllFills returns every fill in the ledger in fill order, for rebuilding
// P&L state at startup.
func (s *Store) AllFills(ctx context.Context) ([]types.LedgerTrade, error) {
	var rows []tradeModel
	err := s.db.WithContext(ctx).Order("filled_at ASC, id ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.LedgerTrade, 0, len(rows))
	for i := range rows {
		out = append(out, fromModel(&rows[i]))
	}
	return out, nil
}

// NetPosition returns the signed net open quantity for (account, symbol).
// A missing row means flat.
func (s *Store) NetPosition(ctx context.Context, accountID, symbol string) (decimal.Decimal, error) {
	var row positionModel
	err := s.db.WithContext(ctx).
		Where("broker_account_id = ? AND symbol = ?", accountID, strings.ToUpper(symbol)).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return row.Qty, nil
}

// ApplyPositionDelta folds a signed fill delta into the (account, symbol)
// net position.
func (s *Store) ApplyPositionDelta(ctx context.Context, accountID, symbol string, delta decimal.Decimal) error {
	symbol = strings.ToUpper(symbol)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row positionModel
		err := tx.Where("broker_account_id = ? AND symbol = ?", accountID, symbol).
			First(&row).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			row = positionModel{BrokerAccountID: accountID, Symbol: symbol, Qty: delta, UpdatedAt: time.Now().UTC()}
			return tx.Create(&row).Error
		case err != nil:
			return err
		}
		row.Qty = row.Qty.Add(delta)
		row.UpdatedAt = time.Now().UTC()
		return tx.Save(&row).Error
	})
}

// RecordSubmission logs one accepted broker submission for trade counting
// and cooldown checks. Keyed by client intent id, so a reconciled retry of
// the same intent counts once.
func (s *Store) RecordSubmission(ctx context.Context, intent types.OrderIntent, at time.Time) error {
	m := &submissionModel{
		BrokerAccountID: intent.BrokerAccountID,
		TradingDate:     TradingDate(at),
		Symbol:          intent.NormalizedSymbol(),
		Side:            string(intent.Side),
		ClientIntentID:  intent.ClientIntentID,
		SubmittedAt:     at.UTC(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	return res.Error
}

// TradeCount returns how many submissions the account made on the trading
// date (format: 2006-01-02, UTC).
func (s *Store) TradeCount(ctx context.Context, accountID, tradingDate string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&submissionModel{}).
		Where("broker_account_id = ? AND trading_date = ?", accountID, tradingDate).
		Count(&n).Error
	return int(n), err
}

// LastSubmission returns the most recent submission time for the account's
// symbol and side. Zero time when there is none.
func (s *Store) LastSubmission(ctx context.Context, accountID, symbol string, side types.Side) (time.Time, error) {
	var row submissionModel
	err := s.db.WithContext(ctx).
		Where("broker_account_id = ? AND symbol = ? AND side = ?", accountID, strings.ToUpper(symbol), string(side)).
		Order("submitted_at DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return row.SubmittedAt, nil
}

// TradingDate formats t as the UTC trading date used for daily limits.
func TradingDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
