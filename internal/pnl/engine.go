// Package pnl folds ledger fills into FIFO cost-basis lots and computes
// realized and unrealized profit-and-loss with execution costs and contract
// multipliers applied.
package pnl

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"ordercore/internal/types"
)

// Lot is one FIFO-tracked slice of an open position with its own cost basis.
// Qty is always positive; Side carries the direction.
type Lot struct {
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"effective_unit_cost"`
	Side       types.Side      `json:"side"`
	Multiplier decimal.Decimal `json:"multiplier"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// RealizedDelta reports the P&L effect of one applied fill.
type RealizedDelta struct {
	Scope     types.ScopeKey  `json:"scope"`
	Realized  decimal.Decimal `json:"realized"`
	ClosedQty decimal.Decimal `json:"closed_qty"`
	// OpenedQty is the portion of the fill that opened new exposure,
	// including a flip-open after closing through all existing lots.
	OpenedQty decimal.Decimal `json:"opened_qty"`
}

type book struct {
	mu   sync.Mutex
	lots []Lot
}

// Engine maintains one FIFO lot queue per scope key. Books are locked
// individually; there is no engine-wide lock on the fill path.
type Engine struct {
	mu    sync.RWMutex
	books map[types.ScopeKey]*book

	lossStreak atomic.Int64
}

func NewEngine() *Engine {
	return &Engine{books: make(map[types.ScopeKey]*book)}
}

func (e *Engine) bookFor(scope types.ScopeKey) *book {
	e.mu.RLock()
	b, ok := e.books[scope]
	e.mu.RUnlock()
	if ok {
		return b
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.books[scope]; ok {
		return b
	}
	b = &book{}
	e.books[scope] = b
	return b
}

// EffectivePrice adjusts the raw fill price for per-unit execution costs:
// buys pay fees and slippage on top, sells receive net of them.
func EffectivePrice(t *types.LedgerTrade) decimal.Decimal {
	mult := InferMultiplier(t.Multiplier, t.Symbol, t.AssetClass)
	perUnit := t.Fees.Add(t.Slippage).Div(t.Qty.Mul(mult))
	if t.Side == types.SideSell {
		return t.Price.Sub(perUnit)
	}
	return t.Price.Add(perUnit)
}

// ApplyFill folds one fill into the scope's lot queue. Fills in the current
// net direction (or into a flat book) open a new lot; opposing fills close
// oldest lots first, and any excess beyond the open lots flips into a new
// lot on the other side at the closing fill's effective price.
func (e *Engine) ApplyFill(t *types.LedgerTrade) (RealizedDelta, error) {
	if !t.Qty.IsPositive() {
		return RealizedDelta{}, fmt.Errorf("pnl: fill qty must be positive, got %s", t.Qty)
	}
	if !t.Price.IsPositive() {
		return RealizedDelta{}, fmt.Errorf("pnl: fill price must be positive, got %s", t.Price)
	}
	if !t.Side.Valid() {
		return RealizedDelta{}, fmt.Errorf("pnl: invalid fill side %q", t.Side)
	}

	scope := t.Scope()
	mult := InferMultiplier(t.Multiplier, t.Symbol, t.AssetClass)
	eff := EffectivePrice(t)
	delta := RealizedDelta{Scope: scope, Realized: decimal.Zero, ClosedQty: decimal.Zero, OpenedQty: decimal.Zero}

	b := e.bookFor(scope)
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := t.Qty
	if len(b.lots) == 0 || b.lots[0].Side == t.Side {
		b.push(Lot{Qty: remaining, UnitCost: eff, Side: t.Side, Multiplier: mult, OpenedAt: t.FilledAt})
		delta.OpenedQty = remaining
		return delta, nil
	}

	// Closing fill: consume oldest lots first.
	for remaining.IsPositive() && len(b.lots) > 0 {
		lot := &b.lots[0]
		closed := decimal.Min(lot.Qty, remaining)
		perUnit := eff.Sub(lot.UnitCost)
		if lot.Side == types.SideSell {
			// Short lot closed by a buy: profit when cost exceeds close.
			perUnit = lot.UnitCost.Sub(eff)
		}
		delta.Realized = delta.Realized.Add(perUnit.Mul(closed).Mul(mult))
		delta.ClosedQty = delta.ClosedQty.Add(closed)
		remaining = remaining.Sub(closed)
		lot.Qty = lot.Qty.Sub(closed)
		if lot.Qty.IsZero() {
			b.lots = b.lots[1:]
		}
	}

	// Over-close flips the position: the excess opens a reversed lot at the
	// closing fill's effective price.
	if remaining.IsPositive() {
		b.push(Lot{Qty: remaining, UnitCost: eff, Side: t.Side, Multiplier: mult, OpenedAt: t.FilledAt})
		delta.OpenedQty = remaining
	}

	switch {
	case delta.Realized.IsNegative():
		e.lossStreak.Add(1)
	case delta.Realized.IsPositive():
		e.lossStreak.Store(0)
	}
	return delta, nil
}

func (b *book) push(l Lot) {
	b.lots = append(b.lots, l)
}

// Unrealized marks the scope's remaining lots to price, signed by lot
// direction and scaled by each lot's multiplier.
func (e *Engine) Unrealized(scope types.ScopeKey, mark decimal.Decimal) decimal.Decimal {
	b := e.bookFor(scope)
	b.mu.Lock()
	defer b.mu.Unlock()

	total := decimal.Zero
	for _, lot := range b.lots {
		perUnit := mark.Sub(lot.UnitCost)
		if lot.Side == types.SideSell {
			perUnit = lot.UnitCost.Sub(mark)
		}
		total = total.Add(perUnit.Mul(lot.Qty).Mul(lot.Multiplier))
	}
	return total
}

// NetQty returns the signed net open quantity for the scope: the sum of
// remaining lot quantities, positive long, negative short.
func (e *Engine) NetQty(scope types.ScopeKey) decimal.Decimal {
	b := e.bookFor(scope)
	b.mu.Lock()
	defer b.mu.Unlock()

	total := decimal.Zero
	for _, lot := range b.lots {
		total = total.Add(lot.Qty.Mul(lot.Side.Sign()))
	}
	return total
}

// Lots returns a copy of the scope's open lots, oldest first.
func (e *Engine) Lots(scope types.ScopeKey) []Lot {
	b := e.bookFor(scope)
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Lot, len(b.lots))
	copy(out, b.lots)
	return out
}

// Scopes lists every scope key the engine has seen.
func (e *Engine) Scopes() []types.ScopeKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.ScopeKey, 0, len(e.books))
	for k := range e.books {
		out = append(out, k)
	}
	return out
}

// LossStreak returns the current run of consecutive realized losses across
// all scopes, consumed by the circuit breaker.
func (e *Engine) LossStreak() int {
	return int(e.lossStreak.Load())
}

// Rebuild replays persisted fills, in order, into a fresh engine state.
// Used at startup to restore lots after a restart.
func (e *Engine) Rebuild(fills []types.LedgerTrade) error {
	for i := range fills {
		if _, err := e.ApplyFill(&fills[i]); err != nil {
			return fmt.Errorf("pnl: replaying fill %s/%d: %w", fills[i].BrokerOrderID, fills[i].FillSeq, err)
		}
	}
	return nil
}
