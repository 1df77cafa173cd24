package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ordercore/internal/logger"
	"ordercore/internal/pkg/backoff"
	"ordercore/internal/pnl"
	"ordercore/internal/types"
)

// runPoller periodically polls the broker for every open tracked order and
// folds observations into the lifecycle tracker. The poller is the single
// writer for any given order, so per-order status updates are applied in
// the order observed.
func (e *Engine) runPoller(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	for _, id := range e.tracker.Open() {
		if !e.pollBreaker.Allow() {
			return
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return
		}
		pollCtx, cancel := context.WithTimeout(ctx, e.cfg.BrokerTimeout)
		view, err := e.broker.GetOrder(pollCtx, id)
		cancel()
		if err != nil {
			e.pollBreaker.RecordFailure()
			logger.Warnf("polling order %s failed: %v", id, err)
			continue
		}
		e.pollBreaker.RecordSuccess()
		e.applyView(ctx, view)
	}
}

// applyView folds one broker observation into lifecycle state and, when it
// carries new fill quantity, writes exactly one ledger record for the delta
// and folds it into P&L and the position store.
func (e *Engine) applyView(ctx context.Context, view types.OrderView) {
	update, ok := e.tracker.Apply(view)
	if !ok {
		return
	}
	if update.Transitioned {
		logger.Debugf("order %s -> %s (filled %s/%s)",
			view.BrokerOrderID, update.Order.State, update.Order.CumFilledQty, update.Order.Intent.Qty)
	}
	if update.Terminal {
		logger.Infof("order %s terminal: %s, filled %s", view.BrokerOrderID, update.Order.State, update.Order.CumFilledQty)
	}
	if !update.FillDelta.IsPositive() {
		return
	}

	intent := update.Order.Intent
	trade := types.LedgerTrade{
		TenantID:      e.cfg.TenantID,
		UID:           e.cfg.UID,
		StrategyID:    intent.StrategyID,
		RunID:         e.cfg.RunID,
		Symbol:        intent.NormalizedSymbol(),
		Side:          intent.Side,
		Qty:           update.FillDelta,
		Price:         update.AvgPrice,
		Fees:          e.cfg.FeesPerFill,
		Slippage:      e.cfg.SlippagePerFill,
		BrokerOrderID: view.BrokerOrderID,
		FillSeq:       update.FillSeq,
		FilledAt:      time.Now().UTC(),
	}
	trade.AssetClass = intent.AssetClass
	trade.Multiplier = pnl.InferMultiplier(decimal.Zero, trade.Symbol, trade.AssetClass)

	err := backoff.Retry(ctx, e.cfg.ReconcileAttempts, e.cfg.ReconcileBackoff, func() error {
		return e.store.Append(ctx, &trade)
	})
	if err != nil {
		// Rewind the tracker so the same cumulative state re-emits this
		// delta on the next poll; the create-only ledger insert keeps the
		// retry idempotent.
		e.tracker.Rollback(update)
		logger.Errorf("ledger append for order %s fill %d failed, will re-emit: %v", trade.BrokerOrderID, trade.FillSeq, err)
		return
	}

	if delta, err := e.pnl.ApplyFill(&trade); err != nil {
		logger.Errorf("pnl apply for order %s fill %d failed: %v", trade.BrokerOrderID, trade.FillSeq, err)
	} else if !delta.Realized.IsZero() {
		logger.Infof("realized %s on %s (closed %s)", delta.Realized, trade.Symbol, delta.ClosedQty)
	}

	signed := update.FillDelta.Mul(intent.Side.Sign())
	if err := e.store.ApplyPositionDelta(ctx, intent.BrokerAccountID, trade.Symbol, signed); err != nil {
		logger.Errorf("position update for %s/%s failed: %v", intent.BrokerAccountID, trade.Symbol, err)
	}
}
