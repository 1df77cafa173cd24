// Package engine orchestrates the execution pipeline: risk admission,
// shutdown gating, broker submission with timeout reconciliation, lifecycle
// tracking, ledger appends, and P&L folding.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"ordercore/internal/broker"
	"ordercore/internal/gate"
	"ordercore/internal/ledger"
	"ordercore/internal/lifecycle"
	"ordercore/internal/logger"
	"ordercore/internal/metrics"
	"ordercore/internal/pkg/backoff"
	"ordercore/internal/pkg/circuit"
	"ordercore/internal/pnl"
	"ordercore/internal/risk"
	"ordercore/internal/types"
)

// Config carries the engine's runtime knobs. Fees and slippage are per-fill
// cost estimates recorded on each ledger trade; brokers do not report them
// on the order feed.
type Config struct {
	TenantID string
	UID      string
	RunID    string

	DryRun bool

	Workers           int
	BrokerTimeout     time.Duration
	ReconcileAttempts int
	ReconcileBackoff  time.Duration
	PollInterval      time.Duration
	PollRatePerSec    float64

	FeesPerFill     decimal.Decimal
	SlippagePerFill decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BrokerTimeout <= 0 {
		c.BrokerTimeout = 10 * time.Second
	}
	if c.ReconcileAttempts <= 0 {
		c.ReconcileAttempts = 3
	}
	if c.ReconcileBackoff <= 0 {
		c.ReconcileBackoff = 500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PollRatePerSec <= 0 {
		c.PollRatePerSec = 10
	}
	return c
}

// Engine is the execution core. One engine owns the orders it submits.
type Engine struct {
	cfg     Config
	risk    *risk.Manager
	broker  broker.Broker
	gate    *gate.ShutdownGate
	tracker *lifecycle.Tracker
	store   *ledger.Store
	pnl     *pnl.Engine
	limiter *rate.Limiter

	// pollBreaker pauses status polling while the broker keeps failing, so
	// a broker outage does not turn the poller into a retry storm.
	pollBreaker *circuit.Breaker
}

func New(cfg Config, rm *risk.Manager, b broker.Broker, g *gate.ShutdownGate, store *ledger.Store, pe *pnl.Engine) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:         cfg,
		risk:        rm,
		broker:      b,
		gate:        g,
		tracker:     lifecycle.NewTracker(),
		store:       store,
		pnl:         pe,
		limiter:     rate.NewLimiter(rate.Limit(cfg.PollRatePerSec), 1),
		pollBreaker: circuit.NewBreaker("broker_poll", 5, 30*time.Second),
	}
}

// PnL exposes the engine's P&L state for the ops surface.
func (e *Engine) PnL() *pnl.Engine { return e.pnl }

// Gate exposes the shutdown gate for the ops surface and process wiring.
func (e *Engine) Gate() *gate.ShutdownGate { return e.gate }

// HandleIntent runs one intent through the full admission and submission
// pipeline and returns the caller-visible outcome.
func (e *Engine) HandleIntent(ctx context.Context, intent types.OrderIntent) types.IntentResult {
	res := e.handleIntent(ctx, intent)
	metrics.IntentsTotal.WithLabelValues(string(res.Status)).Inc()
	return res
}

func (e *Engine) handleIntent(ctx context.Context, intent types.OrderIntent) types.IntentResult {
	if err := intent.Validate(); err != nil {
		return types.IntentResult{Status: types.IntentError, Err: err.Error()}
	}

	// The flag is read before risk evaluation so a draining process does no
	// further external reads on behalf of new intents.
	if e.gate.ShuttingDown() {
		return types.IntentResult{
			Status: types.IntentShuttingDown,
			Risk:   types.RiskDecision{Allowed: false, Reason: types.ReasonShutdownInProgress, EvaluatedAt: time.Now().UTC()},
		}
	}

	decision := e.risk.Evaluate(ctx, intent)
	if !decision.Allowed {
		metrics.RiskRejections.WithLabelValues(string(decision.Reason)).Inc()
		logger.Infof("intent %s rejected: %s (%s)", intent.ClientIntentID, decision.Reason, decision.Detail)
		return types.IntentResult{Status: types.IntentRejected, Risk: decision}
	}

	if e.cfg.DryRun {
		logger.Infof("dry_run: intent %s %s %s %s passed risk, not routed",
			intent.ClientIntentID, intent.Side, intent.Qty, intent.NormalizedSymbol())
		return types.IntentResult{Status: types.IntentDryRun, Risk: decision}
	}

	token, ok := e.gate.Begin()
	if !ok {
		return types.IntentResult{
			Status: types.IntentShuttingDown,
			Risk:   types.RiskDecision{Allowed: false, Reason: types.ReasonShutdownInProgress, EvaluatedAt: decision.EvaluatedAt},
		}
	}
	metrics.InFlightSubmissions.Inc()
	defer func() {
		e.gate.End(token)
		metrics.InFlightSubmissions.Dec()
	}()

	ack, err := e.submit(ctx, intent)
	if err != nil {
		metrics.BrokerErrors.Inc()
		logger.Errorf("intent %s broker submission failed: %v", intent.ClientIntentID, err)
		return types.IntentResult{
			Status: types.IntentError,
			Risk:   decision,
			Err:    string(types.ReasonBrokerError) + ": " + err.Error(),
		}
	}

	now := time.Now().UTC()
	e.tracker.Track(types.Order{
		BrokerOrderID: ack.BrokerOrderID,
		Intent:        intent,
		State:         ack.State,
		SubmittedAt:   now,
	})
	if err := e.store.RecordSubmission(ctx, intent, now); err != nil {
		// Submission bookkeeping feeds cooldowns and daily limits; the order
		// itself is already live, so log and carry on.
		logger.Warnf("intent %s: recording submission failed: %v", intent.ClientIntentID, err)
	}

	logger.Infof("intent %s accepted: broker order %s (%s)", intent.ClientIntentID, ack.BrokerOrderID, ack.RawStatus)
	return types.IntentResult{Status: types.IntentAccepted, Risk: decision, BrokerOrderID: ack.BrokerOrderID}
}

// submit places the order with a bounded timeout. A timed-out placement has
// an unknown outcome: the broker may or may not have the order, so the
// engine reconciles by looking the idempotency token up instead of
// resubmitting blindly.
func (e *Engine) submit(ctx context.Context, intent types.OrderIntent) (broker.Ack, error) {
	req := broker.OrderRequest{
		Symbol:        intent.NormalizedSymbol(),
		Side:          intent.Side,
		Qty:           intent.Qty,
		Type:          intent.OrderType,
		LimitPrice:    intent.LimitPrice,
		ClientOrderID: intent.ClientIntentID,
	}

	placeCtx, cancel := context.WithTimeout(ctx, e.cfg.BrokerTimeout)
	ack, err := e.broker.PlaceOrder(placeCtx, req)
	cancel()
	if err == nil {
		return ack, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return broker.Ack{}, err
	}

	metrics.BrokerTimeouts.Inc()
	logger.Warnf("intent %s: broker placement timed out, reconciling by client order id", intent.ClientIntentID)
	return e.reconcile(ctx, intent.ClientIntentID)
}

func (e *Engine) reconcile(ctx context.Context, clientOrderID string) (broker.Ack, error) {
	var view types.OrderView
	err := backoff.Retry(ctx, e.cfg.ReconcileAttempts, e.cfg.ReconcileBackoff, func() error {
		lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.BrokerTimeout)
		defer cancel()
		v, err := e.broker.GetOrderByClientID(lookupCtx, clientOrderID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		if errors.Is(err, broker.ErrOrderNotFound) {
			// The placement never reached the broker; safe for the caller to
			// retry with the same client order id.
			return broker.Ack{}, err
		}
		return broker.Ack{}, err
	}
	logger.Infof("reconciled client order %s to broker order %s (%s)", clientOrderID, view.BrokerOrderID, view.RawStatus)
	return broker.Ack{BrokerOrderID: view.BrokerOrderID, State: view.State, RawStatus: view.RawStatus}, nil
}
