// Package app wires configuration into a running execution core: ledger
// store, risk admission, broker, engine, kill switch watch, and the ops
// HTTP surface.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ordercore/internal/broker"
	"ordercore/internal/config"
	"ordercore/internal/engine"
	"ordercore/internal/gate"
	"ordercore/internal/ledger"
	"ordercore/internal/logger"
	"ordercore/internal/pnl"
	"ordercore/internal/risk"
	ops "ordercore/internal/transport/http/ops"
	"ordercore/internal/types"
)

// App owns the assembled execution core.
type App struct {
	cfg    *config.Config
	store  *ledger.Store
	engine *engine.Engine
	gate   *gate.ShutdownGate
	kill   *risk.KillSwitch
	market *risk.MarketRecorder
	ops    *ops.Server

	intents chan types.OrderIntent
	results chan types.IntentResult
}

// New builds the application from config without starting anything.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger store: %w", err)
	}

	pnlEngine := pnl.NewEngine()
	fills, err := store.AllFills(context.Background())
	if err != nil {
		return nil, fmt.Errorf("loading ledger fills: %w", err)
	}
	if err := pnlEngine.Rebuild(fills); err != nil {
		return nil, err
	}
	if len(fills) > 0 {
		logger.Infof("rebuilt P&L state from %d ledger fills", len(fills))
	}

	kill := risk.NewKillSwitch(
		cfg.Risk.KillSwitchEnv,
		cfg.Risk.KillSwitchFile,
		time.Duration(cfg.Risk.KillSwitchTTLSeconds)*time.Second,
	)
	market := risk.NewMarketRecorder(0, 0)
	riskManager := risk.NewManager(riskLimits(cfg), kill, store, market, pnlEngine)

	brk, err := buildBroker(cfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("broker driver: %s (dry_run mode: %v)", brk.Name(), cfg.Engine.DryRun)

	shutdownGate := gate.New()
	eng := engine.New(engineConfig(cfg), riskManager, brk, shutdownGate, store, pnlEngine)

	opsServer, err := ops.NewServer(ops.ServerConfig{
		Addr: cfg.App.HTTPAddr,
		PnL:  pnlEngine,
		Gate: shutdownGate,
		Kill: kill,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:     cfg,
		store:   store,
		engine:  eng,
		gate:    shutdownGate,
		kill:    kill,
		market:  market,
		ops:     opsServer,
		intents: make(chan types.OrderIntent, 64),
		results: make(chan types.IntentResult, 64),
	}, nil
}

// Intents is the inbound queue the message transport feeds.
func (a *App) Intents() chan<- types.OrderIntent { return a.intents }

// Results delivers per-intent outcomes in completion order.
func (a *App) Results() <-chan types.IntentResult { return a.results }

// Market exposes the price recorder for the market data boundary.
func (a *App) Market() *risk.MarketRecorder { return a.market }

// Engine exposes the execution engine (for test and replay harnesses).
func (a *App) Engine() *engine.Engine { return a.engine }

// Run starts the engine workers, status poller, kill switch watch, and ops
// server, and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.kill.Watch(ctx)
	})
	group.Go(func() error {
		if err := a.ops.Start(ctx); err != nil {
			return fmt.Errorf("ops http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		defer close(a.results)
		return a.engine.Run(ctx, a.intents, a.results)
	})

	err := group.Wait()
	if closeErr := a.store.Close(); closeErr != nil {
		logger.Warnf("closing ledger store: %v", closeErr)
	}
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// BeginShutdown flips the submission gate and waits for in-flight
// submissions to drain, bounded by the configured timeout.
func (a *App) BeginShutdown(reason string) {
	a.gate.RequestShutdown(reason)
	timeout := time.Duration(a.cfg.Engine.DrainTimeoutSeconds) * time.Second
	if a.gate.WaitDrain(timeout) {
		logger.Infof("all in-flight submissions drained")
	}
}

func buildBroker(cfg *config.Config) (broker.Broker, error) {
	switch cfg.Broker.Driver {
	case "dry_run":
		return broker.NewDryRunBroker(), nil
	case "alpaca":
		return broker.NewAlpacaBroker(cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}

func riskLimits(cfg *config.Config) risk.Limits {
	overrides := make(map[string]time.Duration, len(cfg.Risk.CooldownSymbolOverrides))
	for sym, secs := range cfg.Risk.CooldownSymbolOverrides {
		overrides[sym] = time.Duration(secs) * time.Second
	}
	sides := make([]types.Side, 0, len(cfg.Risk.CooldownSides))
	for _, s := range cfg.Risk.CooldownSides {
		sides = append(sides, types.Side(s))
	}
	return risk.Limits{
		MaxDailyTrades:            cfg.Risk.MaxDailyTrades,
		MaxPositionQty:            decimal.NewFromFloat(cfg.Risk.MaxPositionQty),
		CooldownDefault:           time.Duration(cfg.Risk.CooldownSeconds) * time.Second,
		CooldownPerSymbol:         overrides,
		CooldownSides:             sides,
		MarketDataMaxAge:          time.Duration(cfg.Risk.MarketDataMaxAgeSeconds) * time.Second,
		MaxVolatilityRatio:        cfg.Risk.MaxVolatilityRatio,
		MaxConsecutiveLosses:      cfg.Risk.MaxConsecutiveLosses,
		OverrideOnDataUnavailable: cfg.Risk.OverrideOnDataUnavailable,
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		TenantID:          cfg.Engine.TenantID,
		UID:               cfg.Engine.UID,
		RunID:             uuid.NewString(),
		DryRun:            cfg.Engine.DryRun,
		Workers:           cfg.Engine.Workers,
		BrokerTimeout:     time.Duration(cfg.Broker.TimeoutSeconds) * time.Second,
		ReconcileAttempts: cfg.Engine.ReconcileAttempts,
		ReconcileBackoff:  time.Duration(cfg.Engine.ReconcileBackoffMS) * time.Millisecond,
		PollInterval:      time.Duration(cfg.Engine.PollIntervalMS) * time.Millisecond,
		PollRatePerSec:    cfg.Engine.PollRatePerSec,
		FeesPerFill:       decimal.NewFromFloat(cfg.Engine.FeesPerFill),
		SlippagePerFill:   decimal.NewFromFloat(cfg.Engine.SlippagePerFill),
	}
}
