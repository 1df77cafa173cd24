// Package risk implements deterministic, fail-closed admission control for
// order intents. Evaluation is side-effect free beyond reading external
// state, and the same (intent, snapshot) pair always yields the same
// decision.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ordercore/internal/ledger"
	"ordercore/internal/logger"
	"ordercore/internal/metrics"
	"ordercore/internal/types"
)

// Store is the narrow read contract against the position/risk store. The
// store is externally synchronized; the manager never assumes exclusive
// access.
type Store interface {
	NetPosition(ctx context.Context, accountID, symbol string) (decimal.Decimal, error)
	TradeCount(ctx context.Context, accountID, tradingDate string) (int, error)
	LastSubmission(ctx context.Context, accountID, symbol string, side types.Side) (time.Time, error)
}

// MarketData supplies circuit breaker inputs. Implementations belong to the
// market data layer outside the core; a nil source disables the data-driven
// breakers.
type MarketData interface {
	// LastUpdate returns the time of the most recent observation for the
	// symbol, false when the symbol has never been observed.
	LastUpdate(symbol string) (time.Time, bool)
	// VolatilityRatio returns short-window volatility over its baseline,
	// false when not enough history exists.
	VolatilityRatio(symbol string) (float64, bool)
}

// LossStreaker reports consecutive realized losses, fed by the P&L engine.
type LossStreaker interface {
	LossStreak() int
}

// Limits are the static admission thresholds. Zero values disable the
// corresponding check.
type Limits struct {
	MaxDailyTrades       int
	MaxPositionQty       decimal.Decimal
	CooldownDefault      time.Duration
	CooldownPerSymbol    map[string]time.Duration
	CooldownSides        []types.Side
	MarketDataMaxAge     time.Duration
	MaxVolatilityRatio   float64
	MaxConsecutiveLosses int
	// OverrideOnDataUnavailable flips the fail-closed default: a failed
	// external read admits the intent instead of rejecting it. Every use
	// is logged as a warning.
	OverrideOnDataUnavailable bool
}

// Manager evaluates intents against the configured limits.
type Manager struct {
	limits Limits
	kill   *KillSwitch
	store  Store
	md     MarketData
	losses LossStreaker

	now func() time.Time
}

func NewManager(limits Limits, kill *KillSwitch, store Store, md MarketData, losses LossStreaker) *Manager {
	return &Manager{
		limits: limits,
		kill:   kill,
		store:  store,
		md:     md,
		losses: losses,
		now:    time.Now,
	}
}

// snapshot is everything Evaluate reads from the outside world, gathered
// up front so the decision itself is a pure function.
type snapshot struct {
	now            time.Time
	killSwitch     bool
	killReason     string
	position       decimal.Decimal
	tradeCount     int
	lastSubmission time.Time
	mdLastUpdate   time.Time
	mdKnown        bool
	volRatio       float64
	volKnown       bool
	lossStreak     int
	overridden     bool
}

// Evaluate gathers external state and applies the admission checks in
// order; the first failed check wins. Any failed external read rejects with
// risk_data_unavailable unless the operator override is set.
func (m *Manager) Evaluate(ctx context.Context, intent types.OrderIntent) types.RiskDecision {
	snap, unavailable := m.gather(ctx, intent)
	if unavailable != nil {
		if !m.limits.OverrideOnDataUnavailable {
			return types.RiskDecision{
				Allowed:     false,
				Reason:      types.ReasonRiskDataUnavailable,
				Detail:      unavailable.Error(),
				EvaluatedAt: snap.now,
			}
		}
		metrics.RiskOverrides.Inc()
		logger.Warnf("risk data unavailable for intent %s, admitted by operator override: %v",
			intent.ClientIntentID, unavailable)
		snap.overridden = true
	}
	return m.decide(intent, snap)
}

func (m *Manager) gather(ctx context.Context, intent types.OrderIntent) (snapshot, error) {
	snap := snapshot{now: m.now().UTC()}

	if m.kill != nil {
		enabled, reason, err := m.kill.Enabled()
		if err != nil {
			return snap, fmt.Errorf("kill switch read: %w", err)
		}
		snap.killSwitch = enabled
		snap.killReason = reason
	}
	if snap.killSwitch {
		// First check wins anyway; skip the remaining reads.
		return snap, nil
	}

	symbol := intent.NormalizedSymbol()
	if m.store != nil {
		pos, err := m.store.NetPosition(ctx, intent.BrokerAccountID, symbol)
		if err != nil {
			return snap, fmt.Errorf("position read: %w", err)
		}
		snap.position = pos

		count, err := m.store.TradeCount(ctx, intent.BrokerAccountID, ledger.TradingDate(snap.now))
		if err != nil {
			return snap, fmt.Errorf("trade count read: %w", err)
		}
		snap.tradeCount = count

		last, err := m.store.LastSubmission(ctx, intent.BrokerAccountID, symbol, intent.Side)
		if err != nil {
			return snap, fmt.Errorf("last submission read: %w", err)
		}
		snap.lastSubmission = last
	}

	if m.md != nil {
		snap.mdLastUpdate, snap.mdKnown = m.md.LastUpdate(symbol)
		snap.volRatio, snap.volKnown = m.md.VolatilityRatio(symbol)
	}
	if m.losses != nil {
		snap.lossStreak = m.losses.LossStreak()
	}
	return snap, nil
}

// decide applies the ordered checks against a fixed snapshot. Pure.
func (m *Manager) decide(intent types.OrderIntent, snap snapshot) types.RiskDecision {
	d := types.RiskDecision{Allowed: false, EvaluatedAt: snap.now}

	if snap.killSwitch {
		d.Reason = types.ReasonKillSwitchEnabled
		d.Detail = snap.killReason
		return d
	}

	if window := m.cooldownFor(intent); window > 0 && !snap.lastSubmission.IsZero() {
		if elapsed := snap.now.Sub(snap.lastSubmission); elapsed < window {
			d.Reason = types.ReasonCooldownActive
			d.Detail = fmt.Sprintf("%s %s cooled down for %s more", intent.NormalizedSymbol(), intent.Side, window-elapsed)
			return d
		}
	}

	if m.limits.MaxDailyTrades > 0 && snap.tradeCount >= m.limits.MaxDailyTrades {
		d.Reason = types.ReasonMaxDailyTradesExceeded
		d.Detail = fmt.Sprintf("%d trades today, max %d", snap.tradeCount, m.limits.MaxDailyTrades)
		return d
	}

	if m.limits.MaxPositionQty.IsPositive() {
		projected := snap.position.Add(intent.Qty.Mul(intent.Side.Sign()))
		if projected.Abs().GreaterThan(m.limits.MaxPositionQty) {
			d.Reason = types.ReasonMaxPositionExceeded
			d.Detail = fmt.Sprintf("projected position %s exceeds max %s", projected, m.limits.MaxPositionQty)
			return d
		}
	}

	if breaker := m.checkBreakers(snap); breaker != "" {
		metrics.BreakerTrips.WithLabelValues(breaker).Inc()
		d.Reason = types.ReasonCircuitBreakerTriggered
		d.Detail = breaker
		return d
	}

	d.Allowed = true
	if snap.overridden {
		d.Reason = types.ReasonRiskDataUnavailableOverridden
	}
	return d
}

func (m *Manager) cooldownFor(intent types.OrderIntent) time.Duration {
	if len(m.limits.CooldownSides) > 0 {
		matched := false
		for _, s := range m.limits.CooldownSides {
			if s == intent.Side {
				matched = true
				break
			}
		}
		if !matched {
			return 0
		}
	}
	if w, ok := m.limits.CooldownPerSymbol[intent.NormalizedSymbol()]; ok {
		return w
	}
	return m.limits.CooldownDefault
}

func (m *Manager) checkBreakers(snap snapshot) string {
	if m.md != nil && m.limits.MarketDataMaxAge > 0 {
		if !snap.mdKnown || snap.now.Sub(snap.mdLastUpdate) > m.limits.MarketDataMaxAge {
			return types.BreakerMarketDataMissing
		}
	}
	if m.limits.MaxVolatilityRatio > 0 && snap.volKnown && snap.volRatio > m.limits.MaxVolatilityRatio {
		return types.BreakerVolatilityRatio
	}
	if m.limits.MaxConsecutiveLosses > 0 && snap.lossStreak >= m.limits.MaxConsecutiveLosses {
		return types.BreakerConsecutiveLosses
	}
	return ""
}
