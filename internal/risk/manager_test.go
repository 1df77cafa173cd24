package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordercore/internal/types"
)

type fakeStore struct {
	position       decimal.Decimal
	tradeCount     int
	lastSubmission time.Time
	err            error
}

func (f *fakeStore) NetPosition(ctx context.Context, accountID, symbol string) (decimal.Decimal, error) {
	return f.position, f.err
}

func (f *fakeStore) TradeCount(ctx context.Context, accountID, tradingDate string) (int, error) {
	return f.tradeCount, f.err
}

func (f *fakeStore) LastSubmission(ctx context.Context, accountID, symbol string, side types.Side) (time.Time, error) {
	return f.lastSubmission, f.err
}

type fakeMarketData struct {
	lastUpdate time.Time
	known      bool
	volRatio   float64
	volKnown   bool
}

func (f *fakeMarketData) LastUpdate(symbol string) (time.Time, bool) {
	return f.lastUpdate, f.known
}

func (f *fakeMarketData) VolatilityRatio(symbol string) (float64, bool) {
	return f.volRatio, f.volKnown
}

type fakeLosses int

func (f fakeLosses) LossStreak() int { return int(f) }

var testNow = time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC)

func newTestManager(limits Limits, store Store, md MarketData, losses LossStreaker) *Manager {
	m := NewManager(limits, nil, store, md, losses)
	m.now = func() time.Time { return testNow }
	return m
}

func buyIntent(qty int64) types.OrderIntent {
	return types.OrderIntent{
		StrategyID:      "momentum-1",
		BrokerAccountID: "acct-1",
		Symbol:          "AAPL",
		Side:            types.SideBuy,
		Qty:             decimal.NewFromInt(qty),
		OrderType:       types.OrderTypeMarket,
		ClientIntentID:  "intent-1",
	}
}

func TestEvaluateAllowsByDefault(t *testing.T) {
	m := newTestManager(Limits{}, &fakeStore{}, nil, nil)
	d := m.Evaluate(context.Background(), buyIntent(10))
	assert.True(t, d.Allowed)
	assert.Equal(t, types.ReasonNone, d.Reason)
	assert.Equal(t, testNow, d.EvaluatedAt)
}

func TestEvaluateKillSwitchWinsFirst(t *testing.T) {
	t.Setenv("TEST_KILL_SWITCH", "1")
	kill := NewKillSwitch("TEST_KILL_SWITCH", "", time.Millisecond)

	// Every other check would also fail; the kill switch reason must win.
	m := NewManager(Limits{MaxDailyTrades: 1}, kill, &fakeStore{tradeCount: 5, err: nil}, nil, nil)
	m.now = func() time.Time { return testNow }

	d := m.Evaluate(context.Background(), buyIntent(10))
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonKillSwitchEnabled, d.Reason)
}

func TestEvaluateCooldown(t *testing.T) {
	store := &fakeStore{lastSubmission: testNow.Add(-30 * time.Second)}
	m := newTestManager(Limits{CooldownDefault: time.Minute}, store, nil, nil)

	d := m.Evaluate(context.Background(), buyIntent(10))
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonCooldownActive, d.Reason)

	// Window elapsed: admitted.
	store.lastSubmission = testNow.Add(-2 * time.Minute)
	d = m.Evaluate(context.Background(), buyIntent(10))
	assert.True(t, d.Allowed)
}

func TestEvaluateCooldownPerSymbolOverride(t *testing.T) {
	store := &fakeStore{lastSubmission: testNow.Add(-30 * time.Second)}
	limits := Limits{
		CooldownDefault:   time.Minute,
		CooldownPerSymbol: map[string]time.Duration{"AAPL": 10 * time.Second},
	}
	m := newTestManager(limits, store, nil, nil)
	d := m.Evaluate(context.Background(), buyIntent(10))
	assert.True(t, d.Allowed, "symbol override shortens the window below elapsed time")
}

func TestEvaluateCooldownSideScoped(t *testing.T) {
	store := &fakeStore{lastSubmission: testNow.Add(-time.Second)}
	limits := Limits{CooldownDefault: time.Minute, CooldownSides: []types.Side{types.SideSell}}
	m := newTestManager(limits, store, nil, nil)

	d := m.Evaluate(context.Background(), buyIntent(10))
	assert.True(t, d.Allowed, "cooldown configured for sells only")

	sell := buyIntent(10)
	sell.Side = types.SideSell
	d = m.Evaluate(context.Background(), sell)
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonCooldownActive, d.Reason)
}

func TestEvaluateMaxDailyTrades(t *testing.T) {
	m := newTestManager(Limits{MaxDailyTrades: 3}, &fakeStore{tradeCount: 3}, nil, nil)
	d := m.Evaluate(context.Background(), buyIntent(1))
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonMaxDailyTradesExceeded, d.Reason)

	m = newTestManager(Limits{MaxDailyTrades: 3}, &fakeStore{tradeCount: 2}, nil, nil)
	d = m.Evaluate(context.Background(), buyIntent(1))
	assert.True(t, d.Allowed)
}

func TestEvaluateMaxPositionProjected(t *testing.T) {
	limits := Limits{MaxPositionQty: decimal.NewFromInt(100)}

	m := newTestManager(limits, &fakeStore{position: decimal.NewFromInt(95)}, nil, nil)
	d := m.Evaluate(context.Background(), buyIntent(10))
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonMaxPositionExceeded, d.Reason)

	d = m.Evaluate(context.Background(), buyIntent(5))
	assert.True(t, d.Allowed, "projection lands exactly on the limit")

	// A sell against a long position reduces exposure.
	sell := buyIntent(10)
	sell.Side = types.SideSell
	d = m.Evaluate(context.Background(), sell)
	assert.True(t, d.Allowed)

	// A short projection breaches on absolute value.
	m = newTestManager(limits, &fakeStore{position: decimal.NewFromInt(-95)}, nil, nil)
	d = m.Evaluate(context.Background(), sell)
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonMaxPositionExceeded, d.Reason)
}

func TestEvaluateBreakerMarketDataStale(t *testing.T) {
	md := &fakeMarketData{lastUpdate: testNow.Add(-time.Minute), known: true}
	m := newTestManager(Limits{MarketDataMaxAge: 10 * time.Second}, &fakeStore{}, md, nil)

	d := m.Evaluate(context.Background(), buyIntent(1))
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonCircuitBreakerTriggered, d.Reason)
	assert.Equal(t, types.BreakerMarketDataMissing, d.Detail)

	md.lastUpdate = testNow.Add(-time.Second)
	d = m.Evaluate(context.Background(), buyIntent(1))
	assert.True(t, d.Allowed)
}

func TestEvaluateBreakerUnknownSymbolIsStale(t *testing.T) {
	m := newTestManager(Limits{MarketDataMaxAge: 10 * time.Second}, &fakeStore{}, &fakeMarketData{}, nil)
	d := m.Evaluate(context.Background(), buyIntent(1))
	assert.False(t, d.Allowed)
	assert.Equal(t, types.BreakerMarketDataMissing, d.Detail)
}

func TestEvaluateBreakerVolatility(t *testing.T) {
	md := &fakeMarketData{volRatio: 4.0, volKnown: true}
	m := newTestManager(Limits{MaxVolatilityRatio: 3.0}, &fakeStore{}, md, nil)

	d := m.Evaluate(context.Background(), buyIntent(1))
	assert.False(t, d.Allowed)
	assert.Equal(t, types.BreakerVolatilityRatio, d.Detail)

	md.volRatio = 2.0
	d = m.Evaluate(context.Background(), buyIntent(1))
	assert.True(t, d.Allowed)
}

func TestEvaluateBreakerLossStreak(t *testing.T) {
	m := newTestManager(Limits{MaxConsecutiveLosses: 3}, &fakeStore{}, nil, fakeLosses(3))
	d := m.Evaluate(context.Background(), buyIntent(1))
	assert.False(t, d.Allowed)
	assert.Equal(t, types.BreakerConsecutiveLosses, d.Detail)

	m = newTestManager(Limits{MaxConsecutiveLosses: 3}, &fakeStore{}, nil, fakeLosses(2))
	d = m.Evaluate(context.Background(), buyIntent(1))
	assert.True(t, d.Allowed)
}

func TestEvaluateFailsClosedOnStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db locked")}
	m := newTestManager(Limits{}, store, nil, nil)

	d := m.Evaluate(context.Background(), buyIntent(1))
	assert.False(t, d.Allowed)
	assert.Equal(t, types.ReasonRiskDataUnavailable, d.Reason)
	assert.Contains(t, d.Detail, "db locked")
}

func TestEvaluateOverrideAdmitsOnStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db locked")}
	m := newTestManager(Limits{OverrideOnDataUnavailable: true}, store, nil, nil)

	d := m.Evaluate(context.Background(), buyIntent(1))
	assert.True(t, d.Allowed)
	assert.Equal(t, types.ReasonRiskDataUnavailableOverridden, d.Reason)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	store := &fakeStore{position: decimal.NewFromInt(50), tradeCount: 1}
	m := newTestManager(Limits{MaxDailyTrades: 5, MaxPositionQty: decimal.NewFromInt(100)}, store, nil, nil)

	intent := buyIntent(10)
	first := m.Evaluate(context.Background(), intent)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, m.Evaluate(context.Background(), intent))
	}
}
