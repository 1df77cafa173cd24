package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordercore/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTrade(brokerOrderID string, seq int, qty, price float64) *types.LedgerTrade {
	return &types.LedgerTrade{
		TenantID:      "t1",
		UID:           "u1",
		StrategyID:    "momentum-1",
		RunID:         "run-1",
		Symbol:        "aapl",
		Side:          types.SideBuy,
		Qty:           decimal.NewFromFloat(qty),
		Price:         decimal.NewFromFloat(price),
		BrokerOrderID: brokerOrderID,
		FillSeq:       seq,
		FilledAt:      time.Date(2025, 6, 2, 15, 0, seq, 0, time.UTC),
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestAppendIsCreateOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tr := testTrade("o1", 1, 5, 100)
	require.NoError(t, s.Append(ctx, tr))

	// A retry of the same (broker_order_id, fill_seq) is a silent no-op,
	// even with different payload values.
	dup := testTrade("o1", 1, 7, 999)
	require.NoError(t, s.Append(ctx, dup))

	fills, err := s.FillsForScope(ctx, tr.Scope())
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Qty.Equal(decimal.NewFromInt(5)))
	assert.True(t, fills[0].Price.Equal(decimal.NewFromInt(100)))
}

func TestAppendValidation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	bad := testTrade("o1", 1, 0, 100)
	assert.Error(t, s.Append(ctx, bad))

	bad = testTrade("o1", 1, 5, 0)
	assert.Error(t, s.Append(ctx, bad))
}

func TestAppendNormalizes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tr := testTrade("o1", 1, 5, 100)
	require.NoError(t, s.Append(ctx, tr))

	fills, err := s.FillsForScope(ctx, types.ScopeKey{TenantID: "t1", UID: "u1", StrategyID: "momentum-1", Symbol: "AAPL"})
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "AAPL", fills[0].Symbol)
	assert.True(t, fills[0].Multiplier.Equal(decimal.NewFromInt(1)), "zero multiplier defaults to 1")
}

func TestFillsForScopeOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, testTrade("o1", 2, 3, 101)))
	require.NoError(t, s.Append(ctx, testTrade("o1", 1, 5, 100)))
	require.NoError(t, s.Append(ctx, testTrade("o2", 1, 2, 102)))

	fills, err := s.FillsForScope(ctx, testTrade("o1", 1, 0, 0).Scope())
	require.NoError(t, err)
	require.Len(t, fills, 3)
	assert.True(t, fills[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, fills[1].Price.Equal(decimal.NewFromInt(101)))
	assert.True(t, fills[2].Price.Equal(decimal.NewFromInt(102)))
}

func TestAllFills(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, testTrade("o1", 1, 5, 100)))
	other := testTrade("o2", 1, 3, 50)
	other.Symbol = "MSFT"
	require.NoError(t, s.Append(ctx, other))

	fills, err := s.AllFills(ctx)
	require.NoError(t, err)
	assert.Len(t, fills, 2)
}

func TestNetPositionAndDelta(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pos, err := s.NetPosition(ctx, "acct-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.IsZero(), "missing row means flat")

	require.NoError(t, s.ApplyPositionDelta(ctx, "acct-1", "aapl", decimal.NewFromInt(10)))
	require.NoError(t, s.ApplyPositionDelta(ctx, "acct-1", "AAPL", decimal.NewFromInt(-4)))

	pos, err = s.NetPosition(ctx, "acct-1", "aapl")
	require.NoError(t, err)
	assert.True(t, pos.Equal(decimal.NewFromInt(6)), "got %s", pos)

	// Other accounts are untouched.
	pos, err = s.NetPosition(ctx, "acct-2", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.IsZero())
}

func TestSubmissionsCountOncePerIntent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

	intent := types.OrderIntent{
		BrokerAccountID: "acct-1",
		Symbol:          "AAPL",
		Side:            types.SideBuy,
		Qty:             decimal.NewFromInt(1),
		ClientIntentID:  "intent-1",
	}
	require.NoError(t, s.RecordSubmission(ctx, intent, at))
	// Reconciled retry of the same intent.
	require.NoError(t, s.RecordSubmission(ctx, intent, at.Add(time.Second)))

	other := intent
	other.ClientIntentID = "intent-2"
	require.NoError(t, s.RecordSubmission(ctx, other, at.Add(time.Minute)))

	n, err := s.TradeCount(ctx, "acct-1", "2025-06-02")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.TradeCount(ctx, "acct-1", "2025-06-03")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLastSubmission(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	last, err := s.LastSubmission(ctx, "acct-1", "AAPL", types.SideBuy)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	at := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	first := types.OrderIntent{BrokerAccountID: "acct-1", Symbol: "AAPL", Side: types.SideBuy, ClientIntentID: "i1"}
	second := types.OrderIntent{BrokerAccountID: "acct-1", Symbol: "AAPL", Side: types.SideBuy, ClientIntentID: "i2"}
	require.NoError(t, s.RecordSubmission(ctx, first, at))
	require.NoError(t, s.RecordSubmission(ctx, second, at.Add(time.Minute)))

	last, err = s.LastSubmission(ctx, "acct-1", "AAPL", types.SideBuy)
	require.NoError(t, err)
	assert.WithinDuration(t, at.Add(time.Minute), last, time.Second)

	// Side scoped: no sells recorded.
	last, err = s.LastSubmission(ctx, "acct-1", "AAPL", types.SideSell)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestTradingDate(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	// 23:30 EST is already the next UTC day.
	at := time.Date(2025, 6, 2, 23, 30, 0, 0, est)
	assert.Equal(t, "2025-06-03", TradingDate(at))
}
