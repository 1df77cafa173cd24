package lifecycle

import (
	"hash/fnv"
	"sync"

	"github.com/shopspring/decimal"

	"ordercore/internal/logger"
	"ordercore/internal/metrics"
	"ordercore/internal/types"
)

const trackerShards = 16

// Update is the outcome of folding one broker observation into the tracker.
type Update struct {
	Order        types.Order
	Transitioned bool
	// FillDelta is the newly observed filled quantity since the previous
	// observation of this order. Positive exactly once per unit of fill
	// within a process lifetime.
	FillDelta decimal.Decimal
	// FillSeq numbers the delta within its order, starting at 1. Together
	// with the broker order id it forms the ledger natural key.
	FillSeq  int
	AvgPrice decimal.Decimal
	Terminal bool

	// Pre-observation fill accounting, kept so Rollback can restore it.
	prevCum      decimal.Decimal
	prevNotional decimal.Decimal
}

type entry struct {
	order   types.Order
	lastCum decimal.Decimal
	fillSeq int
	frozen  bool
}

type shard struct {
	mu sync.Mutex
	m  map[string]*entry
}

// Tracker holds the in-memory last-seen cumulative fill per broker order.
// Entries are evicted when the order reaches a terminal state; after a
// process restart tracking resets, which is the documented at-least-once
// boundary. Locking is per shard, never global.
type Tracker struct {
	shards [trackerShards]shard
}

func NewTracker() *Tracker {
	t := &Tracker{}
	for i := range t.shards {
		t.shards[i].m = make(map[string]*entry)
	}
	return t
}

func (t *Tracker) shardFor(brokerOrderID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(brokerOrderID))
	return &t.shards[h.Sum32()%trackerShards]
}

// Track registers a freshly submitted order. Re-registering an id already
// tracked is a no-op so a reconciled timeout cannot reset fill accounting.
func (t *Tracker) Track(order types.Order) {
	s := t.shardFor(order.BrokerOrderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[order.BrokerOrderID]; ok {
		return
	}
	if order.State == "" {
		order.State = types.StateNew
	}
	s.m[order.BrokerOrderID] = &entry{order: order, lastCum: order.CumFilledQty}
}

// Tracked reports whether the order id is still live in the tracker.
func (t *Tracker) Tracked(brokerOrderID string) bool {
	s := t.shardFor(brokerOrderID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[brokerOrderID]
	return ok
}

// Open returns the broker order ids currently tracked and not frozen, for
// the status poller.
func (t *Tracker) Open() []string {
	var ids []string
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for id, e := range s.m {
			if !e.frozen {
				ids = append(ids, id)
			}
		}
		s.mu.Unlock()
	}
	return ids
}

// Apply folds one normalized broker observation into the tracked order.
// It returns (update, true) when the observation was applied, and
// (zero, false) when the order is unknown, frozen, or the observed
// transition violates the state machine. Violations freeze the order in its
// last-known-good state and are surfaced through logs and metrics only.
func (t *Tracker) Apply(view types.OrderView) (Update, bool) {
	s := t.shardFor(view.BrokerOrderID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[view.BrokerOrderID]
	if !ok || e.frozen {
		return Update{}, false
	}

	if !CanTransition(e.order.State, view.State) {
		e.frozen = true
		metrics.LifecycleViolations.Inc()
		logger.Errorf("%s: order %s observed %s -> %s (status %q), freezing at %s",
			types.ReasonLifecycleInvariantViolation, view.BrokerOrderID, e.order.State, view.State, view.RawStatus, e.order.State)
		return Update{}, false
	}

	u := Update{Transitioned: view.State != e.order.State}
	e.order.State = view.State

	// Brokers report cumulative filled quantity; emit only the delta and
	// clamp so the cumulative never exceeds the intent quantity.
	newCum := view.FilledQty
	if limit := e.order.Intent.Qty; newCum.GreaterThan(limit) {
		logger.Warnf("order %s reported filled %s above intent qty %s, clamping",
			view.BrokerOrderID, newCum, limit)
		newCum = limit
	}
	if delta := newCum.Sub(e.lastCum); delta.IsPositive() {
		// The broker reports a cumulative average price; the price of this
		// delta is the notional difference spread over the delta quantity.
		newNotional := newCum.Mul(view.FilledAvgPrice)
		deltaPrice := view.FilledAvgPrice
		if diff := newNotional.Sub(e.order.CumFilledNotional); diff.IsPositive() {
			deltaPrice = diff.Div(delta)
		}
		u.prevCum = e.lastCum
		u.prevNotional = e.order.CumFilledNotional
		e.lastCum = newCum
		e.fillSeq++
		e.order.CumFilledQty = newCum
		e.order.CumFilledNotional = newNotional
		u.FillDelta = delta
		u.FillSeq = e.fillSeq
		u.AvgPrice = deltaPrice
	}

	u.Order = e.order
	if view.State.Terminal() {
		u.Terminal = true
		delete(s.m, view.BrokerOrderID)
	}
	return u, true
}

// Rollback undoes the fill accounting of the Apply that produced u, so the
// delta is re-emitted with the same FillSeq on the next observation of the
// same cumulative state. Callers use it when the ledger write for the delta
// ultimately fails; the create-only insert makes the re-emission safe. If a
// terminal observation already evicted the entry, Rollback restores it and
// the order returns to the polling set.
func (t *Tracker) Rollback(u Update) {
	if !u.FillDelta.IsPositive() {
		return
	}
	s := t.shardFor(u.Order.BrokerOrderID)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[u.Order.BrokerOrderID]
	if !ok {
		e = &entry{order: u.Order}
		s.m[u.Order.BrokerOrderID] = e
	}
	if e.frozen {
		return
	}
	e.lastCum = u.prevCum
	e.fillSeq = u.FillSeq - 1
	e.order.CumFilledQty = u.prevCum
	e.order.CumFilledNotional = u.prevNotional
}
