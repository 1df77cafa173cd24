// Package lifecycle implements the canonical order state machine and the
// per-order incremental fill accounting that turns cumulative broker fill
// reports into exactly-once ledger deltas.
package lifecycle

import (
	"strings"

	"github.com/shopspring/decimal"

	"ordercore/internal/types"
)

var transitions = map[types.State]map[types.State]bool{
	types.StateNew: {
		types.StateAccepted:        true,
		types.StatePartiallyFilled: true,
		types.StateFilled:          true,
		types.StateCancelled:       true,
		types.StateExpired:         true,
	},
	types.StateAccepted: {
		types.StatePartiallyFilled: true,
		types.StateFilled:          true,
		types.StateCancelled:       true,
		types.StateExpired:         true,
	},
	types.StatePartiallyFilled: {
		types.StatePartiallyFilled: true,
		types.StateFilled:          true,
		types.StateCancelled:       true,
		types.StateExpired:         true,
	},
}

// CanTransition reports whether from → to is legal. Repeating the current
// state is always legal: terminal self-loops are idempotent no-ops and
// non-terminal repeats are simply "no news" from the broker.
func CanTransition(from, to types.State) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return transitions[from][to]
}

// NormalizeStatus maps a broker status string plus fill quantities onto a
// canonical state. Terminal status strings win over quantity evidence so a
// partially filled order that was then cancelled lands in CANCELLED, while
// quantity evidence wins over stale non-terminal strings.
func NormalizeStatus(raw string, filledQty, qty decimal.Decimal) types.State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "filled":
		return types.StateFilled
	case "canceled", "cancelled":
		return types.StateCancelled
	case "expired":
		return types.StateExpired
	}
	if qty.IsPositive() && filledQty.GreaterThanOrEqual(qty) {
		return types.StateFilled
	}
	if filledQty.IsPositive() {
		return types.StatePartiallyFilled
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "new", "pending_new":
		return types.StateNew
	case "accepted", "replaced", "pending_replace", "pending_cancel":
		return types.StateAccepted
	case "partially_filled":
		return types.StatePartiallyFilled
	}
	return types.StateNew
}
