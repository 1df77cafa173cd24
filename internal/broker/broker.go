// Package broker defines the brokerage boundary: order placement,
// cancellation, and status polling behind a narrow interface with a
// no-route dry-run implementation and a live Alpaca adapter.
package broker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"ordercore/internal/types"
)

// ErrOrderNotFound is returned by status lookups for unknown ids. The
// engine uses it during timeout reconciliation to decide a submission never
// reached the broker.
var ErrOrderNotFound = errors.New("broker: order not found")

// OrderRequest is the domain-level placement request. ClientOrderID is the
// idempotency token derived from the intent's client_intent_id; retried
// submissions with the same token must not create duplicate broker orders.
type OrderRequest struct {
	Symbol        string
	Side          types.Side
	Qty           decimal.Decimal
	Type          types.OrderType
	LimitPrice    decimal.Decimal
	ClientOrderID string
}

// Ack is the broker's acknowledgment of a placed order.
type Ack struct {
	BrokerOrderID string
	State         types.State
	RawStatus     string
}

// Broker abstracts the brokerage. All methods honor the caller's context
// deadline; a deadline hit means unknown outcome, not failure.
type Broker interface {
	// Name identifies the implementation ("alpaca", "dry_run").
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (Ack, error)

	CancelOrder(ctx context.Context, brokerOrderID string) error

	GetOrder(ctx context.Context, brokerOrderID string) (types.OrderView, error)

	// GetOrderByClientID resolves an order by its idempotency token, used
	// to reconcile submissions whose outcome is unknown after a timeout.
	GetOrderByClientID(ctx context.Context, clientOrderID string) (types.OrderView, error)
}
