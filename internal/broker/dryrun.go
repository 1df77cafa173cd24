package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"ordercore/internal/types"
)

// Compile-time interface check.
var _ Broker = (*DryRunBroker)(nil)

// DryRunBroker acknowledges every placement with a synthetic order id and
// never routes anything anywhere. Orders sit in ACCEPTED until cancelled.
type DryRunBroker struct {
	mu         sync.Mutex
	byID       map[string]types.OrderView
	byClientID map[string]string
}

func NewDryRunBroker() *DryRunBroker {
	return &DryRunBroker{
		byID:       make(map[string]types.OrderView),
		byClientID: make(map[string]string),
	}
}

// Name returns "dry_run".
func (b *DryRunBroker) Name() string { return "dry_run" }

// PlaceOrder returns a synthetic acknowledgment. Replaying a client order id
// returns the original ack instead of minting a second order.
func (b *DryRunBroker) PlaceOrder(_ context.Context, req OrderRequest) (Ack, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.byClientID[req.ClientOrderID]; ok {
		v := b.byID[id]
		return Ack{BrokerOrderID: id, State: v.State, RawStatus: v.RawStatus}, nil
	}
	id := "dry-" + uuid.NewString()
	view := types.OrderView{
		BrokerOrderID: id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Qty:           req.Qty,
		State:         types.StateAccepted,
		RawStatus:     "dry_run",
	}
	b.byID[id] = view
	b.byClientID[req.ClientOrderID] = id
	return Ack{BrokerOrderID: id, State: types.StateAccepted, RawStatus: "dry_run"}, nil
}

func (b *DryRunBroker) CancelOrder(_ context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.byID[brokerOrderID]
	if !ok {
		return ErrOrderNotFound
	}
	if !v.State.Terminal() {
		v.State = types.StateCancelled
		v.RawStatus = "canceled"
		b.byID[brokerOrderID] = v
	}
	return nil
}

func (b *DryRunBroker) GetOrder(_ context.Context, brokerOrderID string) (types.OrderView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.byID[brokerOrderID]
	if !ok {
		return types.OrderView{}, ErrOrderNotFound
	}
	return v, nil
}

func (b *DryRunBroker) GetOrderByClientID(_ context.Context, clientOrderID string) (types.OrderView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byClientID[clientOrderID]
	if !ok {
		return types.OrderView{}, ErrOrderNotFound
	}
	return b.byID[id], nil
}
