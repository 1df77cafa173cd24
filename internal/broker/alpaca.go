package broker

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"ordercore/internal/lifecycle"
	"ordercore/internal/types"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker routes orders to the Alpaca REST API and normalizes Alpaca
// status strings to canonical lifecycle states. The client order id on each
// placement carries the intent's idempotency token, so retrying the same
// intent cannot create a duplicate broker order.
type AlpacaBroker struct {
	client alpacaClient
}

// alpacaClient is the slice of the SDK the adapter uses; swapped in tests.
type alpacaClient interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
	GetOrderByClientOrderID(clientOrderID string) (*alpaca.Order, error)
	CancelOrder(orderID string) error
}

func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

func (b *AlpacaBroker) PlaceOrder(ctx context.Context, req OrderRequest) (Ack, error) {
	qty := req.Qty
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        strings.ToUpper(req.Symbol),
		Qty:           &qty,
		Side:          toAlpacaSide(req.Side),
		Type:          toAlpacaType(req.Type),
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == types.OrderTypeLimit && req.LimitPrice.IsPositive() {
		lp := req.LimitPrice
		placeReq.LimitPrice = &lp
	}
	order, err := call(ctx, func() (*alpaca.Order, error) {
		return b.client.PlaceOrder(placeReq)
	})
	if err != nil {
		return Ack{}, mapErr(err)
	}
	view := toView(order)
	return Ack{BrokerOrderID: view.BrokerOrderID, State: view.State, RawStatus: view.RawStatus}, nil
}

func (b *AlpacaBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, b.client.CancelOrder(brokerOrderID)
	})
	return mapErr(err)
}

func (b *AlpacaBroker) GetOrder(ctx context.Context, brokerOrderID string) (types.OrderView, error) {
	order, err := call(ctx, func() (*alpaca.Order, error) {
		return b.client.GetOrder(brokerOrderID)
	})
	if err != nil {
		return types.OrderView{}, mapErr(err)
	}
	return toView(order), nil
}

func (b *AlpacaBroker) GetOrderByClientID(ctx context.Context, clientOrderID string) (types.OrderView, error) {
	order, err := call(ctx, func() (*alpaca.Order, error) {
		return b.client.GetOrderByClientOrderID(clientOrderID)
	})
	if err != nil {
		return types.OrderView{}, mapErr(err)
	}
	return toView(order), nil
}

// call runs one SDK call in a goroutine so the caller's deadline is honored
// even though the v3 SDK does not thread contexts. On deadline the result is
// unknown, never assumed failed.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return ErrOrderNotFound
	}
	return err
}

func toAlpacaSide(s types.Side) alpaca.Side {
	if s == types.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func toAlpacaType(t types.OrderType) alpaca.OrderType {
	if t == types.OrderTypeLimit {
		return alpaca.Limit
	}
	return alpaca.Market
}

func toView(o *alpaca.Order) types.OrderView {
	var qty decimal.Decimal
	if o.Qty != nil {
		qty = *o.Qty
	}
	var avg decimal.Decimal
	if o.FilledAvgPrice != nil {
		avg = *o.FilledAvgPrice
	}
	status := string(o.Status)
	return types.OrderView{
		BrokerOrderID:  o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           types.Side(o.Side),
		Qty:            qty,
		FilledQty:      o.FilledQty,
		FilledAvgPrice: avg,
		State:          lifecycle.NormalizeStatus(status, o.FilledQty, qty),
		RawStatus:      status,
	}
}
