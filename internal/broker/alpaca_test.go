package broker

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordercore/internal/types"
)

type fakeAlpacaClient struct {
	placed    []alpaca.PlaceOrderRequest
	order     *alpaca.Order
	err       error
	cancelled []string
	block     chan struct{}
}

func (f *fakeAlpacaClient) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	if f.block != nil {
		<-f.block
	}
	f.placed = append(f.placed, req)
	return f.order, f.err
}

func (f *fakeAlpacaClient) GetOrder(orderID string) (*alpaca.Order, error) {
	return f.order, f.err
}

func (f *fakeAlpacaClient) GetOrderByClientOrderID(clientOrderID string) (*alpaca.Order, error) {
	return f.order, f.err
}

func (f *fakeAlpacaClient) CancelOrder(orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return f.err
}

func alpacaOrder(status string, filled, qty, avgPrice float64) *alpaca.Order {
	q := decimal.NewFromFloat(qty)
	avg := decimal.NewFromFloat(avgPrice)
	return &alpaca.Order{
		ID:             "broker-1",
		ClientOrderID:  "c1",
		Symbol:         "AAPL",
		Side:           alpaca.Buy,
		Qty:            &q,
		FilledQty:      decimal.NewFromFloat(filled),
		FilledAvgPrice: &avg,
		Status:         status,
	}
}

func TestAlpacaPlaceOrder(t *testing.T) {
	fake := &fakeAlpacaClient{order: alpacaOrder("accepted", 0, 10, 0)}
	b := &AlpacaBroker{client: fake}

	ack, err := b.PlaceOrder(context.Background(), OrderRequest{
		Symbol:        "aapl",
		Side:          types.SideBuy,
		Qty:           decimal.NewFromInt(10),
		Type:          types.OrderTypeLimit,
		LimitPrice:    decimal.NewFromFloat(123.45),
		ClientOrderID: "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "broker-1", ack.BrokerOrderID)
	assert.Equal(t, types.StateAccepted, ack.State)
	assert.Equal(t, "accepted", ack.RawStatus)

	require.Len(t, fake.placed, 1)
	req := fake.placed[0]
	assert.Equal(t, "AAPL", req.Symbol)
	assert.Equal(t, alpaca.Buy, req.Side)
	assert.Equal(t, alpaca.Limit, req.Type)
	assert.Equal(t, "c1", req.ClientOrderID, "client order id carries the idempotency token")
	require.NotNil(t, req.LimitPrice)
	assert.True(t, req.LimitPrice.Equal(decimal.NewFromFloat(123.45)))
}

func TestAlpacaGetOrderNormalizesStatus(t *testing.T) {
	fake := &fakeAlpacaClient{order: alpacaOrder("partially_filled", 4, 10, 100.5)}
	b := &AlpacaBroker{client: fake}

	view, err := b.GetOrder(context.Background(), "broker-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatePartiallyFilled, view.State)
	assert.Equal(t, "partially_filled", view.RawStatus)
	assert.True(t, view.FilledQty.Equal(decimal.NewFromInt(4)))
	assert.True(t, view.FilledAvgPrice.Equal(decimal.NewFromFloat(100.5)))
}

func TestAlpacaGetOrderByClientID(t *testing.T) {
	fake := &fakeAlpacaClient{order: alpacaOrder("filled", 10, 10, 101)}
	b := &AlpacaBroker{client: fake}

	view, err := b.GetOrderByClientID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "broker-1", view.BrokerOrderID)
	assert.Equal(t, types.StateFilled, view.State)
}

func TestAlpacaNotFoundMapping(t *testing.T) {
	fake := &fakeAlpacaClient{err: &alpaca.APIError{StatusCode: http.StatusNotFound, Message: "order not found"}}
	b := &AlpacaBroker{client: fake}

	_, err := b.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	// Other API errors pass through untranslated.
	fake.err = &alpaca.APIError{StatusCode: http.StatusForbidden, Message: "insufficient buying power"}
	_, err = b.GetOrder(context.Background(), "broker-1")
	assert.NotErrorIs(t, err, ErrOrderNotFound)
	assert.Error(t, err)
}

func TestAlpacaPlaceOrderHonorsDeadline(t *testing.T) {
	fake := &fakeAlpacaClient{order: alpacaOrder("accepted", 0, 10, 0), block: make(chan struct{})}
	defer close(fake.block)
	b := &AlpacaBroker{client: fake}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.PlaceOrder(ctx, OrderRequest{
		Symbol:        "AAPL",
		Side:          types.SideBuy,
		Qty:           decimal.NewFromInt(1),
		Type:          types.OrderTypeMarket,
		ClientOrderID: "c1",
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAlpacaCancelOrder(t *testing.T) {
	fake := &fakeAlpacaClient{}
	b := &AlpacaBroker{client: fake}

	require.NoError(t, b.CancelOrder(context.Background(), "broker-1"))
	assert.Equal(t, []string{"broker-1"}, fake.cancelled)
}
