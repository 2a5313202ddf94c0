package request

import (
	"context"

	"futures-trading-engine/internal/exchange"
)

// Exchange wraps an exchange.Adapter so that every call runs through the
// request layer. It satisfies exchange.Adapter, so components depend on
// the adapter interface and never notice the queue in between.
type Exchange struct {
	layer   *Layer
	adapter exchange.Adapter
}

// NewExchange builds the hardened adapter.
func NewExchange(layer *Layer, adapter exchange.Adapter) *Exchange {
	return &Exchange{layer: layer, adapter: adapter}
}

var _ exchange.Adapter = (*Exchange)(nil)

func (e *Exchange) FetchBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	v, err := e.layer.Do(ctx, "fetchBalance", func(ctx context.Context) (interface{}, error) {
		return e.adapter.FetchBalance(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]exchange.Balance), nil
}

func (e *Exchange) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	v, err := e.layer.Do(ctx, "fetchPrice", func(ctx context.Context) (interface{}, error) {
		return e.adapter.FetchPrice(ctx, symbol)
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

func (e *Exchange) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	v, err := e.layer.Do(ctx, "createOrder", func(ctx context.Context) (interface{}, error) {
		return e.adapter.CreateOrder(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*exchange.Order), nil
}

func (e *Exchange) CancelOrder(ctx context.Context, id, symbol string) error {
	_, err := e.layer.Do(ctx, "cancelOrder", func(ctx context.Context) (interface{}, error) {
		return nil, e.adapter.CancelOrder(ctx, id, symbol)
	})
	return err
}

func (e *Exchange) FetchOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	v, err := e.layer.Do(ctx, "fetchOpenOrders", func(ctx context.Context) (interface{}, error) {
		return e.adapter.FetchOpenOrders(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return v.([]exchange.Order), nil
}

func (e *Exchange) FetchPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	v, err := e.layer.Do(ctx, "fetchPositions", func(ctx context.Context) (interface{}, error) {
		return e.adapter.FetchPositions(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return v.([]exchange.Position), nil
}
