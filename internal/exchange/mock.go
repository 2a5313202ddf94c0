package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MockAdapter implements Adapter for dry-run mode. Orders fill instantly
// at the provided price, balances are tracked locally and nothing leaves
// the process.
type MockAdapter struct {
	mu            sync.RWMutex
	balance       map[string]Balance
	prices        map[string]float64
	openOrders    map[string]*Order
	positions     map[string]*Position
	nextOrderID   int64
	priceProvider func(symbol string) (float64, error)
}

// NewMockAdapter creates a mock adapter seeded with a USDT balance.
// priceProvider is optional; when nil, prices set via SetPrice are used.
func NewMockAdapter(initialBalance float64, priceProvider func(symbol string) (float64, error)) *MockAdapter {
	return &MockAdapter{
		balance: map[string]Balance{
			"USDT": {Free: initialBalance, Total: initialBalance},
		},
		prices:        make(map[string]float64),
		openOrders:    make(map[string]*Order),
		positions:     make(map[string]*Position),
		nextOrderID:   1000,
		priceProvider: priceProvider,
	}
}

// SetPrice sets the simulated price for a symbol.
func (m *MockAdapter) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *MockAdapter) price(symbol string) (float64, error) {
	if m.priceProvider != nil {
		return m.priceProvider(symbol)
	}
	p, ok := m.prices[symbol]
	if !ok {
		return 0, NewError(KindRejected, "fetchPrice", fmt.Errorf("no price for symbol %s", symbol))
	}
	return p, nil
}

func (m *MockAdapter) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Balance, len(m.balance))
	for k, v := range m.balance {
		out[k] = v
	}
	return out, nil
}

func (m *MockAdapter) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.price(symbol)
}

func (m *MockAdapter) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Amount <= 0 {
		return nil, NewError(KindRejected, "createOrder", errors.New("amount must be positive"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextOrderID++
	order := &Order{
		ID:        strconv.FormatInt(m.nextOrderID, 10),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Amount:    req.Amount,
		Timestamp: time.Now(),
	}

	switch req.Type {
	case TypeMarket:
		price, err := m.price(req.Symbol)
		if err != nil {
			return nil, err
		}
		order.Price = price
		order.Status = StatusFilled
		order.Filled = req.Amount
		m.applyFill(req, price)
	default:
		// Limit and conditional orders rest on the simulated book.
		order.Price = req.Price
		if req.Type == TypeStopMarket || req.Type == TypeTakeProfitMarket {
			order.Price = req.StopPrice
		}
		order.Status = StatusNew
		order.Remaining = req.Amount
		m.openOrders[order.ID] = order
	}

	return order, nil
}

// applyFill updates the simulated position for a filled market order.
func (m *MockAdapter) applyFill(req OrderRequest, price float64) {
	pos, ok := m.positions[req.Symbol]
	if !ok {
		pos = &Position{Symbol: req.Symbol, EntryPrice: price}
		m.positions[req.Symbol] = pos
	}
	if req.Side == SideBuy {
		pos.Amount += req.Amount
	} else {
		pos.Amount -= req.Amount
	}
	pos.MarkPrice = price
	if pos.Amount == 0 {
		delete(m.positions, req.Symbol)
	}
}

func (m *MockAdapter) CancelOrder(ctx context.Context, id, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.openOrders[id]
	if !ok {
		return NewError(KindRejected, "cancelOrder", fmt.Errorf("order %s not found", id))
	}
	order.Status = StatusCanceled
	delete(m.openOrders, id)
	return nil
}

func (m *MockAdapter) FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]Order, 0, len(m.openOrders))
	for _, o := range m.openOrders {
		if symbol == "" || o.Symbol == symbol {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

func (m *MockAdapter) FetchPositions(ctx context.Context, symbol string) ([]Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		cp := *p
		if price, err := m.price(p.Symbol); err == nil {
			cp.MarkPrice = price
			cp.UnrealizedProfit = (price - cp.EntryPrice) * cp.Amount
		}
		positions = append(positions, cp)
	}
	return positions, nil
}
