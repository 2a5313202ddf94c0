package exchange

import (
	"context"
	"time"
)

// OrderSide is the exchange-level order direction
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType is the exchange-level order type
type OrderType string

const (
	TypeMarket           OrderType = "MARKET"
	TypeLimit            OrderType = "LIMIT"
	TypeStopMarket       OrderType = "STOP_MARKET"
	TypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus values reported by the exchange
const (
	StatusNew      = "NEW"
	StatusFilled   = "FILLED"
	StatusCanceled = "CANCELED"
	StatusRejected = "REJECTED"
)

// Order is an exchange order as reported back by the adapter.
type Order struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Type      OrderType `json:"type"`
	Status    string    `json:"status"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Filled    float64   `json:"filled"`
	Remaining float64   `json:"remaining"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderRequest describes an order to be placed.
// Price is ignored for market orders. ReduceOnly marks protective and
// closing orders so they can never increase exposure.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Amount     float64
	Price      float64
	StopPrice  float64
	ReduceOnly bool
}

// Balance is a per-currency account balance.
type Balance struct {
	Free  float64 `json:"free"`
	Used  float64 `json:"used"`
	Total float64 `json:"total"`
}

// Position is a raw exchange-side position, distinct from the engine's
// own position records.
type Position struct {
	Symbol           string  `json:"symbol"`
	Amount           float64 `json:"amount"` // Signed: positive long, negative short
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
	Leverage         int     `json:"leverage"`
}

// Adapter is the abstract exchange boundary. Implementations must return
// *Error values so callers can branch on the error kind. No component
// calls an Adapter directly; every call goes through the request layer.
type Adapter interface {
	FetchBalance(ctx context.Context) (map[string]Balance, error)
	FetchPrice(ctx context.Context, symbol string) (float64, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	FetchPositions(ctx context.Context, symbol string) ([]Position, error)
}
