package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// FuturesBaseURL is the production Binance Futures API URL
	FuturesBaseURL = "https://fapi.binance.com"
	// FuturesTestnetURL is the testnet Binance Futures API URL
	FuturesTestnetURL = "https://testnet.binancefuture.com"
)

// BinanceAdapter implements Adapter against the Binance USDT-M futures
// REST API. It performs no retries of its own: retry, backoff and
// pacing all belong to the request layer. Its job is to classify
// failures so the layer can decide what to do with them.
type BinanceAdapter struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// NewBinanceAdapter creates a live exchange adapter.
func NewBinanceAdapter(apiKey, secretKey string, testnet bool) *BinanceAdapter {
	baseURL := FuturesBaseURL
	if testnet {
		baseURL = FuturesTestnetURL
	}

	// Whitespace in keys breaks signature generation.
	return &BinanceAdapter{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

var _ Adapter = (*BinanceAdapter)(nil)

type binanceBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

// FetchBalance reads the futures wallet balances.
func (b *BinanceAdapter) FetchBalance(ctx context.Context) (map[string]Balance, error) {
	body, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", nil)
	if err != nil {
		return nil, wrapOp("fetchBalance", err)
	}

	var raw []binanceBalance
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, wrapOp("fetchBalance", fmt.Errorf("failed to parse balance response: %w", err))
	}

	balances := make(map[string]Balance, len(raw))
	for _, entry := range raw {
		total := parseFloat(entry.Balance)
		free := parseFloat(entry.AvailableBalance)
		balances[entry.Asset] = Balance{
			Free:  free,
			Used:  total - free,
			Total: total,
		}
	}
	return balances, nil
}

// FetchPrice reads the latest mark price for a symbol.
func (b *BinanceAdapter) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := b.publicRequest(ctx, "/fapi/v1/ticker/price", map[string]string{"symbol": symbol})
	if err != nil {
		return 0, wrapOp("fetchPrice", err)
	}

	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, wrapOp("fetchPrice", fmt.Errorf("failed to parse ticker response: %w", err))
	}
	return parseFloat(ticker.Price), nil
}

type binanceOrder struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	UpdateTime  int64  `json:"updateTime"`
}

func (o *binanceOrder) toOrder() *Order {
	price := parseFloat(o.AvgPrice)
	if price == 0 {
		price = parseFloat(o.Price)
	}
	amount := parseFloat(o.OrigQty)
	filled := parseFloat(o.ExecutedQty)
	return &Order{
		ID:        strconv.FormatInt(o.OrderID, 10),
		Symbol:    o.Symbol,
		Side:      OrderSide(o.Side),
		Type:      OrderType(o.Type),
		Status:    o.Status,
		Price:     price,
		Amount:    amount,
		Filled:    filled,
		Remaining: amount - filled,
		Timestamp: time.UnixMilli(o.UpdateTime),
	}
}

// CreateOrder places an order.
func (b *BinanceAdapter) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	params := map[string]string{
		"symbol":           req.Symbol,
		"side":             string(req.Side),
		"type":             string(req.Type),
		"quantity":         formatFloat(req.Amount),
		"newOrderRespType": "RESULT", // Include fill data in the response
	}
	switch req.Type {
	case TypeLimit:
		params["price"] = formatFloat(req.Price)
		params["timeInForce"] = "GTC"
	case TypeStopMarket, TypeTakeProfitMarket:
		params["stopPrice"] = formatFloat(req.StopPrice)
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}

	body, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, wrapOp("createOrder", err)
	}

	var raw binanceOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, wrapOp("createOrder", fmt.Errorf("failed to parse order response: %w", err))
	}
	return raw.toOrder(), nil
}

// CancelOrder cancels a resting order.
func (b *BinanceAdapter) CancelOrder(ctx context.Context, id, symbol string) error {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": id,
	}
	if _, err := b.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params); err != nil {
		return wrapOp("cancelOrder", err)
	}
	return nil
}

// FetchOpenOrders lists resting orders for a symbol.
func (b *BinanceAdapter) FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	body, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, wrapOp("fetchOpenOrders", err)
	}

	var raw []binanceOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, wrapOp("fetchOpenOrders", fmt.Errorf("failed to parse open orders: %w", err))
	}

	orders := make([]Order, len(raw))
	for i := range raw {
		orders[i] = *raw[i].toOrder()
	}
	return orders, nil
}

// FetchPositions reads exchange-side position risk for a symbol.
func (b *BinanceAdapter) FetchPositions(ctx context.Context, symbol string) ([]Position, error) {
	body, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, wrapOp("fetchPositions", err)
	}

	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, wrapOp("fetchPositions", fmt.Errorf("failed to parse positions: %w", err))
	}

	var positions []Position
	for _, p := range raw {
		amount := parseFloat(p.PositionAmt)
		if amount == 0 {
			continue
		}
		positions = append(positions, Position{
			Symbol:           p.Symbol,
			Amount:           amount,
			EntryPrice:       parseFloat(p.EntryPrice),
			MarkPrice:        parseFloat(p.MarkPrice),
			UnrealizedProfit: parseFloat(p.UnRealizedProfit),
			Leverage:         int(parseFloat(p.Leverage)),
		})
	}
	return positions, nil
}

// publicRequest performs an unauthenticated GET.
func (b *BinanceAdapter) publicRequest(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	reqURL := b.baseURL + endpoint
	if len(values) > 0 {
		reqURL += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return b.do(req)
}

// signedRequest performs an authenticated request with an HMAC-SHA256
// signature over the query string.
func (b *BinanceAdapter) signedRequest(ctx context.Context, method, endpoint string, params map[string]string) ([]byte, error) {
	if params == nil {
		params = make(map[string]string)
	}
	params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	params["recvWindow"] = "10000" // Clock skew tolerance

	query := b.buildQuery(params)
	mac := hmac.New(sha256.New, []byte(b.secretKey))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query
	req.Header.Set("X-MBX-APIKEY", b.apiKey)

	return b.do(req)
}

func (b *BinanceAdapter) buildQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	return sb.String()
}

func (b *BinanceAdapter) do(req *http.Request) ([]byte, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Op: req.URL.Path, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// classifyAPIError maps a Binance error response to an error kind the
// request layer and engine can branch on.
func classifyAPIError(status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)

	err := fmt.Errorf("binance API error %d (code %d): %s", status, apiErr.Code, apiErr.Msg)

	kind := KindUnknown
	switch {
	case status == http.StatusTooManyRequests, status == 418, apiErr.Code == -1003:
		kind = KindRateLimit
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		apiErr.Code == -2014, apiErr.Code == -2015, apiErr.Code == -1022:
		kind = KindAuth
	case apiErr.Code == -2019: // Margin is insufficient
		kind = KindInsufficientBalance
	case status == http.StatusServiceUnavailable, apiErr.Code == -1016:
		kind = KindMaintenance
	case status >= 500:
		kind = KindNetwork
	case apiErr.Code == -2010, apiErr.Code == -2021, apiErr.Code == -4164:
		kind = KindRejected
	}

	return &Error{Kind: kind, Err: err}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
