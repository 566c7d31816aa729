package pacifica

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/crypto-trading/xemm/internal/domain"
	"github.com/crypto-trading/xemm/internal/gateway"
)

// Client is the Pacifica REST trading client. All private endpoints carry
// an agent signature over the canonicalized operation payload.
type Client struct {
	baseURL     string
	symbol      string
	aggLevel    int
	signer      *Signer
	httpClient  *http.Client
	rateLimiter *gateway.RateLimiter
	logger      *slog.Logger
}

func NewClient(baseURL, symbol string, aggLevel int, signer *Signer, logger *slog.Logger) *Client {
	rl := gateway.NewRateLimiter()
	rl.AddBucket(domain.EndpointPublicData, 40, 20)
	rl.AddBucket(domain.EndpointPrivateData, 20, 10)
	rl.AddBucket(domain.EndpointOrderPlace, 15, 7)
	rl.AddBucket(domain.EndpointOrderCancel, 30, 15)
	rl.AddBucket(domain.EndpointAccount, 10, 5)

	return &Client{
		baseURL:  baseURL,
		symbol:   symbol,
		aggLevel: aggLevel,
		signer:   signer,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    90 * time.Second,
				DisableCompression: true,
			},
		},
		rateLimiter: rl,
		logger:      logger,
	}
}

func (c *Client) doSigned(ctx context.Context, path, opType string, payload map[string]any, category domain.EndpointCategory) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, category, 1); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	header, err := c.signer.SignOperation(opType, payload, time.Now())
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", opType, err)
	}

	body := map[string]any{
		"account":       header.Account,
		"agent_wallet":  header.AgentWallet,
		"signature":     header.Signature,
		"timestamp":     header.Timestamp,
		"expiry_window": header.ExpiryWindow,
	}
	for k, v := range payload {
		body[k] = v
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values, category domain.EndpointCategory) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, category, 1); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// APIError carries the venue's HTTP status so callers can classify
// rejections and signature failures.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pacifica HTTP %d: %s", e.Status, e.Body)
}

// IsSignatureError reports a signature-verification rejection, which is
// fatal by policy: it indicates misconfigured credentials.
func IsSignatureError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

func (c *Client) PlaceLimit(ctx context.Context, side domain.Side, price, size float64, clientID string) (string, error) {
	payload := map[string]any{
		"symbol":          c.symbol,
		"side":            sideToVenue(side),
		"price":           strconv.FormatFloat(price, 'f', -1, 64),
		"amount":          strconv.FormatFloat(size, 'f', -1, 64),
		"tif":             "GTC",
		"reduce_only":     false,
		"client_order_id": clientID,
	}

	respData, err := c.doSigned(ctx, "/orders/create", "create_order", payload, domain.EndpointOrderPlace)
	if err != nil {
		return "", err
	}

	var result struct {
		Data struct {
			OrderID int64 `json:"order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return "", fmt.Errorf("parse order response: %w", err)
	}
	return strconv.FormatInt(result.Data.OrderID, 10), nil
}

func (c *Client) Cancel(ctx context.Context, orderID string) error {
	id, _ := strconv.ParseInt(orderID, 10, 64)
	payload := map[string]any{
		"symbol":   c.symbol,
		"order_id": id,
	}
	_, err := c.doSigned(ctx, "/orders/cancel", "cancel_order", payload, domain.EndpointOrderCancel)
	return err
}

func (c *Client) CancelAll(ctx context.Context, symbol string) (int, error) {
	payload := map[string]any{
		"all_symbols":         symbol == "",
		"exclude_reduce_only": false,
	}
	if symbol != "" {
		payload["symbol"] = symbol
	}

	respData, err := c.doSigned(ctx, "/orders/cancel_all", "cancel_all_orders", payload, domain.EndpointOrderCancel)
	if err != nil {
		return 0, err
	}

	var result struct {
		Data struct {
			CancelledCount int `json:"cancelled_count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("parse cancel-all response: %w", err)
	}
	return result.Data.CancelledCount, nil
}

func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.ActiveOrder, error) {
	q := url.Values{}
	q.Set("account", c.signer.account)

	respData, err := c.doGet(ctx, "/orders", q, domain.EndpointPrivateData)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			OrderID       int64  `json:"order_id"`
			ClientOrderID string `json:"client_order_id"`
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Price         string `json:"price"`
			InitialAmount string `json:"initial_amount"`
			FilledAmount  string `json:"filled_amount"`
			CreatedAt     int64  `json:"created_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("parse open orders: %w", err)
	}

	orders := make([]domain.ActiveOrder, 0, len(result.Data))
	for _, o := range result.Data {
		price, _ := strconv.ParseFloat(o.Price, 64)
		size, _ := strconv.ParseFloat(o.InitialAmount, 64)
		orders = append(orders, domain.ActiveOrder{
			OrderID:  strconv.FormatInt(o.OrderID, 10),
			ClientID: o.ClientOrderID,
			Symbol:   o.Symbol,
			Side:     sideFromVenue(o.Side),
			Price:    price,
			Size:     size,
			PlacedAt: time.UnixMilli(o.CreatedAt),
		})
	}
	return orders, nil
}

func (c *Client) GetTradeHistory(ctx context.Context, start, end time.Time) ([]domain.VenueFill, error) {
	q := url.Values{}
	q.Set("account", c.signer.account)
	q.Set("symbol", c.symbol)
	q.Set("start_time", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("end_time", strconv.FormatInt(end.UnixMilli(), 10))

	respData, err := c.doGet(ctx, "/positions/history", q, domain.EndpointPrivateData)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			HistoryID     int64  `json:"history_id"`
			OrderID       int64  `json:"order_id"`
			ClientOrderID string `json:"client_order_id"`
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Price         string `json:"price"`
			Amount        string `json:"amount"`
			Fee           string `json:"fee"`
			ExecutedAt    int64  `json:"executed_at"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("parse trade history: %w", err)
	}

	fills := make([]domain.VenueFill, 0, len(result.Data))
	for _, f := range result.Data {
		price, err := domain.ParseDecimal(f.Price)
		if err != nil {
			continue
		}
		size, err := domain.ParseDecimal(f.Amount)
		if err != nil {
			continue
		}
		fee, _ := domain.ParseDecimal(f.Fee)
		fills = append(fills, domain.VenueFill{
			TradeID:  strconv.FormatInt(f.HistoryID, 10),
			OrderID:  strconv.FormatInt(f.OrderID, 10),
			ClientID: f.ClientOrderID,
			Symbol:   f.Symbol,
			Side:     sideFromVenue(f.Side),
			Price:    price,
			Size:     size,
			Fee:      fee,
			At:       time.UnixMilli(f.ExecutedAt),
		})
	}
	return fills, nil
}

func (c *Client) GetMarketInfo(ctx context.Context, symbol string) (*domain.MarketInfo, error) {
	respData, err := c.doGet(ctx, "/info", nil, domain.EndpointPublicData)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			Symbol      string `json:"symbol"`
			TickSize    string `json:"tick_size"`
			LotSize     string `json:"lot_size"`
			MinOrderUSD string `json:"min_order_size"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("parse market info: %w", err)
	}

	for _, m := range result.Data {
		if m.Symbol != symbol {
			continue
		}
		tick, err := strconv.ParseFloat(m.TickSize, 64)
		if err != nil {
			return nil, fmt.Errorf("parse tick size %q: %w", m.TickSize, err)
		}
		lot, err := strconv.ParseFloat(m.LotSize, 64)
		if err != nil {
			return nil, fmt.Errorf("parse lot size %q: %w", m.LotSize, err)
		}
		minNotional, _ := strconv.ParseFloat(m.MinOrderUSD, 64)
		return &domain.MarketInfo{
			Symbol:      symbol,
			TickSize:    tick,
			LotSize:     lot,
			MinNotional: minNotional,
		}, nil
	}
	return nil, fmt.Errorf("symbol %s not found in market info", symbol)
}

func (c *Client) GetBookTop(ctx context.Context, symbol string) (*domain.BookTop, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("agg_level", strconv.Itoa(c.aggLevel))

	respData, err := c.doGet(ctx, "/book", q, domain.EndpointPublicData)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data struct {
			Levels [][]struct {
				Price string `json:"p"`
			} `json:"l"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("parse book: %w", err)
	}
	if len(result.Data.Levels) < 2 || len(result.Data.Levels[0]) == 0 || len(result.Data.Levels[1]) == 0 {
		return nil, fmt.Errorf("empty book for %s", symbol)
	}

	bid, err := strconv.ParseFloat(result.Data.Levels[0][0].Price, 64)
	if err != nil {
		return nil, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := strconv.ParseFloat(result.Data.Levels[1][0].Price, 64)
	if err != nil {
		return nil, fmt.Errorf("parse ask: %w", err)
	}
	return &domain.BookTop{Bid: bid, Ask: ask}, nil
}

func (c *Client) GetUserState(ctx context.Context) (map[string]float64, error) {
	q := url.Values{}
	q.Set("account", c.signer.account)

	respData, err := c.doGet(ctx, "/account", q, domain.EndpointAccount)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data struct {
			Balance       string `json:"balance"`
			AccountEquity string `json:"account_equity"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}

	balance, _ := strconv.ParseFloat(result.Data.Balance, 64)
	equity, _ := strconv.ParseFloat(result.Data.AccountEquity, 64)
	return map[string]float64{"balance": balance, "equity": equity}, nil
}

func sideToVenue(s domain.Side) string {
	if s == domain.SideBuy {
		return "bid"
	}
	return "ask"
}

func sideFromVenue(s string) domain.Side {
	switch s {
	case "bid", "buy", "BUY", "open_long", "close_short":
		return domain.SideBuy
	default:
		return domain.SideSell
	}
}
