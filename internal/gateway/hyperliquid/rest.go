package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/crypto-trading/xemm/internal/domain"
	"github.com/crypto-trading/xemm/internal/gateway"
)

// Client is the Hyperliquid exchange client. Market orders are expressed
// as aggressively priced IOC limits with slippage protection, per venue
// convention.
type Client struct {
	baseURL     string
	symbol      string
	wallet      string
	signer      *Signer
	httpClient  *http.Client
	rateLimiter *gateway.RateLimiter
	logger      *slog.Logger

	metaMu sync.Mutex
	meta   *assetMeta
}

type assetMeta struct {
	assetIndex int
	szDecimals int
	pxDecimals int
}

func NewClient(baseURL, symbol, wallet string, signer *Signer, logger *slog.Logger) *Client {
	rl := gateway.NewRateLimiter()
	rl.AddBucket(domain.EndpointPublicData, 40, 20)
	rl.AddBucket(domain.EndpointPrivateData, 20, 10)
	rl.AddBucket(domain.EndpointOrderPlace, 15, 7)
	rl.AddBucket(domain.EndpointAccount, 10, 5)

	return &Client{
		baseURL: baseURL,
		symbol:  symbol,
		wallet:  wallet,
		signer:  signer,
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

func (c *Client) post(ctx context.Context, path string, body any, category domain.EndpointCategory) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, category, 1); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
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
		return nil, fmt.Errorf("hyperliquid HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// GetMeta fetches and caches the asset index and size decimals for the
// configured symbol. Called once at startup to keep hedge latency low.
func (c *Client) GetMeta(ctx context.Context, symbol string) (*domain.MarketInfo, error) {
	respData, err := c.post(ctx, "/info", map[string]any{"type": "meta"}, domain.EndpointPublicData)
	if err != nil {
		return nil, err
	}

	var result struct {
		Universe []struct {
			Name       string `json:"name"`
			SzDecimals int    `json:"szDecimals"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("parse meta: %w", err)
	}

	for i, u := range result.Universe {
		if u.Name != symbol {
			continue
		}
		c.metaMu.Lock()
		c.meta = &assetMeta{
			assetIndex: i,
			szDecimals: u.SzDecimals,
			pxDecimals: 6 - u.SzDecimals,
		}
		c.metaMu.Unlock()

		return &domain.MarketInfo{
			Symbol:   symbol,
			TickSize: math.Pow(10, -float64(6-u.SzDecimals)),
			LotSize:  math.Pow(10, -float64(u.SzDecimals)),
		}, nil
	}
	return nil, fmt.Errorf("symbol %s not found in meta", symbol)
}

func (c *Client) cachedMeta() (*assetMeta, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()
	if c.meta == nil {
		return nil, fmt.Errorf("meta not prefetched for %s", c.symbol)
	}
	m := *c.meta
	return &m, nil
}

// MarketOrder executes the hedge: an IOC limit priced through the book by
// the slippage fraction. The reference price is the venue's own mid from
// an allMids query, so pricing does not depend on the book feed.
func (c *Client) MarketOrder(ctx context.Context, side domain.Side, size, slippage float64) (string, error) {
	meta, err := c.cachedMeta()
	if err != nil {
		return "", err
	}

	ref, err := c.midPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch reference price: %w", err)
	}

	var limit float64
	if side == domain.SideBuy {
		limit = ref * (1 + slippage)
	} else {
		limit = ref * (1 - slippage)
	}

	px := formatPrice(limit, meta.pxDecimals)
	sz := strconv.FormatFloat(domain.RoundDownToStep(size, math.Pow(10, -float64(meta.szDecimals))), 'f', -1, 64)

	action := map[string]any{
		"type": "order",
		"orders": []map[string]any{{
			"a": meta.assetIndex,
			"b": side == domain.SideBuy,
			"p": px,
			"s": sz,
			"r": false,
			"t": map[string]any{"limit": map[string]any{"tif": "Ioc"}},
		}},
		"grouping": "na",
	}

	nonce := uint64(time.Now().UnixMilli())
	sig, err := c.signer.SignAction(action, nonce)
	if err != nil {
		return "", fmt.Errorf("sign order action: %w", err)
	}

	respData, err := c.post(ctx, "/exchange", map[string]any{
		"action":    action,
		"nonce":     nonce,
		"signature": sig,
	}, domain.EndpointOrderPlace)
	if err != nil {
		return "", err
	}

	var result struct {
		Status   string `json:"status"`
		Response struct {
			Data struct {
				Statuses []struct {
					Filled *struct {
						Oid     int64  `json:"oid"`
						AvgPx   string `json:"avgPx"`
						TotalSz string `json:"totalSz"`
					} `json:"filled"`
					Error string `json:"error"`
				} `json:"statuses"`
			} `json:"data"`
		} `json:"response"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return "", fmt.Errorf("parse order response: %w", err)
	}
	if result.Status != "ok" {
		return "", fmt.Errorf("order rejected: %s", string(respData))
	}
	for _, st := range result.Response.Data.Statuses {
		if st.Error != "" {
			return "", fmt.Errorf("order error: %s", st.Error)
		}
		if st.Filled != nil {
			return strconv.FormatInt(st.Filled.Oid, 10), nil
		}
	}
	return "", fmt.Errorf("market order not filled: %s", string(respData))
}

func (c *Client) midPrice(ctx context.Context) (float64, error) {
	respData, err := c.post(ctx, "/info", map[string]any{"type": "allMids"}, domain.EndpointPublicData)
	if err != nil {
		return 0, err
	}

	var mids map[string]string
	if err := json.Unmarshal(respData, &mids); err != nil {
		return 0, fmt.Errorf("parse mids: %w", err)
	}
	raw, ok := mids[c.symbol]
	if !ok {
		return 0, fmt.Errorf("no mid for %s", c.symbol)
	}
	return strconv.ParseFloat(raw, 64)
}

func (c *Client) GetUserFills(ctx context.Context, start, end time.Time) ([]domain.VenueFill, error) {
	respData, err := c.post(ctx, "/info", map[string]any{
		"type":      "userFillsByTime",
		"user":      c.wallet,
		"startTime": start.UnixMilli(),
		"endTime":   end.UnixMilli(),
	}, domain.EndpointPrivateData)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Coin string `json:"coin"`
		Px   string `json:"px"`
		Sz   string `json:"sz"`
		Side string `json:"side"`
		Time int64  `json:"time"`
		Fee  string `json:"fee"`
		Oid  int64  `json:"oid"`
		Tid  int64  `json:"tid"`
	}
	if err := json.Unmarshal(respData, &raw); err != nil {
		return nil, fmt.Errorf("parse user fills: %w", err)
	}

	fills := make([]domain.VenueFill, 0, len(raw))
	for _, f := range raw {
		if f.Coin != c.symbol {
			continue
		}
		price, err := domain.ParseDecimal(f.Px)
		if err != nil {
			continue
		}
		size, err := domain.ParseDecimal(f.Sz)
		if err != nil {
			continue
		}
		fee, _ := domain.ParseDecimal(f.Fee)

		side := domain.SideSell
		if f.Side == "B" {
			side = domain.SideBuy
		}

		fills = append(fills, domain.VenueFill{
			TradeID: strconv.FormatInt(f.Tid, 10),
			OrderID: strconv.FormatInt(f.Oid, 10),
			Symbol:  f.Coin,
			Side:    side,
			Price:   price,
			Size:    size,
			Fee:     fee,
			At:      time.UnixMilli(f.Time),
		})
	}
	return fills, nil
}

func (c *Client) GetUserState(ctx context.Context) (map[string]float64, error) {
	respData, err := c.post(ctx, "/info", map[string]any{
		"type": "clearinghouseState",
		"user": c.wallet,
	}, domain.EndpointAccount)
	if err != nil {
		return nil, err
	}

	var result struct {
		MarginSummary struct {
			AccountValue string `json:"accountValue"`
		} `json:"marginSummary"`
		Withdrawable string `json:"withdrawable"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("parse clearinghouse state: %w", err)
	}

	equity, _ := strconv.ParseFloat(result.MarginSummary.AccountValue, 64)
	withdrawable, _ := strconv.ParseFloat(result.Withdrawable, 64)
	return map[string]float64{"equity": equity, "withdrawable": withdrawable}, nil
}

// formatPrice trims to the venue's significant-figure rule: at most
// pxDecimals decimal places.
func formatPrice(p float64, pxDecimals int) string {
	if pxDecimals < 0 {
		pxDecimals = 0
	}
	factor := math.Pow(10, float64(pxDecimals))
	return strconv.FormatFloat(math.Round(p*factor)/factor, 'f', -1, 64)
}
