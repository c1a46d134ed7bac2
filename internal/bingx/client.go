package bingx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"bingx-auto-trader/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	liveBaseURL = "https://open-api.bingx.com"
	demoBaseURL = "https://open-api-vst.bingx.com"

	positionsPath = "/openApi/swap/v2/user/positions"
	balancePath   = "/openApi/swap/v2/user/balance"
	tickerPath    = "/openApi/swap/v2/quote/price"
	leveragePath  = "/openApi/swap/v2/trade/leverage"
	orderPath     = "/openApi/swap/v2/trade/order"
)

// Credentials is a session's API key pair.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// ExchangeAPI is the surface of the BingX swap API the trading core uses.
type ExchangeAPI interface {
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
	GetTicker(ctx context.Context, symbol string) (float64, error)
	SetLeverage(ctx context.Context, symbol, side string, leverage int) error
	PlaceOrder(ctx context.Context, order OrderRequest) (*OrderResult, error)
	GetBalance(ctx context.Context) (*Balance, error)
}

// Factory builds per-session clients. Sessions carry their own credentials,
// so every call site constructs a client from the session's key pair instead
// of mutating a shared instance; the rate limiter is shared across all of
// them because the exchange limits by source, not by key.
type Factory struct {
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewFactory creates a client factory from the exchange configuration.
func NewFactory(cfg config.Exchange, logger *zap.Logger) *Factory {
	return &Factory{
		timeout: cfg.Timeout(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		logger:  logger,
	}
}

// Client returns an ExchangeAPI bound to the given credentials and endpoint.
func (f *Factory) Client(creds Credentials, exchangeType string) ExchangeAPI {
	return NewClient(creds, exchangeType, f.timeout, f.limiter, f.logger)
}

// Client is a signed REST client for the BingX swap API.
// It implements ExchangeAPI.
type Client struct {
	http    *resty.Client
	creds   Credentials
	logger  *zap.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

var _ ExchangeAPI = (*Client)(nil)

// NewClient creates a client for a single credential pair. The exchange type
// selects the base endpoint only; signing is identical for demo and live.
func NewClient(creds Credentials, exchangeType string, timeout time.Duration, limiter *rate.Limiter, logger *zap.Logger) *Client {
	baseURL := demoBaseURL
	if exchangeType == "live" {
		baseURL = liveBaseURL
	}

	return &Client{
		http:    resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		creds:   creds,
		logger:  logger,
		limiter: limiter,
		timeout: timeout,
	}
}

// sign builds the key-sorted query string with the timestamp included and
// returns it together with its hex HMAC-SHA256 signature.
func (c *Client) sign(params map[string]string) (string, string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	query := strings.Join(parts, "&")

	h := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	h.Write([]byte(query))
	return query, hex.EncodeToString(h.Sum(nil))
}

// apiResponse is the envelope every swap endpoint returns.
type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do executes one signed request and decodes the data envelope into out.
// No retries here; callers decide whether a failure is worth repeating.
func (c *Client) do(ctx context.Context, method, path string, params map[string]string, out interface{}) error {
	if params == nil {
		params = map[string]string{}
	}
	params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)

	query, signature := c.sign(params)
	url := path + "?" + query + "&signature=" + signature

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	c.logger.Debug("Executing exchange request", zap.String("method", method), zap.String("path", path))

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-BX-APIKEY", c.creds.APIKey).
		Execute(method, url)
	if err != nil {
		return fmt.Errorf("exchange request failed: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		if resp.IsError() {
			return &APIError{Code: resp.StatusCode(), Message: resp.Status()}
		}
		return fmt.Errorf("failed to decode exchange response: %w", err)
	}

	if resp.IsError() || envelope.Code != 0 {
		return &APIError{Code: envelope.Code, Message: envelope.Msg}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode exchange response data: %w", err)
		}
	}
	return nil
}

// GetPositions returns the open positions, optionally filtered by symbol.
func (c *Client) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	var positions []Position
	if err := c.do(ctx, "GET", positionsPath, params, &positions); err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	return positions, nil
}

// GetTicker returns the current market price for a symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (float64, error) {
	var ticker Ticker
	if err := c.do(ctx, "GET", tickerPath, map[string]string{"symbol": symbol}, &ticker); err != nil {
		return 0, fmt.Errorf("failed to get ticker for %s: %w", symbol, err)
	}

	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ticker price %q for %s: %w", ticker.Price, symbol, err)
	}
	return price, nil
}

// SetLeverage sets the leverage for a symbol and position side.
func (c *Client) SetLeverage(ctx context.Context, symbol, side string, leverage int) error {
	params := map[string]string{
		"symbol":   symbol,
		"side":     side,
		"leverage": strconv.Itoa(leverage),
	}
	if err := c.do(ctx, "POST", leveragePath, params, nil); err != nil {
		return fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
	}
	return nil
}

// PlaceOrder submits a single order.
func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (*OrderResult, error) {
	params := map[string]string{
		"symbol":       order.Symbol,
		"side":         order.Side,
		"positionSide": order.PositionSide,
		"type":         order.Type,
		"quantity":     strconv.FormatFloat(order.Quantity, 'f', -1, 64),
	}
	if order.TakeProfit != "" {
		params["takeProfit"] = order.TakeProfit
	}
	if order.StopLoss != "" {
		params["stopLoss"] = order.StopLoss
	}

	var result OrderResult
	if err := c.do(ctx, "POST", orderPath, params, &result); err != nil {
		c.logger.Error("Failed to place order",
			zap.Error(err),
			zap.String("symbol", order.Symbol),
			zap.String("side", order.Side),
		)
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	c.logger.Info("Order placed",
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("position_side", order.PositionSide),
		zap.Int64("order_id", result.Order.OrderID),
	)
	return &result, nil
}

// GetBalance returns the perpetual account balance.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var data struct {
		Balance Balance `json:"balance"`
	}
	if err := c.do(ctx, "GET", balancePath, nil, &data); err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &data.Balance, nil
}
