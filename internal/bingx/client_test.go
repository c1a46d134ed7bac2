package bingx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a test server and a Client configured to use it.
func setupTestServer(handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	c := &Client{
		http:    resty.New().SetBaseURL(server.URL),
		creds:   Credentials{APIKey: "test_api_key", SecretKey: "test_secret_key"},
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1),
		timeout: 5 * time.Second,
	}

	return c, server
}

// verifySignature recomputes the HMAC over the raw query (minus the trailing
// signature parameter) and compares it to the signature the client sent.
func verifySignature(t *testing.T, r *http.Request, secret string) {
	t.Helper()

	rawQuery := r.URL.RawQuery
	idx := strings.LastIndex(rawQuery, "&signature=")
	assert.NotEqual(t, -1, idx, "request must carry a trailing signature parameter")

	signed := rawQuery[:idx]
	sent := rawQuery[idx+len("&signature="):]

	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(signed))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), sent)
}

func TestClientSigning(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, positionsPath, r.URL.Path)
		assert.Equal(t, "test_api_key", r.Header.Get("X-BX-APIKEY"))

		// Parameters must be key-sorted with the timestamp mixed in.
		signedPart := r.URL.RawQuery[:strings.LastIndex(r.URL.RawQuery, "&signature=")]
		keys := []string{}
		for _, kv := range strings.Split(signedPart, "&") {
			keys = append(keys, strings.SplitN(kv, "=", 2)[0])
		}
		assert.Equal(t, []string{"symbol", "timestamp"}, keys)
		assert.NotEmpty(t, r.URL.Query().Get("timestamp"))

		verifySignature(t, r, "test_secret_key")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code": 0, "msg": "", "data": []}`))
	})

	c, server := setupTestServer(handler)
	defer server.Close()

	_, err := c.GetPositions(context.Background(), "XRP-USDT")
	assert.NoError(t, err)
}

func TestGetPositions(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "BTC-USDT", r.URL.Query().Get("symbol"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"code": 0, "msg": "", "data": [
				{"symbol": "BTC-USDT", "positionSide": "LONG", "positionAmt": "0.5", "entryPrice": "60000", "leverage": 5, "unrealizedProfit": "12.3"}
			]}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		positions, err := c.GetPositions(context.Background(), "BTC-USDT")

		assert.NoError(t, err)
		assert.Len(t, positions, 1)
		assert.Equal(t, PositionSideLong, positions[0].PositionSide)
		assert.Equal(t, 0.5, positions[0].Amount())
	})

	t.Run("APIErrorCode", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			// HTTP 200 but a non-zero embedded code is still an error.
			_, _ = w.Write([]byte(`{"code": 100413, "msg": "invalid api key"}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.GetPositions(context.Background(), "BTC-USDT")

		assert.Error(t, err)
		var apiErr *APIError
		assert.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 100413, apiErr.Code)
		assert.Equal(t, "invalid api key", apiErr.Message)
	})
}

func TestGetTicker(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, tickerPath, r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"code": 0, "msg": "", "data": {"symbol": "XRP-USDT", "price": "0.5"}}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		price, err := c.GetTicker(context.Background(), "XRP-USDT")

		assert.NoError(t, err)
		assert.Equal(t, 0.5, price)
	})

	t.Run("BadPrice", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"code": 0, "msg": "", "data": {"symbol": "XRP-USDT", "price": "not-a-number"}}`))
		})

		c, server := setupTestServer(handler)
		defer server.Close()

		_, err := c.GetTicker(context.Background(), "XRP-USDT")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse ticker price")
	})
}

func TestSetLeverage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, leveragePath, r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "5", r.URL.Query().Get("leverage"))
		assert.Equal(t, "LONG", r.URL.Query().Get("side"))
		assert.Equal(t, "XRP-USDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code": 0, "msg": ""}`))
	})

	c, server := setupTestServer(handler)
	defer server.Close()

	err := c.SetLeverage(context.Background(), "XRP-USDT", PositionSideLong, 5)
	assert.NoError(t, err)
}

func TestPlaceOrder(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, orderPath, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "XRP-USDT", q.Get("symbol"))
		assert.Equal(t, OrderSideBuy, q.Get("side"))
		assert.Equal(t, PositionSideLong, q.Get("positionSide"))
		assert.Equal(t, OrderTypeMarket, q.Get("type"))
		assert.Equal(t, "1000", q.Get("quantity"))
		assert.Contains(t, q.Get("takeProfit"), "TAKE_PROFIT_MARKET")

		verifySignature(t, r, "test_secret_key")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code": 0, "msg": "", "data": {"order": {"orderId": 42, "symbol": "XRP-USDT"}}}`))
	})

	c, server := setupTestServer(handler)
	defer server.Close()

	result, err := c.PlaceOrder(context.Background(), OrderRequest{
		Symbol:       "XRP-USDT",
		Side:         OrderSideBuy,
		PositionSide: PositionSideLong,
		Type:         OrderTypeMarket,
		Quantity:     1000,
		TakeProfit:   `{"type":"TAKE_PROFIT_MARKET","stopPrice":0.505,"price":0.505,"workingType":"MARK_PRICE"}`,
	})

	assert.NoError(t, err)
	assert.Equal(t, int64(42), result.Order.OrderID)
}

func TestNewClientBaseURL(t *testing.T) {
	limiter := rate.NewLimiter(rate.Inf, 1)

	t.Run("Demo", func(t *testing.T) {
		c := NewClient(Credentials{}, "demo", time.Second, limiter, zap.NewNop())
		assert.Equal(t, demoBaseURL, c.http.BaseURL)
	})

	t.Run("Live", func(t *testing.T) {
		c := NewClient(Credentials{}, "live", time.Second, limiter, zap.NewNop())
		assert.Equal(t, liveBaseURL, c.http.BaseURL)
	})
}
