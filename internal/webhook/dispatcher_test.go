package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bingx-auto-trader/internal/bingx"
	"bingx-auto-trader/internal/models"
	"bingx-auto-trader/internal/store"
	"bingx-auto-trader/internal/trader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MockExchangeAPI is a mock implementation of bingx.ExchangeAPI that also
// records the order of calls, since the dispatcher's sequencing matters.
type MockExchangeAPI struct {
	mock.Mock
	mu    sync.Mutex
	calls []string
}

func (m *MockExchangeAPI) record(name string) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
}

func (m *MockExchangeAPI) CallNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockExchangeAPI) GetPositions(ctx context.Context, symbol string) ([]bingx.Position, error) {
	m.record("GetPositions")
	args := m.Called(symbol)
	return args.Get(0).([]bingx.Position), args.Error(1)
}

func (m *MockExchangeAPI) GetTicker(ctx context.Context, symbol string) (float64, error) {
	m.record("GetTicker")
	args := m.Called(symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockExchangeAPI) SetLeverage(ctx context.Context, symbol, side string, leverage int) error {
	m.record("SetLeverage")
	args := m.Called(symbol, side, leverage)
	return args.Error(0)
}

func (m *MockExchangeAPI) PlaceOrder(ctx context.Context, order bingx.OrderRequest) (*bingx.OrderResult, error) {
	m.record("PlaceOrder:" + order.Side + "/" + order.PositionSide)
	args := m.Called(order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*bingx.OrderResult), args.Error(1)
}

func (m *MockExchangeAPI) GetBalance(ctx context.Context) (*bingx.Balance, error) {
	m.record("GetBalance")
	args := m.Called()
	return args.Get(0).(*bingx.Balance), args.Error(1)
}

// setupTest wires a dispatcher against an in-memory store, a mock exchange
// and the real execution engine.
func setupTest(t *testing.T, api bingx.ExchangeAPI) (*Dispatcher, *store.Store) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&models.Session{}, &models.TradeRecord{}))

	st := store.NewStore(db)
	factory := func(creds bingx.Credentials, exchangeType string) bingx.ExchangeAPI { return api }
	executor := trader.NewExecutor(zap.NewNop())

	return NewDispatcher(zap.NewNop(), st, st, factory, executor, 5*time.Millisecond), st
}

func premiumSession() *models.Session {
	return &models.Session{
		SessionID:          models.SessionKey("alice@example.com", "demo"),
		UserEmail:          "alice@example.com",
		APIKey:             "key",
		SecretKey:          "secret",
		ExchangeType:       "demo",
		Investment:         100,
		Leverage:           5,
		Indicator:          "PREMIUM",
		AutoTradingEnabled: true,
	}
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "XRP-USDT", NormalizeSymbol("XRPUSDT.P"))
	assert.Equal(t, "BTC-USDT", NormalizeSymbol("BTCUSDT.P"))
	assert.Equal(t, "XRP-USDT", NormalizeSymbol("XRP-USDT"))
	assert.Equal(t, "BTCUSDT", NormalizeSymbol("BTCUSDT"))
}

func TestHandleRejectsInvalidAction(t *testing.T) {
	api := new(MockExchangeAPI)
	d, st := setupTest(t, api)
	assert.NoError(t, st.Save(context.Background(), premiumSession()))

	_, err := d.Handle(context.Background(), Signal{Symbol: "XRPUSDT.P", Action: "HOLD", Strategy: "PREMIUM"})

	assert.ErrorIs(t, err, ErrInvalidAction)
	// No session touched: no exchange traffic at all.
	assert.Empty(t, api.CallNames())
}

func TestHandleLongSignal(t *testing.T) {
	// Scenario: PREMIUM session, investment 100, leverage 5, price 0.50
	// -> normalized symbol XRP-USDT, quantity 1000, one outcome entry.
	api := new(MockExchangeAPI)
	api.On("GetTicker", "XRP-USDT").Return(0.5, nil)
	api.On("GetPositions", "XRP-USDT").Return([]bingx.Position{}, nil)
	api.On("SetLeverage", "XRP-USDT", "LONG", 5).Return(nil)

	var placed bingx.OrderRequest
	api.On("PlaceOrder", mock.Anything).Run(func(args mock.Arguments) {
		placed = args.Get(0).(bingx.OrderRequest)
	}).Return(&bingx.OrderResult{Order: bingx.Order{OrderID: 1}}, nil)

	d, st := setupTest(t, api)
	assert.NoError(t, st.Save(context.Background(), premiumSession()))

	agg, err := d.Handle(context.Background(), Signal{Symbol: "XRPUSDT.P", Action: "LONG", Strategy: "PREMIUM"})

	assert.NoError(t, err)
	assert.Equal(t, "XRP-USDT", agg.Symbol)
	assert.Len(t, agg.Processed, 1)
	assert.True(t, agg.Processed[0].Result.Success)

	// quantity = investment * leverage / price = 100 * 5 / 0.5
	assert.InDelta(t, 1000.0, placed.Quantity, 1e-9)
	assert.Equal(t, "BUY", placed.Side)
	assert.Equal(t, "LONG", placed.PositionSide)

	// The traded symbol was persisted on the session.
	session, err := st.Get(context.Background(), premiumSession().SessionID)
	assert.NoError(t, err)
	assert.Equal(t, "XRP-USDT", session.CurrentSymbol)

	// And a history row was written.
	records, err := st.BySession(context.Background(), session.SessionID)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.InDelta(t, 1000.0, records[0].Quantity, 1e-9)
	assert.Equal(t, 0.5, records[0].Price)
}

func TestHandleStrategyGating(t *testing.T) {
	api := new(MockExchangeAPI)
	api.On("GetTicker", "XRP-USDT").Return(0.5, nil)
	api.On("GetPositions", "XRP-USDT").Return([]bingx.Position{}, nil)
	api.On("SetLeverage", "XRP-USDT", "LONG", 5).Return(nil)
	api.On("PlaceOrder", mock.Anything).Return(&bingx.OrderResult{}, nil)

	d, st := setupTest(t, api)
	assert.NoError(t, st.Save(context.Background(), premiumSession()))

	conbol := premiumSession()
	conbol.SessionID = models.SessionKey("bob@example.com", "demo")
	conbol.UserEmail = "bob@example.com"
	conbol.Indicator = "CONBOL"
	assert.NoError(t, st.Save(context.Background(), conbol))

	agg, err := d.Handle(context.Background(), Signal{Symbol: "XRP-USDT", Action: "LONG", Strategy: "PREMIUM"})

	assert.NoError(t, err)
	assert.Len(t, agg.Processed, 1)
	assert.Equal(t, premiumSession().SessionID, agg.Processed[0].SessionID)
}

func TestHandleSkipsSessionsWithoutCredentials(t *testing.T) {
	api := new(MockExchangeAPI)
	d, st := setupTest(t, api)

	session := premiumSession()
	session.APIKey = ""
	session.SecretKey = ""
	assert.NoError(t, st.Save(context.Background(), session))

	agg, err := d.Handle(context.Background(), Signal{Symbol: "XRP-USDT", Action: "LONG", Strategy: "PREMIUM"})

	// Skipped silently: not an error and not a processed entry.
	assert.NoError(t, err)
	assert.Empty(t, agg.Processed)
	assert.Empty(t, api.CallNames())
}

func TestHandleReversal(t *testing.T) {
	// A LONG signal with an existing SHORT position must close first,
	// wait out the settle delay, and only then open.
	api := new(MockExchangeAPI)
	api.On("GetTicker", "XRP-USDT").Return(0.5, nil)
	api.On("GetPositions", "XRP-USDT").Return([]bingx.Position{
		{Symbol: "XRP-USDT", PositionSide: "SHORT", PositionAmt: "-50"},
	}, nil)
	api.On("PlaceOrder", mock.MatchedBy(func(o bingx.OrderRequest) bool {
		return o.Side == "BUY" && o.PositionSide == "SHORT" // the close
	})).Return(&bingx.OrderResult{Order: bingx.Order{OrderID: 1}}, nil)
	api.On("SetLeverage", "XRP-USDT", "LONG", 5).Return(nil)
	api.On("PlaceOrder", mock.MatchedBy(func(o bingx.OrderRequest) bool {
		return o.Side == "BUY" && o.PositionSide == "LONG" // the open
	})).Return(&bingx.OrderResult{Order: bingx.Order{OrderID: 2}}, nil)

	d, st := setupTest(t, api)
	assert.NoError(t, st.Save(context.Background(), premiumSession()))

	start := time.Now()
	agg, err := d.Handle(context.Background(), Signal{Symbol: "XRP-USDT", Action: "LONG", Strategy: "PREMIUM"})

	assert.NoError(t, err)
	assert.Len(t, agg.Processed, 1)
	assert.True(t, agg.Processed[0].Result.Success)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)

	// Strict ordering: close before leverage before open.
	assert.Equal(t, []string{
		"GetTicker",
		"GetPositions", // dispatcher's opposite-direction check
		"GetPositions", // engine listing positions to close
		"PlaceOrder:BUY/SHORT",
		"SetLeverage",
		"PlaceOrder:BUY/LONG",
	}, api.CallNames())
}

func TestHandleReversalAbortsWhenCloseFails(t *testing.T) {
	api := new(MockExchangeAPI)
	api.On("GetTicker", "XRP-USDT").Return(0.5, nil)
	api.On("GetPositions", "XRP-USDT").Return([]bingx.Position{
		{Symbol: "XRP-USDT", PositionSide: "SHORT", PositionAmt: "-50"},
	}, nil)
	api.On("PlaceOrder", mock.MatchedBy(func(o bingx.OrderRequest) bool {
		return o.PositionSide == "SHORT"
	})).Return(nil, errors.New("close rejected"))

	d, st := setupTest(t, api)
	assert.NoError(t, st.Save(context.Background(), premiumSession()))

	agg, err := d.Handle(context.Background(), Signal{Symbol: "XRP-USDT", Action: "LONG", Strategy: "PREMIUM"})

	// The session fails but the dispatch itself succeeds.
	assert.NoError(t, err)
	assert.Len(t, agg.Processed, 1)
	assert.False(t, agg.Processed[0].Result.Success)
	assert.Contains(t, agg.Processed[0].Result.Message, "reversal close failed")

	// The open was never attempted.
	api.AssertNotCalled(t, "SetLeverage", mock.Anything, mock.Anything, mock.Anything)
	for _, name := range api.CallNames() {
		assert.NotEqual(t, "PlaceOrder:BUY/LONG", name)
	}
}

func TestHandleCloseSignal(t *testing.T) {
	api := new(MockExchangeAPI)
	api.On("GetPositions", "XRP-USDT").Return([]bingx.Position{}, nil)

	d, st := setupTest(t, api)
	assert.NoError(t, st.Save(context.Background(), premiumSession()))

	agg, err := d.Handle(context.Background(), Signal{Symbol: "XRP-USDT", Action: "CLOSE", Strategy: "PREMIUM"})

	assert.NoError(t, err)
	assert.Len(t, agg.Processed, 1)
	assert.True(t, agg.Processed[0].Result.Success)
	assert.Contains(t, agg.Processed[0].Result.Message, "no open positions")
	// CLOSE never needs a price.
	api.AssertNotCalled(t, "GetTicker", mock.Anything)
}

func TestHandleRecordsIntentBeforeExchangeFailure(t *testing.T) {
	api := new(MockExchangeAPI)
	api.On("GetTicker", "XRP-USDT").Return(0.0, errors.New("exchange down"))

	d, st := setupTest(t, api)
	assert.NoError(t, st.Save(context.Background(), premiumSession()))

	agg, err := d.Handle(context.Background(), Signal{Symbol: "XRP-USDT", Action: "LONG", Strategy: "PREMIUM"})

	assert.NoError(t, err)
	assert.Len(t, agg.Processed, 1)
	assert.False(t, agg.Processed[0].Result.Success)

	// The symbol was persisted before the exchange was ever reached.
	session, err := st.Get(context.Background(), premiumSession().SessionID)
	assert.NoError(t, err)
	assert.Equal(t, "XRP-USDT", session.CurrentSymbol)
}

func TestHandleIsolatesSessionFailures(t *testing.T) {
	// Two matching sessions; the exchange rejects everything. Both must
	// appear as failed outcomes and neither aborts the dispatch.
	api := new(MockExchangeAPI)
	api.On("GetTicker", "XRP-USDT").Return(0.0, errors.New("exchange down"))

	d, st := setupTest(t, api)
	assert.NoError(t, st.Save(context.Background(), premiumSession()))

	second := premiumSession()
	second.SessionID = models.SessionKey("bob@example.com", "live")
	second.UserEmail = "bob@example.com"
	second.ExchangeType = "live"
	assert.NoError(t, st.Save(context.Background(), second))

	agg, err := d.Handle(context.Background(), Signal{Symbol: "XRP-USDT", Action: "LONG", Strategy: "PREMIUM"})

	assert.NoError(t, err)
	assert.Len(t, agg.Processed, 2)
	for _, outcome := range agg.Processed {
		assert.False(t, outcome.Result.Success)
	}
}
