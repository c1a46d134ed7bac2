package bingx

import (
	"fmt"
	"strconv"
)

// Order constants as the swap API expects them.
const (
	OrderTypeMarket   = "MARKET"
	OrderSideBuy      = "BUY"
	OrderSideSell     = "SELL"
	PositionSideLong  = "LONG"
	PositionSideShort = "SHORT"
)

// APIError is a failed exchange call: either a non-2xx response or a
// response body carrying a non-zero code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bingx api error: code %d: %s", e.Code, e.Message)
}

// Position is a single open position as reported by the exchange. Numeric
// fields come back as strings on the wire.
type Position struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	Leverage         int    `json:"leverage"`
	UnrealizedProfit string `json:"unrealizedProfit"`
}

// Amount returns the position size as a float. Zero on parse failure, which
// callers treat the same as an empty position.
func (p *Position) Amount() float64 {
	amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
	return amt
}

// Ticker is the latest traded price for a symbol.
type Ticker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Balance is the perpetual account balance snapshot.
type Balance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	Equity           string `json:"equity"`
	UnrealizedProfit string `json:"unrealizedProfit"`
	AvailableMargin  string `json:"availableMargin"`
}

// OrderRequest describes a single order submission. TakeProfit and StopLoss,
// when set, carry the exchange's embedded conditional-order JSON specs.
type OrderRequest struct {
	Symbol       string
	Side         string
	PositionSide string
	Type         string
	Quantity     float64
	TakeProfit   string
	StopLoss     string
}

// Order is the exchange's view of a placed order.
type Order struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	PositionSide  string `json:"positionSide"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	ClientOrderID string `json:"clientOrderID"`
}

// OrderResult wraps the order placement response.
type OrderResult struct {
	Order Order `json:"order"`
}
