package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"bingx-auto-trader/internal/bingx"
	"go.uber.org/zap"
)

// Action is a desired position transition.
type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionClose Action = "CLOSE"
)

// Valid reports whether the action is one the engine knows how to execute.
func (a Action) Valid() bool {
	return a == ActionLong || a == ActionShort || a == ActionClose
}

// Request describes one execution for one symbol. Quantity, TakeProfitPct
// and StopLossPct are only meaningful for opens.
type Request struct {
	Symbol        string
	Action        Action
	Quantity      float64
	Leverage      int
	TakeProfitPct float64
	StopLossPct   float64
}

// OrderOutcome is the result of a single submitted order.
type OrderOutcome struct {
	PositionSide string  `json:"position_side"`
	Quantity     float64 `json:"quantity"`
	OrderID      int64   `json:"order_id,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Outcome is the result of one execution. A close over several positions
// yields one OrderOutcome per position; Success is true only when all of
// them succeeded.
type Outcome struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Orders  []OrderOutcome `json:"orders,omitempty"`
}

// Executor turns a desired action into the right sequence of exchange calls.
// It executes exactly the action it is given; detecting and closing an
// opposite position first is the caller's job.
type Executor struct {
	logger *zap.Logger
}

// NewExecutor creates a new trade executor.
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger}
}

// Execute runs one request against the given exchange client. A returned
// error means the request could not be carried out at all; partial failures
// of a multi-position close come back inside the Outcome instead.
func (e *Executor) Execute(ctx context.Context, api bingx.ExchangeAPI, req Request) (*Outcome, error) {
	if !req.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}

	if req.Action == ActionClose {
		return e.closeAll(ctx, api, req.Symbol)
	}
	return e.open(ctx, api, req)
}

// closeAll closes every non-zero position on the symbol. Zero open positions
// is a successful no-op, not an error.
func (e *Executor) closeAll(ctx context.Context, api bingx.ExchangeAPI, symbol string) (*Outcome, error) {
	positions, err := api.GetPositions(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("could not query positions for %s: %w", symbol, err)
	}

	var open []bingx.Position
	for _, p := range positions {
		if p.Amount() != 0 {
			open = append(open, p)
		}
	}

	if len(open) == 0 {
		e.logger.Info("No open positions to close", zap.String("symbol", symbol))
		return &Outcome{Success: true, Message: fmt.Sprintf("no open positions for %s", symbol)}, nil
	}

	outcome := &Outcome{Success: true}
	for _, p := range open {
		quantity := math.Abs(p.Amount())
		result := OrderOutcome{PositionSide: p.PositionSide, Quantity: quantity}

		closeSide, err := invertSide(p.PositionSide)
		if err != nil {
			result.Error = err.Error()
			outcome.Success = false
			outcome.Orders = append(outcome.Orders, result)
			continue
		}

		order, err := api.PlaceOrder(ctx, bingx.OrderRequest{
			Symbol:       symbol,
			Side:         closeSide,
			PositionSide: p.PositionSide,
			Type:         bingx.OrderTypeMarket,
			Quantity:     quantity,
		})
		if err != nil {
			// Keep going: one position failing to close must not stop
			// the close of the others.
			e.logger.Error("Failed to close position",
				zap.String("symbol", symbol),
				zap.String("position_side", p.PositionSide),
				zap.Error(err),
			)
			result.Error = err.Error()
			outcome.Success = false
		} else {
			result.OrderID = order.Order.OrderID
		}
		outcome.Orders = append(outcome.Orders, result)
	}

	if outcome.Success {
		outcome.Message = fmt.Sprintf("closed %d position(s) for %s", len(outcome.Orders), symbol)
	} else {
		outcome.Message = fmt.Sprintf("failed to close some positions for %s", symbol)
	}
	return outcome, nil
}

// open enters a new LONG or SHORT position, optionally with embedded
// take-profit / stop-loss conditional orders.
func (e *Executor) open(ctx context.Context, api bingx.ExchangeAPI, req Request) (*Outcome, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive to open a position, got %v", req.Quantity)
	}

	positionSide := string(req.Action)
	if err := api.SetLeverage(ctx, req.Symbol, positionSide, req.Leverage); err != nil {
		return nil, fmt.Errorf("could not set leverage: %w", err)
	}

	orderSide := bingx.OrderSideBuy
	if req.Action == ActionShort {
		orderSide = bingx.OrderSideSell
	}

	order := bingx.OrderRequest{
		Symbol:       req.Symbol,
		Side:         orderSide,
		PositionSide: positionSide,
		Type:         bingx.OrderTypeMarket,
		Quantity:     req.Quantity,
	}

	if req.TakeProfitPct > 0 || req.StopLossPct > 0 {
		// One price fetch covers both trigger computations.
		price, err := api.GetTicker(ctx, req.Symbol)
		if err != nil {
			return nil, fmt.Errorf("could not get price for tp/sl computation: %w", err)
		}

		if req.TakeProfitPct > 0 {
			order.TakeProfit = conditionalSpec("TAKE_PROFIT_MARKET", takeProfitPrice(req.Action, price, req.TakeProfitPct))
		}
		if req.StopLossPct > 0 {
			order.StopLoss = conditionalSpec("STOP_MARKET", stopLossPrice(req.Action, price, req.StopLossPct))
		}
	}

	result, err := api.PlaceOrder(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("could not open %s position: %w", positionSide, err)
	}

	return &Outcome{
		Success: true,
		Message: fmt.Sprintf("opened %s position on %s", positionSide, req.Symbol),
		Orders: []OrderOutcome{{
			PositionSide: positionSide,
			Quantity:     req.Quantity,
			OrderID:      result.Order.OrderID,
		}},
	}, nil
}

// invertSide maps a held position side to the order side that closes it.
func invertSide(positionSide string) (string, error) {
	switch positionSide {
	case bingx.PositionSideLong:
		return bingx.OrderSideSell, nil
	case bingx.PositionSideShort:
		return bingx.OrderSideBuy, nil
	default:
		return "", fmt.Errorf("unknown position side %q", positionSide)
	}
}

// takeProfitPrice is above the reference price for longs, below for shorts.
func takeProfitPrice(action Action, price, pct float64) float64 {
	if action == ActionLong {
		return round4(price * (1 + pct/100))
	}
	return round4(price * (1 - pct/100))
}

// stopLossPrice is below the reference price for longs, above for shorts.
func stopLossPrice(action Action, price, pct float64) float64 {
	if action == ActionLong {
		return round4(price * (1 - pct/100))
	}
	return round4(price * (1 + pct/100))
}

// round4 rounds a trigger price to 4 decimal places.
func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// conditionalSpec builds the embedded conditional-order JSON the order
// endpoint expects, triggered on mark price.
func conditionalSpec(orderType string, triggerPrice float64) string {
	spec := struct {
		Type        string  `json:"type"`
		StopPrice   float64 `json:"stopPrice"`
		Price       float64 `json:"price"`
		WorkingType string  `json:"workingType"`
	}{
		Type:        orderType,
		StopPrice:   triggerPrice,
		Price:       triggerPrice,
		WorkingType: "MARK_PRICE",
	}

	// Marshalling a flat struct of primitives cannot fail.
	b, _ := json.Marshal(spec)
	return string(b)
}
