package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bingx-auto-trader/internal/bingx"
	"bingx-auto-trader/internal/models"
	"bingx-auto-trader/internal/store"
	"bingx-auto-trader/internal/trader"
	"go.uber.org/zap"
)

// ErrInvalidAction marks a signal whose action is not LONG, SHORT or CLOSE.
// The whole request is rejected before any session is touched.
var ErrInvalidAction = errors.New("invalid signal action")

// Signal is one inbound trade instruction from the alerting source.
type Signal struct {
	Symbol   string `json:"symbol" binding:"required"`
	Action   string `json:"action" binding:"required"`
	Strategy string `json:"strategy"`
}

// SessionOutcome is the result of one session's processing of a signal.
type SessionOutcome struct {
	SessionID string          `json:"session_id"`
	Result    *trader.Outcome `json:"result"`
}

// AggregateOutcome is the dispatch result across all matched sessions.
type AggregateOutcome struct {
	Symbol    string           `json:"symbol"`
	Strategy  string           `json:"strategy"`
	Action    string           `json:"action"`
	Processed []SessionOutcome `json:"processed_sessions"`
}

// ClientFactory builds an exchange client for one session's credentials.
type ClientFactory func(creds bingx.Credentials, exchangeType string) bingx.ExchangeAPI

// TradeExecutor is the execution engine surface the dispatcher drives.
type TradeExecutor interface {
	Execute(ctx context.Context, api bingx.ExchangeAPI, req trader.Request) (*trader.Outcome, error)
}

// Dispatcher fans an inbound signal out to every active session that opted
// into the signal's strategy. Sessions are processed independently: a
// failure in one is recorded in that session's outcome and never stops the
// others.
type Dispatcher struct {
	logger      *zap.Logger
	sessions    store.SessionStore
	trades      store.TradeLog
	clients     ClientFactory
	executor    TradeExecutor
	settleDelay time.Duration
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(
	logger *zap.Logger,
	sessions store.SessionStore,
	trades store.TradeLog,
	clients ClientFactory,
	executor TradeExecutor,
	settleDelay time.Duration,
) *Dispatcher {
	return &Dispatcher{
		logger:      logger,
		sessions:    sessions,
		trades:      trades,
		clients:     clients,
		executor:    executor,
		settleDelay: settleDelay,
	}
}

// NormalizeSymbol rewrites TradingView's perpetual-futures convention to the
// exchange's separator convention, e.g. "XRPUSDT.P" -> "XRP-USDT".
func NormalizeSymbol(symbol string) string {
	if strings.HasSuffix(symbol, ".P") {
		symbol = strings.TrimSuffix(symbol, ".P")
		symbol = strings.Replace(symbol, "USDT", "-USDT", 1)
	}
	return symbol
}

// Handle validates and dispatches one signal. It returns an error only for
// malformed input or a failure to read the session list; per-session
// failures are reported inside the aggregate outcome.
func (d *Dispatcher) Handle(ctx context.Context, sig Signal) (*AggregateOutcome, error) {
	action := trader.Action(sig.Action)
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, sig.Action)
	}

	symbol := NormalizeSymbol(sig.Symbol)
	d.logger.Info("Signal received",
		zap.String("symbol", symbol),
		zap.String("strategy", sig.Strategy),
		zap.String("action", string(action)),
	)

	sessions, err := d.sessions.ActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load active sessions: %w", err)
	}

	// Sessions are independent, so they run concurrently with one result
	// slot each; the settle delay of one reversal never blocks another
	// session.
	slots := make([]*SessionOutcome, len(sessions))
	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func(i int, session models.Session) {
			defer wg.Done()
			slots[i] = d.processSession(ctx, &session, symbol, sig.Strategy, action)
		}(i, sessions[i])
	}
	wg.Wait()

	agg := &AggregateOutcome{Symbol: symbol, Strategy: sig.Strategy, Action: string(action)}
	for _, outcome := range slots {
		if outcome != nil {
			agg.Processed = append(agg.Processed, *outcome)
		}
	}

	d.logger.Info("Signal dispatched",
		zap.Int("active_sessions", len(sessions)),
		zap.Int("processed_sessions", len(agg.Processed)),
	)
	return agg, nil
}

// processSession runs one session's trade sequence. A nil return means the
// session was skipped (no credentials or strategy mismatch) and does not
// appear in the aggregate at all. Errors are converted to a failed outcome
// at this boundary.
func (d *Dispatcher) processSession(ctx context.Context, session *models.Session, symbol, strategy string, action trader.Action) *SessionOutcome {
	l := d.logger.With(zap.String("session_id", session.SessionID))

	if !session.HasCredentials() {
		l.Info("Skipping session without API credentials")
		return nil
	}
	if session.Indicator != strategy {
		l.Debug("Skipping session, indicator does not match signal strategy",
			zap.String("indicator", session.Indicator),
			zap.String("strategy", strategy),
		)
		return nil
	}

	record := &models.TradeRecord{
		SessionID: session.SessionID,
		Symbol:    symbol,
		Action:    string(action),
		Strategy:  strategy,
		Leverage:  session.Leverage,
		Timestamp: time.Now().Unix(),
	}

	outcome, err := d.executeForSession(ctx, session, symbol, action, record)
	if err != nil {
		l.Error("Session processing failed", zap.Error(err))
		outcome = &trader.Outcome{Success: false, Message: err.Error()}
	}

	record.Success = outcome.Success
	record.Message = outcome.Message
	if err := d.trades.Record(ctx, record); err != nil {
		l.Error("Failed to save trade record", zap.Error(err))
		// History is best-effort; the trade itself already happened.
	}

	return &SessionOutcome{SessionID: session.SessionID, Result: outcome}
}

// executeForSession carries out the position transition for one session:
// closes directly, opens after resolving an opposite-direction position.
func (d *Dispatcher) executeForSession(ctx context.Context, session *models.Session, symbol string, action trader.Action, record *models.TradeRecord) (*trader.Outcome, error) {
	// Intent is persisted before any exchange call so a crash mid-trade
	// still leaves the symbol on record.
	if err := d.sessions.UpdateStatus(ctx, session.SessionID, true, symbol); err != nil {
		return nil, fmt.Errorf("could not record trading intent: %w", err)
	}

	api := d.clients(bingx.Credentials{APIKey: session.APIKey, SecretKey: session.SecretKey}, session.ExchangeType)

	if action == trader.ActionClose {
		return d.executor.Execute(ctx, api, trader.Request{Symbol: symbol, Action: trader.ActionClose})
	}

	price, err := api.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("could not get current price: %w", err)
	}

	if err := d.closeOpposite(ctx, api, symbol, action); err != nil {
		return nil, err
	}

	quantity := (session.Investment * float64(session.Leverage)) / price
	record.Quantity = quantity
	record.Price = price

	return d.executor.Execute(ctx, api, trader.Request{
		Symbol:        symbol,
		Action:        action,
		Quantity:      quantity,
		Leverage:      session.Leverage,
		TakeProfitPct: session.TakeProfit,
		StopLossPct:   session.StopLoss,
	})
}

// closeOpposite closes an existing position held against the desired
// direction, then waits out the settling delay so the exchange registers
// the closed state before the dependent open. A failed close aborts the
// reversal; opening on top of an unconfirmed close could double exposure.
func (d *Dispatcher) closeOpposite(ctx context.Context, api bingx.ExchangeAPI, symbol string, action trader.Action) error {
	positions, err := api.GetPositions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("could not query existing positions: %w", err)
	}

	oppositeSide := bingx.PositionSideShort
	if action == trader.ActionShort {
		oppositeSide = bingx.PositionSideLong
	}

	found := false
	for i := range positions {
		if positions[i].PositionSide == oppositeSide && positions[i].Amount() != 0 {
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	d.logger.Info("Opposite position found, reversing",
		zap.String("symbol", symbol),
		zap.String("held", oppositeSide),
		zap.String("desired", string(action)),
	)

	closeOutcome, err := d.executor.Execute(ctx, api, trader.Request{Symbol: symbol, Action: trader.ActionClose})
	if err != nil {
		return fmt.Errorf("reversal close failed: %w", err)
	}
	if !closeOutcome.Success {
		return fmt.Errorf("reversal close failed: %s", closeOutcome.Message)
	}

	select {
	case <-time.After(d.settleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
