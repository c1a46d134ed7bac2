package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Exchange endpoint selector for a session.
const (
	ExchangeDemo = "demo"
	ExchangeLive = "live"
)

// Session is a user's persisted auto-trading configuration. One session
// exists per (user, exchange type) pair; the session ID is derived from
// both so that repeated settings submissions update in place.
type Session struct {
	gorm.Model
	SessionID          string  `gorm:"uniqueIndex;not null" json:"session_id"`
	UserEmail          string  `gorm:"index" json:"user_email"`
	APIKey             string  `json:"-"`
	SecretKey          string  `json:"-"`
	ExchangeType       string  `gorm:"default:demo" json:"exchange_type"`
	Investment         float64 `json:"investment"`
	Leverage           int     `json:"leverage"`
	TakeProfit         float64 `json:"take_profit"`
	StopLoss           float64 `json:"stop_loss"`
	Indicator          string  `json:"indicator"`
	AutoTradingEnabled bool    `gorm:"index" json:"is_auto_trading_enabled"`
	CurrentSymbol      string  `json:"current_symbol"`
}

// SessionKey derives the deterministic session ID for a user and exchange
// type, e.g. "alice@example.com_demo".
func SessionKey(email, exchangeType string) string {
	return fmt.Sprintf("%s_%s", email, exchangeType)
}

// HasCredentials reports whether the session carries a usable API key pair.
// Sessions without credentials are never traded.
func (s *Session) HasCredentials() bool {
	return s.APIKey != "" && s.SecretKey != ""
}
