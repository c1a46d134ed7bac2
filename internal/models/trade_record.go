package models

import "gorm.io/gorm"

// TradeRecord is a row of trade history written after a signal was executed
// for a session.
type TradeRecord struct {
	gorm.Model
	SessionID string  `gorm:"index" json:"session_id"`
	Symbol    string  `json:"symbol"`
	Action    string  `json:"action"` // "LONG", "SHORT" or "CLOSE"
	Strategy  string  `json:"strategy"`
	Quantity  float64 `json:"quantity"`
	Leverage  int     `json:"leverage"`
	Price     float64 `json:"price"`
	Success   bool    `json:"success"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
}
