package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"bingx-auto-trader/internal/auth"
	"bingx-auto-trader/internal/bingx"
	"bingx-auto-trader/internal/models"
	"bingx-auto-trader/internal/store"
	"bingx-auto-trader/internal/trader"
	"bingx-auto-trader/internal/webhook"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) handleWebhook(c *gin.Context) {
	var sig webhook.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": fmt.Sprintf("invalid payload: %v", err), "data": nil})
		return
	}

	agg, err := s.dispatcher.Handle(c.Request.Context(), sig)
	if errors.Is(err, webhook.ErrInvalidAction) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error(), "data": nil})
		return
	}
	if err != nil {
		s.logger.Error("Webhook dispatch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "dispatch failed", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("signal processed for %d session(s)", len(agg.Processed)),
		"data":    agg,
	})
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "email and password are required"})
		return
	}

	err := s.auth.Register(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "email already registered"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "account created"})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "email and password are required"})
		return
	}

	token, err := s.auth.Login(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid email or password"})
		return
	}
	if err != nil {
		s.logger.Error("Login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

// settingsRequest carries the dashboard's settings form, camelCased the way
// the frontend sends it.
type settingsRequest struct {
	APIKey             string  `json:"apiKey"`
	SecretKey          string  `json:"secretKey"`
	ExchangeType       string  `json:"exchangeType" binding:"required,oneof=demo live"`
	Investment         float64 `json:"investment" binding:"required,gt=0"`
	Leverage           int     `json:"leverage" binding:"required,gt=0"`
	TakeProfit         float64 `json:"takeProfit" binding:"gte=0"`
	StopLoss           float64 `json:"stopLoss" binding:"gte=0"`
	Indicator          string  `json:"indicator" binding:"required"`
	AutoTradingEnabled bool    `json:"isAutoTradingEnabled"`
}

func (s *Server) handleSaveSession(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": fmt.Sprintf("invalid settings: %v", err)})
		return
	}

	email := c.GetString(auth.UserEmailKey)
	session := &models.Session{
		SessionID:          models.SessionKey(email, req.ExchangeType),
		UserEmail:          email,
		APIKey:             req.APIKey,
		SecretKey:          req.SecretKey,
		ExchangeType:       req.ExchangeType,
		Investment:         req.Investment,
		Leverage:           req.Leverage,
		TakeProfit:         req.TakeProfit,
		StopLoss:           req.StopLoss,
		Indicator:          req.Indicator,
		AutoTradingEnabled: req.AutoTradingEnabled,
	}

	if err := s.sessions.Save(c.Request.Context(), session); err != nil {
		s.logger.Error("Failed to save session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to save session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": session.SessionID, "message": "settings saved"})
}

func (s *Server) handleListSessions(c *gin.Context) {
	email := c.GetString(auth.UserEmailKey)
	sessions, err := s.sessions.GetByUser(c.Request.Context(), email)
	if err != nil {
		s.logger.Error("Failed to list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions})
}

// ownedSession loads the path session and enforces ownership. Foreign
// sessions get the same 404 as missing ones.
func (s *Server) ownedSession(c *gin.Context) (*models.Session, bool) {
	session, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "session not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Error("Failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load session"})
		return nil, false
	}
	if session.UserEmail != c.GetString(auth.UserEmailKey) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "session not found"})
		return nil, false
	}
	return session, true
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}
	if err := s.sessions.Delete(c.Request.Context(), session.SessionID); err != nil {
		s.logger.Error("Failed to delete session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to delete session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "session deleted"})
}

func (s *Server) handleToggleAutoTrading(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}

	if req.Enabled && !session.HasCredentials() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "API credentials must be set before enabling auto-trading"})
		return
	}

	if err := s.sessions.UpdateStatus(c.Request.Context(), session.SessionID, req.Enabled, ""); err != nil {
		s.logger.Error("Failed to update auto-trading flag", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to update session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "is_auto_trading_enabled": req.Enabled})
}

func (s *Server) handleCurrentSymbol(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "symbol": session.CurrentSymbol})
}

func (s *Server) handleCheckPosition(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}
	if !session.HasCredentials() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "hasPosition": false, "message": "API credentials not set"})
		return
	}
	if session.CurrentSymbol == "" {
		c.JSON(http.StatusOK, gin.H{"success": true, "hasPosition": false, "message": "no symbol traded yet"})
		return
	}

	api := s.clients(bingx.Credentials{APIKey: session.APIKey, SecretKey: session.SecretKey}, session.ExchangeType)
	positions, err := api.GetPositions(c.Request.Context(), session.CurrentSymbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "hasPosition": false, "message": err.Error()})
		return
	}

	hasPosition := false
	for i := range positions {
		if positions[i].Amount() != 0 {
			hasPosition = true
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"hasPosition": hasPosition,
		"symbol":      session.CurrentSymbol,
	})
}

func (s *Server) handleClosePosition(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}
	if !session.HasCredentials() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "API credentials not set"})
		return
	}

	var req struct {
		Symbol string `json:"symbol"`
	}
	_ = c.ShouldBindJSON(&req) // body is optional
	symbol := req.Symbol
	if symbol == "" {
		symbol = session.CurrentSymbol
	}
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "no symbol to close"})
		return
	}

	api := s.clients(bingx.Credentials{APIKey: session.APIKey, SecretKey: session.SecretKey}, session.ExchangeType)
	outcome, err := s.executor.Execute(c.Request.Context(), api, trader.Request{Symbol: symbol, Action: trader.ActionClose})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": outcome.Success, "message": outcome.Message, "data": outcome})
}

func (s *Server) handleProfit(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}
	if !session.HasCredentials() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "API credentials not set"})
		return
	}

	api := s.clients(bingx.Credentials{APIKey: session.APIKey, SecretKey: session.SecretKey}, session.ExchangeType)

	balance, err := api.GetBalance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": err.Error()})
		return
	}

	var positions []bingx.Position
	if session.CurrentSymbol != "" {
		positions, err = api.GetPositions(c.Request.Context(), session.CurrentSymbol)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "message": err.Error()})
			return
		}
	}

	totalUnrealized := 0.0
	for i := range positions {
		if profit, err := strconv.ParseFloat(positions[i].UnrealizedProfit, 64); err == nil {
			totalUnrealized += profit
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"balance":           balance,
			"positions":         positions,
			"unrealized_profit": totalUnrealized,
		},
	})
}

func (s *Server) handleTradeHistory(c *gin.Context) {
	session, ok := s.ownedSession(c)
	if !ok {
		return
	}
	records, err := s.trades.BySession(c.Request.Context(), session.SessionID)
	if err != nil {
		s.logger.Error("Failed to load trade history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load trade history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "trades": records})
}
