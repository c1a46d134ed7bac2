package server

import (
	"context"
	"fmt"
	"net/http"

	"bingx-auto-trader/internal/auth"
	"bingx-auto-trader/internal/config"
	"bingx-auto-trader/internal/store"
	"bingx-auto-trader/internal/webhook"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is the HTTP surface of the relay: the webhook ingress plus the
// session, auth and position endpoints the dashboard talks to.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger

	sessions   store.SessionStore
	trades     store.TradeLog
	dispatcher *webhook.Dispatcher
	auth       *auth.Service
	clients    webhook.ClientFactory
	executor   webhook.TradeExecutor
}

// NewServer assembles the router and all routes.
func NewServer(
	cfg config.Server,
	logger *zap.Logger,
	sessions store.SessionStore,
	trades store.TradeLog,
	dispatcher *webhook.Dispatcher,
	authService *auth.Service,
	clients webhook.ClientFactory,
	executor webhook.TradeExecutor,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	s := &Server{
		router:     router,
		logger:     logger.Named("http"),
		sessions:   sessions,
		trades:     trades,
		dispatcher: dispatcher,
		auth:       authService,
		clients:    clients,
		executor:   executor,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")

	// The alerting source cannot authenticate, so the webhook ingress is
	// open; everything it can trigger is gated by per-session config.
	api.POST("/webhook", s.handleWebhook)

	authGroup := api.Group("/auth")
	authGroup.POST("/register", s.handleRegister)
	authGroup.POST("/login", s.handleLogin)

	sessions := api.Group("/sessions", s.auth.RequireAuth())
	sessions.POST("", s.handleSaveSession)
	sessions.GET("", s.handleListSessions)
	sessions.GET("/:id", s.handleGetSession)
	sessions.DELETE("/:id", s.handleDeleteSession)
	sessions.POST("/:id/auto-trading", s.handleToggleAutoTrading)
	sessions.GET("/:id/current-symbol", s.handleCurrentSymbol)
	sessions.GET("/:id/position", s.handleCheckPosition)
	sessions.POST("/:id/close-position", s.handleClosePosition)
	sessions.GET("/:id/profit", s.handleProfit)
	sessions.GET("/:id/trades", s.handleTradeHistory)
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
