// Package api is the thin HTTP status/control surface the distilled spec
// places out of core scope (§1) but names at its interface (§6's CLI
// surface implies an equivalent always-on control plane for the `monitor`
// verb). It is grounded directly in the teacher's api/server.go: a
// gin.Default() router, a permissive CORS middleware, and gin.H JSON
// responses, plus a bearer-token auth middleware built on
// github.com/golang-jwt/jwt/v5 mirroring the teacher's auth.SetJWTSecret/
// main.go wiring for everything under /control (mutating endpoints); the
// read-only /status and /history endpoints stay open, matching the
// teacher's own health/status handlers.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gridbot/internal/kernel/engine"
	"gridbot/internal/store"
)

// EngineHandle is the subset of *engine.Engine the API surface needs.
type EngineHandle interface {
	Snapshot() engine.Snapshot
	Pause()
	Resume()
	Stop(ctx context.Context) error
}

// Server is the gin-backed control surface.
type Server struct {
	router    *gin.Engine
	eng       EngineHandle
	store     *store.Store
	symbol    string
	jwtSecret []byte
	log       *logrus.Entry
}

// Config configures a Server.
type Config struct {
	Engine    EngineHandle
	Store     *store.Store
	Symbol    string
	JWTSecret string
	Log       *logrus.Entry
}

// New builds a Server with routes registered but not yet listening.
func New(c Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(corsMiddleware())

	s := &Server{
		router:    router,
		eng:       c.Engine,
		store:     c.Store,
		symbol:    c.Symbol,
		jwtSecret: []byte(c.JWTSecret),
		log:       c.Log,
	}
	s.registerRoutes()
	return s
}

// Run starts the HTTP listener, blocking until it returns (mirrors
// gin.Engine.Run).
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/history", s.handleHistory)

	control := s.router.Group("/control")
	control.Use(s.authMiddleware())
	{
		control.POST("/pause", s.handlePause)
		control.POST("/resume", s.handleResume)
		control.POST("/stop", s.handleStop)
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("request_id", uuid.New().String())
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware requires a valid HS256 bearer token signed with the
// server's configured secret, guarding every mutating /control/* route.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return s.jwtSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.eng.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"state":              snap.State,
		"position_size":      snap.Position.Size,
		"entry_price":        snap.Position.EntryPrice,
		"unrealized_pnl":     snap.Position.UnrealizedPnL,
		"realized_pnl":       snap.Position.RealizedPnL,
		"total_trades":       snap.Stats.TotalTrades,
		"winning_trades":     snap.Stats.WinningTrades,
		"losing_trades":      snap.Stats.LosingTrades,
		"total_profit":       snap.Stats.TotalProfit,
		"max_drawdown":       snap.Stats.MaxDrawdown,
		"risk_triggered":     snap.Risk.RiskTriggered,
		"risk_reason":        snap.Risk.RiskReason,
		"circuit_breaker_on": snap.Risk.CircuitBreakerActive,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"trades": []any{}})
		return
	}
	limit := 20
	trades, err := s.store.TradeHistory(s.symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handlePause(c *gin.Context) {
	s.eng.Pause()
	c.JSON(http.StatusOK, gin.H{"message": "paused"})
}

func (s *Server) handleResume(c *gin.Context) {
	s.eng.Resume()
	c.JSON(http.StatusOK, gin.H{"message": "resumed"})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.eng.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "stopped"})
}
