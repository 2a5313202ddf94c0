// Package api exposes the control surface: REST endpoints for status,
// positions and lifecycle control, plus a websocket event feed.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"futures-trading-engine/config"
	"futures-trading-engine/internal/auth"
	"futures-trading-engine/internal/events"
	"futures-trading-engine/internal/position"
	"futures-trading-engine/internal/signal"
)

// BotAPI is what the server needs from the orchestrator.
type BotAPI interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Status(ctx context.Context) map[string]interface{}
	OpenPositions(ctx context.Context) ([]*position.Position, error)
	GetPosition(ctx context.Context, id string) (*position.Position, error)
	ManualClose(ctx context.Context, positionID string) error
	ResumeEngine()
	RiskMetrics(ctx context.Context) (map[string]interface{}, error)
	ExecuteSignal(ctx context.Context, sig *signal.Signal) (*position.Position, error)
}

// Server is the HTTP control API server.
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	bot        BotAPI
	authMgr    *auth.Manager
	hub        *Hub
	logger     zerolog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg config.ServerConfig, bot BotAPI, authMgr *auth.Manager, bus *events.Bus, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" || cfg.AllowedOrigins == "" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		cfg:     cfg,
		router:  router,
		bot:     bot,
		authMgr: authMgr,
		hub:     NewHub(bus, logger),
		logger:  logger.With().Str("component", "APIServer").Logger(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.POST("/api/auth/login", s.handleLogin)

	protected := s.router.Group("/api")
	protected.Use(s.authMgr.Middleware())
	{
		protected.GET("/status", s.handleStatus)
		protected.GET("/positions", s.handlePositions)
		protected.GET("/positions/:id", s.handlePosition)
		protected.POST("/positions/:id/close", s.handleClosePosition)
		protected.POST("/engine/start", s.handleStart)
		protected.POST("/engine/stop", s.handleStop)
		protected.POST("/engine/resume", s.handleResume)
		protected.GET("/risk", s.handleRiskMetrics)
		protected.POST("/signal", s.handleSignal)
	}

	// Websocket auth happens in the handler (browsers cannot set the
	// Authorization header on upgrade requests).
	s.router.GET("/ws", s.handleWebsocket)
}

// Start runs the HTTP server until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
