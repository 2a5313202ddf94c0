package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"futures-trading-engine/internal/auth"
	"futures-trading-engine/internal/position"
	"futures-trading-engine/internal/signal"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type loginRequest struct {
	OperatorKey string `json:"operator_key" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator_key is required"})
		return
	}

	token, err := s.authMgr.Login(req.OperatorKey)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidOperatorKey) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid operator key"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": s.authMgr.TokenDuration(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.bot.Status(c.Request.Context()))
}

func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.bot.OpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if positions == nil {
		positions = []*position.Position{}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (s *Server) handlePosition(c *gin.Context) {
	pos, err := s.bot.GetPosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, position.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos, "next_target": pos.NextUnfilledTarget()})
}

func (s *Server) handleClosePosition(c *gin.Context) {
	id := c.Param("id")
	if err := s.bot.ManualClose(c.Request.Context(), id); err != nil {
		if errors.Is(err, position.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "position_id": id})
}

func (s *Server) handleStart(c *gin.Context) {
	// The bot's loops must outlive this request.
	if err := s.bot.Start(context.Background()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleStop(c *gin.Context) {
	s.bot.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleResume(c *gin.Context) {
	s.bot.ResumeEngine()
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (s *Server) handleSignal(c *gin.Context) {
	var sig signal.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal payload"})
		return
	}
	if sig.Symbol == "" || (sig.Action != signal.ActionBuy && sig.Action != signal.ActionSell) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signal requires a symbol and a BUY or SELL action"})
		return
	}
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.GeneratedAt.IsZero() {
		sig.GeneratedAt = time.Now()
	}

	pos, err := s.bot.ExecuteSignal(c.Request.Context(), &sig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if pos == nil {
		c.JSON(http.StatusOK, gin.H{"status": "rejected", "signal_id": sig.ID})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "opened", "position": pos})
}

func (s *Server) handleRiskMetrics(c *gin.Context) {
	metrics, err := s.bot.RiskMetrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, metrics)
}
