// Package server exposes the chat backend over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shamwari-labs/shamwari"
)

// Server is the HTTP surface over a ChatService.
type Server struct {
	engine *gin.Engine
	chat   *shamwari.ChatService
	http   *http.Server
	logger shamwari.Logger
}

type chatRequest struct {
	Message string `json:"message"`
}

// New builds the router with identity, rate-limit, and request-log
// middleware installed.
func New(chat *shamwari.ChatService, verifier shamwari.IdentityVerifier, cfg *Config, logger shamwari.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(logger))
	engine.Use(RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	engine.Use(Identity(verifier, cfg.SessionSecret))

	s := &Server{
		engine: engine,
		chat:   chat,
		logger: logger,
	}

	api := engine.Group("/api")
	api.POST("/chat", s.handleChat)
	api.POST("/reset", s.handleReset)
	api.GET("/history", s.handleHistory)
	api.GET("/usage", s.handleUsage)
	engine.GET("/healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	result, err := s.chat.Chat(c.Request.Context(), identityFrom(c), req.Message)
	if errors.Is(err, shamwari.ErrEmptyMessage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if err != nil {
		s.logger.WithErr(err).Error("chat turn failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to generate a reply",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reply": result.Reply,
		"tokens": gin.H{
			"prompt":     result.PromptTokens,
			"completion": result.CompletionTokens,
			"total":      result.TotalTokens,
		},
	})
}

func (s *Server) handleReset(c *gin.Context) {
	durable, err := s.chat.Reset(c.Request.Context(), identityFrom(c))
	if err != nil {
		s.logger.WithErr(err).Error("reset failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to reset history",
			"details": err.Error(),
		})
		return
	}

	message := "session history reset"
	if durable {
		message = "durable history reset"
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": message})
}

func (s *Server) handleHistory(c *gin.Context) {
	messages, err := s.chat.History(c.Request.Context(), identityFrom(c))
	if err != nil {
		s.logger.WithErr(err).Error("history load failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to load history",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": messages})
}

func (s *Server) handleUsage(c *gin.Context) {
	usage, err := s.chat.Usage(c.Request.Context(), identityFrom(c))
	if errors.Is(err, shamwari.ErrUsageUnavailable) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	if err != nil {
		s.logger.WithErr(err).Error("usage lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to load usage",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": usage})
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.chat.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
