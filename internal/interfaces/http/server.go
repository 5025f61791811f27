// Package http provides the HTTP adapter over the registry services.
// It is a thin layer translating requests to service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mpetkov/fuel-registry/internal/ratelimit"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	limiter    *ratelimit.Limiter
	logger     *zap.Logger
}

// NewServer creates a new HTTP server around the given handlers
func NewServer(config ServerConfig, handlers *Handlers, limiter *ratelimit.Limiter, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	server := &Server{
		config:   config,
		router:   router,
		handlers: handlers,
		limiter:  limiter,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// rateLimitMiddleware rejects requests over the per-client limit
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{
				Success: false,
				Error:   "too many requests",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handlers.HealthCheck)

	// Public verification page, rate limited per client IP
	s.router.GET("/verify/:regNumber", s.rateLimitMiddleware(), s.handlers.VerifyEntry)

	api := s.router.Group("/api")
	{
		api.POST("/entries", s.handlers.CreateEntry)
		api.GET("/entries", s.handlers.ListEntries)
		api.GET("/entries/export", s.handlers.ExportEntries)
		api.GET("/entries/:id", s.handlers.GetEntry)
		api.PUT("/entries/:id", s.handlers.UpdateEntry)
		api.DELETE("/entries/:id", s.handlers.DeleteEntry)

		api.POST("/autosend", s.handlers.PlanAutoSend)
		api.GET("/autosend", s.handlers.ListAutoSendHistory)
		api.GET("/autosend/:id/progress", s.handlers.GetAutoSendProgress)
		api.GET("/autosend/:id/items/:seq/download", s.handlers.DownloadItemDocuments)

		api.PUT("/settings/autosend", s.handlers.SetAutoSendToggle)

		api.GET("/lookups/:kind", s.handlers.ListLookupItems)
		api.POST("/lookups/:kind", s.handlers.CreateLookupItem)
		api.PUT("/lookups/:kind/:id", s.handlers.UpdateLookupItem)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
