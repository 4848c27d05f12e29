package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"apflow/internal/config"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
	"apflow/internal/services"
)

// Server is the HTTP admin surface: health, stats, hold review, and
// queue administration. It assumes a trusted network plus the static
// bearer token; it is not an end-user API.
type Server struct {
	cfg     *config.Config
	manager *pipeline.Manager
	queue   *queue.Store
	holds   *holds.Store
	logger  *slog.Logger

	http *http.Server
}

func NewServer(cfg *config.Config, manager *pipeline.Manager, queueStore *queue.Store, holdStore *holds.Store, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		queue:   queueStore,
		holds:   holdStore,
		logger:  logging.NewComponentLogger(logger, "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	v1 := router.Group("/api/v1")
	v1.Use(s.auth())
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/stats", s.handleStats)
		v1.POST("/documents", s.handleProcessDocument)
		v1.GET("/holds", s.handleListHolds)
		v1.POST("/holds/:id/resolve", s.handleResolveHold)

		q := v1.Group("/queue/:stage")
		{
			q.POST("/retry", s.handleRetryFailed)
			q.POST("/pause", s.handlePause)
			q.POST("/resume", s.handleResume)
			q.POST("/clear", s.handleClearCompleted)
			q.DELETE("/jobs/:correlationId", s.handleRemoveJob)
		}
	}

	s.http = &http.Server{
		Addr:              cfg.API.Bind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("admin api listening", logging.String("bind", s.cfg.API.Bind))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) auth() gin.HandlerFunc {
	token := s.cfg.API.Token
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(start)))
	}
}

// writeError maps service error classes onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case services.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrValidation), errors.Is(err, holds.ErrAlreadyResolved):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
