// Package api exposes the admin HTTP surface: health, status, metrics, and
// manual pipeline triggers. It is an operator interface, not a public one.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/database"
	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/pkg/ratelimit"
	"github.com/curator-sh/curator/pkg/reconcile"
	"github.com/curator-sh/curator/pkg/storage"
)

// Server is the admin HTTP server. Every field except cfg and queue may be
// nil depending on which stages the process runs.
type Server struct {
	cfg        *config.Config
	dbClient   *database.Client
	store      storage.Store
	queue      queue.Queue
	pools      []*queue.WorkerPool
	limiters   []*ratelimit.Limiter
	reconciler *reconcile.Reconciler

	httpServer *http.Server
}

// NewServer creates the admin server.
func NewServer(cfg *config.Config, dbClient *database.Client, store storage.Store, q queue.Queue) *Server {
	return &Server{
		cfg:      cfg,
		dbClient: dbClient,
		store:    store,
		queue:    q,
	}
}

// RegisterPool adds a worker pool to health and status reporting.
func (s *Server) RegisterPool(pool *queue.WorkerPool) {
	s.pools = append(s.pools, pool)
}

// RegisterLimiter adds a rate limiter to status reporting.
func (s *Server) RegisterLimiter(l *ratelimit.Limiter) {
	s.limiters = append(s.limiters, l)
}

// SetReconciler enables the manual reconcile trigger.
func (s *Server) SetReconciler(r *reconcile.Reconciler) {
	s.reconciler = r
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery(), securityHeaders())

	router.GET("/health", s.healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", s.statusHandler)
		v1.POST("/collect", s.collectHandler)
		v1.POST("/publish", s.publishHandler)
		v1.POST("/reconcile", s.reconcileHandler)
	}
	return router
}

// Start begins serving on addr in a goroutine. Fatal listen errors are
// reported on the returned channel.
func (s *Server) Start(addr string) <-chan error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Admin API listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin API server: %w", err)
		}
	}()
	return errCh
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
