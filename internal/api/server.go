// Package api exposes the sync engine over HTTP with gin.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/fiscalsync/internal/engine"
	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/store"
)

// Service is the engine surface served over HTTP. *engine.Engine satisfies it.
type Service interface {
	Process(ctx context.Context, req engine.Request) *engine.Result
	ProcessBatch(ctx context.Context, br engine.BatchRequest) *engine.BatchResult
	Retry(ctx context.Context, sourceID, providerName string) *engine.Result
	Status(ctx context.Context, sourceID, providerName string) *engine.Result
	History(ctx context.Context, sourceID, providerName string) (*engine.History, error)
	Cancel(ctx context.Context, sourceID, providerName string) *engine.Result
	CheckProviderStatus(ctx context.Context, sourceID, providerName string) *engine.Result
	ListRecords(ctx context.Context, f store.RecordFilter) ([]store.Record, error)
	Download(ctx context.Context, providerName, providerDocumentID, format string) ([]byte, provider.Format, error)
	ListRetryQueue(ctx context.Context) ([]store.RetryTask, error)
	RemoveRetryTask(ctx context.Context, taskID string) *engine.Result
	Providers() []engine.ProviderInfo
	ValidateCredentials(ctx context.Context, providerName string) (bool, error)
	CompanyInfo(ctx context.Context, providerName, taxID string) (*provider.CompanyInfo, error)
	Stats(ctx context.Context) (store.Stats, error)
	Ping(ctx context.Context) error
}

var _ Service = (*engine.Engine)(nil)

// ShutdownTimeout bounds how long in-flight requests get to finish.
const ShutdownTimeout = 15 * time.Second

// Server routes HTTP requests to a Service.
type Server struct {
	svc    Service
	logger *slog.Logger
	router *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New builds the router for svc.
func New(svc Service, opts ...Option) *Server {
	s := &Server{svc: svc, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := registerValidators(); err != nil {
		s.logger.Error("request validators not installed", "error", err)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.accessLog(), gin.Recovery())

	r.GET("/healthz", s.health)

	v1 := r.Group("/v1")
	v1.POST("/process", s.process)
	v1.POST("/process/batch", s.processBatch)

	v1.GET("/records", s.listRecords)
	v1.GET("/records/:provider/:source_id", s.status)
	v1.GET("/records/:provider/:source_id/history", s.history)
	v1.POST("/records/:provider/:source_id/retry", s.retry)
	v1.POST("/records/:provider/:source_id/cancel", s.cancel)
	v1.POST("/records/:provider/:source_id/check", s.check)

	v1.GET("/documents/:provider/:document_id", s.download)

	v1.GET("/retry-queue", s.retryQueue)
	v1.DELETE("/retry-queue/:id", s.removeRetryTask)

	v1.GET("/providers", s.providers)
	v1.GET("/providers/:provider/validate", s.validateCredentials)
	v1.GET("/providers/:provider/company/:tax_id", s.company)

	v1.GET("/stats", s.stats)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": engine.ErrorDetail{Code: engine.CodeNotFound, Message: "route not found"}})
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("request failed", attrs...)
			return
		}
		s.logger.Debug("request", attrs...)
	}
}
