// Package httpapi serves the operator surface over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fnal-rts/rts-coordinator/internal/health"
	"github.com/fnal-rts/rts-coordinator/pkg/api"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP operator surface.
type Server struct {
	addr       string
	httpServer *http.Server
	router     *gin.Engine
	stand      api.Stand
	monitor    *health.Monitor
	log        *zap.Logger
}

// NewServer creates the router. gatherer may be nil, in which case
// /metrics is not mounted.
func NewServer(addr string, stand api.Stand, monitor *health.Monitor, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		addr:    addr,
		router:  gin.New(),
		stand:   stand,
		monitor: monitor,
		log:     log.Named("http"),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.setupRoutes(gatherer)
	return s
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.GET("/healthz", s.healthz)
	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.getStatus)
		v1.GET("/history", s.getHistory)
		v1.GET("/plan", s.getPlan)
		v1.POST("/events", s.postEvent)
		v1.POST("/pause/:choice", s.postPauseChoice)
	}
}

// Start serves until ctx is done, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("starting HTTP server", zap.String("address", s.addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		s.log.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router.
func (s *Server) Router() *gin.Engine {
	return s.router
}
