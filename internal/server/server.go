// Package server implements the gateway's gin HTTP surface (spec.md §6):
// POST /v1/messages, GET /v1/models, GET /health, plus the optional
// Prometheus scrape endpoint when that exporter mode is selected.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Luji7/llm-gateway/internal/audit"
	"github.com/Luji7/llm-gateway/internal/config"
	"github.com/Luji7/llm-gateway/internal/modelrules"
	"github.com/Luji7/llm-gateway/internal/obs"
	"github.com/Luji7/llm-gateway/internal/pipeline"
	"github.com/Luji7/llm-gateway/internal/stats"
)

// Server wires every per-request collaborator: admission (pipeline),
// dispatch (translate or pass-through, per forward_mode), observability
// (obs), and the audit recorder. It owns no business logic of its own —
// HandleMessages/HandleModels/HandleHealth below do the work; Server is
// just the place their shared dependencies live.
type Server struct {
	cfg        *config.Config
	router     *gin.Engine
	httpServer *http.Server

	rules      *modelrules.Rules
	inflight   *pipeline.Inflight
	metrics    obs.Metrics
	recorder   *audit.Recorder
	usageStore *stats.Store

	downstreamClient *http.Client
	streamClient     *http.Client
}

// New builds a Server from cfg. metrics, recorder, and usageStore are
// constructed by the caller (cmd/gateway) since their lifecycle
// (shutdown, rotation, the sqlite connection) outlives a single Server
// value in tests. usageStore may be nil when observability.usage_store
// is disabled.
func New(cfg *config.Config, metrics obs.Metrics, recorder *audit.Recorder, usageStore *stats.Store) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:        cfg,
		router:     gin.New(),
		rules:      modelrules.New(&cfg.Models),
		inflight:   pipeline.NewInflight(cfg.Limits.MaxInflight),
		metrics:    metrics,
		recorder:   recorder,
		usageStore: usageStore,
		downstreamClient: &http.Client{
			Timeout: cfg.ConnectTimeout() + cfg.ReadTimeout(),
		},
		streamClient: &http.Client{
			// Streaming responses are read incrementally; no fixed
			// deadline beyond the transport's own connect/read timeouts.
		},
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("request handled")
	})
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.HandleHealth)
	s.router.GET("/v1/models", s.HandleModels)
	s.router.POST("/v1/messages", s.HandleMessages)

	if pm, ok := s.metrics.(interface{ Handler() http.Handler }); ok {
		s.router.GET("/metrics", gin.WrapH(pm.Handler()))
	}
}

// Run starts the HTTP listener and blocks until it stops or ctx is
// cancelled, in which case it shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.BindAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses may run far longer than 30s
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", s.cfg.Server.BindAddr).Info("gateway listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("gateway server error: %w", err)
	}
}

// Router exposes the underlying gin engine for tests (httptest.Server
// wraps it directly rather than going through Run's real listener).
func (s *Server) Router() http.Handler { return s.router }

// InflightCount reports the number of requests currently holding an
// admission slot. Exposed so cmd/gateway can feed the observable
// inflight gauge despite metrics being constructed before the Server.
func (s *Server) InflightCount() int64 { return s.inflight.Count() }
