package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/ports"
	"ImpactScanner/pkg/logger"
)

// Runner triggers one pipeline pass.
type Runner interface {
	Run(ctx context.Context) (domain.Report, error)
}

// RunHistory looks up stored results of an earlier run.
type RunHistory interface {
	RunResults(ctx context.Context, runID string) ([]domain.AnalysisResult, error)
}

// ServerDeps wires the optional collaborators of the HTTP server.
type ServerDeps struct {
	Runner  Runner
	History RunHistory
	// IsBusy reports a run conflict returned by Runner.
	IsBusy func(err error) bool
	Logger *slog.Logger
}

// Server exposes the latest report over HTTP and doubles as a report sink.
type Server struct {
	runner  Runner
	history RunHistory
	isBusy  func(error) bool
	apiKey  string
	logger  *slog.Logger
	router  *gin.Engine

	mu     sync.RWMutex
	latest *domain.Report
}

var _ ports.ReportSink = (*Server)(nil)

// NewServer builds the router. An empty apiKey leaves POST /run open.
func NewServer(deps ServerDeps, apiKey string) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	isBusy := deps.IsBusy
	if isBusy == nil {
		isBusy = func(error) bool { return false }
	}

	s := &Server{
		runner:  deps.Runner,
		history: deps.History,
		isBusy:  isBusy,
		apiKey:  apiKey,
		logger:  log.With("component", "api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", s.health)
	r.GET("/report", s.report)
	r.GET("/runs/:id", s.runResults)

	run := r.Group("/run")
	if s.apiKey != "" {
		run.Use(authMiddleware(s.apiKey))
	}
	run.POST("", s.triggerRun)

	return r
}

// AttachRunner enables POST /run. Call it before serving.
func (s *Server) AttachRunner(r Runner) {
	s.runner = r
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Deliver stores report as the latest one served by GET /report.
func (s *Server) Deliver(_ context.Context, report domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &report
	return nil
}

// Latest returns the most recent report, if any.
func (s *Server) Latest() (domain.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return domain.Report{}, false
	}
	return *s.latest, true
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.New(s.logger, "http"),
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
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if report, ok := s.Latest(); ok {
		resp["last_run_id"] = report.RunID
		resp["last_run_at"] = report.GeneratedAt.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) report(c *gin.Context) {
	report, ok := s.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report yet"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) runResults(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history is not stored"})
		return
	}

	runID := c.Param("id")
	results, err := s.history.RunResults(c.Request.Context(), runID)
	if err != nil {
		s.logger.Error("load run results failed", "run_id", runID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if len(results) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "results": results})
}

// triggerRun runs the pipeline synchronously and answers with its report.
// The run outlives a disconnecting client.
func (s *Server) triggerRun(c *gin.Context) {
	if s.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "runs cannot be triggered on this instance"})
		return
	}

	report, err := s.runner.Run(context.WithoutCancel(c.Request.Context()))
	switch {
	case err != nil && s.isBusy(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		s.logger.Error("triggered run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, report)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(started),
			"client_ip", c.ClientIP(),
		)
	}
}

// authMiddleware accepts the key from X-API-Key or a Bearer token.
func authMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-API-Key")
		if provided == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			return
		}
		if provided != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}
