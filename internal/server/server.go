// Package server exposes the runner orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ghrunner/internal/auth"
	"ghrunner/internal/logging"
	"ghrunner/internal/manager"
	"ghrunner/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	invalidBodyMessage = `Invalid JSON body. Expected: { "repo": "org/repo" }`
	shutdownTimeout    = 30 * time.Second
)

// Server is the HTTP surface in front of the orchestrator
type Server struct {
	orchestrator *manager.Orchestrator
	gate         *auth.Gate
	engine       *gin.Engine
}

// NewServer creates a new Server and registers its routes
func NewServer(orch *manager.Orchestrator, gate *auth.Gate) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), accessLog())

	s := &Server{
		orchestrator: orch,
		gate:         gate,
		engine:       engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.engine.Group("/api")
	api.POST("/request_runner", s.handleRequestRunner)
	api.DELETE("/delete_resource_group", s.handleDeleteResourceGroup)
	api.POST("/delete_resource_group", s.handleDeleteResourceGroup)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on port until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Logger().Info("Starting HTTP server", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
		logging.Logger().Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) authorizer(c *gin.Context) manager.Authorizer {
	return func() error {
		scheme, err := s.gate.Authorize(c.Request)
		if err != nil {
			return err
		}
		logging.Logger().Debug("Request authorized",
			zap.String(requestIDKey, c.GetString(requestIDKey)),
			zap.String("scheme", string(scheme)))
		return nil
	}
}

// rejectBody answers a request whose body could not be parsed. Authorization
// is still checked first so that unauthenticated callers only ever see 401.
func (s *Server) rejectBody(c *gin.Context, operation string, err error) {
	if _, authErr := s.gate.Authorize(c.Request); authErr != nil {
		metrics.RecordRequest(operation, metrics.ResultUnauthorized, 0)
		c.String(http.StatusUnauthorized, "%s", auth.ErrUnauthorized.Error())
		return
	}
	logging.Logger().Warn("Invalid request body",
		zap.String(requestIDKey, c.GetString(requestIDKey)),
		zap.Error(err))
	metrics.RecordRequest(operation, metrics.ResultInvalid, 0)
	c.String(http.StatusBadRequest, "%s", invalidBodyMessage)
}

func (s *Server) handleRequestRunner(c *gin.Context) {
	var req manager.ProvisioningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.rejectBody(c, metrics.OperationProvision, err)
		return
	}
	req.RequestID = c.GetString(requestIDKey)

	out := s.orchestrator.Provision(c.Request.Context(), s.authorizer(c), req)
	if out.Err != nil {
		writeError(c, out.Err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":        "Runner VM creation started",
		"vm":             out.VMName,
		"runner":         out.RunnerName,
		"resource-group": out.ResourceGroup,
	})
}

func (s *Server) handleDeleteResourceGroup(c *gin.Context) {
	var req manager.TeardownRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.rejectBody(c, metrics.OperationTeardown, err)
		return
	}
	req.RequestID = c.GetString(requestIDKey)

	out := s.orchestrator.Teardown(c.Request.Context(), s.authorizer(c), req)
	if out.Err != nil {
		writeError(c, out.Err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Resource group '%s' deleted.", out.ResourceGroup),
	})
}

// writeError answers with the error text. Authorization failures never say
// which scheme was tried.
func writeError(c *gin.Context, err error) {
	status := manager.HTTPStatus(err)
	if status == http.StatusUnauthorized {
		c.String(status, "%s", auth.ErrUnauthorized.Error())
		return
	}
	c.String(status, "%s", err.Error())
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Logger().Info("HTTP request",
			zap.String(requestIDKey, c.GetString(requestIDKey)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
