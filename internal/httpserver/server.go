// Package httpserver exposes ingestion, query and project management over
// HTTP with gin.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/burrow/internal/applog"
	"github.com/tinytelemetry/burrow/internal/model"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = "127.0.0.1:5000"

// maxBodyBytes bounds every request body.
const maxBodyBytes = 16 << 20

// Enqueuer accepts entries for asynchronous persistence.
type Enqueuer interface {
	Enqueue(e model.LogEntry)
	EnqueueBatch(es []model.LogEntry)
}

// Projects is the project service contract used by the API.
type Projects interface {
	ValidateAPIKey(ctx context.Context, key string) (*model.Project, error)
	Create(ctx context.Context, name string, expiryDays *int) (*model.Project, error)
	List(ctx context.Context) ([]model.Project, error)
	Rename(ctx context.Context, id uuid.UUID, name string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Config controls the listener and the auth policy.
type Config struct {
	Addr string
	// RequireAPIKey rejects ingestion without a valid X-API-Key header.
	RequireAPIKey bool
	// AdminToken guards read, delete and project routes with a bearer
	// token. Empty leaves them open.
	AdminToken     string
	TrustedProxies []string
	Version        string
}

// Deps are the collaborators behind the routes. Recorder and Pending may be
// nil.
type Deps struct {
	Logs     model.LogReader
	AppLogs  model.AppLogReader
	Ingest   Enqueuer
	Projects Projects
	Recorder applog.Recorder
	Pending  func() int
}

// Server is the HTTP API.
type Server struct {
	conf      Config
	deps      Deps
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates an HTTP API server. Start must be called to serve.
func NewServer(conf Config, deps Deps) *Server {
	if conf.Addr == "" {
		conf.Addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		conf:      conf,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

// Handler builds the gin router with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	// Recovery stays outermost: RequestLogger records a panic and re-raises it.
	r.Use(gin.Recovery())
	if err := r.SetTrustedProxies(s.conf.TrustedProxies); err != nil {
		log.Warn().Err(err).Msg("httpserver: ignoring invalid trusted proxies")
		_ = r.SetTrustedProxies(nil)
	}
	if s.deps.Recorder != nil {
		r.Use(applog.RequestLogger(s.deps.Recorder))
	}
	r.Use(limitBody(maxBodyBytes))

	r.GET("/api/health", s.handleHealth)

	ingest := r.Group("", s.requireAPIKey())
	ingest.POST("/api/logs", s.handlePostLog)
	ingest.POST("/api/logs/batch", s.handlePostBatch)
	ingest.POST("/v1/logs", s.handleOTLP)

	admin := r.Group("/api", s.requireAdmin())
	admin.GET("/logs", s.handleGetLogs)
	admin.DELETE("/logs", s.handleDeleteLogs)
	admin.GET("/logs/stats", s.handleStats)
	admin.GET("/logs/apps", s.handleApps)
	admin.GET("/logs/environments", s.handleEnvironments)
	admin.GET("/logs/patterns", s.handlePatterns)
	admin.GET("/logs/trace/:traceId", s.handleTrace)
	admin.GET("/logs/app", s.handleGetAppLogs)
	admin.DELETE("/logs/app", s.handleDeleteAppLogs)

	admin.GET("/projects", s.handleListProjects)
	admin.POST("/projects", s.handleCreateProject)
	admin.PUT("/projects/:id", s.handleRenameProject)
	admin.DELETE("/projects/:id", s.handleDeleteProject)

	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("httpserver: serve failed")
		}
	}()
	log.Info().Str("addr", listener.Addr().String()).Msg("httpserver: listening")
	return nil
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.conf.Addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"version": s.conf.Version,
	}
	if s.deps.Pending != nil {
		body["pending"] = s.deps.Pending()
	}
	c.JSON(http.StatusOK, body)
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func internalError(c *gin.Context, err error, msg string) {
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("httpserver: " + msg)
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}
