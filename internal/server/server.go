// Package server exposes the conversational task assistant over HTTP:
// authenticated chat endpoints (plain JSON and SSE), conversation
// history, and liveness. Every route is owner-scoped by the JWT subject.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/agent"
	"github.com/zulandar/switchboard/internal/store"
	"github.com/zulandar/switchboard/internal/tasks"
	"github.com/zulandar/switchboard/internal/throttle"
	"gorm.io/gorm"
)

// Server holds the wired components behind the HTTP surface.
type Server struct {
	db         *gorm.DB
	store      *store.Store
	tasks      *tasks.Service
	runner     *agent.Runner
	guard      *throttle.Guard
	jwtSecret  string
	windowSize int
	out        io.Writer
}

// Opts configures a Server.
type Opts struct {
	DB         *gorm.DB
	Store      *store.Store
	Tasks      *tasks.Service
	Runner     *agent.Runner
	Guard      *throttle.Guard
	JWTSecret  string
	WindowSize int       // <= 0 means store.DefaultWindowSize
	Out        io.Writer // defaults to io.Discard
}

// New creates a Server.
func New(opts Opts) (*Server, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("server: db is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Tasks == nil {
		return nil, fmt.Errorf("server: task service is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("server: runner is required")
	}
	if opts.Guard == nil {
		return nil, fmt.Errorf("server: throttle guard is required")
	}
	if opts.JWTSecret == "" {
		return nil, fmt.Errorf("server: jwt secret is required")
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = store.DefaultWindowSize
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Server{
		db:         opts.DB,
		store:      opts.Store,
		tasks:      opts.Tasks,
		runner:     opts.Runner,
		guard:      opts.Guard,
		jwtSecret:  opts.JWTSecret,
		windowSize: opts.WindowSize,
		out:        opts.Out,
	}, nil
}

// Router builds the gin engine with the full middleware chain.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID())

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api/:owner")
	api.Use(s.auth(), s.throttle())
	api.POST("/chat", s.handleChat)
	api.POST("/chat/stream", s.handleChatStream)
	api.GET("/chat/history", s.handleHistory)
	api.DELETE("/conversations/:id", s.handleDeleteConversation)

	return router
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	if port <= 0 {
		port = 8080
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	fmt.Fprintf(s.out, "Switchboard listening on http://localhost:%d\n", port)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// handleHealth reports liveness, including a DB ping.
func (s *Server) handleHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
