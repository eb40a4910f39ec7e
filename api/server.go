// Package api exposes a thin read-only HTTP surface over the running
// engines: a health check and per-strategy status snapshots.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gridbot/grid"
	"gridbot/logger"
	"gridbot/store"
)

// Server HTTP API server
type Server struct {
	router     *gin.Engine
	engines    []*grid.Engine
	store      *store.Store
	httpServer *http.Server
	port       int
}

// NewServer creates the API server over the given engines
func NewServer(engines []*grid.Engine, st *store.Store, port int) *Server {
	// Release mode to reduce log output
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()
	router.Use(corsMiddleware())

	s := &Server{
		router:  router,
		engines: engines,
		store:   st,
		port:    port,
	}
	s.setupRoutes()
	return s
}

// corsMiddleware CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	apiGroup := s.router.Group("/api")
	{
		apiGroup.GET("/strategies", s.handleStrategies)
		apiGroup.GET("/strategies/:pair/fills", s.handleFills)
		apiGroup.GET("/strategies/:pair/decisions", s.handleDecisions)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStrategies(c *gin.Context) {
	out := make([]grid.Status, 0, len(s.engines))
	for _, e := range s.engines {
		out = append(out, e.Status())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleFills(c *gin.Context) {
	pair := c.Param("pair")
	fills, err := s.store.Grid().RecentFills(pair, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, fills)
}

func (s *Server) handleDecisions(c *gin.Context) {
	pair := c.Param("pair")
	decisions, err := s.store.Decision().Recent(pair, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, decisions)
}

// Start runs the HTTP server in the background
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("API server error: %v", err)
		}
	}()
	logger.Infof("🌐 API server listening on :%d", s.port)
	return nil
}

// Stop shuts the HTTP server down gracefully
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
