// Package api exposes the operational HTTP surface: health, per-transaction
// pipeline status, dead-letter inspection, replay, corpus ingestion, event
// injection, and a live WebSocket feed of bus traffic.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/model"
	"github.com/nfrguard/nfrguard/pkg/rag"
	"github.com/nfrguard/nfrguard/pkg/supervisor"
)

// shutdownGrace is how long in-flight HTTP requests get on shutdown.
const shutdownGrace = 10 * time.Second

// Server is the ops API. It holds handles to the running components; it owns
// none of them.
type Server struct {
	bus     *bus.Bus
	sup     *supervisor.Supervisor
	index   *rag.Index
	model   *model.Client
	feed    *feedHub
	started time.Time
}

// NewServer creates the ops API around the running components.
func NewServer(b *bus.Bus, sup *supervisor.Supervisor, index *rag.Index, mdl *model.Client) *Server {
	return &Server{
		bus:     b,
		sup:     sup,
		index:   index,
		model:   mdl,
		feed:    newFeedHub(b),
		started: time.Now(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.healthHandler)
	r.GET("/ws", s.wsHandler)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status/:correlation_id", s.statusHandler)
		v1.GET("/pending", s.pendingHandler)
		v1.GET("/deadletter/:topic", s.deadLetterHandler)
		v1.POST("/replay", s.replayHandler)
		v1.POST("/documents", s.ingestHandler)
		v1.POST("/events", s.publishHandler)
	}
	return r
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Ops API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.feed.close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requestLogger logs each request with method, path, status, and latency.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}
