package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/rag"
	"github.com/nfrguard/nfrguard/pkg/version"
)

// healthHandler handles GET /health. The core has no external hard
// dependencies to probe; a responding process with a live bus is healthy.
func (s *Server) healthHandler(c *gin.Context) {
	in, out := s.model.TokensUsed()
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"version":        version.Full(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"pending":        s.sup.Pending(),
		"corpus_chunks":  s.index.Len(),
		"tokens_input":   in,
		"tokens_output":  out,
	})
}

// statusHandler handles GET /api/v1/status/:correlation_id.
func (s *Server) statusHandler(c *gin.Context) {
	st, ok := s.sup.Status(c.Param("correlation_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown correlation id"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// pendingHandler handles GET /api/v1/pending.
func (s *Server) pendingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": s.sup.Pending()})
}

// deadLetterHandler handles GET /api/v1/deadletter/:topic.
func (s *Server) deadLetterHandler(c *gin.Context) {
	topic := bus.Topic(c.Param("topic"))
	if !topic.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown topic"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"topic":   topic,
		"entries": s.bus.DeadLetters(topic),
		"evicted": s.bus.DeadLetterEvictions(topic),
	})
}

// replayRequest is the body of POST /api/v1/replay.
type replayRequest struct {
	Topic string    `json:"topic" binding:"required"`
	Since time.Time `json:"since"`
}

// replayHandler handles POST /api/v1/replay: re-emits retained events for a
// topic to its current subscribers. Handler dedup makes this safe to repeat.
func (s *Server) replayHandler(c *gin.Context) {
	var req replayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := s.bus.Replay(c.Request.Context(), bus.Topic(req.Topic), req.Since)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"replayed": n})
}

// ingestRequest is the body of POST /api/v1/documents.
type ingestRequest struct {
	DocumentID string   `json:"document_id" binding:"required"`
	Content    string   `json:"content" binding:"required"`
	Regulator  string   `json:"regulator"`
	DocType    string   `json:"document_type"`
	Sections   []string `json:"sections"`
	AgentFocus []string `json:"agent_focus"`
}

// ingestHandler handles POST /api/v1/documents: (re-)ingests one regulatory
// document into the retrieval index.
func (s *Server) ingestHandler(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := s.index.IngestDocument(c.Request.Context(), rag.Document{
		DocumentID: req.DocumentID,
		Content:    req.Content,
		Metadata: rag.Metadata{
			Regulator:  req.Regulator,
			DocType:    req.DocType,
			Sections:   req.Sections,
			AgentFocus: req.AgentFocus,
		},
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if len(report.Errors) > 0 {
		// Partial ingestion: stored what embedded, reported the rest.
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{
		"document_id":   report.DocumentID,
		"chunks_total":  report.ChunksTotal,
		"chunks_stored": report.ChunksStored,
		"failed":        len(report.Errors),
	})
}

// publishHandler handles POST /api/v1/events: the ingress for external
// producers (ledger feeds, log shippers, chat frontends). The body is a full
// event envelope; unknown event types are rejected at decode.
func (s *Server) publishHandler(c *gin.Context) {
	var ev bus.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.bus.Publish(c.Request.Context(), ev); err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, bus.ErrBusClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, bus.ErrBackpressure):
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
