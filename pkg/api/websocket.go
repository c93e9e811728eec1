package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nfrguard/nfrguard/pkg/bus"
)

// feedBuffer is the observer tap depth behind the WebSocket feed. The tap is
// best-effort; a stalled feed drops events rather than slowing publishers.
const feedBuffer = 256

// wsWriteTimeout bounds one send to one client.
const wsWriteTimeout = 5 * time.Second

// feedConn is a single WebSocket client with its topic subscriptions.
// Subscriptions default to every topic until the client narrows them.
type feedConn struct {
	id     string
	conn   *websocket.Conn
	topics map[bus.Topic]bool // nil means all topics
}

// clientMessage is what feed clients may send: subscribe narrows the feed to
// the named topics, unsubscribe restores the full feed.
type clientMessage struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics,omitempty"`
}

// feedHub fans bus traffic out to WebSocket clients. One hub per process,
// fed by a single observer tap on the bus.
type feedHub struct {
	mu    sync.Mutex
	conns map[string]*feedConn

	cancelTap func()
	stopOnce  sync.Once
}

func newFeedHub(b *bus.Bus) *feedHub {
	h := &feedHub{conns: make(map[string]*feedConn)}
	events, cancel := b.Observe("ws-feed", feedBuffer)
	h.cancelTap = cancel
	go h.run(events)
	return h
}

// run broadcasts every observed event until the tap closes.
func (h *feedHub) run(events <-chan bus.Event) {
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("Failed to encode event for feed", "event_id", ev.EventID, "error", err)
			continue
		}
		h.broadcast(ev.EventType, data)
	}
}

func (h *feedHub) broadcast(topic bus.Topic, data []byte) {
	h.mu.Lock()
	conns := make([]*feedConn, 0, len(h.conns))
	for _, c := range h.conns {
		if c.topics == nil || c.topics[topic] {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("Dropping feed client after write failure",
				"connection_id", c.id, "error", err)
			h.remove(c.id)
		}
		cancel()
	}
}

func (h *feedHub) add(c *feedConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *feedHub) remove(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// close stops the tap and disconnects all clients.
func (h *feedHub) close() {
	h.stopOnce.Do(func() {
		h.cancelTap()
		h.mu.Lock()
		for id, c := range h.conns {
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			delete(h.conns, id)
		}
		h.mu.Unlock()
	})
}

// wsHandler upgrades GET /ws and serves the live event feed. The read loop
// only processes subscription messages; the connection lives until the
// client leaves or the server shuts down.
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // ops surface; origin policy is the deployment's concern
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	fc := &feedConn{id: uuid.NewString(), conn: conn}
	s.feed.add(fc)
	defer s.feed.remove(fc.id)
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := c.Request.Context()
	greeting, _ := json.Marshal(map[string]string{
		"type":          "connection.established",
		"connection_id": fc.id,
	})
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	err = conn.Write(writeCtx, websocket.MessageText, greeting)
	cancel()
	if err != nil {
		return
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid feed client message", "connection_id", fc.id, "error", err)
			continue
		}
		s.feed.updateSubscriptions(fc.id, msg)
	}
}

// updateSubscriptions applies a subscribe/unsubscribe message.
func (h *feedHub) updateSubscriptions(id string, msg clientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return
	}
	switch msg.Type {
	case "subscribe":
		topics := make(map[bus.Topic]bool, len(msg.Topics))
		for _, t := range msg.Topics {
			if topic := bus.Topic(t); topic.Valid() {
				topics[topic] = true
			}
		}
		c.topics = topics
	case "unsubscribe":
		c.topics = nil
	}
}
