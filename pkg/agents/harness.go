// Package agents contains the seven event handlers of the pipeline and the
// shared harness that runs them: event-id deduplication, per-invocation
// deadlines, panic capture, and publishing of emitted events.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/config"
	"github.com/nfrguard/nfrguard/pkg/model"
	"github.com/nfrguard/nfrguard/pkg/rag"
)

// Completer is the slice of the model adapter the handlers use for chat
// completions. Satisfied by *model.Client.
type Completer interface {
	Complete(ctx context.Context, prompt, system string, opts model.CompleteOptions) (string, error)
}

// Retriever is the slice of the retrieval index the handlers use.
// Satisfied by *rag.Index.
type Retriever interface {
	Search(ctx context.Context, query string, k int, filter rag.Filter) ([]rag.Result, error)
}

// Agent is one pipeline handler: it consumes an event and returns the events
// to publish. Handlers are pure with respect to the bus; the harness owns
// delivery concerns. Emitted events inherit the input's correlation id.
type Agent interface {
	Name() string
	Topics() []bus.Topic
	Handle(ctx context.Context, ev bus.Event) ([]bus.Event, error)
}

// Harness wires agents onto the bus. One harness serves the whole process.
type Harness struct {
	bus  *bus.Bus
	cfg  *config.AgentConfig
	subs []*bus.Subscription
}

// NewHarness creates a harness publishing through b.
func NewHarness(b *bus.Bus, cfg *config.AgentConfig) *Harness {
	return &Harness{bus: b, cfg: cfg}
}

// Register subscribes the agent to each of its topics. All subscriptions of
// one agent share a single dedup window, so a replayed event id is a no-op
// regardless of which topic carried it.
func (h *Harness) Register(a Agent) error {
	seen, err := lru.New[string, struct{}](h.cfg.DedupWindow)
	if err != nil {
		return fmt.Errorf("create dedup window for %s: %w", a.Name(), err)
	}
	fn := h.wrap(a, seen)
	for _, topic := range a.Topics() {
		h.subs = append(h.subs, h.bus.Subscribe(topic, a.Name(), fn))
	}
	slog.Info("Agent registered", "agent", a.Name(), "topics", len(a.Topics()))
	return nil
}

// Unregister removes all of the harness's subscriptions.
func (h *Harness) Unregister() {
	for _, sub := range h.subs {
		h.bus.Unsubscribe(sub)
	}
	h.subs = nil
}

// wrap builds the bus handler: dedup, deadline, abort-on-timeout, publish of
// the returned events. An event id is only marked seen after the handler and
// its publishes succeed, so redelivery of a failed event is not suppressed.
func (h *Harness) wrap(a Agent, seen *lru.Cache[string, struct{}]) bus.HandlerFunc {
	return func(ctx context.Context, ev bus.Event) error {
		if _, dup := seen.Get(ev.EventID); dup {
			slog.Debug("Skipping duplicate event",
				"agent", a.Name(), "event_id", ev.EventID, "topic", ev.EventType)
			return nil
		}

		ctx, cancel := context.WithTimeout(ctx, h.cfg.HandlerTimeout)
		defer cancel()

		start := time.Now()
		out, err := h.invoke(ctx, a, ev)
		if err != nil {
			slog.Error("Handler failed",
				"agent", a.Name(), "topic", ev.EventType, "event_id", ev.EventID,
				"attempt", ev.Attempt, "elapsed", time.Since(start), "error", err)
			return fmt.Errorf("%s: %w", a.Name(), err)
		}

		for i := range out {
			out[i].Source = a.Name()
			out[i].CorrelationID = ev.CorrelationID
			if err := h.bus.Publish(ctx, out[i]); err != nil {
				return fmt.Errorf("%s: publish %s: %w", a.Name(), out[i].EventType, err)
			}
		}

		seen.Add(ev.EventID, struct{}{})
		slog.Debug("Handler completed",
			"agent", a.Name(), "topic", ev.EventType, "event_id", ev.EventID,
			"emitted", len(out), "elapsed", time.Since(start))
		return nil
	}
}

// invoke runs the handler on its own goroutine so a deadline overrun aborts
// the delivery even when the handler ignores its context.
func (h *Harness) invoke(ctx context.Context, a Agent, ev bus.Event) ([]bus.Event, error) {
	type result struct {
		out []bus.Event
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		out, err := a.Handle(ctx, ev)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("handler timed out after %s: %w", h.cfg.HandlerTimeout, ctx.Err())
	}
}

// citations extracts the chunk ids of retrieval results, the citation form
// used across all emitted payloads.
func citations(results []rag.Result) []string {
	if len(results) == 0 {
		return nil
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Chunk.ChunkID
	}
	return ids
}

// contextBlock renders retrieval results as a prompt context section.
func contextBlock(results []rag.Result) string {
	if len(results) == 0 {
		return ""
	}
	var b []byte
	b = append(b, "Regulatory context:\n"...)
	for _, r := range results {
		b = append(b, fmt.Sprintf("[%s] %s\n", r.Chunk.ChunkID, r.Chunk.Text)...)
	}
	return string(b)
}
