package e2e

import (
	"context"
	"strings"
	"sync"

	"github.com/nfrguard/nfrguard/pkg/model"
)

// ModelScriptEntry is a single scripted completion response.
type ModelScriptEntry struct {
	Text string
	Err  error
}

// ScriptedInvoker implements model.Invoker with agent-aware routing: entries
// are keyed by a substring of the system prompt, so each handler gets its own
// script even when call order across handlers is non-deterministic. The last
// entry of a route is sticky.
type ScriptedInvoker struct {
	mu         sync.Mutex
	routes     map[string][]ModelScriptEntry
	routeIndex map[string]int
	failAll    error
	prompts    []string
	systems    []string
}

// NewScriptedInvoker creates an empty invoker. Unrouted completions return
// "ok"; embeddings are a constant unit vector of dimension testEmbeddingDim.
func NewScriptedInvoker() *ScriptedInvoker {
	return &ScriptedInvoker{
		routes:     make(map[string][]ModelScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// Route scripts responses for calls whose system prompt contains substr.
func (c *ScriptedInvoker) Route(substr string, entries ...ModelScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[substr] = append(c.routes[substr], entries...)
}

// FailAll makes every subsequent call return err. Pass nil to recover.
func (c *ScriptedInvoker) FailAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAll = err
}

// Prompts returns every prompt seen so far.
func (c *ScriptedInvoker) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

// Complete implements model.Invoker.
func (c *ScriptedInvoker) Complete(_ context.Context, prompt, system string, _ model.CompleteOptions) (string, model.Usage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	c.systems = append(c.systems, system)

	if c.failAll != nil {
		return "", model.Usage{}, c.failAll
	}
	for substr, entries := range c.routes {
		if !strings.Contains(system, substr) {
			continue
		}
		i := c.routeIndex[substr]
		if i >= len(entries) {
			i = len(entries) - 1
		} else {
			c.routeIndex[substr]++
		}
		entry := entries[i]
		return entry.Text, model.Usage{InputTokens: 10, OutputTokens: 5}, entry.Err
	}
	return "ok", model.Usage{InputTokens: 10, OutputTokens: 5}, nil
}

// testEmbeddingDim is the embedding dimension the test config uses.
const testEmbeddingDim = 3

// Embed implements model.Invoker with a constant unit vector: every chunk
// matches every query, which is enough for retrieval plumbing tests.
func (c *ScriptedInvoker) Embed(_ context.Context, _ string) ([]float32, model.Usage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll != nil {
		return nil, model.Usage{}, c.failAll
	}
	return []float32{1, 0, 0}, model.Usage{InputTokens: 5}, nil
}
