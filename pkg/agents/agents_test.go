package agents

import (
	"context"
	"sync"
	"time"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/config"
	"github.com/nfrguard/nfrguard/pkg/model"
	"github.com/nfrguard/nfrguard/pkg/rag"
)

// fakeLLM scripts one completion response or error and records prompts.
type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
	systems  []string
}

func (f *fakeLLM) Complete(_ context.Context, prompt, system string, _ model.CompleteOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.systems = append(f.systems, system)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeIndex scripts retrieval results and records the filters used.
type fakeIndex struct {
	mu      sync.Mutex
	results []rag.Result
	err     error
	queries []string
	filters []rag.Filter
}

func (f *fakeIndex) Search(_ context.Context, query string, _ int, filter rag.Filter) ([]rag.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// fakePublisher captures events published outside the harness path.
type fakePublisher struct {
	mu     sync.Mutex
	err    error
	events []bus.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev bus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) published() []bus.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bus.Event, len(f.events))
	copy(out, f.events)
	return out
}

func testAgentConfig() *config.AgentConfig {
	cfg := *config.Default().Agents
	cfg.HandlerTimeout = 2 * time.Second
	cfg.KnowledgeQuietPeriod = 30 * time.Millisecond
	return &cfg
}

func testChunk(id, doc, text string) rag.Result {
	return rag.Result{Chunk: rag.Chunk{ChunkID: id, DocumentID: doc, Text: text}, Score: 0.9}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
