package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/model"
	"github.com/nfrguard/nfrguard/pkg/rag"
)

const assistantSystemPrompt = "You are a banking regulation assistant. Answer the user's " +
	"question using the provided regulatory context. Be concise and cite which sources " +
	"you relied on. If the context does not cover the question, say so."

// AssistantAgent answers user.query events. Stateless: every query is
// retrieval plus one completion.
type AssistantAgent struct {
	llm   Completer
	index Retriever
}

// NewAssistantAgent creates the assistant handler.
func NewAssistantAgent(llm Completer, index Retriever) *AssistantAgent {
	return &AssistantAgent{llm: llm, index: index}
}

func (a *AssistantAgent) Name() string { return "banking-assistant" }

func (a *AssistantAgent) Topics() []bus.Topic { return []bus.Topic{bus.TopicUserQuery} }

func (a *AssistantAgent) Handle(ctx context.Context, ev bus.Event) ([]bus.Event, error) {
	q, ok := ev.Payload.(*bus.UserQuery)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", ev.Payload)
	}

	results, err := a.index.Search(ctx, q.Question, 5, rag.Filter{})
	if err != nil {
		slog.Warn("Retrieval failed, answering without context",
			"query_id", q.QueryID, "error", err)
		results = nil
	}

	answer, cites := a.answer(ctx, q, results)
	return []bus.Event{{
		EventType: bus.TopicUserResponse,
		Payload: &bus.UserResponse{
			QueryID:    q.QueryID,
			AnswerText: answer,
			Citations:  cites,
		},
	}}, nil
}

// answer runs the completion; when the adapter is exhausted it degrades to
// the raw retrieved excerpts so the query still gets a response.
func (a *AssistantAgent) answer(ctx context.Context, q *bus.UserQuery, results []rag.Result) (string, []string) {
	prompt := contextBlock(results) + "Question: " + q.Question
	text, err := a.llm.Complete(ctx, prompt, assistantSystemPrompt, model.CompleteOptions{MaxTokens: 1024})
	if err == nil {
		return text, citations(results)
	}
	slog.Warn("Model unavailable for query, answering with excerpts",
		"query_id", q.QueryID, "error", err)

	if len(results) == 0 {
		return "(model unavailable and no matching regulatory guidance was found)", nil
	}
	var b strings.Builder
	b.WriteString("(model unavailable; relevant regulatory excerpts follow)\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s\n", r.Chunk.Text)
	}
	return b.String(), citations(results)
}
