package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/config"
	"github.com/nfrguard/nfrguard/pkg/model"
)

const knowledgeSystemPrompt = "You are writing an incident narrative for bank operations staff. " +
	"Summarize the pipeline events for one transaction in plain language, citing the " +
	"regulatory sources referenced by the events. One short paragraph."

// Publisher is the slice of the bus the knowledge handler publishes through.
// Satisfied by *bus.Bus.
type Publisher interface {
	Publish(ctx context.Context, ev bus.Event) error
}

// accumulation collects one correlation id's events until a flush trigger.
type accumulation struct {
	created time.Time
	events  []bus.Event
	quiet   *time.Timer
}

// KnowledgeAgent accumulates pipeline events per correlation id and narrates
// them as an ops.alert once the story is complete: immediately on
// ops.action, or after a quiet period with no further events. Accumulations
// older than the TTL are dropped unsummarized.
//
// Unlike the other handlers it publishes through the bus directly, because
// the quiet-period flush fires from a timer, not from a delivery.
type KnowledgeAgent struct {
	cfg *config.AgentConfig
	llm Completer
	pub Publisher

	mu       sync.Mutex
	contexts map[string]*accumulation
	closed   bool
}

// NewKnowledgeAgent creates the knowledge handler.
func NewKnowledgeAgent(cfg *config.AgentConfig, llm Completer, pub Publisher) *KnowledgeAgent {
	return &KnowledgeAgent{
		cfg:      cfg,
		llm:      llm,
		pub:      pub,
		contexts: make(map[string]*accumulation),
	}
}

func (a *KnowledgeAgent) Name() string { return "knowledge" }

func (a *KnowledgeAgent) Topics() []bus.Topic {
	return []bus.Topic{
		bus.TopicRiskFlagged,
		bus.TopicComplianceAction,
		bus.TopicOpsAction,
		bus.TopicOpsAlert,
		bus.TopicPrivacyViolation,
	}
}

func (a *KnowledgeAgent) Handle(ctx context.Context, ev bus.Event) ([]bus.Event, error) {
	// Narrative alerts are this handler's own output; accumulating them
	// would re-trigger summarization forever.
	if alert, ok := ev.Payload.(*bus.OpsAlert); ok && alert.Channel == bus.AlertChannelNarrative {
		return nil, nil
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, nil
	}
	cid := ev.CorrelationID
	acc := a.contexts[cid]
	if acc != nil && time.Since(acc.created) > a.cfg.KnowledgeTTL {
		acc.quiet.Stop()
		delete(a.contexts, cid)
		slog.Warn("Dropping expired accumulation", "correlation_id", cid, "events", len(acc.events))
		acc = nil
	}
	if acc == nil {
		acc = &accumulation{created: time.Now()}
		acc.quiet = time.AfterFunc(a.cfg.KnowledgeQuietPeriod, func() {
			a.flush(context.Background(), cid)
		})
		a.contexts[cid] = acc
	}
	acc.events = append(acc.events, ev)

	flushNow := ev.EventType == bus.TopicOpsAction
	if !flushNow {
		acc.quiet.Reset(a.cfg.KnowledgeQuietPeriod)
	}
	a.mu.Unlock()

	if flushNow {
		a.flush(ctx, cid)
	}
	return nil, nil
}

// flush removes the accumulation and publishes its narrative. A model
// failure skips the narrative; the pipeline's decisions have already been
// published by the earlier handlers.
func (a *KnowledgeAgent) flush(ctx context.Context, cid string) {
	a.mu.Lock()
	acc := a.contexts[cid]
	if acc == nil {
		a.mu.Unlock()
		return
	}
	acc.quiet.Stop()
	delete(a.contexts, cid)
	a.mu.Unlock()

	prompt, cites := narrativeInput(acc.events)
	text, err := a.llm.Complete(ctx, prompt, knowledgeSystemPrompt, model.CompleteOptions{MaxTokens: 512})
	if err != nil {
		slog.Warn("Model unavailable, skipping narrative",
			"correlation_id", cid, "events", len(acc.events), "error", err)
		return
	}

	err = a.pub.Publish(ctx, bus.Event{
		EventType:     bus.TopicOpsAlert,
		CorrelationID: cid,
		Source:        a.Name(),
		Payload: &bus.OpsAlert{
			Channel:     bus.AlertChannelNarrative,
			SummaryText: text,
			Citations:   cites,
		},
	})
	if err != nil {
		slog.Error("Failed to publish narrative", "correlation_id", cid, "error", err)
	}
}

// Pending returns how many correlation ids are currently accumulating.
func (a *KnowledgeAgent) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.contexts)
}

// Close stops all quiet-period timers and drops unflushed accumulations.
func (a *KnowledgeAgent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for cid, acc := range a.contexts {
		acc.quiet.Stop()
		delete(a.contexts, cid)
	}
}

// narrativeInput renders the accumulated events as prompt lines and gathers
// the citations they carried.
func narrativeInput(events []bus.Event) (string, []string) {
	var lines []string
	var cites []string
	seen := make(map[string]bool)
	addCites := func(ids []string) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				cites = append(cites, id)
			}
		}
	}

	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case *bus.RiskFlagged:
			lines = append(lines, fmt.Sprintf(
				"risk: transaction %s scored %.2f (%s)",
				p.TransactionID, p.Score, strings.Join(p.Indicators, ", ")))
			addCites(p.Citations)
		case *bus.ComplianceAction:
			lines = append(lines, fmt.Sprintf(
				"compliance: action %q for transaction %s", p.Action, p.TransactionID))
			addCites(p.Citations)
		case *bus.OpsAction:
			lines = append(lines, fmt.Sprintf(
				"operations: intent %q for transaction %s", p.Intent, p.TransactionID))
		case *bus.OpsAlert:
			lines = append(lines, fmt.Sprintf(
				"alert: channel %s, suggested action %q", p.Channel, p.SuggestedAction))
		case *bus.PrivacyViolation:
			lines = append(lines, fmt.Sprintf(
				"privacy: %d finding(s) in logs from %s", len(p.Findings), p.SourceComponent))
		}
	}
	return "Pipeline events:\n" + strings.Join(lines, "\n"), cites
}
