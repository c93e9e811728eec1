package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/config"
	"github.com/nfrguard/nfrguard/pkg/model"
	"github.com/nfrguard/nfrguard/pkg/rag"
)

// The compliance action vocabulary.
const (
	ActionMonitor = "monitor"
	ActionHold    = "hold"
	ActionBlock   = "block"
	ActionReport  = "report"
)

var complianceActions = []string{ActionMonitor, ActionHold, ActionBlock, ActionReport}

const complianceSystemPrompt = "You are an AML/CTF compliance officer for an Australian bank. " +
	"Given a flagged transaction and regulatory guidance, answer with exactly one word " +
	"from: monitor, hold, block, report."

// ComplianceAgent maps risk.flagged events to regulatory actions.
type ComplianceAgent struct {
	cfg   *config.AgentConfig
	llm   Completer
	index Retriever
}

// NewComplianceAgent creates the compliance handler.
func NewComplianceAgent(cfg *config.AgentConfig, llm Completer, index Retriever) *ComplianceAgent {
	return &ComplianceAgent{cfg: cfg, llm: llm, index: index}
}

func (a *ComplianceAgent) Name() string { return "compliance" }

func (a *ComplianceAgent) Topics() []bus.Topic { return []bus.Topic{bus.TopicRiskFlagged} }

// Handle chooses the action set and emits one compliance.action per action.
// The model selects a single action; when its output is not in the
// vocabulary, the deterministic rule table decides instead. Block always
// stands alone.
func (a *ComplianceAgent) Handle(ctx context.Context, ev bus.Event) ([]bus.Event, error) {
	rf, ok := ev.Payload.(*bus.RiskFlagged)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", ev.Payload)
	}

	results, err := a.index.Search(ctx,
		"AML CTF obligations "+strings.Join(rf.Indicators, " "),
		0, rag.Filter{Regulators: []string{"AUSTRAC"}})
	if err != nil {
		slog.Warn("Retrieval failed, deciding without citations",
			"transaction_id", rf.TransactionID, "error", err)
		results = nil
	}
	cites := citations(results)

	actions, rationale := a.decide(ctx, rf, results)

	out := make([]bus.Event, 0, len(actions))
	for _, action := range actions {
		out = append(out, bus.Event{
			EventType: bus.TopicComplianceAction,
			Payload: &bus.ComplianceAction{
				TransactionID: rf.TransactionID,
				Action:        action,
				RationaleText: rationale,
				Citations:     cites,
			},
		})
	}
	return out, nil
}

// decide asks the model for a single action and falls back to the rule table
// when the answer is unusable.
func (a *ComplianceAgent) decide(ctx context.Context, rf *bus.RiskFlagged, results []rag.Result) ([]string, string) {
	prompt := fmt.Sprintf(
		"%sTransaction %s was flagged with score %.2f. Indicators: %s. Justification: %s",
		contextBlock(results), rf.TransactionID, rf.Score,
		strings.Join(rf.Indicators, ", "), rf.JustificationText)

	text, err := a.llm.Complete(ctx, prompt, complianceSystemPrompt, model.CompleteOptions{MaxTokens: 16})
	if err == nil {
		if action, ok := parseAction(text); ok {
			return []string{action}, fmt.Sprintf(
				"model selected %q for score %.2f (indicators: %s)",
				action, rf.Score, strings.Join(rf.Indicators, ", "))
		}
		slog.Warn("Model answer outside action vocabulary, using rule table",
			"transaction_id", rf.TransactionID, "answer", text)
	} else {
		slog.Warn("Model unavailable for compliance decision, using rule table",
			"transaction_id", rf.TransactionID, "error", err)
	}

	actions := a.ruleTable(rf.Score)
	return actions, fmt.Sprintf(
		"rule table selected %s for score %.2f",
		strings.Join(actions, "+"), rf.Score)
}

// ruleTable is the deterministic fallback. Block excludes every other
// action; the hold tier reports as well.
func (a *ComplianceAgent) ruleTable(score float64) []string {
	switch {
	case score >= a.cfg.ComplianceBlockThreshold:
		return []string{ActionBlock}
	case score >= a.cfg.ComplianceHoldThreshold:
		return []string{ActionHold, ActionReport}
	default:
		return []string{ActionMonitor}
	}
}

// parseAction extracts one action from the model's answer. The answer is
// usable when it is exactly one vocabulary word, or mentions exactly one.
func parseAction(text string) (string, bool) {
	answer := strings.ToLower(strings.TrimSpace(text))
	for _, action := range complianceActions {
		if answer == action {
			return action, true
		}
	}
	var found []string
	for _, action := range complianceActions {
		if strings.Contains(answer, action) {
			found = append(found, action)
		}
	}
	if len(found) == 1 {
		return found[0], true
	}
	return "", false
}
