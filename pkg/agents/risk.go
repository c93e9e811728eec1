package agents

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/config"
	"github.com/nfrguard/nfrguard/pkg/model"
	"github.com/nfrguard/nfrguard/pkg/rag"
)

// homeJurisdiction is the jurisdiction transactions are expected to stay in.
// Any other destination adds the cross-jurisdiction weight.
const homeJurisdiction = "AU"

// unavailableJustification replaces the model's justification when the
// adapter exhausts its retry budget. The numeric decision stands regardless.
const unavailableJustification = "(model unavailable; numeric features only)"

const riskSystemPrompt = "You are a transaction risk analyst for an Australian bank. " +
	"Given numeric risk features and regulatory context, write a concise justification " +
	"for flagging the transaction. Two sentences at most."

// RiskAgent scores transaction.created events and flags the suspicious ones.
type RiskAgent struct {
	cfg   *config.AgentConfig
	llm   Completer
	index Retriever
}

// NewRiskAgent creates the risk handler.
func NewRiskAgent(cfg *config.AgentConfig, llm Completer, index Retriever) *RiskAgent {
	return &RiskAgent{cfg: cfg, llm: llm, index: index}
}

func (a *RiskAgent) Name() string { return "transaction-risk" }

func (a *RiskAgent) Topics() []bus.Topic { return []bus.Topic{bus.TopicTransactionCreated} }

// Handle scores the transaction and emits risk.flagged when the score
// reaches the flag threshold. A model failure downgrades the justification,
// never the decision.
func (a *RiskAgent) Handle(ctx context.Context, ev bus.Event) ([]bus.Event, error) {
	tx, ok := ev.Payload.(*bus.TransactionCreated)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", ev.Payload)
	}

	score, indicators := a.score(tx)
	if score < a.cfg.RiskFlagThreshold {
		slog.Debug("Transaction below flag threshold",
			"transaction_id", tx.TransactionID, "score", score)
		return nil, nil
	}

	results, err := a.index.Search(ctx,
		"transaction monitoring obligations "+strings.Join(indicators, " "),
		3, rag.Filter{Regulators: []string{"AUSTRAC", "APRA"}})
	if err != nil {
		slog.Warn("Retrieval failed, flagging without citations",
			"transaction_id", tx.TransactionID, "error", err)
		results = nil
	}

	justification := unavailableJustification
	cites := citations(results)
	prompt := fmt.Sprintf(
		"%sTransaction %s: amount %s %s to %s, score %.2f, indicators: %s.",
		contextBlock(results), tx.TransactionID, tx.Amount, tx.Currency,
		tx.DestinationJurisdiction, score, strings.Join(indicators, ", "))
	if text, err := a.llm.Complete(ctx, prompt, riskSystemPrompt, model.CompleteOptions{MaxTokens: 256}); err != nil {
		slog.Warn("Model unavailable for risk justification",
			"transaction_id", tx.TransactionID, "error", err)
		cites = nil
	} else {
		justification = text
	}

	return []bus.Event{{
		EventType: bus.TopicRiskFlagged,
		Payload: &bus.RiskFlagged{
			TransactionID:     tx.TransactionID,
			Score:             score,
			Indicators:        indicators,
			JustificationText: justification,
			Citations:         cites,
		},
	}}, nil
}

// score computes the risk score in [0, 1] from the transaction's numeric
// features: amount saturating at the configured high-amount mark (weight
// 0.4), night-hours anomaly (+0.2), cross-jurisdiction destination (+0.3),
// and the upstream velocity indicator (up to +0.3).
func (a *RiskAgent) score(tx *bus.TransactionCreated) (float64, []string) {
	var score float64
	var indicators []string

	amount, err := strconv.ParseFloat(tx.Amount, 64)
	switch {
	case err != nil:
		indicators = append(indicators, "unparseable_amount")
	case amount > 0:
		c := 0.4 * math.Min(1, amount/a.cfg.RiskHighAmount)
		score += c
		if c >= 0.2 {
			indicators = append(indicators, "high_amount")
		}
	}

	if t, err := time.Parse(time.RFC3339, tx.InitiatedAt); err != nil {
		indicators = append(indicators, "unparseable_timestamp")
	} else if t.Hour() < 5 {
		score += 0.2
		indicators = append(indicators, "night_hours")
	}

	if tx.DestinationJurisdiction != "" && tx.DestinationJurisdiction != homeJurisdiction {
		score += 0.3
		indicators = append(indicators, "cross_jurisdiction")
	}

	if tx.Velocity > 0 {
		score += 0.3 * math.Min(1, tx.Velocity)
		indicators = append(indicators, "velocity")
	}

	return math.Min(1, score), indicators
}
