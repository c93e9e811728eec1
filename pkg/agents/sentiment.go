package agents

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/config"
	"github.com/nfrguard/nfrguard/pkg/masking"
	"github.com/nfrguard/nfrguard/pkg/model"
)

const sentimentSystemPrompt = "Score the sentiment of the customer message. " +
	"Respond with a single number between -1.0 (very negative) and 1.0 (very positive). " +
	"No words, just the number."

// Word lists for the deterministic lexicon fallback.
var (
	negativeWords = []string{
		"angry", "frustrated", "disappointed", "terrible", "awful",
		"hate", "problem", "issue", "bug", "error",
	}
	positiveWords = []string{
		"happy", "great", "excellent", "love", "amazing",
		"perfect", "thank", "good", "satisfied",
	}
)

// excerptLimit caps how much of the customer message an alert carries.
const excerptLimit = 140

// SentimentAgent scores customer.message events and escalates strongly
// negative ones to operations.
type SentimentAgent struct {
	cfg    *config.AgentConfig
	llm    Completer
	masker *masking.Service
}

// NewSentimentAgent creates the sentiment handler.
func NewSentimentAgent(cfg *config.AgentConfig, llm Completer, masker *masking.Service) *SentimentAgent {
	return &SentimentAgent{cfg: cfg, llm: llm, masker: masker}
}

func (a *SentimentAgent) Name() string { return "customer-sentiment" }

func (a *SentimentAgent) Topics() []bus.Topic { return []bus.Topic{bus.TopicCustomerMessage} }

// Handle scores the message in [-1, 1] and emits an ops.alert on the
// sentiment channel when the score is at or below the alert threshold. The
// excerpt is masked before it leaves the pipeline.
func (a *SentimentAgent) Handle(ctx context.Context, ev bus.Event) ([]bus.Event, error) {
	msg, ok := ev.Payload.(*bus.CustomerMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", ev.Payload)
	}

	score := a.scoreMessage(ctx, msg.Body)
	if score > a.cfg.SentimentAlertThreshold {
		return nil, nil
	}

	excerpt := a.masker.Mask(msg.Body)
	if len([]rune(excerpt)) > excerptLimit {
		excerpt = string([]rune(excerpt)[:excerptLimit])
	}
	suggested := "queue_for_support_follow_up"
	if score <= -0.8 {
		suggested = "escalate_to_retention_team"
	}

	return []bus.Event{{
		EventType: bus.TopicOpsAlert,
		Payload: &bus.OpsAlert{
			Channel:         bus.AlertChannelSentiment,
			SentimentScore:  &score,
			Excerpt:         excerpt,
			SuggestedAction: suggested,
		},
	}}, nil
}

// scoreMessage asks the model for a numeric score; an unusable answer or an
// adapter failure degrades to the lexicon.
func (a *SentimentAgent) scoreMessage(ctx context.Context, body string) float64 {
	text, err := a.llm.Complete(ctx, body, sentimentSystemPrompt, model.CompleteOptions{MaxTokens: 8})
	if err == nil {
		if score, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return math.Max(-1, math.Min(1, score))
		}
		slog.Warn("Model sentiment answer not numeric, using lexicon", "answer", text)
	} else {
		slog.Warn("Model unavailable for sentiment, using lexicon", "error", err)
	}
	return lexiconScore(body)
}

// lexiconScore is the deterministic fallback: signed word-count balance
// normalized to [-1, 1].
func lexiconScore(body string) float64 {
	content := strings.ToLower(body)
	var neg, pos int
	for _, w := range negativeWords {
		if strings.Contains(content, w) {
			neg++
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(content, w) {
			pos++
		}
	}
	if neg+pos == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}
