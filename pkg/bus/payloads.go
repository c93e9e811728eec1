package bus

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed body of an Event. Each topic has exactly one payload
// struct; the tagged union is keyed on Event.EventType.
type Payload interface {
	payloadTopic() Topic
}

// TransactionCreated is the payload for transaction.created events, produced
// by the upstream ledger. Monetary amounts are decimal strings with an
// ISO-4217 currency code; no floats.
type TransactionCreated struct {
	TransactionID           string  `json:"transaction_id"`
	Amount                  string  `json:"amount"`
	Currency                string  `json:"currency"`
	OriginAccount           string  `json:"origin_account"`
	DestinationAccount      string  `json:"destination_account"`
	DestinationJurisdiction string  `json:"destination_jurisdiction"`
	InitiatedAt             string  `json:"initiated_at"`
	Velocity                float64 `json:"velocity,omitempty"` // upstream velocity indicator in [0, 1]
}

func (TransactionCreated) payloadTopic() Topic { return TopicTransactionCreated }

// RiskFlagged is the payload for risk.flagged events.
type RiskFlagged struct {
	TransactionID     string   `json:"transaction_id"`
	Score             float64  `json:"score"`
	Indicators        []string `json:"indicators"`
	JustificationText string   `json:"justification_text"`
	Citations         []string `json:"citations"`
}

func (RiskFlagged) payloadTopic() Topic { return TopicRiskFlagged }

// ComplianceAction is the payload for compliance.action events. Action is one
// of "monitor", "hold", "block", "report"; one event is emitted per action.
type ComplianceAction struct {
	TransactionID string   `json:"transaction_id"`
	Action        string   `json:"action"`
	RationaleText string   `json:"rationale_text"`
	Citations     []string `json:"citations"`
}

func (ComplianceAction) payloadTopic() Topic { return TopicComplianceAction }

// OpsAction is the payload for ops.action events: the operational intent
// derived from a compliance action. The core publishes the intent; it never
// executes it against a banking system.
type OpsAction struct {
	TransactionID string            `json:"transaction_id"`
	Intent        string            `json:"intent"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

func (OpsAction) payloadTopic() Topic { return TopicOpsAction }

// Alert channels used in OpsAlert.Channel.
const (
	AlertChannelSentiment = "sentiment"
	AlertChannelNarrative = "narrative"
)

// OpsAlert is the payload for ops.alert events. Channel discriminates the two
// alert shapes: "sentiment" escalations carry a score and excerpt, "narrative"
// summaries carry the summary text and citations.
type OpsAlert struct {
	Channel         string   `json:"channel"`
	SentimentScore  *float64 `json:"sentiment_score,omitempty"`
	Excerpt         string   `json:"excerpt,omitempty"`
	SuggestedAction string   `json:"suggested_action,omitempty"`
	SummaryText     string   `json:"summary_text,omitempty"`
	Citations       []string `json:"citations,omitempty"`
}

func (OpsAlert) payloadTopic() Topic { return TopicOpsAlert }

// CustomerMessage is the payload for customer.message events.
type CustomerMessage struct {
	CustomerID string `json:"customer_id"`
	Body       string `json:"body"`
}

func (CustomerMessage) payloadTopic() Topic { return TopicCustomerMessage }

// LogLine is the payload for log.line events.
type LogLine struct {
	SourceComponent string `json:"source_component"`
	Body            string `json:"body"`
}

func (LogLine) payloadTopic() Topic { return TopicLogLine }

// UserQuery is the payload for user.query events.
type UserQuery struct {
	QueryID  string `json:"query_id"`
	Question string `json:"question"`
}

func (UserQuery) payloadTopic() Topic { return TopicUserQuery }

// UserResponse is the payload for user.response events.
type UserResponse struct {
	QueryID    string   `json:"query_id"`
	AnswerText string   `json:"answer_text"`
	Citations  []string `json:"citations"`
}

func (UserResponse) payloadTopic() Topic { return TopicUserResponse }

// Finding describes one piece of PII located in a log line.
type Finding struct {
	// Type names the pattern that matched: email, phone,
	// tax_file_number, card_number.
	Type string `json:"type"`

	// Placeholder is the typed replacement inserted into the sanitized line.
	Placeholder string `json:"placeholder"`
}

// PrivacyViolation is the payload for privacy.violation events. The original
// log stream is never mutated; SanitizedLine is a copy with PII replaced by
// typed placeholders.
type PrivacyViolation struct {
	SourceComponent string    `json:"source_component"`
	Findings        []Finding `json:"findings"`
	SanitizedLine   string    `json:"sanitized_line"`
}

func (PrivacyViolation) payloadTopic() Topic { return TopicPrivacyViolation }

// unmarshalPayload decodes raw into the payload struct registered for topic.
func unmarshalPayload(topic Topic, raw json.RawMessage) (Payload, error) {
	var payload Payload
	switch topic {
	case TopicTransactionCreated:
		payload = &TransactionCreated{}
	case TopicRiskFlagged:
		payload = &RiskFlagged{}
	case TopicComplianceAction:
		payload = &ComplianceAction{}
	case TopicOpsAction:
		payload = &OpsAction{}
	case TopicOpsAlert:
		payload = &OpsAlert{}
	case TopicCustomerMessage:
		payload = &CustomerMessage{}
	case TopicLogLine:
		payload = &LogLine{}
	case TopicUserQuery:
		payload = &UserQuery{}
	case TopicUserResponse:
		payload = &UserResponse{}
	case TopicPrivacyViolation:
		payload = &PrivacyViolation{}
	default:
		return nil, fmt.Errorf("unknown event type %q", topic)
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", topic, err)
	}
	return payload, nil
}
