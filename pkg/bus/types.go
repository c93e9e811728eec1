// Package bus provides topic-addressed publish/subscribe delivery for the
// agent pipeline: bounded per-subscriber queues with FIFO delivery, redelivery
// with dead-lettering, best-effort remote forwarding (EventBridge with SNS
// fallback), and replay of retained history for testing.
package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic identifies an event type. The vocabulary is closed: Publish rejects
// any topic not listed here.
type Topic string

// The closed event-type vocabulary.
const (
	// TopicTransactionCreated is produced by the upstream ledger and
	// triggers the main risk pipeline.
	TopicTransactionCreated Topic = "transaction.created"

	// Internal pipeline topics.
	TopicRiskFlagged      Topic = "risk.flagged"
	TopicComplianceAction Topic = "compliance.action"
	TopicOpsAction        Topic = "ops.action"
	TopicOpsAlert         Topic = "ops.alert"

	// Externally produced inputs.
	TopicCustomerMessage Topic = "customer.message"
	TopicLogLine         Topic = "log.line"
	TopicUserQuery       Topic = "user.query"

	// Outputs.
	TopicUserResponse     Topic = "user.response"
	TopicPrivacyViolation Topic = "privacy.violation"
)

// Topics returns the full vocabulary in a stable order.
func Topics() []Topic {
	return []Topic{
		TopicTransactionCreated,
		TopicRiskFlagged,
		TopicComplianceAction,
		TopicOpsAction,
		TopicOpsAlert,
		TopicCustomerMessage,
		TopicLogLine,
		TopicUserQuery,
		TopicUserResponse,
		TopicPrivacyViolation,
	}
}

// Valid reports whether t is part of the closed vocabulary.
func (t Topic) Valid() bool {
	switch t {
	case TopicTransactionCreated, TopicRiskFlagged, TopicComplianceAction,
		TopicOpsAction, TopicOpsAlert, TopicCustomerMessage, TopicLogLine,
		TopicUserQuery, TopicUserResponse, TopicPrivacyViolation:
		return true
	}
	return false
}

// timestampLayout is ISO-8601 with millisecond precision and explicit offset.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is the unit of communication. Events are values: immutable after
// publish, copied into each subscriber's delivery.
type Event struct {
	// EventType is the topic, drawn from the closed vocabulary.
	EventType Topic

	// EventID is globally unique, assigned at publish time if empty.
	// Handlers treat a repeated EventID as a no-op.
	EventID string

	// CorrelationID groups all events for one originating transaction,
	// message, or query. Required on every event.
	CorrelationID string

	// Timestamp is stamped at publish, millisecond resolution.
	Timestamp time.Time

	// Source names the publishing agent or external producer.
	Source string

	// Attempt is 0 on first publish and incremented on redelivery.
	Attempt int

	// Payload is the typed body; its concrete type is determined by
	// EventType (see payloads.go).
	Payload Payload
}

// envelope is the wire form of an Event. The payload stays raw until the
// event type selects its concrete struct.
type envelope struct {
	EventType     Topic           `json:"event_type"`
	EventID       string          `json:"event_id"`
	CorrelationID string          `json:"correlation_id"`
	Timestamp     string          `json:"timestamp"`
	Source        string          `json:"source,omitempty"`
	Attempt       int             `json:"attempt"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the event with its ISO-8601 timestamp and typed payload.
func (e Event) MarshalJSON() ([]byte, error) {
	env := envelope{
		EventType:     e.EventType,
		EventID:       e.EventID,
		CorrelationID: e.CorrelationID,
		Timestamp:     e.Timestamp.Format(timestampLayout),
		Source:        e.Source,
		Attempt:       e.Attempt,
	}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", e.EventType, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the envelope and selects the payload struct from the
// event type, so schema drift fails at decode time instead of deep inside a
// handler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if !env.EventType.Valid() {
		return fmt.Errorf("unknown event type %q", env.EventType)
	}
	var ts time.Time
	if env.Timestamp != "" {
		// Publish stamps the timestamp, so ingress events may omit it.
		var err error
		ts, err = time.Parse(timestampLayout, env.Timestamp)
		if err != nil {
			// Accept plain RFC3339 from external producers.
			ts, err = time.Parse(time.RFC3339, env.Timestamp)
			if err != nil {
				return fmt.Errorf("parse timestamp %q: %w", env.Timestamp, err)
			}
		}
	}
	e.EventType = env.EventType
	e.EventID = env.EventID
	e.CorrelationID = env.CorrelationID
	e.Timestamp = ts
	e.Source = env.Source
	e.Attempt = env.Attempt
	e.Payload = nil
	if len(env.Payload) > 0 {
		payload, err := unmarshalPayload(env.EventType, env.Payload)
		if err != nil {
			return err
		}
		e.Payload = payload
	}
	return nil
}
