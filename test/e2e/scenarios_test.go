package e2e

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/model"
	"github.com/nfrguard/nfrguard/pkg/rag"
)

// suspiciousTransaction is a large overnight transfer to a sanctioned
// jurisdiction with maximum upstream velocity. Scores at the cap.
func suspiciousTransaction() *bus.TransactionCreated {
	return &bus.TransactionCreated{
		TransactionID:           "txn-1001",
		Amount:                  "50000.00",
		Currency:                "AUD",
		OriginAccount:           "acc-1",
		DestinationAccount:      "acc-2",
		DestinationJurisdiction: "KP",
		InitiatedAt:             "2026-01-17T02:14:00+11:00",
		Velocity:                1,
	}
}

func TestE2E_SuspiciousTransactionPipeline(t *testing.T) {
	inv := NewScriptedInvoker()
	inv.Route("risk analyst", ModelScriptEntry{Text: "Large overnight transfer to a high-risk jurisdiction."})
	inv.Route("compliance officer", ModelScriptEntry{Text: "block"})
	inv.Route("incident narrative", ModelScriptEntry{Text: "Transaction txn-1001 was blocked pending review."})
	app := NewTestApp(t, WithInvoker(inv))

	app.Publish(bus.Event{
		EventType:     bus.TopicTransactionCreated,
		CorrelationID: "c-1001",
		Source:        "ledger",
		Payload:       suspiciousTransaction(),
	})

	flagged := app.Recorder.WaitFor(t, bus.TopicRiskFlagged, "c-1001")
	rf := flagged.Payload.(*bus.RiskFlagged)
	assert.GreaterOrEqual(t, rf.Score, 0.9)
	assert.Contains(t, rf.Indicators, "high_amount")
	assert.Contains(t, rf.Indicators, "cross_jurisdiction")
	assert.Equal(t, "transaction-risk", flagged.Source)

	action := app.Recorder.WaitFor(t, bus.TopicComplianceAction, "c-1001")
	ca := action.Payload.(*bus.ComplianceAction)
	assert.Equal(t, "block", ca.Action)

	opsAction := app.Recorder.WaitFor(t, bus.TopicOpsAction, "c-1001")
	oa := opsAction.Payload.(*bus.OpsAction)
	assert.Equal(t, "block_transaction", oa.Intent)
	assert.Equal(t, "txn-1001", oa.TransactionID)

	alert := app.Recorder.WaitFor(t, bus.TopicOpsAlert, "c-1001")
	na := alert.Payload.(*bus.OpsAlert)
	assert.Equal(t, bus.AlertChannelNarrative, na.Channel)
	assert.Contains(t, na.SummaryText, "txn-1001")

	// Once narrated, the transaction context is terminal.
	require.Eventually(t, func() bool {
		st, ok := app.Supervisor.Status("c-1001")
		return ok && st.Terminal
	}, 5*time.Second, 5*time.Millisecond)

	st, _ := app.Supervisor.Status("c-1001")
	assert.Contains(t, st.StagesSeen, "risk_evaluated")
	assert.Contains(t, st.StagesSeen, "compliance_decided")
	assert.Contains(t, st.StagesSeen, "action_applied")
	assert.Contains(t, st.StagesSeen, "narrated")
}

func TestE2E_BenignTransactionNoAlarm(t *testing.T) {
	app := NewTestApp(t)

	app.Publish(bus.Event{
		EventType:     bus.TopicTransactionCreated,
		CorrelationID: "c-2001",
		Source:        "ledger",
		Payload: &bus.TransactionCreated{
			TransactionID:           "txn-2001",
			Amount:                  "9500.00",
			Currency:                "AUD",
			DestinationJurisdiction: "AU",
			InitiatedAt:             "2026-01-17T14:00:00+11:00",
		},
	})

	// The supervisor tracks the transaction even though nothing fires.
	require.Eventually(t, func() bool {
		_, ok := app.Supervisor.Status("c-2001")
		return ok
	}, 5*time.Second, 5*time.Millisecond)

	app.Recorder.WaitQuiet(t, bus.TopicRiskFlagged, "c-2001", 150*time.Millisecond)
	assert.Empty(t, app.Recorder.All(bus.TopicComplianceAction, "c-2001"))

	st, _ := app.Supervisor.Status("c-2001")
	assert.False(t, st.Terminal)
}

func TestE2E_CustomerDistressAlert(t *testing.T) {
	inv := NewScriptedInvoker()
	inv.Route("Score the sentiment", ModelScriptEntry{Text: "-0.9"})
	app := NewTestApp(t, WithInvoker(inv))

	app.Publish(bus.Event{
		EventType:     bus.TopicCustomerMessage,
		CorrelationID: "c-3001",
		Source:        "support-channel",
		Payload: &bus.CustomerMessage{
			CustomerID: "cust-7",
			Body:       "This is terrible, I am furious. Contact me at jo@example.com before I close my account.",
		},
	})

	alert := app.Recorder.WaitFor(t, bus.TopicOpsAlert, "c-3001")
	oa := alert.Payload.(*bus.OpsAlert)
	assert.Equal(t, bus.AlertChannelSentiment, oa.Channel)
	require.NotNil(t, oa.SentimentScore)
	assert.InDelta(t, -0.9, *oa.SentimentScore, 0.001)
	assert.Equal(t, "escalate_to_retention_team", oa.SuggestedAction)
	assert.Contains(t, oa.Excerpt, "<EMAIL>")
	assert.NotContains(t, oa.Excerpt, "jo@example.com")
}

func TestE2E_LogLinePrivacyViolation(t *testing.T) {
	app := NewTestApp(t)

	app.Publish(bus.Event{
		EventType:     bus.TopicLogLine,
		CorrelationID: "c-4001",
		Source:        "log-shipper",
		Payload: &bus.LogLine{
			SourceComponent: "payments-api",
			Body:            "charge failed for jo@example.com tfn 123 456 789",
		},
	})

	violation := app.Recorder.WaitFor(t, bus.TopicPrivacyViolation, "c-4001")
	pv := violation.Payload.(*bus.PrivacyViolation)
	assert.Equal(t, "payments-api", pv.SourceComponent)
	assert.Contains(t, pv.SanitizedLine, "<EMAIL>")
	assert.Contains(t, pv.SanitizedLine, "<TFN>")
	assert.NotContains(t, pv.SanitizedLine, "jo@example.com")

	types := make([]string, len(pv.Findings))
	for i, f := range pv.Findings {
		types[i] = f.Type
	}
	assert.Contains(t, types, "email")
}

func TestE2E_ModelOutageDegradedPipeline(t *testing.T) {
	inv := NewScriptedInvoker()
	inv.FailAll(model.ErrModelUnavailable)
	app := NewTestApp(t, WithInvoker(inv))

	app.Publish(bus.Event{
		EventType:     bus.TopicTransactionCreated,
		CorrelationID: "c-5001",
		Source:        "ledger",
		Payload:       suspiciousTransaction(),
	})

	// Risk still flags on numeric features alone.
	flagged := app.Recorder.WaitFor(t, bus.TopicRiskFlagged, "c-5001")
	rf := flagged.Payload.(*bus.RiskFlagged)
	assert.GreaterOrEqual(t, rf.Score, 0.9)
	assert.Contains(t, rf.JustificationText, "model unavailable")

	// Compliance falls back to the deterministic rule table.
	action := app.Recorder.WaitFor(t, bus.TopicComplianceAction, "c-5001")
	assert.Equal(t, "block", action.Payload.(*bus.ComplianceAction).Action)

	opsAction := app.Recorder.WaitFor(t, bus.TopicOpsAction, "c-5001")
	assert.Equal(t, "block_transaction", opsAction.Payload.(*bus.OpsAction).Intent)

	// No narrative without the model; the alert channel stays quiet.
	app.Recorder.WaitQuiet(t, bus.TopicOpsAlert, "c-5001", 150*time.Millisecond)
}

func TestE2E_AssistantAnswersFromCorpus(t *testing.T) {
	inv := NewScriptedInvoker()
	inv.Route("regulation assistant", ModelScriptEntry{
		Text: "Suspicious matters must be reported to AUSTRAC within the statutory window.",
	})
	app := NewTestApp(t, WithInvoker(inv))

	_, err := app.Index.IngestDocument(context.Background(), rag.Document{
		DocumentID: "austrac-smr-guidance",
		Content:    "A reporting entity must submit a suspicious matter report to AUSTRAC.",
		Metadata:   rag.Metadata{Regulator: "AUSTRAC", DocType: "guidance"},
	})
	require.NoError(t, err)

	app.Publish(bus.Event{
		EventType:     bus.TopicUserQuery,
		CorrelationID: "c-6001",
		Source:        "chat-frontend",
		Payload:       &bus.UserQuery{QueryID: "q-1", Question: "When must suspicious matters be reported?"},
	})

	resp := app.Recorder.WaitFor(t, bus.TopicUserResponse, "c-6001")
	ur := resp.Payload.(*bus.UserResponse)
	assert.Equal(t, "q-1", ur.QueryID)
	assert.Contains(t, ur.AnswerText, "AUSTRAC")
	assert.NotEmpty(t, ur.Citations)
	assert.Contains(t, ur.Citations[0], "austrac-smr-guidance")
}

func TestE2E_ReplayIsIdempotent(t *testing.T) {
	inv := NewScriptedInvoker()
	inv.Route("compliance officer", ModelScriptEntry{Text: "block"})
	app := NewTestApp(t, WithInvoker(inv))

	app.Publish(bus.Event{
		EventType:     bus.TopicTransactionCreated,
		CorrelationID: "c-7001",
		Source:        "ledger",
		Payload:       suspiciousTransaction(),
	})
	app.Recorder.WaitFor(t, bus.TopicOpsAction, "c-7001")

	n, err := app.Bus.Replay(context.Background(), bus.TopicTransactionCreated, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Handlers have already seen the event id; nothing fires twice.
	time.Sleep(150 * time.Millisecond)
	assert.Len(t, app.Recorder.All(bus.TopicRiskFlagged, "c-7001"), 1)
	assert.Len(t, app.Recorder.All(bus.TopicOpsAction, "c-7001"), 1)
}

func TestE2E_DashboardFeedObservesPipeline(t *testing.T) {
	inv := NewScriptedInvoker()
	inv.Route("compliance officer", ModelScriptEntry{Text: "block"})
	app := NewTestApp(t, WithInvoker(inv))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, app.WSURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, greeting, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Contains(t, string(greeting), "connection.established")

	// Narrow the feed to compliance decisions.
	sub, _ := json.Marshal(map[string]any{"type": "subscribe", "topics": []string{"compliance.action"}})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, sub))
	time.Sleep(20 * time.Millisecond) // subscription applies before publish

	app.Publish(bus.Event{
		EventType:     bus.TopicTransactionCreated,
		CorrelationID: "c-8001",
		Source:        "ledger",
		Payload:       suspiciousTransaction(),
	})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev bus.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, bus.TopicComplianceAction, ev.EventType)
	assert.Equal(t, "c-8001", ev.CorrelationID)
	assert.True(t, strings.HasPrefix(ev.Source, "compliance"))
}
