package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/model"
)

func knowledgeRiskEvent(cid string) bus.Event {
	return bus.Event{
		EventType:     bus.TopicRiskFlagged,
		EventID:       "ev-risk-" + cid,
		CorrelationID: cid,
		Payload: &bus.RiskFlagged{
			TransactionID: "txn-1",
			Score:         0.9,
			Indicators:    []string{"high_amount"},
			Citations:     []string{"austrac-aml:ab:0"},
		},
	}
}

func knowledgeOpsEvent(cid string) bus.Event {
	return bus.Event{
		EventType:     bus.TopicOpsAction,
		EventID:       "ev-ops-" + cid,
		CorrelationID: cid,
		Payload:       &bus.OpsAction{TransactionID: "txn-1", Intent: IntentBlockTransaction},
	}
}

func TestKnowledgeAgent_QuietPeriodFlush(t *testing.T) {
	pub := &fakePublisher{}
	a := NewKnowledgeAgent(testAgentConfig(), &fakeLLM{response: "Narrative."}, pub)
	defer a.Close()

	_, err := a.Handle(context.Background(), knowledgeRiskEvent("c-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, a.Pending())

	require.True(t, waitFor(time.Second, func() bool { return len(pub.published()) == 1 }))
	assert.Equal(t, 0, a.Pending())

	ev := pub.published()[0]
	assert.Equal(t, bus.TopicOpsAlert, ev.EventType)
	assert.Equal(t, "c-1", ev.CorrelationID)
	assert.Equal(t, "knowledge", ev.Source)

	alert := ev.Payload.(*bus.OpsAlert)
	assert.Equal(t, bus.AlertChannelNarrative, alert.Channel)
	assert.Equal(t, "Narrative.", alert.SummaryText)
	assert.Equal(t, []string{"austrac-aml:ab:0"}, alert.Citations)
}

func TestKnowledgeAgent_OpsActionFlushesImmediately(t *testing.T) {
	pub := &fakePublisher{}
	cfg := testAgentConfig()
	cfg.KnowledgeQuietPeriod = time.Hour
	a := NewKnowledgeAgent(cfg, &fakeLLM{response: "Narrative."}, pub)
	defer a.Close()

	_, err := a.Handle(context.Background(), knowledgeRiskEvent("c-1"))
	require.NoError(t, err)
	_, err = a.Handle(context.Background(), knowledgeOpsEvent("c-1"))
	require.NoError(t, err)

	require.Len(t, pub.published(), 1)
	assert.Equal(t, 0, a.Pending())
}

func TestKnowledgeAgent_IgnoresOwnNarratives(t *testing.T) {
	pub := &fakePublisher{}
	a := NewKnowledgeAgent(testAgentConfig(), &fakeLLM{response: "Narrative."}, pub)
	defer a.Close()

	_, err := a.Handle(context.Background(), bus.Event{
		EventType:     bus.TopicOpsAlert,
		CorrelationID: "c-1",
		Payload:       &bus.OpsAlert{Channel: bus.AlertChannelNarrative, SummaryText: "done"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, a.Pending())
}

func TestKnowledgeAgent_AccumulatesSentimentAlerts(t *testing.T) {
	pub := &fakePublisher{}
	a := NewKnowledgeAgent(testAgentConfig(), &fakeLLM{response: "Narrative."}, pub)
	defer a.Close()

	score := -0.9
	_, err := a.Handle(context.Background(), bus.Event{
		EventType:     bus.TopicOpsAlert,
		CorrelationID: "c-1",
		Payload:       &bus.OpsAlert{Channel: bus.AlertChannelSentiment, SentimentScore: &score},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Pending())
}

func TestKnowledgeAgent_ModelFailureSkipsNarrative(t *testing.T) {
	pub := &fakePublisher{}
	a := NewKnowledgeAgent(testAgentConfig(), &fakeLLM{err: model.ErrModelUnavailable}, pub)
	defer a.Close()

	_, err := a.Handle(context.Background(), knowledgeRiskEvent("c-1"))
	require.NoError(t, err)

	require.True(t, waitFor(time.Second, func() bool { return a.Pending() == 0 }))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, pub.published())
}

func TestKnowledgeAgent_CloseStopsTimers(t *testing.T) {
	pub := &fakePublisher{}
	a := NewKnowledgeAgent(testAgentConfig(), &fakeLLM{response: "Narrative."}, pub)

	_, err := a.Handle(context.Background(), knowledgeRiskEvent("c-1"))
	require.NoError(t, err)
	a.Close()

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, pub.published())

	// Events after close are dropped.
	_, err = a.Handle(context.Background(), knowledgeRiskEvent("c-2"))
	require.NoError(t, err)
	assert.Equal(t, 0, a.Pending())
}
