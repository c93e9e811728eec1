package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/masking"
	"github.com/nfrguard/nfrguard/pkg/model"
)

func messageEvent(body string) bus.Event {
	return bus.Event{
		EventType:     bus.TopicCustomerMessage,
		EventID:       "ev-1",
		CorrelationID: "c-1",
		Payload:       &bus.CustomerMessage{CustomerID: "cust-1", Body: body},
	}
}

func newSentimentAgent(llm *fakeLLM) *SentimentAgent {
	return NewSentimentAgent(testAgentConfig(), llm, masking.NewService())
}

func TestSentimentAgent_NegativeMessageAlerts(t *testing.T) {
	a := newSentimentAgent(&fakeLLM{response: "-0.9"})

	out, err := a.Handle(context.Background(), messageEvent("This is awful, reach me at bob@example.com"))
	require.NoError(t, err)
	require.Len(t, out, 1)

	alert := out[0].Payload.(*bus.OpsAlert)
	assert.Equal(t, bus.AlertChannelSentiment, alert.Channel)
	require.NotNil(t, alert.SentimentScore)
	assert.Equal(t, -0.9, *alert.SentimentScore)
	assert.Equal(t, "escalate_to_retention_team", alert.SuggestedAction)
	assert.Contains(t, alert.Excerpt, "<EMAIL>")
	assert.NotContains(t, alert.Excerpt, "bob@example.com")
}

func TestSentimentAgent_MildlyNegativeSuggestsFollowUp(t *testing.T) {
	a := newSentimentAgent(&fakeLLM{response: "-0.5"})

	out, err := a.Handle(context.Background(), messageEvent("not great"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "queue_for_support_follow_up", out[0].Payload.(*bus.OpsAlert).SuggestedAction)
}

func TestSentimentAgent_PositiveMessageEmitsNothing(t *testing.T) {
	a := newSentimentAgent(&fakeLLM{response: "0.7"})

	out, err := a.Handle(context.Background(), messageEvent("thank you, great service"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSentimentAgent_LexiconFallbackOnModelFailure(t *testing.T) {
	a := newSentimentAgent(&fakeLLM{err: model.ErrModelUnavailable})

	out, err := a.Handle(context.Background(), messageEvent("I am angry, this is terrible and awful"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, -1.0, *out[0].Payload.(*bus.OpsAlert).SentimentScore)
}

func TestSentimentAgent_LexiconFallbackOnNonNumericAnswer(t *testing.T) {
	a := newSentimentAgent(&fakeLLM{response: "quite negative, I'd say"})

	out, err := a.Handle(context.Background(), messageEvent("I hate this bug, what a problem"))
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestSentimentAgent_ClampsModelScore(t *testing.T) {
	a := newSentimentAgent(&fakeLLM{response: "-5"})

	out, err := a.Handle(context.Background(), messageEvent("whatever"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, -1.0, *out[0].Payload.(*bus.OpsAlert).SentimentScore)
}

func TestSentimentAgent_ExcerptTruncated(t *testing.T) {
	a := newSentimentAgent(&fakeLLM{response: "-0.9"})

	out, err := a.Handle(context.Background(), messageEvent(strings.Repeat("terrible ", 50)))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.LessOrEqual(t, len([]rune(out[0].Payload.(*bus.OpsAlert).Excerpt)), 140)
}

func TestLexiconScore(t *testing.T) {
	assert.Equal(t, -1.0, lexiconScore("angry and frustrated"))
	assert.Equal(t, 1.0, lexiconScore("happy, great, excellent"))
	assert.Equal(t, 0.0, lexiconScore("the account balance is unchanged"))
	assert.Equal(t, 0.0, lexiconScore("great service but a problem remains"))
}
