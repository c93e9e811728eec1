package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrguard/nfrguard/pkg/bus"
)

func complianceEvent(action string) bus.Event {
	return bus.Event{
		EventType:     bus.TopicComplianceAction,
		EventID:       "ev-1",
		CorrelationID: "c-1",
		Payload: &bus.ComplianceAction{
			TransactionID: "txn-1",
			Action:        action,
		},
	}
}

func TestResilienceAgent_TranslatesActions(t *testing.T) {
	a := NewResilienceAgent()
	tests := map[string]string{
		ActionBlock:   IntentBlockTransaction,
		ActionHold:    IntentHoldTransaction,
		ActionReport:  IntentEnqueueReport,
		ActionMonitor: IntentWatchAccount,
	}
	for action, intent := range tests {
		out, err := a.Handle(context.Background(), complianceEvent(action))
		require.NoError(t, err)
		require.Len(t, out, 1, "action %s", action)

		oa := out[0].Payload.(*bus.OpsAction)
		assert.Equal(t, intent, oa.Intent)
		assert.Equal(t, "txn-1", oa.TransactionID)
		assert.Equal(t, "txn-1", oa.Parameters["transaction_id"])
	}
}

func TestResilienceAgent_ReportCarriesRegulatorParams(t *testing.T) {
	a := NewResilienceAgent()
	out, err := a.Handle(context.Background(), complianceEvent(ActionReport))
	require.NoError(t, err)

	oa := out[0].Payload.(*bus.OpsAction)
	assert.Equal(t, "AUSTRAC", oa.Parameters["regulator"])
	assert.Equal(t, "suspicious_matter", oa.Parameters["report_type"])
}

func TestResilienceAgent_UnknownActionFails(t *testing.T) {
	a := NewResilienceAgent()
	_, err := a.Handle(context.Background(), complianceEvent("escalate"))
	assert.Error(t, err)
}
