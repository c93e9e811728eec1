package agents

import (
	"context"
	"fmt"

	"github.com/nfrguard/nfrguard/pkg/bus"
)

// Outbound operational intents, one per compliance action. The core
// publishes the intent; nothing here touches a banking system.
const (
	IntentBlockTransaction = "block_transaction"
	IntentHoldTransaction  = "hold_transaction"
	IntentEnqueueReport    = "enqueue_regulator_report"
	IntentWatchAccount     = "watch_account"
)

// ResilienceAgent translates compliance.action events into operational
// intents, exactly one ops.action per input event.
type ResilienceAgent struct{}

// NewResilienceAgent creates the resilience handler.
func NewResilienceAgent() *ResilienceAgent { return &ResilienceAgent{} }

func (a *ResilienceAgent) Name() string { return "resilience" }

func (a *ResilienceAgent) Topics() []bus.Topic { return []bus.Topic{bus.TopicComplianceAction} }

func (a *ResilienceAgent) Handle(_ context.Context, ev bus.Event) ([]bus.Event, error) {
	ca, ok := ev.Payload.(*bus.ComplianceAction)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", ev.Payload)
	}

	intent, params, err := intentFor(ca)
	if err != nil {
		return nil, err
	}
	return []bus.Event{{
		EventType: bus.TopicOpsAction,
		Payload: &bus.OpsAction{
			TransactionID: ca.TransactionID,
			Intent:        intent,
			Parameters:    params,
		},
	}}, nil
}

func intentFor(ca *bus.ComplianceAction) (string, map[string]string, error) {
	params := map[string]string{"transaction_id": ca.TransactionID}
	switch ca.Action {
	case ActionBlock:
		return IntentBlockTransaction, params, nil
	case ActionHold:
		return IntentHoldTransaction, params, nil
	case ActionReport:
		params["regulator"] = "AUSTRAC"
		params["report_type"] = "suspicious_matter"
		return IntentEnqueueReport, params, nil
	case ActionMonitor:
		return IntentWatchAccount, params, nil
	default:
		return "", nil, fmt.Errorf("unknown compliance action %q", ca.Action)
	}
}
