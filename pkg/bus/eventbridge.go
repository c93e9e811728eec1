package bus

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

// eventSource is the EventBridge source attribute stamped on every entry.
const eventSource = "nfrguard.agents"

// PutEventsAPI is the subset of the EventBridge client used by the remote
// transport. Satisfied by *eventbridge.Client; tests inject fakes.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput,
		optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeTransport forwards events to a managed EventBridge bus.
// Credentials are injected through the client at construction; nothing here
// touches credential material.
type EventBridgeTransport struct {
	client  PutEventsAPI
	busName string
}

// NewEventBridgeTransport creates the remote transport for the named bus.
func NewEventBridgeTransport(client PutEventsAPI, busName string) *EventBridgeTransport {
	return &EventBridgeTransport{client: client, busName: busName}
}

// PutEvents sends a batch and reports per-event results. A transport-level
// failure is returned as the second value and fails the whole batch.
func (t *EventBridgeTransport) PutEvents(ctx context.Context, events []Event) ([]error, error) {
	entries := make([]ebtypes.PutEventsRequestEntry, len(events))
	for i, ev := range events {
		detail, err := ev.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal event %s: %w", ev.EventID, err)
		}
		entries[i] = ebtypes.PutEventsRequestEntry{
			Source:       aws.String(eventSource),
			DetailType:   aws.String(string(ev.EventType)),
			Detail:       aws.String(string(detail)),
			EventBusName: aws.String(t.busName),
			Time:         aws.Time(ev.Timestamp),
		}
	}

	out, err := t.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return nil, fmt.Errorf("eventbridge put_events: %w", err)
	}

	results := make([]error, len(events))
	if out.FailedEntryCount == 0 {
		return results, nil
	}
	for i, entry := range out.Entries {
		if i >= len(results) {
			break
		}
		if entry.ErrorCode != nil {
			results[i] = fmt.Errorf("eventbridge entry rejected: %s: %s",
				aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
		}
	}
	return results, nil
}
