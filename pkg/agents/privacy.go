package agents

import (
	"context"
	"fmt"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/masking"
)

// PrivacyAgent scans log.line events for personal information. It reports
// violations with a sanitized copy of the line; the original log stream is
// never touched.
type PrivacyAgent struct {
	masker *masking.Service
}

// NewPrivacyAgent creates the privacy handler.
func NewPrivacyAgent(masker *masking.Service) *PrivacyAgent {
	return &PrivacyAgent{masker: masker}
}

func (a *PrivacyAgent) Name() string { return "data-privacy" }

func (a *PrivacyAgent) Topics() []bus.Topic { return []bus.Topic{bus.TopicLogLine} }

func (a *PrivacyAgent) Handle(_ context.Context, ev bus.Event) ([]bus.Event, error) {
	line, ok := ev.Payload.(*bus.LogLine)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", ev.Payload)
	}

	findings := a.masker.Detect(line.Body)
	if len(findings) == 0 {
		return nil, nil
	}

	busFindings := make([]bus.Finding, len(findings))
	for i, f := range findings {
		busFindings[i] = bus.Finding{Type: f.Type, Placeholder: f.Placeholder}
	}
	return []bus.Event{{
		EventType: bus.TopicPrivacyViolation,
		Payload: &bus.PrivacyViolation{
			SourceComponent: line.SourceComponent,
			Findings:        busFindings,
			SanitizedLine:   a.masker.Mask(line.Body),
		},
	}}, nil
}
