package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/config"
)

func newTestBus() *bus.Bus {
	return bus.New(&config.BusConfig{
		QueueDepth:           64,
		BackpressureDeadline: 200 * time.Millisecond,
		RetryDelays:          []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		DeadLetterDepth:      100,
		ReplayDepth:          100,
		DrainGrace:           time.Second,
	})
}

// scriptedAgent is a minimal agent for harness behavior tests.
type scriptedAgent struct {
	name   string
	topics []bus.Topic
	fn     func(ctx context.Context, ev bus.Event) ([]bus.Event, error)

	mu    sync.Mutex
	calls int
}

func (s *scriptedAgent) Name() string       { return s.name }
func (s *scriptedAgent) Topics() []bus.Topic { return s.topics }

func (s *scriptedAgent) Handle(ctx context.Context, ev bus.Event) ([]bus.Event, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fn == nil {
		return nil, nil
	}
	return s.fn(ctx, ev)
}

func (s *scriptedAgent) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func logEvent(cid, body string) bus.Event {
	return bus.Event{
		EventType:     bus.TopicLogLine,
		CorrelationID: cid,
		Payload:       &bus.LogLine{SourceComponent: "ledger", Body: body},
	}
}

func TestHarness_DeduplicatesByEventID(t *testing.T) {
	b := newTestBus()
	defer b.Close()
	h := NewHarness(b, testAgentConfig())

	agent := &scriptedAgent{name: "probe", topics: []bus.Topic{bus.TopicLogLine}}
	require.NoError(t, h.Register(agent))

	ev := logEvent("c-1", "hello")
	ev.EventID = "fixed-id"
	require.NoError(t, b.Publish(context.Background(), ev))
	require.True(t, waitFor(time.Second, func() bool { return agent.callCount() == 1 }))

	// Same event id again, as a replay would deliver it.
	require.NoError(t, b.Publish(context.Background(), ev))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, agent.callCount())
}

func TestHarness_FailedEventNotMarkedSeen(t *testing.T) {
	b := newTestBus()
	defer b.Close()
	h := NewHarness(b, testAgentConfig())

	var mu sync.Mutex
	failures := 2
	agent := &scriptedAgent{name: "flaky", topics: []bus.Topic{bus.TopicLogLine}}
	agent.fn = func(context.Context, bus.Event) ([]bus.Event, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures > 0 {
			failures--
			return nil, errors.New("transient")
		}
		return nil, nil
	}
	require.NoError(t, h.Register(agent))

	ev := logEvent("c-1", "retry me")
	ev.EventID = "retry-id"
	require.NoError(t, b.Publish(context.Background(), ev))

	// Two failures plus the succeeding redelivery.
	require.True(t, waitFor(time.Second, func() bool { return agent.callCount() == 3 }))
	assert.Empty(t, b.DeadLetters(bus.TopicLogLine))
}

func TestHarness_TimeoutDeadLetters(t *testing.T) {
	b := newTestBus()
	defer b.Close()
	cfg := testAgentConfig()
	cfg.HandlerTimeout = 20 * time.Millisecond
	h := NewHarness(b, cfg)

	release := make(chan struct{})
	agent := &scriptedAgent{name: "stuck", topics: []bus.Topic{bus.TopicLogLine}}
	agent.fn = func(context.Context, bus.Event) ([]bus.Event, error) {
		<-release
		return nil, nil
	}
	require.NoError(t, h.Register(agent))

	require.NoError(t, b.Publish(context.Background(), logEvent("c-1", "slow")))
	require.True(t, waitFor(2*time.Second, func() bool {
		return len(b.DeadLetters(bus.TopicLogLine)) == 1
	}))
	entry := b.DeadLetters(bus.TopicLogLine)[0]
	assert.Equal(t, "stuck", entry.Subscriber)
	assert.Contains(t, entry.Reason, "timed out")
	close(release)
}

func TestHarness_StampsEmittedEvents(t *testing.T) {
	b := newTestBus()
	defer b.Close()
	h := NewHarness(b, testAgentConfig())

	emitter := &scriptedAgent{name: "emitter", topics: []bus.Topic{bus.TopicLogLine}}
	emitter.fn = func(context.Context, bus.Event) ([]bus.Event, error) {
		return []bus.Event{{
			EventType: bus.TopicPrivacyViolation,
			Payload:   &bus.PrivacyViolation{SanitizedLine: "x"},
		}}, nil
	}
	require.NoError(t, h.Register(emitter))

	var mu sync.Mutex
	var got []bus.Event
	sink := &scriptedAgent{name: "sink", topics: []bus.Topic{bus.TopicPrivacyViolation}}
	sink.fn = func(_ context.Context, ev bus.Event) ([]bus.Event, error) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil, nil
	}
	require.NoError(t, h.Register(sink))

	require.NoError(t, b.Publish(context.Background(), logEvent("c-42", "in")))
	require.True(t, waitFor(time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "c-42", got[0].CorrelationID)
	assert.Equal(t, "emitter", got[0].Source)
	assert.NotEmpty(t, got[0].EventID)
}

func TestHarness_PanicBecomesDeliveryFailure(t *testing.T) {
	b := newTestBus()
	defer b.Close()
	h := NewHarness(b, testAgentConfig())

	agent := &scriptedAgent{name: "panicky", topics: []bus.Topic{bus.TopicLogLine}}
	agent.fn = func(context.Context, bus.Event) ([]bus.Event, error) {
		panic("boom")
	}
	require.NoError(t, h.Register(agent))

	require.NoError(t, b.Publish(context.Background(), logEvent("c-1", "x")))
	require.True(t, waitFor(2*time.Second, func() bool {
		return len(b.DeadLetters(bus.TopicLogLine)) == 1
	}))
	assert.Contains(t, b.DeadLetters(bus.TopicLogLine)[0].Reason, "panicked")
}

func TestHarness_Unregister(t *testing.T) {
	b := newTestBus()
	defer b.Close()
	h := NewHarness(b, testAgentConfig())

	agent := &scriptedAgent{name: "probe", topics: []bus.Topic{bus.TopicLogLine}}
	require.NoError(t, h.Register(agent))
	h.Unregister()

	require.NoError(t, b.Publish(context.Background(), logEvent("c-1", "after")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, agent.callCount())
}
