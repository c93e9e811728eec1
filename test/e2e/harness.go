// Package e2e boots the complete orchestration core in-process and drives it
// through published events, the way the deployed binary is driven.
package e2e

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nfrguard/nfrguard/pkg/agents"
	"github.com/nfrguard/nfrguard/pkg/api"
	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/config"
	"github.com/nfrguard/nfrguard/pkg/masking"
	"github.com/nfrguard/nfrguard/pkg/model"
	"github.com/nfrguard/nfrguard/pkg/rag"
	"github.com/nfrguard/nfrguard/pkg/supervisor"
)

// TestApp is a complete in-process NFRGuard instance.
type TestApp struct {
	Config     *config.Config
	Invoker    *ScriptedInvoker
	Bus        *bus.Bus
	Model      *model.Client
	Index      *rag.Index
	Supervisor *supervisor.Supervisor
	Harness    *agents.Harness
	Knowledge  *agents.KnowledgeAgent
	Recorder   *EventRecorder

	BaseURL string
	WSURL   string

	t *testing.T
}

type testAppConfig struct {
	cfg     *config.Config
	invoker *ScriptedInvoker
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithInvoker sets a pre-scripted model invoker.
func WithInvoker(inv *ScriptedInvoker) TestAppOption {
	return func(c *testAppConfig) { c.invoker = inv }
}

// fastConfig returns defaults tuned for tests: single-attempt model calls,
// millisecond redelivery, a short knowledge quiet period.
func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Model.EmbeddingDimension = testEmbeddingDim
	cfg.Model.RetryAttempts = 1
	cfg.Bus.RetryDelays = []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}
	cfg.Bus.BackpressureDeadline = 100 * time.Millisecond
	cfg.Bus.DrainGrace = time.Second
	cfg.Agents.HandlerTimeout = 2 * time.Second
	cfg.Agents.KnowledgeQuietPeriod = 50 * time.Millisecond
	return cfg
}

// NewTestApp boots the full stack and registers cleanup in reverse order.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = fastConfig()
	}
	if tc.invoker == nil {
		tc.invoker = NewScriptedInvoker()
	}
	cfg := tc.cfg

	b := bus.New(cfg.Bus)
	t.Cleanup(b.Close)

	mdl := model.NewClient(tc.invoker, cfg.Model)
	index := rag.NewIndex(cfg.Retrieval, mdl)

	sup, err := supervisor.New(cfg.Supervisor)
	require.NoError(t, err)
	t.Cleanup(sup.Close)
	sup.Attach(b)

	recorder := newEventRecorder(b)
	t.Cleanup(recorder.stop)

	masker := masking.NewService()
	knowledge := agents.NewKnowledgeAgent(cfg.Agents, mdl, b)
	t.Cleanup(knowledge.Close)

	harness := agents.NewHarness(b, cfg.Agents)
	for _, a := range []agents.Agent{
		agents.NewRiskAgent(cfg.Agents, mdl, index),
		agents.NewComplianceAgent(cfg.Agents, mdl, index),
		agents.NewResilienceAgent(),
		agents.NewSentimentAgent(cfg.Agents, mdl, masker),
		agents.NewPrivacyAgent(masker),
		knowledge,
		agents.NewAssistantAgent(mdl, index),
	} {
		require.NoError(t, harness.Register(a))
	}
	t.Cleanup(harness.Unregister)

	srv := api.NewServer(b, sup, index, mdl)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &TestApp{
		Config:     cfg,
		Invoker:    tc.invoker,
		Bus:        b,
		Model:      mdl,
		Index:      index,
		Supervisor: sup,
		Harness:    harness,
		Knowledge:  knowledge,
		Recorder:   recorder,
		BaseURL:    ts.URL,
		WSURL:      "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		t:          t,
	}
}

// Publish publishes one event and fails the test on error.
func (app *TestApp) Publish(ev bus.Event) {
	app.t.Helper()
	require.NoError(app.t, app.Bus.Publish(context.Background(), ev))
}

// EventRecorder captures every event crossing the bus through an observer tap.
type EventRecorder struct {
	mu     sync.Mutex
	events []bus.Event
	cancel func()
}

func newEventRecorder(b *bus.Bus) *EventRecorder {
	events, cancel := b.Observe("e2e-recorder", 1024)
	r := &EventRecorder{cancel: cancel}
	go func() {
		for ev := range events {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *EventRecorder) stop() { r.cancel() }

// All returns a snapshot of events matching topic and correlation id. Empty
// correlationID matches everything.
func (r *EventRecorder) All(topic bus.Topic, correlationID string) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Event
	for _, ev := range r.events {
		if ev.EventType == topic && (correlationID == "" || ev.CorrelationID == correlationID) {
			out = append(out, ev)
		}
	}
	return out
}

// WaitFor blocks until an event on topic with the correlation id is observed.
func (r *EventRecorder) WaitFor(t *testing.T, topic bus.Topic, correlationID string) bus.Event {
	t.Helper()
	var got bus.Event
	require.Eventually(t, func() bool {
		evs := r.All(topic, correlationID)
		if len(evs) == 0 {
			return false
		}
		got = evs[0]
		return true
	}, 5*time.Second, 5*time.Millisecond, "no %s event for %s", topic, correlationID)
	return got
}

// WaitQuiet asserts that no event on topic arrives for the given window.
func (r *EventRecorder) WaitQuiet(t *testing.T, topic bus.Topic, correlationID string, window time.Duration) {
	t.Helper()
	time.Sleep(window)
	require.Empty(t, r.All(topic, correlationID))
}
