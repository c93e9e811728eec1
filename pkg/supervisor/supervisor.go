// Package supervisor tracks the progress of every correlation id through the
// pipeline. It is a pure observer: it subscribes to every topic, never
// publishes, and never mutates events.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nfrguard/nfrguard/pkg/bus"
	"github.com/nfrguard/nfrguard/pkg/config"
)

// Pipeline stages, marked as their events are observed.
const (
	StageRiskEvaluated     = "risk_evaluated"
	StageComplianceDecided = "compliance_decided"
	StageActionApplied     = "action_applied"
	StageNarrated          = "narrated"
)

// stageOrder is the stable order stages are reported in.
var stageOrder = []string{StageRiskEvaluated, StageComplianceDecided, StageActionApplied, StageNarrated}

// sweepInterval is how often idle and grace deadlines are checked.
const sweepInterval = time.Second

// txContext is the internal per-correlation-id record.
type txContext struct {
	created    time.Time
	lastEvent  time.Time
	stages     map[string]bool
	terminal   bool
	terminalAt time.Time
}

// Status is the copy of a context returned to callers.
type Status struct {
	CorrelationID string    `json:"correlation_id"`
	StagesSeen    []string  `json:"stages_seen"`
	CreatedAt     time.Time `json:"created_at"`
	LastEventAt   time.Time `json:"last_event_at"`
	Terminal      bool      `json:"terminal"`
}

// Supervisor owns the context map. Contexts are created lazily on the first
// event for a correlation id, marked terminal when narrated or idle past the
// TTL, and evicted after a grace window for late arrivals. The map is
// LRU-bounded; overflow evicts the least recently touched context.
type Supervisor struct {
	cfg *config.SupervisorConfig

	mu       sync.Mutex
	contexts *lru.Cache[string, *txContext]

	subs     []*bus.Subscription
	stopCh   chan struct{}
	stopOnce sync.Once
	sweepWG  sync.WaitGroup
}

// New creates a supervisor. Call Attach to start observing a bus.
func New(cfg *config.SupervisorConfig) (*Supervisor, error) {
	contexts, err := lru.New[string, *txContext](cfg.MaxContexts)
	if err != nil {
		return nil, err
	}
	s := &Supervisor{
		cfg:      cfg,
		contexts: contexts,
		stopCh:   make(chan struct{}),
	}
	s.sweepWG.Add(1)
	go s.runSweeper()
	return s, nil
}

// Attach subscribes the supervisor to every topic on b.
func (s *Supervisor) Attach(b *bus.Bus) {
	for _, topic := range bus.Topics() {
		s.subs = append(s.subs, b.Subscribe(topic, "supervisor", s.handle))
	}
	slog.Info("Supervisor attached", "topics", len(bus.Topics()))
}

// Close stops the sweeper. Subscriptions are torn down with the bus.
func (s *Supervisor) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.sweepWG.Wait()
}

// handle records one observed event. A late event within the grace window
// revives an idle-terminal context; a narrated context stays terminal.
func (s *Supervisor) handle(_ context.Context, ev bus.Event) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	tc, ok := s.contexts.Get(ev.CorrelationID)
	if !ok {
		tc = &txContext{created: now, stages: make(map[string]bool)}
		s.contexts.Add(ev.CorrelationID, tc)
	}
	tc.lastEvent = now
	if tc.terminal && !tc.stages[StageNarrated] {
		tc.terminal = false
	}

	switch ev.EventType {
	case bus.TopicRiskFlagged:
		tc.stages[StageRiskEvaluated] = true
	case bus.TopicComplianceAction:
		tc.stages[StageComplianceDecided] = true
	case bus.TopicOpsAction:
		tc.stages[StageActionApplied] = true
	case bus.TopicOpsAlert:
		if alert, ok := ev.Payload.(*bus.OpsAlert); ok && alert.Channel == bus.AlertChannelNarrative {
			tc.stages[StageNarrated] = true
			tc.terminal = true
			tc.terminalAt = now
		}
	}
	return nil
}

// Status returns a copy of the context for a correlation id. The lookup does
// not refresh the context's LRU recency.
func (s *Supervisor) Status(correlationID string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, ok := s.contexts.Peek(correlationID)
	if !ok {
		return Status{}, false
	}
	st := Status{
		CorrelationID: correlationID,
		CreatedAt:     tc.created,
		LastEventAt:   tc.lastEvent,
		Terminal:      tc.terminal,
	}
	for _, stage := range stageOrder {
		if tc.stages[stage] {
			st.StagesSeen = append(st.StagesSeen, stage)
		}
	}
	return st, true
}

// Pending returns the number of non-terminal contexts.
func (s *Supervisor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, cid := range s.contexts.Keys() {
		if tc, ok := s.contexts.Peek(cid); ok && !tc.terminal {
			n++
		}
	}
	return n
}

// runSweeper applies the idle-TTL and eviction-grace deadlines.
func (s *Supervisor) runSweeper() {
	defer s.sweepWG.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep marks idle contexts terminal and evicts terminal ones whose grace
// window has passed.
func (s *Supervisor) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cid := range s.contexts.Keys() {
		tc, ok := s.contexts.Peek(cid)
		if !ok {
			continue
		}
		if !tc.terminal && now.Sub(tc.lastEvent) >= s.cfg.ContextTTL {
			tc.terminal = true
			tc.terminalAt = now
			slog.Debug("Context idle past TTL, marking terminal", "correlation_id", cid)
		}
		if tc.terminal && now.Sub(tc.terminalAt) >= s.cfg.EvictionGrace {
			s.contexts.Remove(cid)
			slog.Debug("Context evicted", "correlation_id", cid)
		}
	}
}
