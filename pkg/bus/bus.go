package bus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nfrguard/nfrguard/pkg/config"
)

// HandlerFunc processes one delivered event. A non-nil error fails the
// delivery and triggers the redelivery/dead-letter policy.
type HandlerFunc func(ctx context.Context, ev Event) error

// Subscription is a registered (topic, subscriber) pair. Each subscription
// owns one delivery worker goroutine that dequeues and invokes the handler
// sequentially, so delivery is FIFO per subscription.
type Subscription struct {
	topic Topic
	name  string
	fn    HandlerFunc
	queue chan Event

	closeOnce sync.Once
	removed   bool
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() Topic { return s.topic }

// Name returns the subscriber name.
func (s *Subscription) Name() string { return s.name }

// Bus is the in-process event broker. Construct one per process with New and
// pass it by handle; tests construct their own instances.
type Bus struct {
	cfg *config.BusConfig

	mu     sync.RWMutex
	subs   map[Topic][]*Subscription
	closed bool

	dead    *deadLetterStore
	history *historyStore

	obsMu     sync.Mutex
	observers map[int]*observer
	nextObsID int

	remote   RemoteTransport
	fallback FallbackTransport
	forwardQ chan Event

	workerWG  sync.WaitGroup
	forwardWG sync.WaitGroup
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithRemoteTransport attaches the managed event bus used for best-effort
// cross-process forwarding.
func WithRemoteTransport(t RemoteTransport) Option {
	return func(b *Bus) { b.remote = t }
}

// WithFallbackTransport attaches the simpler notification channel used when
// the remote transport exhausts its retry budget.
func WithFallbackTransport(t FallbackTransport) Option {
	return func(b *Bus) { b.fallback = t }
}

// New creates a Bus and starts its remote forwarding worker.
func New(cfg *config.BusConfig, opts ...Option) *Bus {
	b := &Bus{
		cfg:       cfg,
		subs:      make(map[Topic][]*Subscription),
		dead:      newDeadLetterStore(cfg.DeadLetterDepth),
		history:   newHistoryStore(cfg.ReplayDepth),
		observers: make(map[int]*observer),
		forwardQ:  make(chan Event, cfg.QueueDepth),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.forwardWG.Add(1)
	go b.runForwarder()
	return b
}

// Subscribe registers a handler for a topic and starts its delivery worker.
// The subscription applies only to events published after it completes.
func (b *Bus) Subscribe(topic Topic, name string, fn HandlerFunc) *Subscription {
	sub := &Subscription{
		topic: topic,
		name:  name,
		fn:    fn,
		queue: make(chan Event, b.cfg.QueueDepth),
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	b.workerWG.Add(1)
	go b.runWorker(sub)

	slog.Debug("Subscribed", "topic", topic, "subscriber", name)
	return sub
}

// Unsubscribe removes a subscription and stops its worker once the queue
// drains. It is idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if !sub.removed {
		sub.removed = true
		subs := b.subs[sub.topic]
		for i, s := range subs {
			if s == sub {
				b.subs[sub.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
	sub.closeOnce.Do(func() { close(sub.queue) })
}

// Publish validates and delivers an event. The event id is assigned if
// absent and the timestamp is stamped at publish. Local delivery is
// authoritative; remote forwarding is best-effort and never fails the
// publish.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if !ev.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, ev.EventType)
	}
	if ev.CorrelationID == "" {
		return ErrMissingCorrelationID
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	ev.Timestamp = time.Now().Truncate(time.Millisecond)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	b.history.add(ev)
	b.notifyObservers(ev)

	for _, sub := range b.subs[ev.EventType] {
		if err := b.enqueue(ctx, sub, ev); err != nil {
			return err
		}
	}

	// Best-effort handoff to the remote forwarder. A full forward queue
	// drops the remote copy, never the local delivery.
	select {
	case b.forwardQ <- ev:
	default:
		slog.Warn("Forward queue full, dropping remote copy",
			"event_type", ev.EventType, "event_id", ev.EventID)
	}
	return nil
}

// enqueue places the event on one subscriber queue, blocking up to the
// backpressure deadline when the queue is full.
func (b *Bus) enqueue(ctx context.Context, sub *Subscription, ev Event) error {
	select {
	case sub.queue <- ev:
		return nil
	default:
	}

	timer := time.NewTimer(b.cfg.BackpressureDeadline)
	defer timer.Stop()
	select {
	case sub.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: subscriber %q on %s", ErrBackpressure, sub.name, sub.topic)
	}
}

// runWorker is the per-subscription delivery loop: strictly sequential, so
// ordering within the (topic, subscriber) pair is publish order.
func (b *Bus) runWorker(sub *Subscription) {
	defer b.workerWG.Done()
	for ev := range sub.queue {
		b.deliver(sub, ev)
	}
}

// deliver invokes the handler, redelivering with the configured delays on
// failure and dead-lettering after the final attempt.
func (b *Bus) deliver(sub *Subscription, ev Event) {
	err := b.invoke(sub, ev)
	if err == nil {
		return
	}

	for _, delay := range b.cfg.RetryDelays {
		if !b.sleep(delay) {
			b.deadLetter(sub, ev, "shutdown during redelivery wait")
			return
		}
		ev.Attempt++
		slog.Warn("Redelivering event",
			"topic", ev.EventType, "subscriber", sub.name,
			"event_id", ev.EventID, "attempt", ev.Attempt, "error", err)
		if err = b.invoke(sub, ev); err == nil {
			return
		}
	}
	b.deadLetter(sub, ev, err.Error())
}

// invoke runs the handler with panic capture; a panic fails the delivery
// like any other handler error.
func (b *Bus) invoke(sub *Subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return sub.fn(context.Background(), ev)
}

func (b *Bus) deadLetter(sub *Subscription, ev Event, reason string) {
	slog.Error("Dead-lettering event",
		"topic", ev.EventType, "subscriber", sub.name,
		"event_id", ev.EventID, "attempt", ev.Attempt, "reason", reason)
	b.dead.add(DeadLetterEntry{
		Event:      ev,
		Subscriber: sub.name,
		Reason:     reason,
		FailedAt:   time.Now(),
	})
}

// sleep waits for d or until shutdown is forced; it reports whether the
// full wait elapsed.
func (b *Bus) sleep(d time.Duration) bool {
	select {
	case <-b.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// DeadLetters returns a copy of the dead-letter queue for a topic.
func (b *Bus) DeadLetters(topic Topic) []DeadLetterEntry {
	return b.dead.list(topic)
}

// DeadLetterEvictions returns how many dead-letter entries were evicted for
// a topic because the queue was at capacity.
func (b *Bus) DeadLetterEvictions(topic Topic) int {
	return b.dead.evictedCount(topic)
}

// Replay re-emits retained events for a topic with timestamps at or after
// since to all current subscribers of that topic. Handler idempotence makes
// this safe.
func (b *Bus) Replay(ctx context.Context, topic Topic, since time.Time) (int, error) {
	if !topic.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, topic)
	}
	events := b.history.since(topic, since)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrBusClosed
	}
	for _, ev := range events {
		for _, sub := range b.subs[topic] {
			if err := b.enqueue(ctx, sub, ev); err != nil {
				return 0, err
			}
		}
	}
	return len(events), nil
}

// Close stops accepting publishes, drains subscriber queues within the
// configured grace window, and stops the forwarder. Handlers still running
// at grace-end are logged as orphaned.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.closeOnce.Do(func() { close(sub.queue) })
	}

	done := make(chan struct{})
	go func() {
		b.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Bus drained")
	case <-time.After(b.cfg.DrainGrace):
		b.stopOnce.Do(func() { close(b.stopCh) })
		slog.Warn("Drain grace expired; orphaned handlers remain", "grace", b.cfg.DrainGrace)
	}

	close(b.forwardQ)
	b.forwardWG.Wait()

	b.obsMu.Lock()
	for id, obs := range b.observers {
		close(obs.ch)
		delete(b.observers, id)
	}
	b.obsMu.Unlock()
}

// DumpDeadLetters writes all retained dead-letter entries as JSON lines.
func (b *Bus) DumpDeadLetters(w io.Writer) error {
	return b.dead.dump(w)
}
