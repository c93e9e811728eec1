package bus

import (
	"log/slog"
	"sync"
	"time"
)

// historyStore retains recently published events per topic for Replay.
// Bounded: the oldest events are dropped beyond the configured depth.
type historyStore struct {
	mu    sync.Mutex
	depth int
	byTop map[Topic][]Event
}

func newHistoryStore(depth int) *historyStore {
	return &historyStore{
		depth: depth,
		byTop: make(map[Topic][]Event),
	}
}

func (h *historyStore) add(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := append(h.byTop[ev.EventType], ev)
	if len(q) > h.depth {
		q = q[len(q)-h.depth:]
	}
	h.byTop[ev.EventType] = q
}

// since returns retained events for topic with Timestamp >= since, in
// publish order.
func (h *historyStore) since(topic Topic, since time.Time) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, ev := range h.byTop[topic] {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out
}

// observer is a best-effort tap on every published event. Observers never
// apply backpressure to publishers: a full channel drops the event and
// increments the observer's drop counter.
type observer struct {
	name    string
	ch      chan Event
	dropped int
}

// Observe registers a tap receiving a copy of every published event. The
// returned cancel function removes the tap and closes the channel.
func (b *Bus) Observe(name string, buffer int) (<-chan Event, func()) {
	obs := &observer{name: name, ch: make(chan Event, buffer)}

	b.obsMu.Lock()
	id := b.nextObsID
	b.nextObsID++
	b.observers[id] = obs
	b.obsMu.Unlock()

	cancel := func() {
		b.obsMu.Lock()
		if o, ok := b.observers[id]; ok {
			delete(b.observers, id)
			close(o.ch)
		}
		b.obsMu.Unlock()
	}
	return obs.ch, cancel
}

func (b *Bus) notifyObservers(ev Event) {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	for _, obs := range b.observers {
		select {
		case obs.ch <- ev:
		default:
			obs.dropped++
			if obs.dropped == 1 || obs.dropped%1000 == 0 {
				slog.Warn("Observer falling behind, dropping events",
					"observer", obs.name, "dropped", obs.dropped)
			}
		}
	}
}
