package bus

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// DeadLetterEntry is a failed event set aside for inspection. Entries are
// retained, never automatically redelivered.
type DeadLetterEntry struct {
	Event      Event     `json:"event"`
	Subscriber string    `json:"subscriber"`
	Reason     string    `json:"reason"`
	FailedAt   time.Time `json:"failed_at"`
}

// deadLetterStore keeps bounded per-topic dead-letter queues. When a topic
// queue exceeds its cap the oldest entry is dropped and counted.
type deadLetterStore struct {
	mu      sync.Mutex
	depth   int
	entries map[Topic][]DeadLetterEntry
	evicted map[Topic]int
}

func newDeadLetterStore(depth int) *deadLetterStore {
	return &deadLetterStore{
		depth:   depth,
		entries: make(map[Topic][]DeadLetterEntry),
		evicted: make(map[Topic]int),
	}
}

func (s *deadLetterStore) add(entry DeadLetterEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	topic := entry.Event.EventType
	q := append(s.entries[topic], entry)
	if len(q) > s.depth {
		drop := len(q) - s.depth
		q = q[drop:]
		s.evicted[topic] += drop
	}
	s.entries[topic] = q
}

// list returns a copy of the dead-letter queue for a topic.
func (s *deadLetterStore) list(topic Topic) []DeadLetterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.entries[topic]
	out := make([]DeadLetterEntry, len(q))
	copy(out, q)
	return out
}

// evictedCount returns how many entries were dropped from a topic's queue.
func (s *deadLetterStore) evictedCount(topic Topic) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted[topic]
}

// dump writes every retained entry as one JSON object per line, for
// post-mortem inspection after shutdown.
func (s *deadLetterStore) dump(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(w)
	for _, topic := range Topics() {
		for _, entry := range s.entries[topic] {
			if err := enc.Encode(entry); err != nil {
				return err
			}
		}
	}
	return nil
}
