package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// RemoteTransport is the managed event bus used for cross-process delivery.
// PutEvents returns one result per input event; a nil error in the slice
// means that event was accepted. The overall error reports a transport-level
// failure affecting the whole batch.
type RemoteTransport interface {
	PutEvents(ctx context.Context, events []Event) ([]error, error)
}

// FallbackTransport is the simpler notification channel used when the remote
// transport exhausts its retry budget. Idempotence is the receiver's
// responsibility.
type FallbackTransport interface {
	Publish(ctx context.Context, topic Topic, payload []byte) error
}

// Remote forwarding retry budget. Forwarding is best-effort: exhausting both
// transports is logged and local delivery is unaffected.
const (
	forwardAttempts  = 3
	forwardBaseDelay = 200 * time.Millisecond
	forwardTimeout   = 5 * time.Second
	forwardBatchMax  = 10
)

// runForwarder drains the forward queue and pushes events to the remote
// transport in small batches, falling back to the fallback transport per
// event when the remote retry budget is exhausted.
func (b *Bus) runForwarder() {
	defer b.forwardWG.Done()
	for ev := range b.forwardQ {
		batch := []Event{ev}
		// Opportunistically batch whatever else is already queued.
		for len(batch) < forwardBatchMax {
			select {
			case next, ok := <-b.forwardQ:
				if !ok {
					b.forwardBatch(batch)
					return
				}
				batch = append(batch, next)
			default:
				goto send
			}
		}
	send:
		b.forwardBatch(batch)
	}
}

func (b *Bus) forwardBatch(batch []Event) {
	if b.remote == nil && b.fallback == nil {
		return
	}

	remaining := batch
	if b.remote != nil {
		remaining = b.putWithRetry(batch)
		if len(remaining) == 0 {
			return
		}
	}

	if b.fallback == nil {
		slog.Error("Remote transport failed and no fallback configured",
			"events", len(remaining))
		return
	}
	for _, ev := range remaining {
		b.publishFallback(ev)
	}
}

// putWithRetry attempts remote delivery with exponential backoff and returns
// the events that were not accepted.
func (b *Bus) putWithRetry(batch []Event) []Event {
	delay := forwardBaseDelay
	for attempt := 1; attempt <= forwardAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		results, err := b.remote.PutEvents(ctx, batch)
		cancel()

		if err != nil {
			slog.Warn("Remote transport batch failed",
				"attempt", attempt, "events", len(batch), "error", err)
		} else {
			var failed []Event
			for i, res := range results {
				if res != nil {
					failed = append(failed, batch[i])
				}
			}
			if len(failed) == 0 {
				return nil
			}
			slog.Warn("Remote transport rejected entries",
				"attempt", attempt, "failed", len(failed))
			batch = failed
		}

		if attempt < forwardAttempts && !b.sleep(delay) {
			return batch
		}
		delay *= 2
	}
	return batch
}

func (b *Bus) publishFallback(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal event for fallback transport",
			"event_id", ev.EventID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()
	if err := b.fallback.Publish(ctx, ev.EventType, payload); err != nil {
		slog.Error("Fallback transport failed; remote copy lost",
			"event_type", ev.EventType, "event_id", ev.EventID, "error", err)
	}
}
