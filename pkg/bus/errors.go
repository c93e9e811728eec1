package bus

import "errors"

var (
	// ErrUnknownType indicates a publish with an event type outside the
	// closed vocabulary. The publish fails immediately; nothing is
	// dead-lettered.
	ErrUnknownType = errors.New("unknown event type")

	// ErrBackpressure indicates a subscriber queue stayed full past the
	// backpressure deadline. The publish fails; the caller decides.
	ErrBackpressure = errors.New("subscriber queue full past deadline")

	// ErrBusClosed indicates a publish after shutdown began.
	ErrBusClosed = errors.New("bus is shut down")

	// ErrMissingCorrelationID indicates an event without a correlation id.
	ErrMissingCorrelationID = errors.New("correlation_id is required")
)
