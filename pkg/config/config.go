package config

import "time"

// Config is the umbrella configuration object for the orchestration core.
// It is constructed once at startup (Load or Default) and passed by handle
// into every component; nothing in the core reads configuration globally.
type Config struct {
	// Model adapter configuration
	Model *ModelConfig

	// Retrieval index configuration
	Retrieval *RetrievalConfig

	// Event bus configuration
	Bus *BusConfig

	// Agent handler configuration
	Agents *AgentConfig

	// Pipeline supervisor configuration
	Supervisor *SupervisorConfig
}

// ModelConfig controls the model adapter: timeouts, retries, and the
// embedding contract shared with the retrieval index.
type ModelConfig struct {
	// EmbeddingDimension is D, the fixed dimension every embedding must have.
	// Chosen once per deployment; a response of any other length is invalid.
	EmbeddingDimension int

	// CompleteTimeout is the per-call deadline for chat completions.
	CompleteTimeout time.Duration

	// EmbedTimeout is the per-call deadline for embedding calls.
	EmbedTimeout time.Duration

	// RetryAttempts is the maximum number of attempts for retryable
	// failures (transport errors, throttling). Includes the first try.
	RetryAttempts int

	// MaxInFlight bounds concurrent model calls across all workers.
	MaxInFlight int

	// CompletionModelID and EmbeddingModelID select the foundation models.
	CompletionModelID string
	EmbeddingModelID  string
}

// RetrievalConfig controls chunking and search behavior.
type RetrievalConfig struct {
	// ChunkSize is the maximum chunk window in characters.
	ChunkSize int

	// ChunkOverlap is the number of characters shared between
	// consecutive chunks of one document.
	ChunkOverlap int

	// TopK is the default number of results returned by Search.
	TopK int

	// ExactCeiling is the corpus size (in chunks) up to which exact
	// brute-force k-NN is required.
	ExactCeiling int
}

// BusConfig controls queue depths, backpressure, and delivery retries.
type BusConfig struct {
	// QueueDepth is the bounded per-subscriber queue length.
	QueueDepth int

	// BackpressureDeadline is how long Publish blocks on a full
	// subscriber queue before failing with ErrBackpressure.
	BackpressureDeadline time.Duration

	// RetryDelays are the waits before redelivery attempts 1..n.
	// After len(RetryDelays) failed attempts the event is dead-lettered.
	RetryDelays []time.Duration

	// DeadLetterDepth caps each per-topic dead-letter queue; the oldest
	// entry is evicted (and counted) when the cap is exceeded.
	DeadLetterDepth int

	// ReplayDepth caps the per-topic retained history used by Replay.
	ReplayDepth int

	// DrainGrace is the shutdown window for draining subscriber queues.
	DrainGrace time.Duration
}

// AgentConfig holds the thresholds and windows shared by the seven handlers.
type AgentConfig struct {
	// HandlerTimeout is the per-invocation deadline for every handler.
	HandlerTimeout time.Duration

	// DedupWindow is the per-handler bounded set of processed event ids.
	DedupWindow int

	// RiskFlagThreshold is the minimum score that emits risk.flagged.
	RiskFlagThreshold float64

	// RiskHighAmount is the transaction amount at which the amount
	// component of the risk score saturates. Approximates account-history
	// thresholds the core does not own.
	RiskHighAmount float64

	// SentimentAlertThreshold is the score at or below which a customer
	// message raises an ops alert. Sentiment scores are in [-1, 1].
	SentimentAlertThreshold float64

	// ComplianceBlockThreshold and ComplianceHoldThreshold drive the
	// deterministic fallback rule table.
	ComplianceBlockThreshold float64
	ComplianceHoldThreshold  float64

	// KnowledgeQuietPeriod is how long the knowledge handler waits after
	// the last event for a correlation id before summarizing.
	KnowledgeQuietPeriod time.Duration

	// KnowledgeTTL bounds how long accumulated events are retained.
	KnowledgeTTL time.Duration
}

// SupervisorConfig controls transaction context lifecycle.
type SupervisorConfig struct {
	// ContextTTL is the idle time after which a context is terminal.
	ContextTTL time.Duration

	// EvictionGrace is the window a terminal context is retained for
	// late-arriving events before it is evicted.
	EvictionGrace time.Duration

	// MaxContexts caps the context map; least-recently-used entries are
	// evicted beyond it.
	MaxContexts int
}
