package config

import "time"

// Default returns the built-in configuration. Every value can be overridden
// through the environment (see Load).
func Default() *Config {
	return &Config{
		Model: &ModelConfig{
			EmbeddingDimension: 768,
			CompleteTimeout:    30 * time.Second,
			EmbedTimeout:       10 * time.Second,
			RetryAttempts:      5,
			MaxInFlight:        16,
			CompletionModelID:  "anthropic.claude-3-5-sonnet-20241022-v2:0",
			EmbeddingModelID:   "amazon.titan-embed-text-v2:0",
		},
		Retrieval: &RetrievalConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			TopK:         5,
			ExactCeiling: 100_000,
		},
		Bus: &BusConfig{
			QueueDepth:           1024,
			BackpressureDeadline: 2 * time.Second,
			RetryDelays:          []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
			DeadLetterDepth:      10_000,
			ReplayDepth:          10_000,
			DrainGrace:           30 * time.Second,
		},
		Agents: &AgentConfig{
			HandlerTimeout:           30 * time.Second,
			DedupWindow:              10_000,
			RiskFlagThreshold:        0.8,
			RiskHighAmount:           50_000,
			SentimentAlertThreshold:  -0.5,
			ComplianceBlockThreshold: 0.95,
			ComplianceHoldThreshold:  0.9,
			KnowledgeQuietPeriod:     5 * time.Second,
			KnowledgeTTL:             10 * time.Minute,
		},
		Supervisor: &SupervisorConfig{
			ContextTTL:    10 * time.Minute,
			EvictionGrace: 1 * time.Minute,
			MaxContexts:   100_000,
		},
	}
}
