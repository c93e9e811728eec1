package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load builds the configuration from defaults overridden by environment
// variables. When envPath is non-empty, a .env file is loaded first (existing
// environment wins). The result is validated before being returned.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			slog.Warn("Could not load .env file, continuing with existing environment",
				"path", envPath, "error", err)
		} else {
			slog.Info("Loaded environment", "path", envPath)
		}
	}

	cfg := Default()
	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays recognized environment variables onto cfg.
func applyEnv(cfg *Config) {
	intVar(&cfg.Model.EmbeddingDimension, "EMBEDDING_DIMENSION")
	msVar(&cfg.Model.CompleteTimeout, "MODEL_COMPLETE_TIMEOUT_MS")
	msVar(&cfg.Model.EmbedTimeout, "MODEL_EMBED_TIMEOUT_MS")
	intVar(&cfg.Model.RetryAttempts, "MODEL_RETRY_ATTEMPTS")
	intVar(&cfg.Model.MaxInFlight, "MODEL_MAX_IN_FLIGHT")
	strVar(&cfg.Model.CompletionModelID, "COMPLETION_MODEL_ID")
	strVar(&cfg.Model.EmbeddingModelID, "EMBEDDING_MODEL_ID")

	intVar(&cfg.Retrieval.ChunkSize, "CHUNK_SIZE_CHARS")
	intVar(&cfg.Retrieval.ChunkOverlap, "CHUNK_OVERLAP_CHARS")
	intVar(&cfg.Retrieval.TopK, "RETRIEVAL_TOP_K")
	intVar(&cfg.Retrieval.ExactCeiling, "RETRIEVAL_EXACT_CEILING_CHUNKS")

	intVar(&cfg.Bus.QueueDepth, "SUBSCRIBER_QUEUE_DEPTH")
	msVar(&cfg.Bus.BackpressureDeadline, "PUBLISH_BACKPRESSURE_DEADLINE_MS")
	intVar(&cfg.Bus.DeadLetterDepth, "DEAD_LETTER_DEPTH")

	msVar(&cfg.Agents.HandlerTimeout, "HANDLER_TIMEOUT_MS")
	intVar(&cfg.Agents.DedupWindow, "HANDLER_DEDUP_WINDOW")
	floatVar(&cfg.Agents.RiskFlagThreshold, "RISK_SCORE_FLAG_THRESHOLD")
	floatVar(&cfg.Agents.RiskHighAmount, "RISK_HIGH_AMOUNT")
	floatVar(&cfg.Agents.SentimentAlertThreshold, "SENTIMENT_ALERT_THRESHOLD")
	floatVar(&cfg.Agents.ComplianceBlockThreshold, "COMPLIANCE_BLOCK_THRESHOLD")
	floatVar(&cfg.Agents.ComplianceHoldThreshold, "COMPLIANCE_HOLD_THRESHOLD")
	msVar(&cfg.Agents.KnowledgeQuietPeriod, "KNOWLEDGE_QUIET_PERIOD_MS")

	msVar(&cfg.Supervisor.ContextTTL, "CONTEXT_TTL_MS")
	intVar(&cfg.Supervisor.MaxContexts, "SUPERVISOR_MAX_CONTEXTS")
}

func strVar(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intVar(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", v)
		return
	}
	*dst = n
}

func floatVar(dst *float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("Ignoring non-numeric environment value", "key", key, "value", v)
		return
	}
	*dst = f
}

// msVar reads an integer environment value interpreted as milliseconds.
func msVar(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", v)
		return
	}
	*dst = time.Duration(n) * time.Millisecond
}
