package config

import "fmt"

// Validate performs range checks on every section (fail-fast: stops at the
// first error with a field-qualified message).
func Validate(cfg *Config) error {
	if err := validateModel(cfg.Model); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := validateRetrieval(cfg.Retrieval); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := validateBus(cfg.Bus); err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	if err := validateAgents(cfg.Agents); err != nil {
		return fmt.Errorf("agents: %w", err)
	}
	if err := validateSupervisor(cfg.Supervisor); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}

func validateModel(m *ModelConfig) error {
	if m.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding_dimension must be positive, got %d", m.EmbeddingDimension)
	}
	if m.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1, got %d", m.RetryAttempts)
	}
	if m.MaxInFlight < 1 {
		return fmt.Errorf("max_in_flight must be at least 1, got %d", m.MaxInFlight)
	}
	if m.CompleteTimeout <= 0 || m.EmbedTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

func validateRetrieval(r *RetrievalConfig) error {
	if r.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size_chars must be positive, got %d", r.ChunkSize)
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return fmt.Errorf("chunk_overlap_chars must be in [0, chunk_size), got %d", r.ChunkOverlap)
	}
	if r.TopK < 1 {
		return fmt.Errorf("retrieval_top_k must be at least 1, got %d", r.TopK)
	}
	if r.ExactCeiling < 1 {
		return fmt.Errorf("retrieval_exact_ceiling_chunks must be at least 1, got %d", r.ExactCeiling)
	}
	return nil
}

func validateBus(b *BusConfig) error {
	if b.QueueDepth < 1 {
		return fmt.Errorf("subscriber_queue_depth must be at least 1, got %d", b.QueueDepth)
	}
	if b.BackpressureDeadline <= 0 {
		return fmt.Errorf("publish_backpressure_deadline_ms must be positive")
	}
	if len(b.RetryDelays) == 0 {
		return fmt.Errorf("retry_delays must not be empty")
	}
	if b.DeadLetterDepth < 1 {
		return fmt.Errorf("dead_letter_depth must be at least 1, got %d", b.DeadLetterDepth)
	}
	return nil
}

func validateAgents(a *AgentConfig) error {
	if a.HandlerTimeout <= 0 {
		return fmt.Errorf("handler_timeout_ms must be positive")
	}
	if a.DedupWindow < 1 {
		return fmt.Errorf("dedup_window must be at least 1, got %d", a.DedupWindow)
	}
	for name, v := range map[string]float64{
		"risk_score_flag_threshold":  a.RiskFlagThreshold,
		"compliance_block_threshold": a.ComplianceBlockThreshold,
		"compliance_hold_threshold":  a.ComplianceHoldThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %v", name, v)
		}
	}
	if a.RiskHighAmount <= 0 {
		return fmt.Errorf("risk_high_amount must be positive, got %v", a.RiskHighAmount)
	}
	if a.SentimentAlertThreshold < -1 || a.SentimentAlertThreshold > 1 {
		return fmt.Errorf("sentiment_alert_threshold must be in [-1, 1], got %v", a.SentimentAlertThreshold)
	}
	if a.ComplianceHoldThreshold > a.ComplianceBlockThreshold {
		return fmt.Errorf("compliance_hold_threshold (%v) must not exceed compliance_block_threshold (%v)",
			a.ComplianceHoldThreshold, a.ComplianceBlockThreshold)
	}
	return nil
}

func validateSupervisor(s *SupervisorConfig) error {
	if s.ContextTTL <= 0 {
		return fmt.Errorf("context_ttl_ms must be positive")
	}
	if s.MaxContexts < 1 {
		return fmt.Errorf("max_contexts must be at least 1, got %d", s.MaxContexts)
	}
	return nil
}
