// Package model is the adapter between handlers and the foundation-model
// provider: one chat-completion operation and one text-embedding operation,
// with retry, timeout, a bounded connection pool, and token accounting.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/nfrguard/nfrguard/pkg/config"
)

// CompleteOptions tune a single completion call. Zero values fall back to
// the invoker's defaults.
type CompleteOptions struct {
	MaxTokens   int
	Temperature float64
}

// Usage is the token count reported by the provider for one call.
// Recorded for observability; it never affects correctness.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Invoker performs one raw model call. Implementations classify failures
// into the package's error taxonomy; the Client owns retries and deadlines.
// *BedrockInvoker is the production implementation; tests inject fakes.
type Invoker interface {
	Complete(ctx context.Context, prompt, system string, opts CompleteOptions) (string, Usage, error)
	Embed(ctx context.Context, text string) ([]float32, Usage, error)
}

// Client is the model adapter handed to every agent handler. Stateless per
// call; the in-flight semaphore is shared across all delivery workers.
type Client struct {
	invoker Invoker
	cfg     *config.ModelConfig

	// inFlight bounds concurrent calls (the "connection pool").
	inFlight chan struct{}

	inputTokens  atomic.Int64
	outputTokens atomic.Int64
}

// retryBackoffBase is the first wait between retryable attempts; each
// subsequent wait doubles, with ±25% jitter.
const retryBackoffBase = 200 * time.Millisecond

// NewClient creates the adapter around an invoker.
func NewClient(invoker Invoker, cfg *config.ModelConfig) *Client {
	return &Client{
		invoker:  invoker,
		cfg:      cfg,
		inFlight: make(chan struct{}, cfg.MaxInFlight),
	}
}

// Complete runs a chat completion. ErrModelUnavailable and ErrModelThrottled
// are retried with exponential backoff up to the configured attempt budget;
// ErrModelRejected and ErrModelInvalid surface immediately.
func (c *Client) Complete(ctx context.Context, prompt, system string, opts CompleteOptions) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CompleteTimeout)
		text, usage, err := c.invoker.Complete(callCtx, prompt, system, opts)
		cancel()

		if err == nil {
			c.record(usage)
			return text, nil
		}
		if !retryableComplete(err) {
			return "", err
		}
		lastErr = err
		if attempt < c.cfg.RetryAttempts {
			if !c.backoff(ctx, attempt) {
				return "", fmt.Errorf("%w: %s", ErrModelUnavailable, ctx.Err())
			}
		}
	}
	return "", fmt.Errorf("complete failed after %d attempts: %w", c.cfg.RetryAttempts, lastErr)
}

// Embed produces an embedding of exactly the configured dimension. Only
// transport errors are retried; any other failure, including a wrong-length
// vector, surfaces immediately.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.EmbedTimeout)
		vec, usage, err := c.invoker.Embed(callCtx, text)
		cancel()

		if err == nil {
			if len(vec) != c.cfg.EmbeddingDimension {
				return nil, fmt.Errorf("%w: embedding dimension %d, want %d",
					ErrModelInvalid, len(vec), c.cfg.EmbeddingDimension)
			}
			c.record(usage)
			return vec, nil
		}
		if !errors.Is(err, ErrModelUnavailable) {
			return nil, err
		}
		lastErr = err
		if attempt < c.cfg.RetryAttempts {
			if !c.backoff(ctx, attempt) {
				return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, ctx.Err())
			}
		}
	}
	return nil, fmt.Errorf("embed failed after %d attempts: %w", c.cfg.RetryAttempts, lastErr)
}

// TokensUsed returns the cumulative input and output token counts.
func (c *Client) TokensUsed() (input, output int64) {
	return c.inputTokens.Load(), c.outputTokens.Load()
}

func (c *Client) record(u Usage) {
	if u.InputTokens > 0 {
		c.inputTokens.Add(int64(u.InputTokens))
	}
	if u.OutputTokens > 0 {
		c.outputTokens.Add(int64(u.OutputTokens))
	}
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.inFlight <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrModelUnavailable, ctx.Err())
	}
}

func (c *Client) release() { <-c.inFlight }

// backoff sleeps for base*2^(attempt-1) with ±25% jitter; it reports false
// when the context ended first.
func (c *Client) backoff(ctx context.Context, attempt int) bool {
	delay := retryBackoffBase << (attempt - 1)
	jitter := time.Duration(rand.Int64N(int64(delay)/2)) - delay/4
	delay += jitter

	slog.Debug("Retrying model call", "attempt", attempt, "delay", delay)
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func retryableComplete(err error) bool {
	return errors.Is(err, ErrModelUnavailable) || errors.Is(err, ErrModelThrottled)
}
