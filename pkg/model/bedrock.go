package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/nfrguard/nfrguard/pkg/config"
)

// InvokeModelAPI is the subset of the Bedrock runtime client used by the
// invoker. Satisfied by *bedrockruntime.Client; tests inject fakes.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockInvoker performs raw calls against Bedrock: an Anthropic
// messages-format model for completions and a Titan model for embeddings.
type BedrockInvoker struct {
	client            InvokeModelAPI
	completionModelID string
	embeddingModelID  string
	dimension         int
}

// NewBedrockInvoker creates the production invoker. Credentials arrive
// through the SDK client's credential provider; none appear here.
func NewBedrockInvoker(client InvokeModelAPI, cfg *config.ModelConfig) *BedrockInvoker {
	return &BedrockInvoker{
		client:            client,
		completionModelID: cfg.CompletionModelID,
		embeddingModelID:  cfg.EmbeddingModelID,
		dimension:         cfg.EmbeddingDimension,
	}
}

// anthropicRequest is the Bedrock messages-API request body.
type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Temperature      *float64           `json:"temperature,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

const (
	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 1024
)

// Complete invokes the completion model with a single user turn.
func (b *BedrockInvoker) Complete(ctx context.Context, prompt, system string, opts CompleteOptions) (string, Usage, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := anthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		System:           system,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
	}
	if opts.Temperature > 0 {
		req.Temperature = &opts.Temperature
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("%w: marshal request: %s", ErrModelInvalid, err)
	}

	out, err := b.invoke(ctx, b.completionModelID, body)
	if err != nil {
		return "", Usage{}, err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", Usage{}, fmt.Errorf("%w: decode response: %s", ErrModelInvalid, err)
	}
	usage := Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		// The provider accepted the call but declined to answer.
		return "", usage, fmt.Errorf("%w: empty completion (stop_reason=%s)", ErrModelRejected, resp.StopReason)
	}
	return text, usage, nil
}

// titanEmbedRequest is the Titan v2 embedding request body.
type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed invokes the embedding model.
func (b *BedrockInvoker) Embed(ctx context.Context, text string) ([]float32, Usage, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text, Dimensions: b.dimension})
	if err != nil {
		return nil, Usage{}, fmt.Errorf("%w: marshal request: %s", ErrModelInvalid, err)
	}

	out, err := b.invoke(ctx, b.embeddingModelID, body)
	if err != nil {
		return nil, Usage{}, err
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, Usage{}, fmt.Errorf("%w: decode response: %s", ErrModelInvalid, err)
	}
	return resp.Embedding, Usage{InputTokens: resp.InputTextTokenCount}, nil
}

func (b *BedrockInvoker) invoke(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classify(err)
	}
	return out.Body, nil
}

// classify maps SDK errors onto the adapter taxonomy.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %s", ErrModelThrottled, apiErr.ErrorMessage())
		case "AccessDeniedException":
			return fmt.Errorf("%w: %s", ErrModelRejected, apiErr.ErrorMessage())
		case "ValidationException", "ModelErrorException":
			return fmt.Errorf("%w: %s", ErrModelInvalid, apiErr.ErrorMessage())
		case "ModelNotReadyException", "ModelTimeoutException", "ServiceUnavailableException", "InternalServerException":
			return fmt.Errorf("%w: %s", ErrModelUnavailable, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("%w: %s", ErrModelUnavailable, err)
}
