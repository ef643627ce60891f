package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const (
	anthropicEndpoint         = "https://api.anthropic.com/v1"
	defaultAnthropicMaxTokens = 2000
)

// AnthropicClient serves completions from the Anthropic Messages API.
// It has no embedding endpoint; embeddings must come from another provider.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewAnthropicClient creates a client for the given model.
func NewAnthropicClient(apiKey, model string, logger *zap.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(apiKey),
		model:     model,
		maxTokens: defaultAnthropicMaxTokens,
		logger:    logger.Named("llm.anthropic"),
	}, nil
}

// GenerateResponse sends the system message and prompt as text blocks of one
// user turn. thinking is ignored.
func (c *AnthropicClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
	thinking bool,
) (*GenerateResponseResult, error) {
	content := make([]anthropic.MessageContent, 0, 2)
	if systemMessage != "" {
		content = append(content, anthropic.MessageContent{Type: "text", Text: &systemMessage})
	}
	if WantsJSONResponse(ctx) {
		prompt += "\n\nReturn ONLY JSON."
	}
	content = append(content, anthropic.MessageContent{Type: "text", Text: &prompt})

	temp := float32(temperature)
	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: content},
		},
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.String("request_id", GetRequestID(ctx)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		llmErr := ClassifyError(err)
		llmErr.Model = c.model
		llmErr.Endpoint = anthropicEndpoint
		return nil, llmErr
	}

	text := extractAnthropicText(resp)
	if text == "" {
		return nil, NewErrorWithContext(ErrorTypeResponse, "no text in response", true, nil, c.model, anthropicEndpoint, 0)
	}

	c.logger.Debug("LLM request completed",
		zap.String("request_id", GetRequestID(ctx)),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &GenerateResponseResult{
		Content:          text,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

func extractAnthropicText(resp anthropic.MessagesResponse) string {
	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			parts = append(parts, *block.Text)
		}
	}
	return strings.Join(parts, "")
}

// CreateEmbedding is not supported by the Anthropic API.
func (c *AnthropicClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	return nil, NewError(ErrorTypeUnsupported, "anthropic does not provide embeddings", false, nil)
}

// CreateEmbeddings is not supported by the Anthropic API.
func (c *AnthropicClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	return nil, NewError(ErrorTypeUnsupported, "anthropic does not provide embeddings", false, nil)
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// GetEndpoint returns the Messages API endpoint.
func (c *AnthropicClient) GetEndpoint() string {
	return anthropicEndpoint
}
