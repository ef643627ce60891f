package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/llm"
	"github.com/ekaya-inc/catalog-enricher/pkg/logging"
	"github.com/ekaya-inc/catalog-enricher/pkg/retry"
)

// defaultLLMRetry absorbs short provider blips inside one call.
// Longer outages surface as axis failures and are retried by the sweep.
func defaultLLMRetry() *retry.Config {
	return &retry.Config{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// llmCaller wraps one client with a circuit breaker and in-call retries.
type llmCaller struct {
	client  llm.LLMClient
	breaker *llm.CircuitBreaker
	retry   *retry.Config
	logger  *zap.Logger
}

func newLLMCaller(client llm.LLMClient, breaker *llm.CircuitBreaker, logger *zap.Logger) *llmCaller {
	if breaker == nil {
		breaker = llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig())
	}
	return &llmCaller{
		client:  client,
		breaker: breaker,
		retry:   defaultLLMRetry(),
		logger:  logger,
	}
}

// generate returns the raw completion text.
func (c *llmCaller) generate(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
	ctx = llm.WithRequestID(ctx, uuid.NewString())

	var content string
	err := c.breaker.Do(func() error {
		result, err := retry.DoWithResult(ctx, c.retry, func() (*llm.GenerateResponseResult, error) {
			r, err := c.client.GenerateResponse(ctx, prompt, systemMessage, temperature, false)
			if err != nil {
				classified := llm.ClassifyError(err)
				if classified.Retryable {
					c.logger.Warn("LLM call failed, retrying",
						zap.String("model", c.client.GetModel()),
						zap.String("error_type", string(classified.Type)),
						zap.Error(err))
				}
				return nil, classified
			}
			return r, nil
		})
		if err != nil {
			return err
		}
		content = result.Content
		return nil
	})
	if err != nil {
		c.logger.Debug("LLM call failed",
			zap.String("model", c.client.GetModel()),
			zap.String("circuit_state", c.breaker.State().String()),
			zap.Error(err))
		return "", fmt.Errorf("LLM call failed: %w", err)
	}
	return content, nil
}

// generateJSON runs generate in JSON-object mode and decodes the reply into T.
func generateJSON[T any](ctx context.Context, c *llmCaller, prompt, systemMessage string, temperature float64) (T, error) {
	var zero T
	content, err := c.generate(llm.WithJSONResponse(ctx), prompt, systemMessage, temperature)
	if err != nil {
		return zero, err
	}
	parsed, err := llm.ParseJSONResponse[T](content)
	if err != nil {
		c.logger.Debug("Failed to parse LLM response",
			zap.String("response_preview", logging.TruncateString(content, 200)),
			zap.Error(err))
		return zero, fmt.Errorf("parse LLM response: %w", err)
	}
	return parsed, nil
}
