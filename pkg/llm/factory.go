package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/config"
)

// ProviderOpenAI and ProviderAnthropic name the supported primary providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LLMClientFactory is the interface for creating LLM clients.
// Use this interface for dependency injection and testing.
type LLMClientFactory interface {
	// CreatePrimary creates the client for the configured primary provider.
	CreatePrimary() (LLMClient, error)
	// CreateLocal creates the client for the locally hosted naming model.
	// Returns (nil, nil) when no local model is configured.
	CreateLocal() (LLMClient, error)
	// CreateEmbeddingClient creates the client used for remote embeddings.
	CreateEmbeddingClient() (LLMClient, error)
}

// ClientFactory creates LLM clients from the process configuration.
type ClientFactory struct {
	llmCfg       *config.LLMConfig
	embeddingCfg *config.EmbeddingConfig
	logger       *zap.Logger
}

// NewClientFactory creates a new factory.
func NewClientFactory(llmCfg *config.LLMConfig, embeddingCfg *config.EmbeddingConfig, logger *zap.Logger) *ClientFactory {
	return &ClientFactory{
		llmCfg:       llmCfg,
		embeddingCfg: embeddingCfg,
		logger:       logger,
	}
}

// CreatePrimary creates the client for the configured primary provider.
func (f *ClientFactory) CreatePrimary() (LLMClient, error) {
	switch f.llmCfg.Provider {
	case ProviderOpenAI, "":
		client, err := NewClient(&Config{
			Endpoint: f.llmCfg.BaseURL,
			Model:    f.llmCfg.Model,
			APIKey:   f.llmCfg.APIKey,
			Timeout:  f.llmCfg.RequestTimeout,
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("create client: %w", err)
		}
		return client, nil
	case ProviderAnthropic:
		client, err := NewAnthropicClient(f.llmCfg.AnthropicAPIKey, f.llmCfg.AnthropicModel, f.logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", f.llmCfg.Provider)
	}
}

// CreateLocal creates the client for the locally hosted naming model.
func (f *ClientFactory) CreateLocal() (LLMClient, error) {
	if !f.llmCfg.Local.IsAvailable() {
		return nil, nil
	}
	client, err := NewClient(&Config{
		Endpoint: f.llmCfg.Local.BaseURL,
		Model:    f.llmCfg.Local.Model,
		Timeout:  f.llmCfg.RequestTimeout,
	}, f.logger.Named("local"))
	if err != nil {
		return nil, fmt.Errorf("create local client: %w", err)
	}
	return client, nil
}

// CreateEmbeddingClient creates a client specifically for embeddings.
// Uses embedding-specific config if available, falls back to LLM config.
func (f *ClientFactory) CreateEmbeddingClient() (LLMClient, error) {
	endpoint := f.embeddingCfg.BaseURL
	if endpoint == "" {
		endpoint = f.llmCfg.BaseURL
	}
	apiKey := f.embeddingCfg.APIKey
	if apiKey == "" {
		apiKey = f.llmCfg.APIKey
	}

	client, err := NewClient(&Config{
		Endpoint: endpoint,
		Model:    f.embeddingCfg.Model,
		APIKey:   apiKey,
		Timeout:  f.llmCfg.RequestTimeout,
	}, f.logger.Named("embedding"))
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}

// Ensure ClientFactory implements LLMClientFactory at compile time.
var _ LLMClientFactory = (*ClientFactory)(nil)
