package llm

import (
	"context"
	"sync"
)

// MockLLMClient is a configurable mock for testing LLM functionality.
// Set the function fields to control behavior in tests. Safe for concurrent use.
type MockLLMClient struct {
	// GenerateResponseFunc is called when GenerateResponse is invoked.
	// If nil, returns empty result and nil error.
	GenerateResponseFunc func(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error)

	// CreateEmbeddingsFunc is called by CreateEmbedding and CreateEmbeddings.
	// If nil, returns nil slice and nil error.
	CreateEmbeddingsFunc func(ctx context.Context, inputs []string, model string) ([][]float32, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	// Endpoint is returned by GetEndpoint. Defaults to "http://mock-endpoint".
	Endpoint string

	mu                    sync.Mutex
	prompts               []string
	generateResponseCalls int
	createEmbeddingsCalls int
}

// NewMockLLMClient creates a new mock with sensible defaults.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		Model:    "mock-model",
		Endpoint: "http://mock-endpoint",
	}
}

// GenerateResponse implements LLMClient.
func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64, thinking bool) (*GenerateResponseResult, error) {
	m.mu.Lock()
	m.generateResponseCalls++
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, prompt, systemMessage, temperature, thinking)
	}
	return &GenerateResponseResult{}, nil
}

// CreateEmbedding implements LLMClient.
func (m *MockLLMClient) CreateEmbedding(ctx context.Context, input string, model string) ([]float32, error) {
	vecs, err := m.CreateEmbeddings(ctx, []string{input}, model)
	if err != nil || len(vecs) == 0 {
		return nil, err
	}
	return vecs[0], nil
}

// CreateEmbeddings implements LLMClient.
func (m *MockLLMClient) CreateEmbeddings(ctx context.Context, inputs []string, model string) ([][]float32, error) {
	m.mu.Lock()
	m.createEmbeddingsCalls++
	m.mu.Unlock()

	if m.CreateEmbeddingsFunc != nil {
		return m.CreateEmbeddingsFunc(ctx, inputs, model)
	}
	return nil, nil
}

// GetModel implements LLMClient.
func (m *MockLLMClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// GetEndpoint implements LLMClient.
func (m *MockLLMClient) GetEndpoint() string {
	if m.Endpoint == "" {
		return "http://mock-endpoint"
	}
	return m.Endpoint
}

// GenerateResponseCalls returns how many completions were requested.
func (m *MockLLMClient) GenerateResponseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateResponseCalls
}

// CreateEmbeddingsCalls returns how many embedding requests were made.
func (m *MockLLMClient) CreateEmbeddingsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createEmbeddingsCalls
}

// Prompts returns a copy of every prompt received, in call order.
func (m *MockLLMClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Reset clears call tracking counters.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateResponseCalls = 0
	m.createEmbeddingsCalls = 0
	m.prompts = nil
}

// MockClientFactory is a configurable mock for testing LLM client creation.
type MockClientFactory struct {
	// Primary is returned by CreatePrimary. Defaults to a new MockLLMClient.
	Primary LLMClient
	// Local is returned by CreateLocal; nil means no local model.
	Local LLMClient
	// Embedding is returned by CreateEmbeddingClient. Defaults to Primary.
	Embedding LLMClient
	// Err, when set, is returned by every method.
	Err error
}

// NewMockClientFactory creates a new mock client factory.
func NewMockClientFactory() *MockClientFactory {
	return &MockClientFactory{Primary: NewMockLLMClient()}
}

// CreatePrimary implements LLMClientFactory.
func (f *MockClientFactory) CreatePrimary() (LLMClient, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Primary, nil
}

// CreateLocal implements LLMClientFactory.
func (f *MockClientFactory) CreateLocal() (LLMClient, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Local, nil
}

// CreateEmbeddingClient implements LLMClientFactory.
func (f *MockClientFactory) CreateEmbeddingClient() (LLMClient, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Embedding != nil {
		return f.Embedding, nil
	}
	return f.Primary, nil
}

// Ensure MockClientFactory implements LLMClientFactory at compile time.
var _ LLMClientFactory = (*MockClientFactory)(nil)
