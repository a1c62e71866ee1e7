// Package embed provides embedding provider clients for semantic search.
//
// A Provider maps note text to a fixed-dimension vector. Two HTTP-backed
// providers are included:
//   - Ollama: local open-source models (mxbai-embed-large, nomic-embed-text)
//   - OpenAI: cloud API or any OpenAI-compatible endpoint (llama.cpp, vLLM)
//
// The provider is an external collaborator and may be down at any time.
// Every transport, timeout, or protocol failure is normalized to
// ErrUnavailable so callers can degrade (lexical-only search, skipped
// evolution) instead of failing. Calls are bounded by the configured
// timeout; a slow provider never hangs the caller.
//
// Example:
//
//	provider := embed.NewOllama(nil) // localhost:11434, mxbai-embed-large
//
//	vec, err := provider.Embed(ctx, "graph database memory")
//	if errors.Is(err, embed.ErrUnavailable) {
//		// degrade to lexical-only
//	}
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable is returned when the provider cannot produce an
// embedding: connection refused, timeout, non-200 response, or a malformed
// body. Callers degrade rather than propagate.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider generates vector embeddings from text.
//
// Implementations must be safe for concurrent use from multiple
// goroutines.
type Provider interface {
	// Embed generates an embedding for a single text. Bounded by the
	// provider's configured timeout; failures surface as ErrUnavailable.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector dimension.
	Dimensions() int

	// Model returns the model name.
	Model() string
}

// Config holds embedding provider configuration.
type Config struct {
	Provider   string        // ollama, openai
	APIURL     string        // e.g. http://localhost:11434
	APIPath    string        // e.g. /api/embeddings or /v1/embeddings
	APIKey     string        // openai only (use a dummy for llama.cpp)
	Model      string        // e.g. mxbai-embed-large
	Dimensions int           // expected dimensions, validated on response
	Timeout    time.Duration // per-request timeout
}

// DefaultOllamaConfig returns configuration for local Ollama with
// mxbai-embed-large (1024 dimensions).
func DefaultOllamaConfig() *Config {
	return &Config{
		Provider:   "ollama",
		APIURL:     "http://localhost:11434",
		APIPath:    "/api/embeddings",
		Model:      "mxbai-embed-large",
		Dimensions: 1024,
		Timeout:    30 * time.Second,
	}
}

// DefaultOpenAIConfig returns configuration for OpenAI's
// text-embedding-3-small (1536 dimensions).
func DefaultOpenAIConfig(apiKey string) *Config {
	return &Config{
		Provider:   "openai",
		APIURL:     "https://api.openai.com",
		APIPath:    "/v1/embeddings",
		APIKey:     apiKey,
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
	}
}

// New creates a Provider from config based on config.Provider.
func New(config *Config) (Provider, error) {
	switch config.Provider {
	case "ollama":
		return NewOllama(config), nil
	case "openai":
		return NewOpenAI(config), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", config.Provider)
	}
}

// OllamaProvider implements Provider against a local Ollama server.
type OllamaProvider struct {
	config *Config
	client *http.Client
}

// NewOllama creates an Ollama provider. If config is nil,
// DefaultOllamaConfig() is used.
func NewOllama(config *Config) *OllamaProvider {
	if config == nil {
		config = DefaultOllamaConfig()
	}
	if config.APIPath == "" {
		config.APIPath = "/api/embeddings"
	}
	return &OllamaProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed generates an embedding via the Ollama embeddings endpoint.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: p.config.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	data, err := p.post(ctx, body, nil)
	if err != nil {
		return nil, err
	}

	var resp ollamaResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return validateDimensions(resp.Embedding, p.config.Dimensions)
}

// Dimensions returns the expected embedding dimensions.
func (p *OllamaProvider) Dimensions() int { return p.config.Dimensions }

// Model returns the model name.
func (p *OllamaProvider) Model() string { return p.config.Model }

func (p *OllamaProvider) post(ctx context.Context, body []byte, headers map[string]string) ([]byte, error) {
	return postJSON(ctx, p.client, p.config.APIURL+p.config.APIPath, body, headers)
}

// OpenAIProvider implements Provider against OpenAI or any
// OpenAI-compatible embeddings endpoint.
type OpenAIProvider struct {
	config *Config
	client *http.Client
}

// NewOpenAI creates an OpenAI provider. If config is nil,
// DefaultOpenAIConfig("") is used.
func NewOpenAI(config *Config) *OpenAIProvider {
	if config == nil {
		config = DefaultOpenAIConfig("")
	}
	if config.APIPath == "" {
		config.APIPath = "/v1/embeddings"
	}
	return &OpenAIProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type openaiRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openaiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding via the OpenAI embeddings endpoint.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openaiRequest{Model: p.config.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{"Authorization": "Bearer " + p.config.APIKey}
	data, err := postJSON(ctx, p.client, p.config.APIURL+p.config.APIPath, body, headers)
	if err != nil {
		return nil, err
	}

	var resp openaiResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	return validateDimensions(resp.Data[0].Embedding, p.config.Dimensions)
}

// Dimensions returns the expected embedding dimensions.
func (p *OpenAIProvider) Dimensions() int { return p.config.Dimensions }

// Model returns the model name.
func (p *OpenAIProvider) Model() string { return p.config.Model }

// postJSON issues the request and normalizes every failure mode to
// ErrUnavailable.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, snippet)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	return data, nil
}

func validateDimensions(vec []float32, want int) ([]float32, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrUnavailable)
	}
	if want > 0 && len(vec) != want {
		return nil, fmt.Errorf("%w: expected %d dimensions, got %d", ErrUnavailable, want, len(vec))
	}
	return vec, nil
}
