package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OllamaClient handles communication with Ollama API for local LLM inference.
// It wraps all HTTP calls with circuit breaker protection to prevent cascading failures.
type OllamaClient struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	model          string
	timeout        time.Duration
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model name to use for completions (default: qwen2.5:7b)
	Model string

	// Timeout is the request timeout duration (default: 30s)
	Timeout time.Duration

	// Logger receives circuit breaker transitions.
	Logger *zap.Logger
}

// generateRequest represents the request body for /api/generate endpoint
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

// generateResponse represents the response from /api/generate endpoint
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// tagsResponse represents the response from /api/tags endpoint
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaClient creates a new Ollama client with the given configuration.
// If configuration values are not provided, the following defaults are used:
//   - BaseURL: http://localhost:11434
//   - Model: qwen2.5:7b
//   - Timeout: 30 seconds
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	// Apply defaults
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "qwen2.5:7b"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &OllamaClient{
		baseURL: config.BaseURL,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		circuitBreaker: NewCircuitBreaker("ollama", config.Logger),
		model:          config.Model,
		timeout:        config.Timeout,
	}
}

// Complete sends a completion request to Ollama and returns the response text.
// The request is wrapped with circuit breaker protection and bounded by the
// configured timeout. Ollama is asked for JSON output.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	// Wrap HTTP call with circuit breaker
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, prompt)
	})

	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return "", err
	}

	return result.(string), nil
}

// complete is the internal implementation of Complete without circuit breaker wrapping
func (c *OllamaClient) complete(ctx context.Context, prompt string) (string, error) {
	// Create context with timeout
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Build request body
	reqBody := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false, // We don't support streaming
		Format: "json",
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	// Create HTTP request
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Send request
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// Check status code
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	// Parse response
	var respData generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if strings.TrimSpace(respData.Response) == "" {
		return "", fmt.Errorf("ollama returned empty response")
	}

	return respData.Response, nil
}

// HealthCheck verifies that Ollama is reachable by checking the /api/version endpoint.
// This does not use circuit breaker protection since it's a health check itself.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//
// Returns:
//   - An error if Ollama is unreachable or returns an error
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	// Create context with timeout
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Create HTTP request
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	// Send request
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	// Check status code
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

// Compile-time assertion.
var _ TextGenerator = (*OllamaClient)(nil)

// ListModels returns a list of available models from Ollama.
// This is useful for discovering what models are installed and can be used.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//
// Returns:
//   - A slice of model names
//   - An error if the request fails
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	// Create context with timeout
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Create HTTP request
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Send request
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// Check status code
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	// Parse response
	var respData tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Extract model names
	models := make([]string, len(respData.Models))
	for i, model := range respData.Models {
		models[i] = model.Name
	}

	return models, nil
}
