package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bookleaf/assist/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const verdictJSON = `{"match_found": true, "best_match_id": "a-1", "confidence": 0.8, "reasoning": "same person"}`

func TestOpenAIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "prompt", req.Messages[0].Content)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": verdictJSON}},
			},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	got, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, verdictJSON, got)
	assert.Equal(t, "gpt-4o-mini", c.GetModel())
}

func TestOpenAIClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestOllamaClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(generateResponse{Response: verdictJSON, Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "llama3"})
	got, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, verdictJSON, got)
	assert.Equal(t, "llama3", c.GetModel())
}

func TestOllamaClientEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "  ", Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "prompt")
	assert.Error(t, err)
}

func TestAnthropicClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-test", body["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":            "msg_01",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content": []map[string]interface{}{
				{"type": "text", "text": verdictJSON},
			},
			"usage": map[string]interface{}{"input_tokens": 12, "output_tokens": 8},
		})
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", Model: "claude-test", BaseURL: srv.URL + "/"})
	got, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, verdictJSON, got)
	assert.Equal(t, "claude-test", c.GetModel())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		Timeout:     time.Minute,
	})
	boom := errors.New("boom")

	var calls int32
	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(context.Background(), fn)
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", cb.State())

	_, err := cb.Execute(context.Background(), fn)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	m := cb.Metrics()
	assert.Equal(t, uint64(3), m.TotalRequests)
	assert.Equal(t, uint64(3), m.TotalFailures)
}

func TestCircuitBreakerCancelledContext(t *testing.T) {
	cb := NewCircuitBreaker("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func() (interface{}, error) {
		t.Fatal("fn must not run")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "closed", cb.State())
}

type stubGenerator struct {
	calls int32
}

func (s *stubGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return "ok", nil
}

func (s *stubGenerator) GetModel() string { return "stub" }

func TestRateLimitedGenerator(t *testing.T) {
	stub := &stubGenerator{}
	g := NewRateLimitedGenerator(stub, 0.001, 1)

	got, err := g.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, "stub", g.GetModel())

	// The bucket is empty and refills far slower than the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Complete(ctx, "p")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&stub.calls))
}

func TestNewTextGenerator(t *testing.T) {
	gen, err := NewTextGenerator(config.LLMConfig{Provider: config.ProviderNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, gen)

	_, err = NewTextGenerator(config.LLMConfig{Provider: "bard"}, nil)
	assert.Error(t, err)

	_, err = NewTextGenerator(config.LLMConfig{Provider: config.ProviderAnthropic}, nil)
	assert.Error(t, err)

	_, err = NewTextGenerator(config.LLMConfig{Provider: config.ProviderOpenAI}, nil)
	assert.Error(t, err)

	gen, err = NewTextGenerator(config.LLMConfig{Provider: config.ProviderOllama, Model: "llama3"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, gen)

	gen, err = NewTextGenerator(config.LLMConfig{Provider: config.ProviderAnthropic, APIKey: "k", RateLimit: 2, Burst: 1}, nil)
	require.NoError(t, err)
	require.IsType(t, &RateLimitedGenerator{}, gen)
	assert.Equal(t, "claude-haiku-4-5-20251001", gen.GetModel())
}
