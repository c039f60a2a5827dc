package aiprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/domain"
)

func TestOpenAIClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `{"selections":[]}`}},
			},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{BaseURL: server.URL, APIKey: "sk-test"}, zerolog.Nop())

	content, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "pair this"}})
	require.NoError(t, err)
	assert.Equal(t, `{"selections":[]}`, content)
}

func TestOpenAIClient_RequiresAPIKey(t *testing.T) {
	client := NewOpenAIClient(Config{}, zerolog.Nop())

	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderError, domain.KindOf(err))
}

func TestOpenAIClient_DisabledShortCircuits(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{BaseURL: server.URL, APIKey: "sk-test", Disabled: true}, zerolog.Nop())

	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderError, domain.KindOf(err))
	assert.Equal(t, 0, callCount)
}

func TestOpenAIClient_ErrorStatusClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{BaseURL: server.URL, APIKey: "sk-test"}, zerolog.Nop())

	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderError, domain.KindOf(err))
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIClient_TimeoutClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{BaseURL: server.URL, APIKey: "sk-test", Timeout: 50 * time.Millisecond}, zerolog.Nop())

	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderTimeout, domain.KindOf(err))
}

func TestOpenAIClient_EmptyChoicesRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer server.Close()

	client := NewOpenAIClient(Config{BaseURL: server.URL, APIKey: "sk-test"}, zerolog.Nop())

	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderError, domain.KindOf(err))
}

func TestAnthropicClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-3-5-haiku-20241022", req.Model)
		assert.Greater(t, req.MaxTokens, 0)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{
				{"type": "text", "text": "part one "},
				{"type": "tool_use", "text": "ignored"},
				{"type": "text", "text": "part two"},
			},
		})
	}))
	defer server.Close()

	client := NewAnthropicClient(Config{BaseURL: server.URL, APIKey: "sk-ant"}, zerolog.Nop())

	content, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "pair this"}})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", content)
}

func TestAnthropicClient_NoTextContentRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"content": []interface{}{}})
	}))
	defer server.Close()

	client := NewAnthropicClient(Config{BaseURL: server.URL, APIKey: "sk-ant"}, zerolog.Nop())

	_, err := client.Complete(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Equal(t, domain.KindProviderError, domain.KindOf(err))
}

func TestParseSelections_Valid(t *testing.T) {
	raw := `{"selections":[
		{"vintage_id": 3, "confidence": 0.91, "reasoning": "classic pairing"},
		{"vintage_id": 7, "confidence": 0.64}
	]}`

	selections, err := ParseSelections(raw)
	require.NoError(t, err)
	require.Len(t, selections, 2)
	assert.Equal(t, int64(3), selections[0].VintageID)
	assert.Equal(t, 0.91, selections[0].Confidence)
	assert.Equal(t, "classic pairing", selections[0].Reasoning)
}

func TestParseSelections_StripsCodeFence(t *testing.T) {
	raw := "```json\n{\"selections\":[{\"vintage_id\":1,\"confidence\":0.5}]}\n```"

	selections, err := ParseSelections(raw)
	require.NoError(t, err)
	require.Len(t, selections, 1)
	assert.Equal(t, int64(1), selections[0].VintageID)
}

func TestParseSelections_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"prose", "I recommend the Margaux 2015."},
		{"unknown field", `{"selections":[{"vintage_id":1,"confidence":0.5,"wine_name":"x"}]}`},
		{"empty list", `{"selections":[]}`},
		{"bad vintage id", `{"selections":[{"vintage_id":0,"confidence":0.5}]}`},
		{"confidence above one", `{"selections":[{"vintage_id":1,"confidence":1.2}]}`},
		{"negative confidence", `{"selections":[{"vintage_id":1,"confidence":-0.1}]}`},
		{"trailing prose", `{"selections":[{"vintage_id":1,"confidence":0.5}]} hope that helps!`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSelections(tt.raw)
			require.Error(t, err)
			assert.Equal(t, domain.KindProviderError, domain.KindOf(err))
		})
	}
}
