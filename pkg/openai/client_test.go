package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"double-ai-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteSuccess(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello from upstream"}}]}`))
	}))
	defer server.Close()

	client := NewClient(config.OpenAIConfig{BaseURL: server.URL, TimeoutSeconds: 5})

	temperature := 0.7
	answer, err := client.Complete(context.Background(), []Message{
		{Role: "system", Content: "prompt"},
		{Role: "user", Content: "hi"},
	}, CompletionOptions{APIKey: "sk-test", Model: "gpt-4o", Temperature: &temperature})

	require.NoError(t, err)
	assert.Equal(t, "hello from upstream", answer)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotBody["model"])
	assert.Equal(t, false, gotBody["stream"])
}

func TestCompleteNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(config.OpenAIConfig{BaseURL: server.URL, TimeoutSeconds: 5})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, CompletionOptions{APIKey: "bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-200")
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewClient(config.OpenAIConfig{BaseURL: server.URL, TimeoutSeconds: 5})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, CompletionOptions{APIKey: "sk"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
