package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaycore/internal/config"
	"relaycore/internal/llm"
)

func TestCreateCompletionParsesChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	c := New(config.ProviderConfig{Name: "openai", APIKey: "test", BaseURL: srv.URL, Models: []string{"gpt-4o"}}, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.CreateCompletion(ctx, llm.Request{Messages: []llm.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Message.Content)
	require.Equal(t, llm.FinishStop, resp.FinishReason)
	require.Equal(t, 4, resp.Usage.TotalTokens)
}

func TestCreateCompletionSurfacesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\":\"x\"}"}}]},"finish_reason":"tool_calls"}]}`))
	}))
	defer srv.Close()

	c := New(config.ProviderConfig{Name: "openai", APIKey: "test", BaseURL: srv.URL}, srv.Client())
	resp, err := c.CreateCompletion(context.Background(), llm.Request{Model: "gpt-4o", Messages: []llm.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	require.Equal(t, "lookup", resp.Message.ToolCalls[0].Name)
	require.Equal(t, llm.FinishToolCalls, resp.FinishReason)
}

func TestCreateCompletionReturnsGatewayErrorOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(config.ProviderConfig{Name: "openai", APIKey: "test", BaseURL: srv.URL}, srv.Client())
	_, err := c.CreateCompletion(context.Background(), llm.Request{Model: "gpt-4o", Messages: []llm.Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
}

func TestListModelsReturnsConfiguredModel(t *testing.T) {
	c := New(config.ProviderConfig{Name: "openai", APIKey: "test", Models: []string{"gpt-4o"}}, nil)
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "gpt-4o", models[0].ID)
}
