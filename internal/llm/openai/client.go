// Package openai implements llm.Provider for chat-completions-style
// backends: OpenAI's own API, Azure OpenAI deployments, and any
// OpenAI-compatible self-hosted server (ollama, llama.cpp) reached via a
// custom base URL.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"relaycore/internal/config"
	"relaycore/internal/gatewayerr"
	"relaycore/internal/llm"
	"relaycore/internal/observability"
)

// Client adapts the unified llm.Provider surface to OpenAI's chat
// completions API.
type Client struct {
	*llm.Base

	sdk     sdk.Client
	model   string
	extra   map[string]any
	baseURL string
}

// New builds a Client from one configured provider entry. A non-empty
// BaseURL (Azure OpenAI, ollama, or any compatible self-hosted server)
// simply redirects the SDK's HTTP transport; the wire protocol is assumed
// unchanged.
func New(pc config.ProviderConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{option.WithAPIKey(pc.APIKey), option.WithHTTPClient(httpClient)}
	if pc.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(pc.BaseURL))
	}
	model := ""
	if len(pc.Models) > 0 {
		model = pc.Models[0]
	}
	return &Client{
		Base:    llm.NewBase(pc.Name, model),
		sdk:     sdk.NewClient(opts...),
		model:   model,
		extra:   pc.Extra,
		baseURL: pc.BaseURL,
	}
}

func (c *Client) Initialize(ctx context.Context) error { return nil }

// ListModels returns the statically configured model list; OpenAI's
// /v1/models endpoint is not queried since most deployments (Azure, ollama)
// restrict it to a subset the caller already knows.
func (c *Client) ListModels(ctx context.Context) ([]llm.ModelListing, error) {
	out := make([]llm.ModelListing, 0, 1)
	if c.model != "" {
		out = append(out, llm.ModelListing{ID: c.model, Name: c.model, Provider: c.Name()})
	}
	return out, nil
}

func (c *Client) CreateCompletion(ctx context.Context, req llm.Request) (*llm.Response, error) {
	log := observability.LoggerFrom(ctx)
	params := c.params(req)

	start := time.Now()
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", time.Since(start)).Msg("openai completion failed")
		return nil, gatewayerr.Wrap(gatewayerr.ProviderUnavailable, "openai completion failed", err)
	}
	if len(comp.Choices) == 0 {
		return nil, gatewayerr.New(gatewayerr.ProviderUnavailable, "openai returned no choices")
	}
	msg := adaptChoice(comp.Choices[0].Message)
	return &llm.Response{
		Message:      msg,
		FinishReason: adaptFinishReason(string(comp.Choices[0].FinishReason)),
		Usage: llm.Usage{
			PromptTokens:     int(comp.Usage.PromptTokens),
			CompletionTokens: int(comp.Usage.CompletionTokens),
			TotalTokens:      int(comp.Usage.TotalTokens),
		},
	}, nil
}

func (c *Client) StreamCompletion(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	params := c.params(req)
	params.StreamOptions.IncludeUsage = sdk.Bool(true)

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	out := make(chan llm.Event, llm.EventBufferSize)

	go func() {
		defer close(out)
		defer stream.Close()

		toolCalls := map[int64]*llm.ToolCall{}
		var contentBuilder strings.Builder
		var usage llm.Usage

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				if chunk.Usage.TotalTokens > 0 {
					usage = llm.Usage{
						PromptTokens:     int(chunk.Usage.PromptTokens),
						CompletionTokens: int(chunk.Usage.CompletionTokens),
						TotalTokens:      int(chunk.Usage.TotalTokens),
					}
				}
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				contentBuilder.WriteString(delta.Content)
				out <- llm.Event{Kind: llm.EventTextDelta, Text: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := tc.Index
				cur, ok := toolCalls[idx]
				if !ok {
					cur = &llm.ToolCall{ID: tc.ID, Name: tc.Function.Name}
					toolCalls[idx] = cur
				}
				cur.Args = append(cur.Args, []byte(tc.Function.Arguments)...)
				out <- llm.Event{Kind: llm.EventToolCallDelta, ToolCall: cur}
			}
		}
		if err := stream.Err(); err != nil {
			out <- llm.Event{Kind: llm.EventError, Err: gatewayerr.Wrap(gatewayerr.ProviderUnavailable, "openai stream failed", err)}
			return
		}
		resp := &llm.Response{
			Message:      llm.Message{Role: "assistant", Content: contentBuilder.String(), ToolCalls: finalizeToolCalls(toolCalls)},
			FinishReason: llm.FinishStop,
			Usage:        usage,
		}
		if len(resp.Message.ToolCalls) > 0 {
			resp.FinishReason = llm.FinishToolCalls
		}
		out <- llm.Event{Kind: llm.EventDone, Response: resp}
	}()

	return out, nil
}

// EmbedText is unsupported: this client calls no embeddings endpoint and
// always returns llm.ErrUnsupported, so it is never chosen as the memory
// stage's embedder.
func (c *Client) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, llm.ErrUnsupported
}

func (c *Client) GetHealth(ctx context.Context) llm.HealthStatus { return c.Health(ctx) }

func (c *Client) params(req llm.Request) sdk.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: AdaptMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = AdaptSchemas(req.Tools)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(c.extra) > 0 {
		params.SetExtraFields(c.extra)
	}
	return params
}

func adaptChoice(msg sdk.ChatCompletionMessage) llm.Message {
	out := llm.Message{Role: "assistant", Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		switch v := tc.AsAny().(type) {
		case sdk.ChatCompletionMessageFunctionToolCall:
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:   v.ID,
				Name: v.Function.Name,
				Args: json.RawMessage(v.Function.Arguments),
			})
		}
	}
	return out
}

func adaptFinishReason(r string) llm.FinishReason {
	switch r {
	case "length":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishToolCalls
	case "content_filter":
		return llm.FinishContent
	default:
		return llm.FinishStop
	}
}

func finalizeToolCalls(m map[int64]*llm.ToolCall) []llm.ToolCall {
	if len(m) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(m))
	for _, tc := range m {
		out = append(out, *tc)
	}
	return out
}
