// Package anthropic implements llm.Provider for Claude-style backends:
// Anthropic's own API and Claude-on-Foundry deployments reached via a
// custom base URL/key, per SPEC_FULL.md's azure-ai-foundry provider type.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"relaycore/internal/config"
	"relaycore/internal/gatewayerr"
	"relaycore/internal/llm"
	"relaycore/internal/observability"
)

const defaultMaxTokens int64 = 4096

type Client struct {
	*llm.Base

	sdk       anthropic.Client
	model     string
	maxTokens int64
	extra     map[string]any
}

func New(pc config.ProviderConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(pc.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(pc.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}

	model := string(anthropic.ModelClaude3_7SonnetLatest)
	if len(pc.Models) > 0 {
		model = pc.Models[0]
	}

	return &Client{
		Base:      llm.NewBase(pc.Name, model),
		sdk:       anthropic.NewClient(opts...),
		model:     model,
		maxTokens: defaultMaxTokens,
		extra:     pc.Extra,
	}
}

func (c *Client) Initialize(ctx context.Context) error { return nil }

func (c *Client) ListModels(ctx context.Context) ([]llm.ModelListing, error) {
	return []llm.ModelListing{{ID: c.model, Name: c.model, Provider: c.Name()}}, nil
}

func (c *Client) CreateCompletion(ctx context.Context, req llm.Request) (*llm.Response, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InvalidInput, "anthropic request translation failed", err)
	}

	log := observability.LoggerFrom(ctx)
	start := time.Now()
	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", time.Since(start)).Msg("anthropic completion failed")
		return nil, gatewayerr.Wrap(gatewayerr.ProviderUnavailable, "anthropic completion failed", err)
	}

	msg, finish := messageFromResponse(resp)
	return &llm.Response{
		Message:      msg,
		FinishReason: finish,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

func (c *Client) StreamCompletion(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	params, err := c.params(req)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InvalidInput, "anthropic request translation failed", err)
	}

	stream := c.sdk.Messages.NewStreaming(ctx, params)
	out := make(chan llm.Event, llm.EventBufferSize)

	go func() {
		defer close(out)
		defer stream.Close()

		var acc anthropic.Message
		toolBuffers := map[int64]*toolBuffer{}
		var contentBuilder strings.Builder

		for stream.Next() {
			event := stream.Current()
			_ = acc.Accumulate(event)

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					id := strings.TrimSpace(block.ID)
					if id == "" {
						id = fmt.Sprintf("call-%d", len(toolBuffers)+1)
					}
					tb := &toolBuffer{name: block.Name, id: id}
					tb.appendInitial(block.Input)
					toolBuffers[ev.Index] = tb
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						contentBuilder.WriteString(delta.Text)
						out <- llm.Event{Kind: llm.EventTextDelta, Text: delta.Text}
					}
				case anthropic.InputJSONDelta:
					if tb := toolBuffers[ev.Index]; tb != nil {
						tb.appendPartial(delta.PartialJSON)
						tc := tb.toToolCall()
						out <- llm.Event{Kind: llm.EventToolCallDelta, ToolCall: &tc}
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- llm.Event{Kind: llm.EventError, Err: gatewayerr.Wrap(gatewayerr.ProviderUnavailable, "anthropic stream failed", err)}
			return
		}

		calls := make([]llm.ToolCall, 0, len(toolBuffers))
		for _, tb := range toolBuffers {
			calls = append(calls, tb.toToolCall())
		}
		finish := llm.FinishStop
		if len(calls) > 0 {
			finish = llm.FinishToolCalls
		}
		resp := &llm.Response{
			Message:      llm.Message{Role: "assistant", Content: contentBuilder.String(), ToolCalls: calls},
			FinishReason: finish,
			Usage: llm.Usage{
				PromptTokens:     int(acc.Usage.InputTokens),
				CompletionTokens: int(acc.Usage.OutputTokens),
				TotalTokens:      int(acc.Usage.InputTokens + acc.Usage.OutputTokens),
			},
		}
		out <- llm.Event{Kind: llm.EventDone, Response: resp}
	}()

	return out, nil
}

func (c *Client) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, llm.ErrUnsupported
}

func (c *Client) GetHealth(ctx context.Context) llm.HealthStatus { return c.Health(ctx) }

func (c *Client) params(req llm.Request) (anthropic.MessageNewParams, error) {
	sys, converted, err := adaptMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	tools, err := adaptTools(req.Tools)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := c.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  converted,
		System:    sys,
		Tools:     tools,
		MaxTokens: maxTokens,
	}
	if len(c.extra) > 0 {
		params.SetExtraFields(c.extra)
	}
	return params, nil
}

func adaptTools(tools []llm.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("tool name required")
		}
		schema := anthropic.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
		extras := map[string]any{}
		for k, v := range t.Parameters {
			extras[k] = v
		}
		if props, ok := extras["properties"]; ok {
			schema.Properties = props
			delete(extras, "properties")
		}
		if req, ok := extras["required"].([]any); ok {
			for _, item := range req {
				if s, ok := item.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
			delete(extras, "required")
		}
		delete(extras, "type")
		if len(extras) > 0 {
			schema.ExtraFields = extras
		}
		param := anthropic.ToolParam{Name: name, InputSchema: schema}
		if desc := strings.TrimSpace(t.Description); desc != "" {
			param.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out, nil
}

func adaptMessages(msgs []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	toolResultCount := 0

	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case "user":
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for i, tc := range m.ToolCalls {
				id := strings.TrimSpace(tc.ID)
				if id == "" {
					id = fmt.Sprintf("call-%d", i+1)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(id, decodeArgs(tc.Args), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			id := strings.TrimSpace(m.ToolID)
			if id == "" {
				toolResultCount++
				id = fmt.Sprintf("tool-result-%d", toolResultCount)
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(id, m.Content, false)))
		default:
			return nil, nil, fmt.Errorf("unsupported role for anthropic provider: %s", m.Role)
		}
	}
	return system, out, nil
}

func decodeArgs(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}
	return v
}

func messageFromResponse(resp *anthropic.Message) (llm.Message, llm.FinishReason) {
	if resp == nil {
		return llm.Message{}, llm.FinishStop
	}
	var sb strings.Builder
	var calls []llm.ToolCall
	callIdx := 0

	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			callIdx++
			id := strings.TrimSpace(v.ID)
			if id == "" {
				id = fmt.Sprintf("call-%d", callIdx)
			}
			args := v.Input
			if len(args) == 0 {
				if b, err := json.Marshal(v.Input); err == nil {
					args = b
				}
			}
			calls = append(calls, llm.ToolCall{Name: v.Name, Args: args, ID: id})
		}
	}

	finish := llm.FinishStop
	if len(calls) > 0 {
		finish = llm.FinishToolCalls
	}
	return llm.Message{Role: "assistant", Content: sb.String(), ToolCalls: calls}, finish
}

// toolBuffer accumulates a streamed tool call's partial JSON arguments
// across InputJSONDelta events, since Anthropic sends them incrementally.
type toolBuffer struct {
	name string
	id   string
	buf  strings.Builder
}

func (tb *toolBuffer) appendInitial(raw json.RawMessage) {
	if len(raw) > 0 {
		tb.buf.Write(raw)
	}
}

func (tb *toolBuffer) appendPartial(partial string) { tb.buf.WriteString(partial) }

func (tb *toolBuffer) toToolCall() llm.ToolCall {
	return llm.ToolCall{ID: tb.id, Name: tb.name, Args: json.RawMessage(tb.buf.String())}
}
