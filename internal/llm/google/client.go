// Package google implements llm.Provider for Gemini-style backends, per
// SPEC_FULL.md's google-vertex provider type.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	genai "google.golang.org/genai"

	"relaycore/internal/config"
	"relaycore/internal/gatewayerr"
	"relaycore/internal/llm"
	"relaycore/internal/observability"
)

type Client struct {
	*llm.Base

	client *genai.Client
	model  string
}

func New(pc config.ProviderConfig, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	model := "gemini-1.5-flash"
	if len(pc.Models) > 0 {
		model = pc.Models[0]
	}

	httpOpts := genai.HTTPOptions{}
	if base := strings.TrimSpace(pc.BaseURL); base != "" {
		httpOpts.BaseURL = strings.TrimSuffix(base, "/") + "/"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      strings.TrimSpace(pc.APIKey),
		HTTPClient:  httpClient,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("init google client: %w", err)
	}

	return &Client{Base: llm.NewBase(pc.Name, model), client: client, model: model}, nil
}

func (c *Client) Initialize(ctx context.Context) error { return nil }

func (c *Client) ListModels(ctx context.Context) ([]llm.ModelListing, error) {
	return []llm.ModelListing{{ID: c.model, Name: c.model, Provider: c.Name()}}, nil
}

func (c *Client) CreateCompletion(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InvalidInput, "google request translation failed", err)
	}
	tools, toolCfg, err := adaptTools(req.Tools)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InvalidInput, "google tool translation failed", err)
	}

	log := observability.LoggerFrom(ctx)
	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{Tools: tools, ToolConfig: toolCfg})
	if err != nil {
		log.Error().Err(err).Str("model", model).Dur("duration", time.Since(start)).Msg("google completion failed")
		return nil, gatewayerr.Wrap(gatewayerr.ProviderUnavailable, "google completion failed", err)
	}

	msg, finish, err := messageFromResponse(resp)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.ProviderUnavailable, "google response rejected", err)
	}
	usage := llm.Usage{}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return &llm.Response{Message: msg, FinishReason: finish, Usage: usage}, nil
}

func (c *Client) StreamCompletion(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InvalidInput, "google request translation failed", err)
	}
	tools, toolCfg, err := adaptTools(req.Tools)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.InvalidInput, "google tool translation failed", err)
	}

	stream := c.client.Models.GenerateContentStream(ctx, model, contents, &genai.GenerateContentConfig{Tools: tools, ToolConfig: toolCfg})
	out := make(chan llm.Event, llm.EventBufferSize)

	go func() {
		defer close(out)
		var contentBuilder strings.Builder
		var calls []llm.ToolCall
		var usage llm.Usage

		for chunk, err := range stream {
			if err != nil {
				out <- llm.Event{Kind: llm.EventError, Err: gatewayerr.Wrap(gatewayerr.ProviderUnavailable, "google stream failed", err)}
				return
			}
			msg, _, parseErr := messageFromResponse(chunk)
			if parseErr != nil {
				continue // intermediate/empty chunk, per the vendor's own streaming contract
			}
			if msg.Content != "" {
				contentBuilder.WriteString(msg.Content)
				out <- llm.Event{Kind: llm.EventTextDelta, Text: msg.Content}
			}
			for i := range msg.ToolCalls {
				tc := msg.ToolCalls[i]
				calls = append(calls, tc)
				out <- llm.Event{Kind: llm.EventToolCallDelta, ToolCall: &tc}
			}
			if chunk.UsageMetadata != nil {
				usage = llm.Usage{
					PromptTokens:     int(chunk.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(chunk.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(chunk.UsageMetadata.TotalTokenCount),
				}
			}
		}

		finish := llm.FinishStop
		if len(calls) > 0 {
			finish = llm.FinishToolCalls
		}
		resp := &llm.Response{
			Message:      llm.Message{Role: "assistant", Content: contentBuilder.String(), ToolCalls: calls},
			FinishReason: finish,
			Usage:        usage,
		}
		out <- llm.Event{Kind: llm.EventDone, Response: resp}
	}()

	return out, nil
}

func (c *Client) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, llm.ErrUnsupported
}

func (c *Client) GetHealth(ctx context.Context) llm.HealthStatus { return c.Health(ctx) }

func toContents(msgs []llm.Message) ([]*genai.Content, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("messages required")
	}
	toolNamesByID := map[string]string{}
	var lastFuncName string
	contents := make([]*genai.Content, 0, len(msgs))

	for _, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		var targetRole string
		switch role {
		case "", "user", "system":
			targetRole = genai.RoleUser
		case "assistant":
			targetRole = genai.RoleModel
			for _, tc := range m.ToolCalls {
				if tc.ID != "" && tc.Name != "" {
					toolNamesByID[tc.ID] = tc.Name
				}
				if strings.TrimSpace(tc.Name) != "" {
					lastFuncName = tc.Name
				}
			}
		case "tool":
			name := toolNamesByID[m.ToolID]
			if name == "" {
				name = lastFuncName
			}
			if name == "" {
				name = "tool_response"
			}
			respMap := map[string]any{}
			if trimmed := strings.TrimSpace(m.Content); trimmed != "" {
				if err := json.Unmarshal([]byte(trimmed), &respMap); err != nil {
					respMap = map[string]any{"output": m.Content}
				}
			}
			part := genai.NewPartFromFunctionResponse(name, respMap)
			part.FunctionResponse.ID = m.ToolID
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
			continue
		default:
			return nil, fmt.Errorf("unsupported role for google provider: %s", m.Role)
		}

		text := m.Content
		if targetRole == genai.RoleUser && role == "system" {
			text = "[system] " + text
		}
		var parts []*genai.Part
		if strings.TrimSpace(text) != "" {
			parts = append(parts, &genai.Part{Text: text})
		}
		if targetRole == genai.RoleModel {
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if len(tc.Args) > 0 {
					_ = json.Unmarshal(tc.Args, &args)
				}
				if len(args) == 0 && len(tc.Args) > 0 {
					args = map[string]any{"input": string(tc.Args)}
				}
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: targetRole, Parts: parts})
	}
	return contents, nil
}

func messageFromResponse(resp *genai.GenerateContentResponse) (llm.Message, llm.FinishReason, error) {
	if resp == nil {
		return llm.Message{}, llm.FinishStop, fmt.Errorf("nil response from google provider")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return llm.Message{}, llm.FinishContent, fmt.Errorf("request blocked by google: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return llm.Message{}, llm.FinishStop, fmt.Errorf("no candidates in google response")
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case genai.FinishReasonSafety:
		return llm.Message{}, llm.FinishContent, fmt.Errorf("response blocked by safety filters")
	case genai.FinishReasonRecitation:
		return llm.Message{}, llm.FinishContent, fmt.Errorf("response blocked due to recitation")
	case genai.FinishReasonMalformedFunctionCall:
		return llm.Message{}, llm.FinishStop, fmt.Errorf("malformed function call generated by model")
	}
	if candidate.Content == nil {
		return llm.Message{}, llm.FinishStop, fmt.Errorf("empty candidate content")
	}

	var sb strings.Builder
	var calls []llm.ToolCall
	callIdx := 0
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			callIdx++
			id := part.FunctionCall.ID
			if strings.TrimSpace(id) == "" {
				id = "call-" + strconv.Itoa(callIdx)
			}
			calls = append(calls, llm.ToolCall{Name: part.FunctionCall.Name, Args: args, ID: id})
		}
	}

	finish := llm.FinishStop
	if len(calls) > 0 {
		finish = llm.FinishToolCalls
	} else if candidate.FinishReason == genai.FinishReasonMaxTokens {
		finish = llm.FinishLength
	}
	return llm.Message{Role: "assistant", Content: sb.String(), ToolCalls: calls}, finish, nil
}

func adaptTools(schemas []llm.ToolSchema) ([]*genai.Tool, *genai.ToolConfig, error) {
	if len(schemas) == 0 {
		return nil, nil, nil
	}
	fd := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, s := range schemas {
		if strings.TrimSpace(s.Name) == "" {
			return nil, nil, fmt.Errorf("tool name required")
		}
		fd = append(fd, &genai.FunctionDeclaration{
			Name:                 s.Name,
			Description:          s.Description,
			ParametersJsonSchema: s.Parameters,
		})
	}
	cfg := &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
	}
	return []*genai.Tool{{FunctionDeclarations: fd}}, cfg, nil
}
