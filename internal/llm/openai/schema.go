package openai

import (
	sdk "github.com/openai/openai-go/v2"

	"relaycore/internal/llm"
)

// AdaptSchemas converts internal llm.ToolSchema definitions into OpenAI SDK
// tool params.
func AdaptSchemas(schemas []llm.ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		def := sdk.FunctionDefinitionParam{
			Name:        s.Name,
			Description: sdk.String(s.Description),
			Parameters:  s.Parameters,
		}
		out = append(out, sdk.ChatCompletionFunctionTool(def))
	}
	return out
}

// AdaptMessages converts portable llm.Message history to OpenAI SDK message
// params.
func AdaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(nonEmpty(m.Content, "You are a helpful assistant.")))
		case "user":
			out = append(out, sdk.UserMessage(nonEmpty(m.Content, " ")))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, sdk.AssistantMessage(nonEmpty(m.Content, " ")))
				continue
			}
			var asst sdk.ChatCompletionAssistantMessageParam
			asst.Content.OfString = sdk.String(nonEmpty(m.Content, " "))
			for _, tc := range m.ToolCalls {
				fn := sdk.ChatCompletionMessageFunctionToolCallParam{
					ID: tc.ID,
					Function: sdk.ChatCompletionMessageFunctionToolCallFunctionParam{
						Arguments: string(tc.Args),
						Name:      tc.Name,
					},
				}
				asst.ToolCalls = append(asst.ToolCalls, sdk.ChatCompletionMessageToolCallUnionParam{OfFunction: &fn})
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			out = append(out, sdk.ToolMessage(nonEmpty(m.Content, `{"error": "empty tool response"}`), m.ToolID))
		}
	}
	return out
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
