package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"relaycore/internal/llm"
)

type fakeRuntime struct {
	converseOut *bedrockruntime.ConverseOutput
	converseErr error
}

func (f *fakeRuntime) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return f.converseOut, f.converseErr
}

func (f *fakeRuntime) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, nil
}

func newTestClient(rt runtimeClient) *Client {
	return &Client{Base: llm.NewBase("bedrock", "anthropic.claude-3-5-sonnet"), runtime: rt, model: "anthropic.claude-3-5-sonnet"}
}

func TestCreateCompletionParsesTextOutput(t *testing.T) {
	out := &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "hello"}},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(3), OutputTokens: aws.Int32(2), TotalTokens: aws.Int32(5)},
	}
	c := newTestClient(&fakeRuntime{converseOut: out})

	resp, err := c.CreateCompletion(context.Background(), llm.Request{Messages: []llm.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Message.Content)
	require.Equal(t, llm.FinishStop, resp.FinishReason)
	require.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestCreateCompletionSurfacesToolUse(t *testing.T) {
	out := &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{Name: aws.String("lookup"), ToolUseId: aws.String("call-1"), Input: toDocument(map[string]any{"q": "x"})},
				}},
			},
		},
		StopReason: brtypes.StopReasonToolUse,
	}
	c := newTestClient(&fakeRuntime{converseOut: out})

	resp, err := c.CreateCompletion(context.Background(), llm.Request{Messages: []llm.Message{{Role: "user", Content: "hi"}}, Tools: []llm.ToolSchema{{Name: "lookup"}}})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	require.Equal(t, "lookup", resp.Message.ToolCalls[0].Name)
	require.Equal(t, llm.FinishToolCalls, resp.FinishReason)
}

func TestEncodeMessagesRejectsUnknownRole(t *testing.T) {
	_, _, err := encodeMessages([]llm.Message{{Role: "narrator", Content: "x"}})
	require.Error(t, err)
}

func TestEncodeToolsRequiresName(t *testing.T) {
	_, err := encodeTools([]llm.ToolSchema{{Description: "no name"}})
	require.Error(t, err)
}
