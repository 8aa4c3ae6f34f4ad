package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"relaycore/internal/gatewayerr"
	"relaycore/internal/llm"
	"relaycore/internal/mcp"
	"relaycore/internal/persistence"
)

func TestToolExecStageNoopWithoutToolCalls(t *testing.T) {
	s := &ToolExecStage{Registry: mcp.NewRegistry(persistence.NewMemoryPolicyStore(), nil)}
	pc := &PipelineContext{Response: &llm.Response{Message: llm.Message{Content: "hi"}}}
	require.NoError(t, s.Run(context.Background(), pc))
	require.Empty(t, pc.ToolResults)
}

func TestToolExecStageDeniesToolTheModelStillCalled(t *testing.T) {
	// MCPStage already filtered this tool out of pc.Tools, but nothing stops
	// a model from emitting a call for a tool it remembers or hallucinates;
	// the registry has never indexed it, so the execution-time re-check
	// denies it the same way a policy-denied server would.
	s := &ToolExecStage{Registry: mcp.NewRegistry(persistence.NewMemoryPolicyStore(), nil)}
	pc := &PipelineContext{
		User: persistence.User{ID: "u1"},
		Response: &llm.Response{
			FinishReason: llm.FinishToolCalls,
			Message: llm.Message{
				ToolCalls: []llm.ToolCall{{ID: "1", Name: "azure.subscription_list", Args: json.RawMessage(`{}`)}},
			},
		},
	}
	err := s.Run(context.Background(), pc)
	require.Error(t, err)
	require.Equal(t, gatewayerr.ToolDenied, gatewayerr.KindOf(err))
}

func TestToolExecStageNilRegistryIsNoop(t *testing.T) {
	s := &ToolExecStage{}
	pc := &PipelineContext{
		Response: &llm.Response{
			Message: llm.Message{ToolCalls: []llm.ToolCall{{ID: "1", Name: "x"}}},
		},
	}
	require.NoError(t, s.Run(context.Background(), pc))
}
