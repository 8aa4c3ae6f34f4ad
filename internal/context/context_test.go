package context

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"relaycore/internal/memory"
)

func model() ModelInfo {
	return ModelInfo{ID: "gpt-4o", ContextWindow: 8000, ReservedForGeneration: 1000}
}

func TestAssembleRejectsMissingUser(t *testing.T) {
	e := New(nil, nil)
	_, err := e.Assemble(context.Background(), "", "s1", []Message{{Role: "user", Content: "hi"}}, model(), Flags{}, "system")
	require.Error(t, err)
}

func TestAssembleRejectsMissingModel(t *testing.T) {
	e := New(nil, nil)
	_, err := e.Assemble(context.Background(), "u1", "s1", []Message{{Role: "user", Content: "hi"}}, ModelInfo{}, Flags{}, "system")
	require.Error(t, err)
}

func TestAssembleEmptyMessagesReturnsSystemOnly(t *testing.T) {
	e := New(nil, nil)
	out, err := e.Assemble(context.Background(), "u1", "s1", nil, model(), Flags{}, "system prompt")
	require.NoError(t, err)
	require.Equal(t, "system prompt", out.SystemPrompt)
	require.Empty(t, out.Tier1)
}

func TestAssemblePacksRecentMessagesIntoTier1(t *testing.T) {
	e := New(nil, memory.New(nil, nil, nil))
	msgs := []Message{
		{Role: "user", Content: "first message about kubernetes deploys"},
		{Role: "assistant", Content: "sure, here is how"},
		{Role: "user", Content: "now a question about the database schema"},
	}
	out, err := e.Assemble(context.Background(), "u1", "s1", msgs, model(), Flags{}, "system")
	require.NoError(t, err)
	require.NotEmpty(t, out.Tier1)
	require.Equal(t, msgs[len(msgs)-1].Content, out.Tier1[0].Content, "tier1 is most-recent-first")
}

func TestClassifyTopicPicksRuleMatch(t *testing.T) {
	topic := classifyTopic([]Message{{Role: "user", Content: "Our Kubernetes deploy keeps failing in the docker container"}})
	require.Equal(t, "infrastructure", topic.PrimaryTopic)
	require.Len(t, topic.Hash, 16)
}

func TestTruncateAtSentencePreservesBoundary(t *testing.T) {
	s := "First sentence. Second sentence. Third sentence that is long."
	out, ok := truncateAtSentence(s, 20)
	require.True(t, ok)
	require.Equal(t, "First sentence.", out)
}

func TestTruncateAtSentenceSkipsWhenNoBoundary(t *testing.T) {
	_, ok := truncateAtSentence("nosentenceboundaryhere", 5)
	require.False(t, ok)
}

func TestRenderMemoryLinesIncludesStructuredHeaders(t *testing.T) {
	lines := renderMemoryLines(memory.Context{
		SessionEntries: []memory.MemoryEntry{{Content: "user asked about pricing"}},
		Retrieved:      []memory.MemoryEntry{{Content: "user is on the enterprise plan"}},
	})
	joined := strings.Join(lines, "\n")
	require.Contains(t, joined, "Current Session Context")
	require.Contains(t, joined, "User History")
	require.Contains(t, joined, "Retrieved Information from Previous Conversations")
	require.Contains(t, joined, "treat it as ground truth")
}

func TestRenderMemoryLinesEmptyContextReturnsNil(t *testing.T) {
	require.Nil(t, renderMemoryLines(memory.Context{}))
}
