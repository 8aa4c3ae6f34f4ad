package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeywordSearchRanksBySubstringAndRecency(t *testing.T) {
	ctx := context.Background()
	stage := New(nil, nil, nil)

	require.NoError(t, stage.Remember(ctx, "u1", "s1", MemoryEntry{
		ID: "old", Content: "we discussed the invoicing API last month", Timestamp: time.Now().Add(-30 * 24 * time.Hour),
	}))
	require.NoError(t, stage.Remember(ctx, "u1", "s1", MemoryEntry{
		ID: "recent", Content: "the invoicing API returns a 429 on retries", Timestamp: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, stage.Remember(ctx, "u2", "s2", MemoryEntry{
		ID: "other-user", Content: "invoicing API question from someone else", Timestamp: time.Now(),
	}))

	got, err := stage.Retrieve(ctx, "u1", "s1", "invoicing API")
	require.NoError(t, err)
	require.NotEmpty(t, got.Retrieved)
	require.Equal(t, "recent", got.Retrieved[0].ID, "recency boost should outrank the older match")
	for _, e := range got.Retrieved {
		require.NotEqual(t, "other-user", e.ID)
	}
}

func TestRetrieveIncludesSessionEcho(t *testing.T) {
	ctx := context.Background()
	stage := New(nil, nil, nil)
	require.NoError(t, stage.Remember(ctx, "u1", "s1", MemoryEntry{ID: "a", Content: "hello"}))
	require.NoError(t, stage.Remember(ctx, "u1", "s1", MemoryEntry{ID: "b", Content: "world"}))

	got, err := stage.Retrieve(ctx, "u1", "s1", "")
	require.NoError(t, err)
	require.Len(t, got.SessionEntries, 2)
	require.Empty(t, got.Retrieved, "empty query should skip retrieval")
}

func TestRenderProducesExpectedHeaders(t *testing.T) {
	c := Context{
		SessionEntries: []MemoryEntry{{Content: "session line"}},
		Retrieved:      []MemoryEntry{{Content: "retrieved line"}},
	}
	out := Render(c)
	require.Contains(t, out, "Current Session Context")
	require.Contains(t, out, "User History")
	require.Contains(t, out, "Retrieved Information from Previous Conversations")
	require.Contains(t, out, "is the system's memory")
}

func TestRenderEmptyContextReturnsEmptyString(t *testing.T) {
	require.Empty(t, Render(Context{}))
}
