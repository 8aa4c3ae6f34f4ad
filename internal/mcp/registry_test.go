package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"relaycore/internal/persistence"
)

func TestToolsForFiltersByDeniedServer(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryPolicyStore()
	_, err := store.UpsertServer(ctx, persistence.MCPServerRecord{ID: "srv1", Name: "srv1", Enabled: false})
	require.NoError(t, err)

	r := NewRegistry(store, nil)
	r.setServer(&Server{ID: "srv1", Name: "srv1", Enabled: false, Tools: []ToolDescriptor{
		NewToolDescriptor("srv1", "lookup", "lookup", nil),
	}})

	tools := r.ToolsFor(ctx, persistence.User{ID: "u1"})
	require.Empty(t, tools)
}

func TestToolsForIncludesUnconfiguredAllowedServer(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryPolicyStore()
	r := NewRegistry(store, nil)
	r.setServer(&Server{ID: "srv1", Name: "srv1", Enabled: true, Status: StatusOnline, Tools: []ToolDescriptor{
		NewToolDescriptor("srv1", "lookup", "lookup", nil),
	}})
	// Note: registry never calls UpsertServer itself in this test, so the
	// policy store has no record for srv1 and resolution hits the
	// permissive unconfigured-server default.

	tools := r.ToolsFor(ctx, persistence.User{ID: "u1"})
	require.Len(t, tools, 1)
}

func TestExecuteDeniesUnknownTool(t *testing.T) {
	store := persistence.NewMemoryPolicyStore()
	r := NewRegistry(store, nil)

	_, err := r.Execute(context.Background(), persistence.User{ID: "u1"}, "srv1.missing", nil)
	require.Error(t, err)
}

func TestExecuteRejectsArgumentsFailingSchema(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryPolicyStore()
	r := NewRegistry(store, nil)

	schema := map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"q": map[string]any{"type": "string"}},
		"required":             []any{"q"},
		"additionalProperties": false,
	}
	compiled, err := compileSchema("srv1.lookup", schema)
	require.NoError(t, err)

	r.setServer(&Server{ID: "srv1", Name: "srv1", Enabled: true, Tools: []ToolDescriptor{
		NewToolDescriptor("srv1", "lookup", "lookup", schema),
	}})
	r.mu.Lock()
	r.schemas["srv1.lookup"] = compiled
	r.mu.Unlock()

	_, err = r.Execute(ctx, persistence.User{ID: "u1"}, "srv1.lookup", []byte(`{}`))
	require.Error(t, err)
}
