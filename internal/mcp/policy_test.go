package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaycore/internal/persistence"
)

func TestResolveAllowsUnconfiguredServerByDefault(t *testing.T) {
	store := persistence.NewMemoryPolicyStore()
	r := NewPolicyResolver(store)

	d, err := r.Resolve(context.Background(), "nonexistent", persistence.User{ID: "u1"})
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestResolveDeniesDisabledServer(t *testing.T) {
	store := persistence.NewMemoryPolicyStore()
	_, err := store.UpsertServer(context.Background(), persistence.MCPServerRecord{ID: "srv1", Name: "srv1", Enabled: false})
	require.NoError(t, err)
	r := NewPolicyResolver(store)

	d, err := r.Resolve(context.Background(), "srv1", persistence.User{ID: "u1"})
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestResolvePicksLowestPriorityMatchingPolicy(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryPolicyStore()
	_, err := store.UpsertServer(ctx, persistence.MCPServerRecord{ID: "srv1", Name: "srv1", Enabled: true})
	require.NoError(t, err)
	_, err = store.UpsertPolicy(ctx, persistence.AccessPolicy{
		ID: "p-deny", ServerID: "srv1", AzureGroupID: "eng", AccessType: persistence.AccessDeny,
		Priority: 10, IsEnabled: true, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = store.UpsertPolicy(ctx, persistence.AccessPolicy{
		ID: "p-allow", ServerID: "srv1", AzureGroupID: "eng", AccessType: persistence.AccessAllow,
		Priority: 1, IsEnabled: true, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	r := NewPolicyResolver(store)

	d, err := r.Resolve(ctx, "srv1", persistence.User{ID: "u1", Groups: []string{"eng"}})
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestResolveFallsBackToDefaultPolicyWhenNoMatch(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryPolicyStore()
	_, err := store.UpsertServer(ctx, persistence.MCPServerRecord{ID: "srv1", Name: "srv1", Enabled: true})
	require.NoError(t, err)
	require.NoError(t, store.SetDefaultPolicy(ctx, persistence.DefaultPolicy{
		PolicyType: persistence.PolicyUserDefault, DefaultAccess: persistence.AccessDeny,
	}))
	r := NewPolicyResolver(store)

	d, err := r.Resolve(ctx, "srv1", persistence.User{ID: "u1", Groups: []string{"nomatch"}})
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestResolveDeniesWhenNoDefaultPolicyConfigured(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryPolicyStore()
	_, err := store.UpsertServer(ctx, persistence.MCPServerRecord{ID: "srv1", Name: "srv1", Enabled: true})
	require.NoError(t, err)
	r := NewPolicyResolver(store)

	d, err := r.Resolve(ctx, "srv1", persistence.User{ID: "u1"})
	require.NoError(t, err)
	require.False(t, d.Allowed)
}
