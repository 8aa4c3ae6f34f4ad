package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryChatStoreAppendAndList(t *testing.T) {
	ctx := context.Background()
	store := NewChatStore(nil)
	require.NoError(t, store.Init(ctx))

	sess, err := store.CreateSession(ctx, Session{UserID: "u1", Title: "demo"})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	got, ok, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "demo", got.Title)

	_, err = store.AppendTurn(ctx, Turn{SessionID: sess.ID, Role: RoleUser, Content: "hi"})
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, Turn{SessionID: sess.ID, Role: RoleAssistant, Content: "hello"})
	require.NoError(t, err)

	turns, err := store.ListTurns(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, RoleUser, turns[0].Role)
	require.Equal(t, RoleAssistant, turns[1].Role)
}

func TestMemoryPolicyStoreOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	store := NewPolicyStore(nil)

	_, err := store.UpsertPolicy(ctx, AccessPolicy{ServerID: "srv1", AccessType: AccessDeny, Priority: 50, IsEnabled: true})
	require.NoError(t, err)
	_, err = store.UpsertPolicy(ctx, AccessPolicy{ServerID: "srv1", AccessType: AccessAllow, Priority: 10, IsEnabled: true})
	require.NoError(t, err)

	policies, err := store.ListPoliciesForServer(ctx, "srv1")
	require.NoError(t, err)
	require.Len(t, policies, 2)
	require.Equal(t, AccessAllow, policies[0].AccessType, "lowest priority value sorts first")

	require.NoError(t, store.SetDefaultPolicy(ctx, DefaultPolicy{PolicyType: PolicyUserDefault, DefaultAccess: AccessDeny}))
	def, ok, err := store.GetDefaultPolicy(ctx, PolicyUserDefault)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, AccessDeny, def.DefaultAccess)
}

func TestMemoryPricingStoreUpsertAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewPricingStore(nil)

	require.NoError(t, store.UpsertPricing(ctx, ModelPricing{ModelID: "gpt-4o", Region: "us-east-1", InputPricePer1k: 0.005}))
	p, ok, err := store.GetPricing(ctx, "gpt-4o", "us-east-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.005, p.InputPricePer1k)

	_, ok, err = store.GetPricing(ctx, "gpt-4o", "eu-west-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryUsageStoreRecordsRows(t *testing.T) {
	ctx := context.Background()
	store := NewUsageStore(nil).(interface {
		UsageStore
		Rows() []PromptUsage
	})

	require.NoError(t, store.RecordUsage(ctx, PromptUsage{SessionID: "s1", MessageID: "m1", UserID: "u1", TokensAdded: 42}))
	rows := store.Rows()
	require.Len(t, rows, 1)
	require.Equal(t, 42, rows[0].TokensAdded)
	require.False(t, rows[0].CreatedAt.IsZero())
}
