package tieredfc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"relaycore/internal/config"
)

func TestDecideStripsToolsForPureChat(t *testing.T) {
	e := New(config.TieredFCConfig{ToolStrippingEnabled: true}, nil)
	d := e.Decide(context.Background(), "thanks, that makes sense", 3, 50)
	require.False(t, d.RequiresTools)
	require.True(t, d.StripTools)
	require.Equal(t, estimatedStrippedSavings, d.EstimatedSavedTokens)
}

func TestDecideWithNoToolsNeverStrips(t *testing.T) {
	e := New(config.TieredFCConfig{ToolStrippingEnabled: true}, nil)
	d := e.Decide(context.Background(), "thanks", 0, 50)
	require.False(t, d.RequiresTools)
	require.False(t, d.StripTools)
	require.Zero(t, d.EstimatedSavedTokens)
}

func TestDecideKeepsToolsForImperativeIntent(t *testing.T) {
	e := New(config.TieredFCConfig{ToolStrippingEnabled: true}, nil)
	d := e.Decide(context.Background(), "please search for the latest invoice status", 3, 50)
	require.True(t, d.RequiresTools)
	require.False(t, d.StripTools)
}

func TestTierSelectionBySliderBands(t *testing.T) {
	e := New(config.TieredFCConfig{CheapModel: "cheap", BalancedModel: "balanced", PremiumModel: "premium"}, nil)
	require.Equal(t, TierCheap, e.Decide(context.Background(), "hi", 0, 0).Tier)
	require.Equal(t, TierCheap, e.Decide(context.Background(), "hi", 0, 40).Tier)
	require.Equal(t, TierBalanced, e.Decide(context.Background(), "hi", 0, 41).Tier)
	require.Equal(t, TierBalanced, e.Decide(context.Background(), "hi", 0, 60).Tier)
	require.Equal(t, TierPremium, e.Decide(context.Background(), "hi", 0, 61).Tier)
	require.Equal(t, TierPremium, e.Decide(context.Background(), "hi", 0, 100).Tier)
}

func TestDecideResolvesConfiguredModelPerTier(t *testing.T) {
	e := New(config.TieredFCConfig{CheapModel: "gpt-4o-mini"}, nil)
	d := e.Decide(context.Background(), "hi", 0, 10)
	require.Equal(t, "gpt-4o-mini", d.Model)
}
