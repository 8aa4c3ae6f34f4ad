package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"relaycore/internal/llm"
)

type fakeLister struct{ *llm.Base }

func (f *fakeLister) Initialize(context.Context) error { return nil }
func (f *fakeLister) ListModels(context.Context) ([]llm.ModelListing, error) {
	return []llm.ModelListing{{ID: "m1", Name: "Model One", Provider: "fake"}}, nil
}
func (f *fakeLister) CreateCompletion(context.Context, llm.Request) (*llm.Response, error) {
	return nil, llm.ErrUnsupported
}
func (f *fakeLister) StreamCompletion(context.Context, llm.Request) (<-chan llm.Event, error) {
	return nil, llm.ErrUnsupported
}
func (f *fakeLister) EmbedText(context.Context, []string) ([][]float32, error) {
	return nil, llm.ErrUnsupported
}
func (f *fakeLister) GetHealth(ctx context.Context) llm.HealthStatus { return f.Health(ctx) }

func TestListersAdaptsManagerProviders(t *testing.T) {
	mgr := llm.NewManager(llm.StrategyPriority, "fake", 0)
	mgr.Register(&fakeLister{Base: llm.NewBase("fake", "m1")}, 0)

	listers := Listers(mgr)
	require.Contains(t, listers, "fake")

	models, err := listers["fake"].ListModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, "m1", models[0].ID)
	require.Equal(t, "fake", models[0].Provider)
}
