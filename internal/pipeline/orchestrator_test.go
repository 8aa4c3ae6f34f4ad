package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gwcontext "relaycore/internal/context"
	"relaycore/internal/llm"
	"relaycore/internal/persistence"
	"relaycore/internal/router"
)

type fakeProvider struct {
	*llm.Base
	modelID string
}

func newFakeProvider(modelID string) *fakeProvider {
	return &fakeProvider{Base: llm.NewBase("fake", modelID), modelID: modelID}
}

func (f *fakeProvider) Initialize(context.Context) error { return nil }
func (f *fakeProvider) ListModels(context.Context) ([]llm.ModelListing, error) {
	return []llm.ModelListing{{ID: f.modelID, Name: f.modelID, Provider: "fake"}}, nil
}
func (f *fakeProvider) CreateCompletion(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{
		Message:      llm.Message{Role: "assistant", Content: "hello " + req.Messages[len(req.Messages)-1].Content},
		Usage:        llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		FinishReason: llm.FinishStop,
	}, nil
}
func (f *fakeProvider) StreamCompletion(context.Context, llm.Request) (<-chan llm.Event, error) {
	ch := make(chan llm.Event)
	close(ch)
	return ch, nil
}
func (f *fakeProvider) EmbedText(context.Context, []string) ([][]float32, error) {
	return nil, llm.ErrUnsupported
}
func (f *fakeProvider) GetHealth(ctx context.Context) llm.HealthStatus { return f.Health(ctx) }

type failingProvider struct {
	*llm.Base
}

func (f *failingProvider) Initialize(context.Context) error { return nil }
func (f *failingProvider) ListModels(context.Context) ([]llm.ModelListing, error) { return nil, nil }
func (f *failingProvider) CreateCompletion(context.Context, llm.Request) (*llm.Response, error) {
	return nil, errors.New("boom")
}
func (f *failingProvider) StreamCompletion(context.Context, llm.Request) (<-chan llm.Event, error) {
	return nil, errors.New("boom")
}
func (f *failingProvider) EmbedText(context.Context, []string) ([][]float32, error) {
	return nil, llm.ErrUnsupported
}
func (f *failingProvider) GetHealth(ctx context.Context) llm.HealthStatus { return f.Health(ctx) }

func buildStages(t *testing.T, manager *llm.Manager, users persistence.UserStore, chat persistence.ChatStore) []Stage {
	t.Helper()
	catalog := router.Discover(context.Background(), map[string]router.Lister{
		"fake": listerFunc(func(ctx context.Context) ([]router.RawModel, error) {
			return []router.RawModel{{ID: "fake-model", Name: "fake-model", Provider: "fake"}}, nil
		}),
	})

	ctxEngine := gwcontext.New(nil, nil)

	return []Stage{
		&AuthStage{Users: users},
		&MemoryStage{},
		&MCPStage{},
		&ContextStage{
			Engine: ctxEngine,
			ModelInfo: func(pc *PipelineContext) gwcontext.ModelInfo {
				return gwcontext.ModelInfo{ID: "fake-model", ContextWindow: 8192, ReservedForGeneration: 1024}
			},
			SystemPrompt: "you are a test assistant",
		},
		&TieredFCStage{},
		&RouteStage{Catalog: catalog},
		&LLMStage{Manager: manager},
		&ToolExecStage{},
		&PersistStage{Chat: chat},
		&MetricsStage{Usage: persistence.NewMemoryUsageStore()},
	}
}

type listerFunc func(ctx context.Context) ([]router.RawModel, error)

func (f listerFunc) ListModels(ctx context.Context) ([]router.RawModel, error) { return f(ctx) }

func TestOrchestratorRunsFullTurnSuccessfully(t *testing.T) {
	manager := llm.NewManager(llm.StrategyPriority, "fake", time.Second)
	manager.Register(newFakeProvider("fake-model"), 0)

	users := persistence.NewMemoryUserStore(persistence.User{ID: "u1", Email: "u1@example.com"})
	chat := persistence.NewMemoryChatStore()

	o := New(nil, buildStages(t, manager, users, chat)...)
	pc := &PipelineContext{
		UserID:    "u1",
		SessionID: "s1",
		Messages:  []Message{{Role: "user", Content: "hi there"}},
		Flags:     Flags{CacheEnabled: false},
	}

	pc.Events = make(chan Event, eventBufferSize)
	events := pc.Events

	var collected []Event
	done := make(chan struct{})
	go func() {
		for ev := range events {
			collected = append(collected, ev)
		}
		close(done)
	}()

	err := o.Run(context.Background(), pc)
	<-done

	require.NoError(t, err)
	require.NotNil(t, pc.Response)
	require.Contains(t, pc.Response.Message.Content, "hi there")
	require.NotEmpty(t, pc.PersistedTurn.ID)

	var sawDone bool
	for _, ev := range collected {
		if ev.Kind == EventDone {
			sawDone = true
			require.Equal(t, llm.FinishStop, ev.FinishReason)
		}
	}
	require.True(t, sawDone)
}

func TestOrchestratorFailsTurnWhenAuthDenied(t *testing.T) {
	manager := llm.NewManager(llm.StrategyPriority, "fake", time.Second)
	manager.Register(newFakeProvider("fake-model"), 0)
	users := persistence.NewMemoryUserStore() // no seeded users
	chat := persistence.NewMemoryChatStore()

	o := New(nil, buildStages(t, manager, users, chat)...)
	pc := &PipelineContext{UserID: "ghost", SessionID: "s1", Messages: []Message{{Role: "user", Content: "hi"}}}
	pc.Events = make(chan Event, eventBufferSize)
	events := pc.Events

	go func() {
		for range events {
		}
	}()

	err := o.Run(context.Background(), pc)
	require.Error(t, err)
	require.Nil(t, pc.Response)
}

func TestOrchestratorFailsTurnWhenAllProvidersFail(t *testing.T) {
	manager := llm.NewManager(llm.StrategyPriority, "fake", time.Second)
	manager.Register(&failingProvider{Base: llm.NewBase("fake", "fake-model")}, 0)
	users := persistence.NewMemoryUserStore(persistence.User{ID: "u1"})
	chat := persistence.NewMemoryChatStore()

	o := New(nil, buildStages(t, manager, users, chat)...)
	pc := &PipelineContext{UserID: "u1", SessionID: "s1", Messages: []Message{{Role: "user", Content: "hi"}}}
	pc.Events = make(chan Event, eventBufferSize)
	events := pc.Events

	go func() {
		for range events {
		}
	}()

	err := o.Run(context.Background(), pc)
	require.Error(t, err)
	require.Nil(t, pc.Response)
	require.Empty(t, pc.PersistedTurn.ID)
}
