package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	*Base
	failTimes int
	calls     int
}

func newFakeProvider(name string, failTimes int) *fakeProvider {
	return &fakeProvider{Base: NewBase(name, "fake-model"), failTimes: failTimes}
}

func (f *fakeProvider) Initialize(ctx context.Context) error { return nil }
func (f *fakeProvider) ListModels(ctx context.Context) ([]ModelListing, error) {
	return []ModelListing{{ID: f.defaultModel, Name: f.defaultModel, Provider: f.name}}, nil
}
func (f *fakeProvider) CreateCompletion(ctx context.Context, req Request) (*Response, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return nil, errors.New("simulated failure")
	}
	return &Response{Message: Message{Role: "assistant", Content: f.name}, FinishReason: FinishStop}, nil
}
func (f *fakeProvider) StreamCompletion(ctx context.Context, req Request) (<-chan Event, error) {
	ch := make(chan Event, EventBufferSize)
	close(ch)
	return ch, nil
}
func (f *fakeProvider) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrUnsupported
}
func (f *fakeProvider) GetHealth(ctx context.Context) HealthStatus { return f.Health(ctx) }

func TestManagerFailsOverOnError(t *testing.T) {
	m := NewManager(StrategyPriority, "primary", time.Second)
	primary := newFakeProvider("primary", 10) // always fails
	secondary := newFakeProvider("secondary", 0)
	m.Register(primary, 0)
	m.Register(secondary, 1)

	resp, err := m.Complete(context.Background(), Request{Model: "fake-model"})
	require.NoError(t, err)
	require.Equal(t, "secondary", resp.Message.Content)
}

func TestManagerReturnsErrorWhenAllFail(t *testing.T) {
	m := NewManager(StrategyPriority, "primary", time.Second)
	m.Register(newFakeProvider("a", 10), 0)
	m.Register(newFakeProvider("b", 10), 1)

	_, err := m.Complete(context.Background(), Request{})
	require.Error(t, err)
}

func TestManagerRoundRobinRotatesStart(t *testing.T) {
	m := NewManager(StrategyRoundRobin, "", time.Second)
	a := newFakeProvider("a", 0)
	b := newFakeProvider("b", 0)
	m.Register(a, 0)
	m.Register(b, 1)

	first := m.order(context.Background())
	second := m.order(context.Background())
	require.NotEqual(t, first[0].Name(), second[0].Name(), "successive calls should rotate the start")
}

func TestManagerRecordsHealthOnSuccessAndFailure(t *testing.T) {
	m := NewManager(StrategyPriority, "", time.Second)
	p := newFakeProvider("p", 1)
	m.Register(p, 0)

	_, err := m.Complete(context.Background(), Request{})
	require.Error(t, err)
	require.Equal(t, "degraded", p.GetHealth(context.Background()).Status)

	_, err = m.Complete(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, "healthy", p.GetHealth(context.Background()).Status)
}
