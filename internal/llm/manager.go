package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"relaycore/internal/gatewayerr"
)

// SelectionStrategy is the manager's provider-selection policy.
type SelectionStrategy string

const (
	StrategyPriority     SelectionStrategy = "priority"
	StrategyRoundRobin   SelectionStrategy = "round_robin"
	StrategyLeastLatency SelectionStrategy = "least_latency"
)

// EventBufferSize bounds the per-stream channel every vendor client's
// StreamCompletion allocates; producers block when full, implementing the
// streaming contract's consumer-driven back-pressure.
const EventBufferSize = 32

// entry pairs a configured provider with its priority for ordering.
type entry struct {
	provider Provider
	priority int
}

// Manager holds an ordered set of providers and selects among them per
// request, with failover to the next candidate on timeout or failure.
type Manager struct {
	mu              sync.RWMutex
	entries         []entry
	strategy        SelectionStrategy
	defaultProvider string
	failoverTimeout time.Duration
	rrCounter       uint64
}

// NewManager builds a Manager with no providers; add them with Register.
// A non-positive failoverTimeout defaults to 30 seconds.
func NewManager(strategy SelectionStrategy, defaultProvider string, failoverTimeout time.Duration) *Manager {
	if failoverTimeout <= 0 {
		failoverTimeout = 30 * time.Second
	}
	return &Manager{strategy: strategy, defaultProvider: defaultProvider, failoverTimeout: failoverTimeout}
}

// Register adds a provider at the given priority (lower = tried first).
func (m *Manager) Register(p Provider, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry{provider: p, priority: priority})
}

// Providers returns the registered providers in priority order, for
// callers that need to build a separate view over them (e.g. the router's
// model discovery).
func (m *Manager) Providers() []Provider {
	return m.candidates()
}

func (m *Manager) candidates() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sorted := make([]entry, len(m.entries))
	copy(sorted, m.entries)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].priority < sorted[j-1].priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	out := make([]Provider, len(sorted))
	for i, e := range sorted {
		out[i] = e.provider
	}
	return out
}

func (m *Manager) healthyCandidates(ctx context.Context) []Provider {
	var healthy []Provider
	for _, p := range m.candidates() {
		status := p.GetHealth(ctx)
		rp, canReprobe := p.(interface{ shouldReprobe() bool })
		if status.Status != "unavailable" || (canReprobe && rp.shouldReprobe()) {
			healthy = append(healthy, p)
		}
	}
	if len(healthy) == 0 {
		return m.candidates() // everything is degraded; let failover try them anyway
	}
	return healthy
}

// order returns providers in the sequence the configured strategy should
// attempt them.
func (m *Manager) order(ctx context.Context) []Provider {
	switch m.strategy {
	case StrategyRoundRobin:
		healthy := m.healthyCandidates(ctx)
		if len(healthy) == 0 {
			return nil
		}
		start := int(atomic.AddUint64(&m.rrCounter, 1)-1) % len(healthy)
		return append(append([]Provider{}, healthy[start:]...), healthy[:start]...)
	case StrategyLeastLatency:
		healthy := m.healthyCandidates(ctx)
		sortByLatency(ctx, healthy)
		return healthy
	default: // StrategyPriority
		return m.candidates()
	}
}

func sortByLatency(ctx context.Context, providers []Provider) {
	for i := 1; i < len(providers); i++ {
		for j := i; j > 0; j-- {
			a := providers[j].GetHealth(ctx).LatencyMs
			b := providers[j-1].GetHealth(ctx).LatencyMs
			if a >= b {
				break
			}
			providers[j], providers[j-1] = providers[j-1], providers[j]
		}
	}
}

// Complete tries each candidate provider in strategy order, advancing to
// the next on timeout or error, until one succeeds or all are exhausted.
func (m *Manager) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for _, p := range m.order(ctx) {
		resp, err := m.tryComplete(ctx, p, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = gatewayerr.New(gatewayerr.ProviderUnavailable, "no provider configured")
	}
	return nil, gatewayerr.Wrap(gatewayerr.ProviderUnavailable, "all candidate providers failed", lastErr)
}

func (m *Manager) tryComplete(ctx context.Context, p Provider, req Request) (*Response, error) {
	cctx, cancel := context.WithTimeout(ctx, m.failoverTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.CreateCompletion(cctx, req)
	if err != nil {
		if b, ok := asBase(p); ok {
			b.recordFailure()
		}
		return nil, err
	}
	if b, ok := asBase(p); ok {
		b.recordSuccess(time.Since(start))
	}
	return resp, nil
}

// Stream tries each candidate in strategy order for a streaming completion.
// Unlike Complete, once a provider accepts the stream request, failover no
// longer applies: the caller's ctx governs cancellation for the rest of the
// stream's lifetime, so a long-running stream is never cut off by
// failoverTimeout.
func (m *Manager) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	var lastErr error
	for _, p := range m.order(ctx) {
		src, err := p.StreamCompletion(ctx, req)
		if err != nil {
			if b, ok := asBase(p); ok {
				b.recordFailure()
			}
			lastErr = err
			continue
		}
		return src, nil
	}
	if lastErr == nil {
		lastErr = gatewayerr.New(gatewayerr.ProviderUnavailable, "no provider configured")
	}
	return nil, gatewayerr.Wrap(gatewayerr.ProviderUnavailable, "all candidate providers failed to start stream", lastErr)
}

// healthReporter is implemented by any Provider built on this package's
// base helper, letting the manager record outcomes without a type switch
// over every vendor package.
type healthReporter interface {
	recordSuccess(time.Duration)
	recordFailure()
}

func asBase(p Provider) (healthReporter, bool) {
	hr, ok := p.(healthReporter)
	return hr, ok
}
