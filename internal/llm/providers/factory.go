// Package providers builds a *llm.Manager from the gateway's configured
// provider list, dispatching each entry to the vendor client that speaks its
// wire protocol.
package providers

import (
	"fmt"
	"net/http"

	"relaycore/internal/config"
	"relaycore/internal/llm"
	"relaycore/internal/llm/anthropic"
	"relaycore/internal/llm/bedrock"
	"relaycore/internal/llm/google"
	openaillm "relaycore/internal/llm/openai"
)

// strategyFor maps the configured load-balancing-strategy string to the
// manager's SelectionStrategy, defaulting to priority for anything unknown.
func strategyFor(cfg config.Config) llm.SelectionStrategy {
	if !cfg.EnableLoadBalancing {
		return llm.StrategyPriority
	}
	switch cfg.LoadBalancingStrat {
	case "round-robin":
		return llm.StrategyRoundRobin
	case "least-latency":
		return llm.StrategyLeastLatency
	default:
		return llm.StrategyPriority
	}
}

// Build constructs a provider manager wired with one client per enabled
// entry in cfg.Providers, dispatching on providerType per SPEC_FULL.md §4.5.
func Build(cfg config.Config, httpClient *http.Client) (*llm.Manager, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	mgr := llm.NewManager(strategyFor(cfg), cfg.DefaultProvider, cfg.FailoverTimeout)

	registered := 0
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		p, err := buildOne(pc, httpClient)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		mgr.Register(p, pc.Priority)
		registered++
	}
	if registered == 0 {
		return nil, fmt.Errorf("no enabled providers configured")
	}
	return mgr, nil
}

func buildOne(pc config.ProviderConfig, httpClient *http.Client) (llm.Provider, error) {
	switch pc.Type {
	case "", "azure-openai", "ollama":
		return openaillm.New(pc, httpClient), nil
	case "azure-ai-foundry":
		return anthropic.New(pc, httpClient), nil
	case "google-vertex":
		return google.New(pc, httpClient), nil
	case "aws-bedrock":
		return bedrock.New(pc)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", pc.Type)
	}
}
