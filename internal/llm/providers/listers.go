package providers

import (
	"context"

	"relaycore/internal/llm"
	"relaycore/internal/router"
)

// providerLister adapts an llm.Provider to router.Lister, translating the
// provider's own ModelListing shape into the router's RawModel.
type providerLister struct {
	provider llm.Provider
}

func (l providerLister) ListModels(ctx context.Context) ([]router.RawModel, error) {
	models, err := l.provider.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]router.RawModel, len(models))
	for i, m := range models {
		out[i] = router.RawModel{ID: m.ID, Name: m.Name, Provider: m.Provider}
	}
	return out, nil
}

// Listers builds the map router.Discover needs from a manager's registered
// providers, keyed by provider name.
func Listers(mgr *llm.Manager) map[string]router.Lister {
	out := make(map[string]router.Lister)
	for _, p := range mgr.Providers() {
		out[p.Name()] = providerLister{provider: p}
	}
	return out
}
