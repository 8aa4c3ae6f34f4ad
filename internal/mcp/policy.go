package mcp

import (
	"context"
	"sort"

	"relaycore/internal/gatewayerr"
	"relaycore/internal/persistence"
)

// Decision is the outcome of resolving access for one (server, user) pair.
type Decision struct {
	Allowed bool
	Reason  string
}

// PolicyResolver implements the policy-resolution steps of §4.7.
type PolicyResolver struct {
	store persistence.PolicyStore
}

func NewPolicyResolver(store persistence.PolicyStore) *PolicyResolver {
	return &PolicyResolver{store: store}
}

// Resolve decides whether user may see/use tools on serverID. On any lookup
// error the returned Decision is already Allowed=false (fail-secure); the
// error is still returned so callers can log and classify it.
func (r *PolicyResolver) Resolve(ctx context.Context, serverID string, user persistence.User) (Decision, error) {
	server, found, err := r.store.GetServer(ctx, serverID)
	if err != nil {
		return Decision{Allowed: false, Reason: "server lookup failed"}, gatewayerr.Wrap(gatewayerr.Internal, "mcp server lookup failed", err)
	}
	if !found {
		// Server never configured: explicit permissive default.
		return Decision{Allowed: true, Reason: "unconfigured server, permissive default"}, nil
	}
	if !server.Enabled {
		return Decision{Allowed: false, Reason: "server disabled"}, nil
	}

	policies, err := r.store.ListPoliciesForServer(ctx, serverID)
	if err != nil {
		return Decision{Allowed: false, Reason: "policy lookup failed"}, gatewayerr.Wrap(gatewayerr.Internal, "mcp policy lookup failed", err)
	}

	groups := make(map[string]struct{}, len(user.Groups))
	for _, g := range user.Groups {
		groups[g] = struct{}{}
	}
	matches := make([]persistence.AccessPolicy, 0, len(policies))
	for _, p := range policies {
		if !p.IsEnabled {
			continue
		}
		if _, ok := groups[p.AzureGroupID]; !ok {
			continue
		}
		matches = append(matches, p)
	}
	if len(matches) > 0 {
		sort.Slice(matches, func(i, j int) bool {
			if matches[i].Priority != matches[j].Priority {
				return matches[i].Priority < matches[j].Priority
			}
			return matches[i].CreatedAt.Before(matches[j].CreatedAt)
		})
		chosen := matches[0]
		return Decision{Allowed: chosen.AccessType == persistence.AccessAllow, Reason: "explicit policy " + chosen.ID}, nil
	}

	policyType := persistence.PolicyUserDefault
	if user.IsAdmin {
		policyType = persistence.PolicyAdminDefault
	}
	def, found, err := r.store.GetDefaultPolicy(ctx, policyType)
	if err != nil {
		return Decision{Allowed: false, Reason: "default policy lookup failed"}, gatewayerr.Wrap(gatewayerr.Internal, "mcp default policy lookup failed", err)
	}
	if !found {
		return Decision{Allowed: false, Reason: "no default policy configured"}, nil
	}
	return Decision{Allowed: def.DefaultAccess == persistence.AccessAllow, Reason: "default policy " + string(def.PolicyType)}, nil
}
