package persistence

import "context"

// ChatStore persists sessions and the append-only turn log.
type ChatStore interface {
	Init(ctx context.Context) error
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id string) (Session, bool, error)
	AppendTurn(ctx context.Context, t Turn) (Turn, error)
	ListTurns(ctx context.Context, sessionID string) ([]Turn, error)
	Close()
}

// UserStore resolves identity for the auth stage.
type UserStore interface {
	Init(ctx context.Context) error
	GetUser(ctx context.Context, id string) (User, bool, error)
	Close()
}

// PolicyStore persists MCP access policies, default policies, and per-
// server enabled state (the relational side; the KV mirror of server
// enabled-state lives in cache under mcp:<serverId>:enabled per §6).
type PolicyStore interface {
	Init(ctx context.Context) error
	ListPoliciesForServer(ctx context.Context, serverID string) ([]AccessPolicy, error)
	UpsertPolicy(ctx context.Context, p AccessPolicy) (AccessPolicy, error)
	GetDefaultPolicy(ctx context.Context, t DefaultPolicyType) (DefaultPolicy, bool, error)
	SetDefaultPolicy(ctx context.Context, p DefaultPolicy) error
	GetServer(ctx context.Context, serverID string) (MCPServerRecord, bool, error)
	UpsertServer(ctx context.Context, s MCPServerRecord) (MCPServerRecord, error)
	Close()
}

// PricingStore persists the hand-maintained pricing fallback table and the
// most recently fetched live prices.
type PricingStore interface {
	Init(ctx context.Context) error
	GetPricing(ctx context.Context, modelID, region string) (ModelPricing, bool, error)
	UpsertPricing(ctx context.Context, p ModelPricing) error
	ListPricing(ctx context.Context) ([]ModelPricing, error)
	Close()
}

// UsageStore persists one PromptUsage row per assistant turn.
type UsageStore interface {
	Init(ctx context.Context) error
	RecordUsage(ctx context.Context, u PromptUsage) error
	Close()
}
