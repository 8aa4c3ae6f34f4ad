// Package persistence defines the relational data model and store
// interfaces for identity, turns, MCP policy, pricing fallback, and
// prompt-usage records, per SPEC_FULL.md §3 and §6. Two implementations
// are provided: an in-memory store for tests and single-node demos, and a
// Postgres-backed store for production, selected by config.DatabaseConfig.DSN.
package persistence

import "time"

// User mirrors SPEC_FULL.md §3 User. Mutated only by admin paths external
// to this core; the gateway reads it to resolve groups/isAdmin for policy.
type User struct {
	ID        string
	Email     string
	Name      string
	Groups    []string
	IsAdmin   bool
	CreatedAt time.Time
}

// Session is one open conversation; turns are appended in creation order.
type Session struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
}

// Role enumerates a Turn's author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRecord is the persisted shape of a tool invocation attached to an
// assistant turn.
type ToolCallRecord struct {
	ID     string
	Name   string
	Args   string // raw JSON
	Result string // execution result text, empty if the call was never executed
}

// Turn is one append-only row in a session's transcript. Never rewritten
// once finalized.
type Turn struct {
	ID           string
	SessionID    string
	Role         Role
	Content      string
	ToolCalls    []ToolCallRecord
	Model        string
	CreatedAt    time.Time
	NotPersisted bool // set when persist_failed but the stream still completed
}

// AccessType enumerates an MCP access policy's effect.
type AccessType string

const (
	AccessAllow AccessType = "allow"
	AccessDeny  AccessType = "deny"
)

// AccessPolicy is a (server, group, allow|deny, priority) rule. Resolution
// picks the lowest-priority (then earliest-created) enabled match.
type AccessPolicy struct {
	ID             string
	ServerID       string
	AzureGroupID   string
	AzureGroupName string
	AccessType     AccessType
	Priority       int
	IsEnabled      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DefaultPolicyType enumerates which population a DefaultPolicy applies to.
type DefaultPolicyType string

const (
	PolicyAdminDefault DefaultPolicyType = "admin_default"
	PolicyUserDefault  DefaultPolicyType = "user_default"
)

// DefaultPolicy is the fallback access decision when no explicit policy
// matches a (server, group) pair.
type DefaultPolicy struct {
	PolicyType    DefaultPolicyType
	DefaultAccess AccessType
}

// MCPServerRecord is the persisted enabled/disabled state and metadata of
// one configured MCP server, keyed by ServerID.
type MCPServerRecord struct {
	ID      string
	Name    string
	Enabled bool
}

// ModelPricing mirrors SPEC_FULL.md §3. Source distinguishes a live
// provider-API fetch from the hand-maintained fallback table.
type ModelPricing struct {
	ModelID         string
	ModelName       string
	Provider        string
	InputPricePer1k float64
	OutputPricePer1k float64
	Region          string
	LastUpdated     time.Time
	Source          string // aws-api|fallback
}

// PromptUsage is one row per assistant turn describing which context
// ingredients were applied.
type PromptUsage struct {
	SessionID          string
	MessageID          string
	UserID             string
	BaseTemplateID     string
	DomainTemplateID   string
	SystemPromptLength int
	TechniquesApplied  []string
	TokensAdded        int
	HasFormatting      bool
	HasMCPContext      bool
	HasRAGContext      bool
	HasMemoryContext   bool
	RAGDocsCount       int
	MCPToolsCount      int
	CreatedAt          time.Time
}
