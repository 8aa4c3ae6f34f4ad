package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewChatStore returns a Postgres-backed ChatStore, or an in-memory one when
// pool is nil (tests, single-node demos run without DatabaseConfig.DSN).
func NewChatStore(pool *pgxpool.Pool) ChatStore {
	if pool == nil {
		return NewMemoryChatStore()
	}
	return &pgChatStore{pool: pool}
}

// NewUserStore returns a Postgres-backed UserStore, or an in-memory one when
// pool is nil.
func NewUserStore(pool *pgxpool.Pool) UserStore {
	if pool == nil {
		return NewMemoryUserStore()
	}
	return &pgUserStore{pool: pool}
}

// NewPolicyStore returns a Postgres-backed PolicyStore, or an in-memory one
// when pool is nil.
func NewPolicyStore(pool *pgxpool.Pool) PolicyStore {
	if pool == nil {
		return NewMemoryPolicyStore()
	}
	return &pgPolicyStore{pool: pool}
}

// NewPricingStore returns a Postgres-backed PricingStore, or an in-memory one
// when pool is nil.
func NewPricingStore(pool *pgxpool.Pool) PricingStore {
	if pool == nil {
		return NewMemoryPricingStore()
	}
	return &pgPricingStore{pool: pool}
}

// NewUsageStore returns a Postgres-backed UsageStore, or an in-memory one
// when pool is nil.
func NewUsageStore(pool *pgxpool.Pool) UsageStore {
	if pool == nil {
		return NewMemoryUsageStore()
	}
	return &pgUsageStore{pool: pool}
}

// --- chat store ---

type pgChatStore struct {
	pool *pgxpool.Pool
}

func (s *pgChatStore) Close() { s.pool.Close() }

func (s *pgChatStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sessions (
    id UUID PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS turns (
    id UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    tool_calls JSONB NOT NULL DEFAULT '[]',
    model TEXT NOT NULL DEFAULT '',
    not_persisted BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS turns_session_created_idx ON turns(session_id, created_at);
`)
	return err
}

func (s *pgChatStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO sessions (id, user_id, title)
VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3)
RETURNING id, user_id, title, created_at`, sess.ID, sess.UserID, sess.Title)
	var out Session
	if err := row.Scan(&out.ID, &out.UserID, &out.Title, &out.CreatedAt); err != nil {
		return Session{}, err
	}
	return out, nil
}

func (s *pgChatStore) GetSession(ctx context.Context, id string) (Session, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, user_id, title, created_at FROM sessions WHERE id = $1`, id)
	var out Session
	if err := row.Scan(&out.ID, &out.UserID, &out.Title, &out.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	return out, true, nil
}

func (s *pgChatStore) AppendTurn(ctx context.Context, t Turn) (Turn, error) {
	toolCalls := toolCallsJSON(t.ToolCalls)
	row := s.pool.QueryRow(ctx, `
INSERT INTO turns (id, session_id, role, content, tool_calls, model, not_persisted)
VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7)
RETURNING id, session_id, role, content, model, not_persisted, created_at`,
		t.ID, t.SessionID, string(t.Role), t.Content, toolCalls, t.Model, t.NotPersisted)
	var out Turn
	var role string
	if err := row.Scan(&out.ID, &out.SessionID, &role, &out.Content, &out.Model, &out.NotPersisted, &out.CreatedAt); err != nil {
		return Turn{}, err
	}
	out.Role = Role(role)
	out.ToolCalls = t.ToolCalls
	return out, nil
}

func (s *pgChatStore) ListTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, session_id, role, content, model, not_persisted, created_at
FROM turns WHERE session_id = $1 ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Turn{}
	for rows.Next() {
		var t Turn
		var role string
		if err := rows.Scan(&t.ID, &t.SessionID, &role, &t.Content, &t.Model, &t.NotPersisted, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Role = Role(role)
		out = append(out, t)
	}
	return out, rows.Err()
}

func toolCallsJSON(calls []ToolCallRecord) string {
	if len(calls) == 0 {
		return "[]"
	}
	buf := []byte("[")
	for i, c := range calls {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, `{"id":"`...)
		buf = append(buf, c.ID...)
		buf = append(buf, `","name":"`...)
		buf = append(buf, c.Name...)
		buf = append(buf, `","args":`...)
		if c.Args == "" {
			buf = append(buf, "null"...)
		} else {
			buf = append(buf, c.Args...)
		}
		buf = append(buf, '}')
	}
	buf = append(buf, ']')
	return string(buf)
}

// --- user store ---

type pgUserStore struct {
	pool *pgxpool.Pool
}

func (s *pgUserStore) Close() { s.pool.Close() }

func (s *pgUserStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    groups TEXT[] NOT NULL DEFAULT '{}',
    is_admin BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`)
	return err
}

func (s *pgUserStore) GetUser(ctx context.Context, id string) (User, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, email, name, groups, is_admin, created_at FROM users WHERE id = $1`, id)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Groups, &u.IsAdmin, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return u, true, nil
}

// --- policy store ---

type pgPolicyStore struct {
	pool *pgxpool.Pool
}

func (s *pgPolicyStore) Close() { s.pool.Close() }

func (s *pgPolicyStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS mcp_servers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    enabled BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS mcp_access_policies (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    server_id TEXT NOT NULL REFERENCES mcp_servers(id) ON DELETE CASCADE,
    azure_group_id TEXT NOT NULL DEFAULT '',
    azure_group_name TEXT NOT NULL DEFAULT '',
    access_type TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 100,
    is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS mcp_access_policies_server_idx ON mcp_access_policies(server_id, priority);

CREATE TABLE IF NOT EXISTS mcp_default_policies (
    policy_type TEXT PRIMARY KEY,
    default_access TEXT NOT NULL
);
`)
	return err
}

func (s *pgPolicyStore) ListPoliciesForServer(ctx context.Context, serverID string) ([]AccessPolicy, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, server_id, azure_group_id, azure_group_name, access_type, priority, is_enabled, created_at, updated_at
FROM mcp_access_policies
WHERE server_id = $1 AND is_enabled = TRUE
ORDER BY priority ASC, created_at ASC`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []AccessPolicy{}
	for rows.Next() {
		var p AccessPolicy
		var accessType string
		if err := rows.Scan(&p.ID, &p.ServerID, &p.AzureGroupID, &p.AzureGroupName, &accessType, &p.Priority, &p.IsEnabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.AccessType = AccessType(accessType)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *pgPolicyStore) UpsertPolicy(ctx context.Context, p AccessPolicy) (AccessPolicy, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO mcp_access_policies (id, server_id, azure_group_id, azure_group_name, access_type, priority, is_enabled)
VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    azure_group_id = EXCLUDED.azure_group_id,
    azure_group_name = EXCLUDED.azure_group_name,
    access_type = EXCLUDED.access_type,
    priority = EXCLUDED.priority,
    is_enabled = EXCLUDED.is_enabled,
    updated_at = NOW()
RETURNING id, server_id, azure_group_id, azure_group_name, access_type, priority, is_enabled, created_at, updated_at`,
		p.ID, p.ServerID, p.AzureGroupID, p.AzureGroupName, string(p.AccessType), p.Priority, p.IsEnabled)
	var out AccessPolicy
	var accessType string
	if err := row.Scan(&out.ID, &out.ServerID, &out.AzureGroupID, &out.AzureGroupName, &accessType, &out.Priority, &out.IsEnabled, &out.CreatedAt, &out.UpdatedAt); err != nil {
		return AccessPolicy{}, err
	}
	out.AccessType = AccessType(accessType)
	return out, nil
}

func (s *pgPolicyStore) GetDefaultPolicy(ctx context.Context, t DefaultPolicyType) (DefaultPolicy, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT policy_type, default_access FROM mcp_default_policies WHERE policy_type = $1`, string(t))
	var d DefaultPolicy
	var policyType, access string
	if err := row.Scan(&policyType, &access); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultPolicy{}, false, nil
		}
		return DefaultPolicy{}, false, err
	}
	d.PolicyType = DefaultPolicyType(policyType)
	d.DefaultAccess = AccessType(access)
	return d, true, nil
}

func (s *pgPolicyStore) SetDefaultPolicy(ctx context.Context, p DefaultPolicy) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO mcp_default_policies (policy_type, default_access)
VALUES ($1, $2)
ON CONFLICT (policy_type) DO UPDATE SET default_access = EXCLUDED.default_access`,
		string(p.PolicyType), string(p.DefaultAccess))
	return err
}

func (s *pgPolicyStore) GetServer(ctx context.Context, serverID string) (MCPServerRecord, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, enabled FROM mcp_servers WHERE id = $1`, serverID)
	var rec MCPServerRecord
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Enabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MCPServerRecord{}, false, nil
		}
		return MCPServerRecord{}, false, err
	}
	return rec, true, nil
}

func (s *pgPolicyStore) UpsertServer(ctx context.Context, rec MCPServerRecord) (MCPServerRecord, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO mcp_servers (id, name, enabled)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, enabled = EXCLUDED.enabled
RETURNING id, name, enabled`, rec.ID, rec.Name, rec.Enabled)
	var out MCPServerRecord
	if err := row.Scan(&out.ID, &out.Name, &out.Enabled); err != nil {
		return MCPServerRecord{}, err
	}
	return out, nil
}

// --- pricing store ---

type pgPricingStore struct {
	pool *pgxpool.Pool
}

func (s *pgPricingStore) Close() { s.pool.Close() }

func (s *pgPricingStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS model_pricing (
    model_id TEXT NOT NULL,
    region TEXT NOT NULL DEFAULT '',
    model_name TEXT NOT NULL DEFAULT '',
    provider TEXT NOT NULL DEFAULT '',
    input_price_per_1k DOUBLE PRECISION NOT NULL DEFAULT 0,
    output_price_per_1k DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    source TEXT NOT NULL DEFAULT 'fallback',
    PRIMARY KEY (model_id, region)
);`)
	return err
}

func (s *pgPricingStore) GetPricing(ctx context.Context, modelID, region string) (ModelPricing, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT model_id, region, model_name, provider, input_price_per_1k, output_price_per_1k, last_updated, source
FROM model_pricing WHERE model_id = $1 AND region = $2`, modelID, region)
	var p ModelPricing
	if err := row.Scan(&p.ModelID, &p.Region, &p.ModelName, &p.Provider, &p.InputPricePer1k, &p.OutputPricePer1k, &p.LastUpdated, &p.Source); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ModelPricing{}, false, nil
		}
		return ModelPricing{}, false, err
	}
	return p, true, nil
}

func (s *pgPricingStore) UpsertPricing(ctx context.Context, p ModelPricing) error {
	lastUpdated := p.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO model_pricing (model_id, region, model_name, provider, input_price_per_1k, output_price_per_1k, last_updated, source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (model_id, region) DO UPDATE SET
    model_name = EXCLUDED.model_name,
    provider = EXCLUDED.provider,
    input_price_per_1k = EXCLUDED.input_price_per_1k,
    output_price_per_1k = EXCLUDED.output_price_per_1k,
    last_updated = EXCLUDED.last_updated,
    source = EXCLUDED.source`,
		p.ModelID, p.Region, p.ModelName, p.Provider, p.InputPricePer1k, p.OutputPricePer1k, lastUpdated, p.Source)
	return err
}

func (s *pgPricingStore) ListPricing(ctx context.Context) ([]ModelPricing, error) {
	rows, err := s.pool.Query(ctx, `
SELECT model_id, region, model_name, provider, input_price_per_1k, output_price_per_1k, last_updated, source
FROM model_pricing`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ModelPricing{}
	for rows.Next() {
		var p ModelPricing
		if err := rows.Scan(&p.ModelID, &p.Region, &p.ModelName, &p.Provider, &p.InputPricePer1k, &p.OutputPricePer1k, &p.LastUpdated, &p.Source); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- usage store ---

type pgUsageStore struct {
	pool *pgxpool.Pool
}

func (s *pgUsageStore) Close() { s.pool.Close() }

func (s *pgUsageStore) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS prompt_usage (
    id BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    base_template_id TEXT NOT NULL DEFAULT '',
    domain_template_id TEXT NOT NULL DEFAULT '',
    system_prompt_length INTEGER NOT NULL DEFAULT 0,
    techniques_applied TEXT[] NOT NULL DEFAULT '{}',
    tokens_added INTEGER NOT NULL DEFAULT 0,
    has_formatting BOOLEAN NOT NULL DEFAULT FALSE,
    has_mcp_context BOOLEAN NOT NULL DEFAULT FALSE,
    has_rag_context BOOLEAN NOT NULL DEFAULT FALSE,
    has_memory_context BOOLEAN NOT NULL DEFAULT FALSE,
    rag_docs_count INTEGER NOT NULL DEFAULT 0,
    mcp_tools_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS prompt_usage_session_idx ON prompt_usage(session_id, created_at);
`)
	return err
}

func (s *pgUsageStore) RecordUsage(ctx context.Context, u PromptUsage) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO prompt_usage (
    session_id, message_id, user_id, base_template_id, domain_template_id, system_prompt_length,
    techniques_applied, tokens_added, has_formatting, has_mcp_context, has_rag_context, has_memory_context,
    rag_docs_count, mcp_tools_count
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		u.SessionID, u.MessageID, u.UserID, u.BaseTemplateID, u.DomainTemplateID, u.SystemPromptLength,
		u.TechniquesApplied, u.TokensAdded, u.HasFormatting, u.HasMCPContext, u.HasRAGContext, u.HasMemoryContext,
		u.RAGDocsCount, u.MCPToolsCount)
	return err
}
