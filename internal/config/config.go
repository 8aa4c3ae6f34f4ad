// Package config defines and loads the gateway's configuration: provider
// wiring, failover/load-balancing policy, tiered function-calling tiers,
// cache/vector/database DSNs, and the memory subsystem's tunables.
package config

import "time"

// ProviderConfig describes one configured LLM provider instance.
type ProviderConfig struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"` // azure-openai|azure-ai-foundry|aws-bedrock|google-vertex|ollama
	Enabled  bool           `yaml:"enabled"`
	Priority int            `yaml:"priority"` // lower = tried first under the "priority" strategy
	BaseURL  string         `yaml:"base_url,omitempty"`
	APIKey   string         `yaml:"api_key,omitempty"`
	Region   string         `yaml:"region,omitempty"`
	Models   []string       `yaml:"models,omitempty"`
	Extra    map[string]any `yaml:"extra,omitempty"`
}

// TieredFCConfig configures the tiered function-calling decision engine.
type TieredFCConfig struct {
	CheapModel              string `yaml:"cheap_model,omitempty"`
	BalancedModel           string `yaml:"balanced_model,omitempty"`
	PremiumModel            string `yaml:"premium_model,omitempty"`
	ToolStrippingEnabled    bool   `yaml:"tool_stripping_enabled"`
	DecisionCacheEnabled    bool   `yaml:"decision_cache_enabled"`
	DecisionCacheTTLSeconds int    `yaml:"decision_cache_ttl_seconds"`
}

func (c TieredFCConfig) DecisionCacheTTL() time.Duration {
	if c.DecisionCacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.DecisionCacheTTLSeconds) * time.Second
}

// CacheConfig configures the Redis-backed cache surface.
type CacheConfig struct {
	Addr                  string        `yaml:"addr"`
	Password              string        `yaml:"password,omitempty"`
	DB                    int           `yaml:"db"`
	TLSInsecureSkipVerify bool          `yaml:"tls_insecure_skip_verify,omitempty"`
	DefaultTTL            time.Duration `yaml:"default_ttl"`
	KeyPrefix             string        `yaml:"key_prefix"`
}

// VectorConfig configures the Qdrant-backed vector substrate.
type VectorConfig struct {
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Metric     string `yaml:"metric"` // cosine|l2|euclidean|ip|dot|manhattan
}

// DatabaseConfig configures the relational store (sessions/turns/policies/
// pricing/prompt-usage). An empty DSN selects the in-memory store, which is
// used in tests and single-node demos.
type DatabaseConfig struct {
	DSN string `yaml:"dsn,omitempty"`
}

// MemoryConfig holds the memory limits and consolidation settings. They are
// loaded here, but memory.New takes no configuration and the memory stage
// performs no consolidation.
type MemoryConfig struct {
	MaxSessionMemory       int `yaml:"max_session_memory"`
	MaxUserMemory          int `yaml:"max_user_memory"`
	ConsolidationThreshold int `yaml:"consolidation_threshold"`
	RetentionDays          int `yaml:"retention_days"`
}

// RAGConfig holds the TTL setting for cached retrieval results. It is loaded
// and defaulted here, but no stage reads it: the memory stage and the
// context engine use their own fixed cache TTLs.
type RAGConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

func (c RAGConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// MCPServerConfig describes one MCP tool server the gateway can discover
// tools from.
type MCPServerConfig struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	URL         string            `yaml:"url,omitempty"`
	BearerToken string            `yaml:"bearer_token,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Enabled     bool              `yaml:"enabled"`
}

// Config is the top-level gateway configuration, per SPEC_FULL.md §6.
type Config struct {
	DefaultProvider      string            `yaml:"default_provider"`
	EnableFailover       bool              `yaml:"enable_failover"`
	FailoverTimeout      time.Duration     `yaml:"failover_timeout"`
	EnableLoadBalancing  bool              `yaml:"enable_load_balancing"`
	LoadBalancingStrat   string            `yaml:"load_balancing_strategy"` // priority|round-robin|least-latency
	Providers            []ProviderConfig  `yaml:"providers"`
	TieredFC             TieredFCConfig    `yaml:"tiered_fc"`
	Cache                CacheConfig       `yaml:"cache"`
	Vector               VectorConfig      `yaml:"vector"`
	Database             DatabaseConfig    `yaml:"database"`
	RAG                  RAGConfig         `yaml:"rag"`
	Memory               MemoryConfig      `yaml:"memory"`
	MCPServers           []MCPServerConfig `yaml:"mcp_servers"`
	LogLevel             string            `yaml:"log_level"`
	LogPath              string            `yaml:"log_path,omitempty"`
}

// applyDefaults fills unset fields with the gateway's production defaults,
// mirroring the teacher's "load then patch sane defaults" pattern.
func (c *Config) applyDefaults() {
	if c.FailoverTimeout <= 0 {
		c.FailoverTimeout = 10 * time.Second
	}
	if c.LoadBalancingStrat == "" {
		c.LoadBalancingStrat = "priority"
	}
	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = time.Hour
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "relaycore:"
	}
	if c.Vector.Metric == "" {
		c.Vector.Metric = "cosine"
	}
	if c.Vector.Collection == "" {
		c.Vector.Collection = "relaycore_memories"
	}
	if c.Memory.MaxSessionMemory <= 0 {
		c.Memory.MaxSessionMemory = 50
	}
	if c.Memory.MaxUserMemory <= 0 {
		c.Memory.MaxUserMemory = 500
	}
	if c.Memory.ConsolidationThreshold <= 0 {
		c.Memory.ConsolidationThreshold = 200
	}
	if c.Memory.RetentionDays <= 0 {
		c.Memory.RetentionDays = 30
	}
	if c.TieredFC.DecisionCacheTTLSeconds <= 0 {
		c.TieredFC.DecisionCacheTTLSeconds = 300
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
