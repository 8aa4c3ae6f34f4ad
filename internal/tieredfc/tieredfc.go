// Package tieredfc implements the tiered function-calling decision engine
// of SPEC_FULL.md §4.4: whether a turn needs tools at all, which cost tier
// to target, and whether to strip the tool catalog before dispatch.
package tieredfc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"relaycore/internal/cache"
	"relaycore/internal/config"
)

// Tier is a cost/quality band selected by slider position.
type Tier string

const (
	TierCheap    Tier = "cheap"
	TierBalanced Tier = "balanced"
	TierPremium  Tier = "premium"
)

// Decision is the result of evaluating one turn.
type Decision struct {
	RequiresTools        bool
	StripTools           bool
	Tier                 Tier
	Model                string // configured model for Tier, or "" to defer to the smart router
	EstimatedSavedTokens int
	CachedDecision       bool
}

// Engine evaluates decisions and caches them.
type Engine struct {
	cfg   config.TieredFCConfig
	cache *cache.Client
}

// New builds a tiered function-calling engine.
func New(cfg config.TieredFCConfig, c *cache.Client) *Engine {
	return &Engine{cfg: cfg, cache: c}
}

// imperative tool verbs a pure-chat message is unlikely to contain.
var toolVerbs = []string{
	"search", "look up", "lookup", "find", "fetch", "query", "retrieve",
	"calculate", "compute", "schedule", "book", "send", "create", "update",
	"delete", "list", "run", "execute", "check the", "get the",
}

// entities that typically require a retrieval-backed tool to answer.
var retrievalEntities = regexp.MustCompile(`(?i)\b(ticket|issue|invoice|order|weather|stock price|flight|pr #?\d+|docket)\b`)

func requiresTools(message string) bool {
	lower := strings.ToLower(message)
	for _, v := range toolVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return retrievalEntities.MatchString(message)
}

func tierForSlider(slider int) Tier {
	switch {
	case slider <= 40:
		return TierCheap
	case slider <= 60:
		return TierBalanced
	default:
		return TierPremium
	}
}

func (e *Engine) modelForTier(t Tier) string {
	switch t {
	case TierCheap:
		return e.cfg.CheapModel
	case TierBalanced:
		return e.cfg.BalancedModel
	case TierPremium:
		return e.cfg.PremiumModel
	default:
		return ""
	}
}

// estimatedStrippedSavings is the conservative floor the spec asks us to
// report, never assert, as tool-catalog token cost.
const estimatedStrippedSavings = 2000

func decisionKey(message string, toolsLen, slider int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", message, toolsLen, slider)))
	return "tieredfc:" + hex.EncodeToString(sum[:])[:16]
}

// Decide evaluates (message, toolsLen, sliderPosition) into a Decision,
// consulting the decision cache first when enabled.
func (e *Engine) Decide(ctx context.Context, message string, toolsLen, sliderPosition int) Decision {
	key := decisionKey(message, toolsLen, sliderPosition)

	if e.cfg.DecisionCacheEnabled && e.cache != nil {
		var cached Decision
		if e.cache.Get(ctx, key, &cached) {
			cached.CachedDecision = true
			return cached
		}
	}

	decision := Decision{Tier: tierForSlider(sliderPosition)}
	decision.Model = e.modelForTier(decision.Tier)
	decision.RequiresTools = toolsLen > 0 && requiresTools(message)
	if !decision.RequiresTools && toolsLen > 0 && e.cfg.ToolStrippingEnabled {
		decision.StripTools = true
		decision.EstimatedSavedTokens = estimatedStrippedSavings
	}

	if e.cfg.DecisionCacheEnabled && e.cache != nil {
		_ = e.cache.Set(ctx, key, decision, e.cfg.DecisionCacheTTL())
	}
	return decision
}
