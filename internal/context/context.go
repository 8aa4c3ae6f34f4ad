// Package context implements the context-assembly engine of SPEC_FULL.md
// §4.2: topic classification, tiered budget packing, and cache-protected
// memoization of the assembled prompt context. Imported as gwcontext by
// its callers to avoid colliding with the standard library's context package.
package context

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/singleflight"

	"relaycore/internal/cache"
	"relaycore/internal/gatewayerr"
	"relaycore/internal/memory"
	"relaycore/internal/observability"
)

const cacheTTL = time.Hour

// tier proportions of the post-reservation budget. Tier1 favors the most
// recent turns, tier2 older turns at lower priority, tier3 retrieved memory.
const (
	tier1Share = 0.45
	tier2Share = 0.30
	tier3Share = 0.25
)

// Message is one chat turn fed into assembly.
type Message struct {
	Role    string
	Content string
}

// ModelInfo describes the sizing facts assembly needs about the target
// model. The router package owns the full ModelProfile; this is the subset
// assembly depends on.
type ModelInfo struct {
	ID                    string
	ContextWindow         int
	ReservedForGeneration int
}

// Flags toggle optional behavior.
type Flags struct {
	CachingEnabled bool
}

// Topic is the result of step 1, topic classification.
type Topic struct {
	Entities     []string
	Keywords     []string
	PrimaryTopic string
	Hash         string
	Confidence   float64
}

// Budget is the token allocation computed in step 4.
type Budget struct {
	System int
	Tier1  int
	Tier2  int
	Tier3  int
}

// AugmentedContext is the sized, tiered prompt context handed to the router
// and provider layer.
type AugmentedContext struct {
	SystemPrompt     string
	Tier1            []Message
	Tier2            []Message
	Tier3            []string
	Topic            Topic
	Budget           Budget
	TotalTokens      int
	CompressionRatio float64
	CacheHit         bool
}

// Engine assembles AugmentedContext values.
type Engine struct {
	cache  *cache.Client
	memory *memory.Stage
	sf     singleflight.Group
	warn   *observability.WarnOnce
}

// New builds an assembly engine. memoryStage may be nil, in which case
// assembly proceeds with zero retrieved memories.
func New(c *cache.Client, memoryStage *memory.Stage) *Engine {
	return &Engine{cache: c, memory: memoryStage, warn: observability.NewWarnOnce()}
}

// Assemble runs the six-step algorithm in SPEC_FULL.md §4.2.
func (e *Engine) Assemble(ctx context.Context, userID, sessionID string, messages []Message, model ModelInfo, flags Flags, systemPrompt string) (*AugmentedContext, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, gatewayerr.New(gatewayerr.InvalidInput, "invalid_user")
	}
	if strings.TrimSpace(model.ID) == "" {
		return nil, gatewayerr.New(gatewayerr.InvalidInput, "invalid_model")
	}
	if len(messages) == 0 {
		return &AugmentedContext{SystemPrompt: systemPrompt}, nil
	}

	topic := classifyTopic(messages)
	cacheKey := e.cacheKey(userID, topic.Hash, model.ID)

	if flags.CachingEnabled && e.cache != nil {
		var cached AugmentedContext
		if e.cache.Get(ctx, cacheKey, &cached) {
			cached.CacheHit = true
			return &cached, nil
		}
		if !e.cache.IsConnected(ctx) && e.warn.First("context:cache:"+userID) {
			observability.LoggerFrom(ctx).Warn().Msg("context cache unavailable, assembling without cache")
		}
	}

	build := func() (any, error) {
		return e.assembleFresh(ctx, userID, sessionID, messages, model, systemPrompt, topic)
	}

	var result any
	var err error
	if flags.CachingEnabled {
		result, err, _ = e.sf.Do(cacheKey, build)
	} else {
		result, err = build()
	}
	if err != nil {
		return nil, err
	}
	out := result.(*AugmentedContext)

	if flags.CachingEnabled && e.cache != nil {
		_ = e.cache.Set(ctx, cacheKey, out, cacheTTL)
	}
	return out, nil
}

func (e *Engine) assembleFresh(ctx context.Context, userID, sessionID string, messages []Message, model ModelInfo, systemPrompt string, topic Topic) (*AugmentedContext, error) {
	var memCtx memory.Context
	if e.memory != nil {
		var err error
		memCtx, err = e.memory.Retrieve(ctx, userID, sessionID, lastUserContent(messages))
		if err != nil && e.warn.First("context:memory:"+userID) {
			observability.LoggerFrom(ctx).Warn().Err(err).Msg("memory retrieval failed, proceeding with zero memories")
		}
	}

	budget := computeBudget(model)

	tier1, tier2 := splitByRecency(messages)
	packedTier1, usedTier1 := packMessages(tier1, budget.Tier1)
	packedTier2, usedTier2 := packMessages(tier2, budget.Tier2)

	memLines := renderMemoryLines(memCtx)
	packedTier3, usedTier3 := packStrings(memLines, budget.Tier3)

	totalChars := len(systemPrompt)
	for _, m := range packedTier1 {
		totalChars += len(m.Content)
	}
	for _, m := range packedTier2 {
		totalChars += len(m.Content)
	}
	for _, s := range packedTier3 {
		totalChars += len(s)
	}
	totalTokens := estimateTokens(systemPrompt) + usedTier1 + usedTier2 + usedTier3

	ratio := 0.0
	if totalTokens > 0 {
		ratio = float64(totalChars) / float64(totalTokens*4)
	}

	return &AugmentedContext{
		SystemPrompt:     systemPrompt,
		Tier1:            packedTier1,
		Tier2:            packedTier2,
		Tier3:            packedTier3,
		Topic:            topic,
		Budget:           budget,
		TotalTokens:      totalTokens,
		CompressionRatio: ratio,
	}, nil
}

func (e *Engine) cacheKey(userID, topicHash, modelID string) string {
	sum := sha256.Sum256([]byte(userID + ":" + topicHash + ":" + modelID))
	return "ctx:" + hex.EncodeToString(sum[:])[:16]
}

func computeBudget(model ModelInfo) Budget {
	reserved := model.ReservedForGeneration
	window := model.ContextWindow
	if window <= reserved {
		window = reserved + 1
	}
	available := window - reserved
	systemBudget := int(float64(available) * 0.05)
	rest := available - systemBudget
	return Budget{
		System: systemBudget,
		Tier1:  int(float64(rest) * tier1Share),
		Tier2:  int(float64(rest) * tier2Share),
		Tier3:  int(float64(rest) * tier3Share),
	}
}

// splitByRecency puts the most recent N=10 messages in tier1 and
// anything older in tier2, both ordered most-recent-first for greedy
// priority packing.
func splitByRecency(messages []Message) (tier1, tier2 []Message) {
	const recentWindow = 10
	n := len(messages)
	start := n - recentWindow
	if start < 0 {
		start = 0
	}
	recent := messages[start:]
	older := messages[:start]

	tier1 = reversed(recent)
	tier2 = reversed(older)
	return tier1, tier2
}

func reversed(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[len(in)-1-i] = m
	}
	return out
}

func estimateTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / 4))
}

// packMessages greedily includes items in priority order while the budget
// allows, truncating only at a sentence boundary.
func packMessages(items []Message, maxTokens int) ([]Message, int) {
	out := make([]Message, 0, len(items))
	used := 0
	for _, m := range items {
		t := estimateTokens(m.Content)
		if used+t <= maxTokens {
			out = append(out, m)
			used += t
			continue
		}
		remaining := maxTokens - used
		if remaining <= 0 {
			break
		}
		if truncated, ok := truncateAtSentence(m.Content, remaining*4); ok {
			out = append(out, Message{Role: m.Role, Content: truncated})
			used += estimateTokens(truncated)
		}
	}
	return out, used
}

func packStrings(items []string, maxTokens int) ([]string, int) {
	out := make([]string, 0, len(items))
	used := 0
	for _, s := range items {
		t := estimateTokens(s)
		if used+t <= maxTokens {
			out = append(out, s)
			used += t
			continue
		}
		remaining := maxTokens - used
		if remaining <= 0 {
			break
		}
		if truncated, ok := truncateAtSentence(s, remaining*4); ok {
			out = append(out, truncated)
			used += estimateTokens(truncated)
		}
	}
	return out, used
}

// truncateAtSentence returns s cut to at most maxChars, at the last sentence
// boundary within that prefix. ok is false when no boundary exists, meaning
// the item must be skipped entirely rather than cut mid-sentence.
func truncateAtSentence(s string, maxChars int) (string, bool) {
	if maxChars <= 0 || maxChars >= len(s) {
		return s, maxChars >= len(s)
	}
	prefix := s[:maxChars]
	idx := strings.LastIndexAny(prefix, ".!?")
	if idx < 0 {
		return "", false
	}
	return prefix[:idx+1], true
}

// renderMemoryLines turns the memory package's structured prompt block
// (headers, retrieved-vs-session sections, ground-truth reminder) into the
// line-granular items tier3's greedy budget packer operates on.
func renderMemoryLines(c memory.Context) []string {
	rendered := memory.Render(c)
	if rendered == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(rendered, "\n"), "\n")
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// --- topic classification (step 1) ---

var techTerms = map[string]struct{}{
	"api": {}, "database": {}, "server": {}, "client": {}, "kubernetes": {},
	"docker": {}, "aws": {}, "azure": {}, "gcp": {}, "token": {}, "auth": {},
	"cache": {}, "redis": {}, "postgres": {}, "vector": {}, "embedding": {},
	"llm": {}, "model": {}, "prompt": {}, "pipeline": {}, "webhook": {},
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {},
	"all": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {},
	"out": {}, "day": {}, "get": {}, "has": {}, "him": {}, "his": {}, "how": {},
	"man": {}, "new": {}, "now": {}, "old": {}, "see": {}, "two": {}, "way": {},
	"who": {}, "boy": {}, "did": {}, "its": {}, "let": {}, "put": {}, "say": {},
	"she": {}, "too": {}, "use": {}, "that": {}, "this": {}, "with": {}, "from": {},
}

var topicRules = []struct {
	topic      string
	keywords   []string
}{
	{"infrastructure", []string{"kubernetes", "docker", "deploy", "server", "container"}},
	{"data", []string{"database", "postgres", "query", "schema", "sql"}},
	{"ai", []string{"model", "embedding", "llm", "prompt", "vector"}},
	{"auth", []string{"auth", "token", "login", "oauth", "session"}},
	{"billing", []string{"invoice", "price", "payment", "subscription", "cost"}},
}

const defaultTopic = "general"

func classifyTopic(messages []Message) Topic {
	var combined strings.Builder
	for _, m := range messages {
		combined.WriteString(m.Content)
		combined.WriteString(" ")
	}
	text := combined.String()

	head := text
	if len(head) > 500 {
		head = head[:500]
	}
	sum := sha256.Sum256([]byte(head))
	hash := hex.EncodeToString(sum[:])[:16]

	entities := extractEntities(text)
	keywords := extractKeywords(text)
	primary := pickTopic(keywords, entities)

	termCount := len(entities) + len(keywords)
	wordCount := len(strings.Fields(text))
	density := 0.0
	if wordCount > 0 {
		density = float64(termCount) / float64(wordCount)
	}
	confidence := math.Min(density*0.1, 1.0)

	return Topic{Entities: entities, Keywords: keywords, PrimaryTopic: primary, Hash: hash, Confidence: confidence}
}

func extractEntities(text string) []string {
	words := strings.Fields(text)
	seen := map[string]struct{}{}
	var out []string
	for _, w := range words {
		clean := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if clean == "" {
			continue
		}
		lower := strings.ToLower(clean)
		isTech := false
		if _, ok := techTerms[lower]; ok {
			isTech = true
		}
		isCapitalized := unicode.IsUpper(rune(clean[0])) && len(clean) > 1
		if !isTech && !isCapitalized {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, clean)
		if len(out) >= 5 {
			break
		}
	}
	return out
}

func extractKeywords(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	counts := map[string]int{}
	for _, w := range words {
		clean := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len(clean) <= 3 {
			continue
		}
		if _, stop := stopWords[clean]; stop {
			continue
		}
		counts[clean]++
	}
	type kv struct {
		word  string
		count int
	}
	ranked := make([]kv, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, kv{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.word
	}
	return out
}

func pickTopic(keywords, entities []string) string {
	terms := map[string]struct{}{}
	for _, k := range keywords {
		terms[k] = struct{}{}
	}
	for _, e := range entities {
		terms[strings.ToLower(e)] = struct{}{}
	}
	for _, rule := range topicRules {
		for _, kw := range rule.keywords {
			if _, ok := terms[kw]; ok {
				return rule.topic
			}
		}
	}
	return defaultTopic
}
