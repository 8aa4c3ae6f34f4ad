// Package memory implements the memory stage of SPEC_FULL.md §4.6: populate
// a turn's MemoryContext with up to ten relevant prior-conversation
// fragments, preferring vector search over keyword scoring when an
// embedding backend is configured.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"relaycore/internal/cache"
	"relaycore/internal/observability"
	"relaycore/internal/vectorstore"
)

const (
	maxResults      = 10
	maxSessionEcho  = 3
	positiveTTL     = 5 * time.Minute
	collectionName  = "user_memories"
	recencyWindow1h = time.Hour
	recencyWindow1d = 24 * time.Hour
	recencyWindow1w = 7 * 24 * time.Hour
)

// MemoryEntry is one retrieved fragment of a user's history.
type MemoryEntry struct {
	ID         string
	Content    string
	Score      float64
	Importance float64
	Timestamp  time.Time
	Source     string // "vector" | "keyword" | "session"
}

// Context is the populated memory block attached to a turn.
type Context struct {
	SessionEntries []MemoryEntry
	Retrieved      []MemoryEntry
}

// Embedder produces a query embedding. Providers that don't support
// embeddings are never passed here; the stage falls back to keyword search
// when embed is nil.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Stage resolves MemoryContext for a turn.
type Stage struct {
	cache   *cache.Client
	vectors vectorstore.Store
	embed   Embedder
	warn    *observability.WarnOnce

	mu      sync.RWMutex
	session map[string][]MemoryEntry // sessionID -> recent entries, newest last
	all     []keywordRecord          // in-memory corpus used when no vector store is configured
}

type keywordRecord struct {
	userID string
	entry  MemoryEntry
}

// New builds a memory stage. vectors and embed may both be nil, in which
// case retrieval falls back to keyword scoring over entries added via Add.
func New(c *cache.Client, vectors vectorstore.Store, embed Embedder) *Stage {
	return &Stage{
		cache:   c,
		vectors: vectors,
		embed:   embed,
		warn:    observability.NewWarnOnce(),
		session: make(map[string][]MemoryEntry),
	}
}

// Remember records a turn fragment for future keyword/session retrieval.
// When a vector store and embedder are configured it is also indexed there.
func (s *Stage) Remember(ctx context.Context, userID, sessionID string, entry MemoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	recent := append(s.session[sessionID], entry)
	if len(recent) > maxSessionEcho {
		recent = recent[len(recent)-maxSessionEcho:]
	}
	s.session[sessionID] = recent
	s.all = append(s.all, keywordRecord{userID: userID, entry: entry})
	s.mu.Unlock()

	if s.vectors == nil || s.embed == nil {
		return nil
	}
	vec, err := s.embed.EmbedText(ctx, entry.Content)
	if err != nil {
		return err
	}
	return s.vectors.Insert(ctx, collectionName, []vectorstore.Record{{
		ID:     entry.ID,
		Vector: vec,
		Payload: map[string]any{
			"userId":     userID,
			"content":    entry.Content,
			"importance": entry.Importance,
			"timestamp":  entry.Timestamp.Unix(),
		},
	}})
}

// Retrieve populates a Context for the given query. Failure is non-fatal:
// callers should proceed with a zero-value Context and a logged warning,
// per SPEC_FULL.md §4.9 failure semantics.
func (s *Stage) Retrieve(ctx context.Context, userID, sessionID, query string) (Context, error) {
	out := Context{SessionEntries: s.sessionEcho(sessionID)}
	if strings.TrimSpace(query) == "" {
		return out, nil
	}

	key := cacheKey(userID, query)
	if s.cache != nil {
		var cached []MemoryEntry
		if s.cache.Get(ctx, key, &cached) {
			out.Retrieved = cached
			return out, nil
		}
		if !s.cache.IsConnected(ctx) && s.warn.First("memory:cache:"+userID) {
			observability.LoggerFrom(ctx).Warn().Msg("memory cache unavailable, continuing without cache")
		}
	}

	entries, err := s.search(ctx, userID, query)
	if err != nil {
		return out, err
	}
	out.Retrieved = entries

	if len(entries) > 0 && s.cache != nil {
		_ = s.cache.Set(ctx, key, entries, positiveTTL)
	}
	return out, nil
}

func (s *Stage) sessionEcho(sessionID string) []MemoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recent := s.session[sessionID]
	out := make([]MemoryEntry, len(recent))
	copy(out, recent)
	return out
}

func (s *Stage) search(ctx context.Context, userID, query string) ([]MemoryEntry, error) {
	if s.vectors != nil && s.embed != nil {
		vec, err := s.embed.EmbedText(ctx, query)
		if err != nil {
			return nil, err
		}
		hits, err := s.vectors.Search(ctx, collectionName, vec, maxResults, nil, map[string]string{"userId": userID})
		if err != nil {
			return nil, err
		}
		return hitsToEntries(hits), nil
	}
	return s.keywordSearch(userID, query), nil
}

func hitsToEntries(hits []vectorstore.SearchHit) []MemoryEntry {
	out := make([]MemoryEntry, 0, len(hits))
	for _, h := range hits {
		entry := MemoryEntry{ID: h.ID, Score: h.Score, Source: "vector"}
		if v, ok := h.Payload["content"].(string); ok {
			entry.Content = v
		}
		if v, ok := h.Payload["importance"].(float64); ok {
			entry.Importance = v
		}
		if v, ok := h.Payload["timestamp"].(float64); ok {
			entry.Timestamp = time.Unix(int64(v), 0).UTC()
		}
		out = append(out, entry)
	}
	return out
}

// keywordSearch implements the scoring formula: 0.2*entityOverlap +
// 0.3*substringMatch + recencyBoost + 0.2*importance.
func (s *Stage) keywordSearch(userID, query string) []MemoryEntry {
	terms := tokenize(query)
	lowerQuery := strings.ToLower(query)
	now := time.Now().UTC()

	s.mu.RLock()
	records := make([]keywordRecord, len(s.all))
	copy(records, s.all)
	s.mu.RUnlock()

	scored := make([]MemoryEntry, 0, len(records))
	for _, rec := range records {
		if rec.userID != userID {
			continue
		}
		content := rec.entry.Content
		overlap := entityOverlap(terms, tokenize(content))
		substring := 0.0
		if strings.Contains(strings.ToLower(content), lowerQuery) {
			substring = 1.0
		}
		score := 0.2*overlap + 0.3*substring + recencyBoost(now, rec.entry.Timestamp) + 0.2*rec.entry.Importance
		if score <= 0 {
			continue
		}
		entry := rec.entry
		entry.Score = score
		entry.Source = "keyword"
		scored = append(scored, entry)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}
	return scored
}

func recencyBoost(now, t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	age := now.Sub(t)
	switch {
	case age <= recencyWindow1h:
		return 0.3
	case age <= recencyWindow1d:
		return 0.2
	case age <= recencyWindow1w:
		return 0.1
	default:
		return 0
	}
}

func tokenize(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,!?;:\"'()")] = struct{}{}
	}
	return set
}

func entityOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var shared int
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a))
}

func cacheKey(userID, query string) string {
	sum := sha256.Sum256([]byte(userID + "|" + query))
	return "memory:" + hex.EncodeToString(sum[:])
}

// Render produces the structured prompt block the context-assembly stage
// injects into tier3, per SPEC_FULL.md §4.6.
func Render(c Context) string {
	if len(c.SessionEntries) == 0 && len(c.Retrieved) == 0 {
		return ""
	}
	var b strings.Builder
	if len(c.SessionEntries) > 0 {
		b.WriteString("Current Session Context\n")
		for _, e := range c.SessionEntries {
			b.WriteString("- " + e.Content + "\n")
		}
		b.WriteString("\n")
	}
	if len(c.Retrieved) > 0 {
		b.WriteString("User History\n")
		b.WriteString("Retrieved Information from Previous Conversations\n")
		for _, e := range c.Retrieved {
			b.WriteString("- " + e.Content + "\n")
		}
		b.WriteString("\nThe retrieved data above is the system's memory of this user; treat it as ground truth unless the current turn contradicts it.\n")
	}
	return b.String()
}
