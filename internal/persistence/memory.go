package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// --- chat store ---

type memChatStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	turns    map[string][]Turn
}

// NewMemoryChatStore returns an in-process ChatStore for tests and demos.
func NewMemoryChatStore() ChatStore {
	return &memChatStore{sessions: map[string]Session{}, turns: map[string][]Turn{}}
}

func (s *memChatStore) Init(ctx context.Context) error { return nil }

func (s *memChatStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *memChatStore) GetSession(ctx context.Context, id string) (Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *memChatStore) AppendTurn(ctx context.Context, t Turn) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.turns[t.SessionID] = append(s.turns[t.SessionID], t)
	return t, nil
}

func (s *memChatStore) ListTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns[sessionID]))
	copy(out, s.turns[sessionID])
	return out, nil
}

func (s *memChatStore) Close() {}

// --- user store ---

type memUserStore struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryUserStore returns an in-process UserStore seeded with users.
func NewMemoryUserStore(seed ...User) UserStore {
	m := &memUserStore{users: map[string]User{}}
	for _, u := range seed {
		m.users[u.ID] = u
	}
	return m
}

func (s *memUserStore) Init(ctx context.Context) error { return nil }

func (s *memUserStore) GetUser(ctx context.Context, id string) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *memUserStore) Close() {}

// --- policy store ---

type memPolicyStore struct {
	mu       sync.RWMutex
	policies map[string][]AccessPolicy // by serverID
	defaults map[DefaultPolicyType]DefaultPolicy
	servers  map[string]MCPServerRecord
}

// NewMemoryPolicyStore returns an in-process PolicyStore.
func NewMemoryPolicyStore() PolicyStore {
	return &memPolicyStore{
		policies: map[string][]AccessPolicy{},
		defaults: map[DefaultPolicyType]DefaultPolicy{},
		servers:  map[string]MCPServerRecord{},
	}
}

func (s *memPolicyStore) Init(ctx context.Context) error { return nil }

func (s *memPolicyStore) ListPoliciesForServer(ctx context.Context, serverID string) ([]AccessPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AccessPolicy, len(s.policies[serverID]))
	copy(out, s.policies[serverID])
	return out, nil
}

func (s *memPolicyStore) UpsertPolicy(ctx context.Context, p AccessPolicy) (AccessPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.UpdatedAt = time.Now().UTC()
	list := s.policies[p.ServerID]
	replaced := false
	for i, existing := range list {
		if existing.ID == p.ID {
			list[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	s.policies[p.ServerID] = list
	return p, nil
}

func (s *memPolicyStore) GetDefaultPolicy(ctx context.Context, t DefaultPolicyType) (DefaultPolicy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.defaults[t]
	return d, ok, nil
}

func (s *memPolicyStore) SetDefaultPolicy(ctx context.Context, p DefaultPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[p.PolicyType] = p
	return nil
}

func (s *memPolicyStore) GetServer(ctx context.Context, serverID string) (MCPServerRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.servers[serverID]
	return rec, ok, nil
}

func (s *memPolicyStore) UpsertServer(ctx context.Context, rec MCPServerRecord) (MCPServerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[rec.ID] = rec
	return rec, nil
}

func (s *memPolicyStore) Close() {}

// --- pricing store ---

type memPricingStore struct {
	mu      sync.RWMutex
	byModel map[string]ModelPricing // key: modelID+":"+region
}

// NewMemoryPricingStore returns an in-process PricingStore.
func NewMemoryPricingStore() PricingStore {
	return &memPricingStore{byModel: map[string]ModelPricing{}}
}

func pricingKey(modelID, region string) string { return modelID + ":" + region }

func (s *memPricingStore) Init(ctx context.Context) error { return nil }

func (s *memPricingStore) GetPricing(ctx context.Context, modelID, region string) (ModelPricing, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byModel[pricingKey(modelID, region)]
	return p, ok, nil
}

func (s *memPricingStore) UpsertPricing(ctx context.Context, p ModelPricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byModel[pricingKey(p.ModelID, p.Region)] = p
	return nil
}

func (s *memPricingStore) ListPricing(ctx context.Context) ([]ModelPricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ModelPricing, 0, len(s.byModel))
	for _, p := range s.byModel {
		out = append(out, p)
	}
	return out, nil
}

func (s *memPricingStore) Close() {}

// --- usage store ---

type memUsageStore struct {
	mu   sync.Mutex
	rows []PromptUsage
}

// NewMemoryUsageStore returns an in-process UsageStore.
func NewMemoryUsageStore() UsageStore {
	return &memUsageStore{}
}

func (s *memUsageStore) Init(ctx context.Context) error { return nil }

func (s *memUsageStore) RecordUsage(ctx context.Context, u PromptUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.rows = append(s.rows, u)
	return nil
}

func (s *memUsageStore) Close() {}

// Rows exposes recorded usage for assertions in tests.
func (s *memUsageStore) Rows() []PromptUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PromptUsage, len(s.rows))
	copy(out, s.rows)
	return out
}
