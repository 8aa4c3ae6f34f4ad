package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// memoryStore is a cosine-similarity brute-force Store used in tests and in
// single-node demos run without a Qdrant instance.
type memoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Record
	schemas     map[string]Schema
}

// NewMemory returns an in-process Store with the same semantics as the
// Qdrant-backed implementation, minus persistence.
func NewMemory() Store {
	return &memoryStore{
		collections: make(map[string][]Record),
		schemas:     make(map[string]Schema),
	}
}

func (m *memoryStore) CreateCollection(ctx context.Context, schema Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.schemas[schema.Name]; ok && existing.VectorDimension() != schema.VectorDimension() {
		delete(m.collections, schema.Name)
	}
	m.schemas[schema.Name] = schema
	if _, ok := m.collections[schema.Name]; !ok {
		m.collections[schema.Name] = nil
	}
	return nil
}

func (m *memoryStore) Insert(ctx context.Context, collection string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.collections[collection]
	byID := make(map[string]int, len(existing))
	for i, r := range existing {
		byID[r.ID] = i
	}
	for _, r := range records {
		if i, ok := byID[r.ID]; ok {
			existing[i] = r
			continue
		}
		existing = append(existing, r)
	}
	m.collections[collection] = existing
	return nil
}

func (m *memoryStore) Search(ctx context.Context, collection string, vector []float32, topK int, outputFields []string, filter map[string]string) ([]SearchHit, error) {
	if topK <= 0 {
		topK = 10
	}
	m.mu.RLock()
	records := append([]Record(nil), m.collections[collection]...)
	m.mu.RUnlock()

	outSet := map[string]bool{}
	for _, f := range outputFields {
		outSet[f] = true
	}

	hits := make([]SearchHit, 0, len(records))
	for _, r := range records {
		if !matchesFilter(r.Payload, filter) {
			continue
		}
		payload := r.Payload
		if len(outSet) > 0 {
			payload = make(map[string]any, len(outSet))
			for k, v := range r.Payload {
				if outSet[k] {
					payload[k] = v
				}
			}
		}
		hits = append(hits, SearchHit{ID: r.ID, Score: cosine(vector, r.Vector), Payload: payload})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func matchesFilter(payload map[string]any, filter map[string]string) bool {
	for k, v := range filter {
		pv, ok := payload[k]
		if !ok {
			return false
		}
		if s, ok := pv.(string); !ok || s != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (m *memoryStore) DeleteAll(ctx context.Context, collection string, filter map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(filter) == 0 {
		delete(m.collections, collection)
		return nil
	}
	kept := m.collections[collection][:0]
	for _, r := range m.collections[collection] {
		if !matchesFilter(r.Payload, filter) {
			kept = append(kept, r)
		}
	}
	m.collections[collection] = kept
	return nil
}

func (m *memoryStore) GetStats(ctx context.Context, collection string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{PointCount: int64(len(m.collections[collection]))}, nil
}

func (m *memoryStore) Close() error { return nil }
