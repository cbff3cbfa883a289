// Package knowledge provides the retrieval contract the runtime relies on.
//
// The hard invariant here is tenant isolation: every Retriever
// implementation must enforce the tenant filter server-side, so the
// runtime never receives chunks belonging to another tenant.
package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Chunk is one ranked retrieval result.
type Chunk struct {
	// ID identifies the chunk in the underlying index.
	ID string `json:"id"`

	// TenantID is the owner of the chunk. Implementations must never
	// return a chunk whose TenantID differs from the query's tenant.
	TenantID uuid.UUID `json:"tenant_id"`

	// Text is the chunk content.
	Text string `json:"text"`

	// Score is the retrieval score (higher is better).
	Score float64 `json:"score"`
}

// Retriever answers knowledge queries scoped to a tenant.
type Retriever interface {
	// Search returns up to topK chunks ranked by relevance, restricted to
	// the given tenant.
	Search(ctx context.Context, tenantID uuid.UUID, query string, topK int) ([]Chunk, error)
}

// MemoryRetriever is a trivial in-process Retriever for dev mode and
// tests. Scoring is whole-word overlap; isolation is a tenant-keyed map, so a
// cross-tenant hit is structurally impossible.
type MemoryRetriever struct {
	mu     sync.RWMutex
	chunks map[uuid.UUID][]Chunk
}

// NewMemoryRetriever creates an empty in-memory retriever.
func NewMemoryRetriever() *MemoryRetriever {
	return &MemoryRetriever{chunks: make(map[uuid.UUID][]Chunk)}
}

// Add indexes a chunk for a tenant.
func (m *MemoryRetriever) Add(tenantID uuid.UUID, id, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[tenantID] = append(m.chunks[tenantID], Chunk{ID: id, TenantID: tenantID, Text: text})
}

// Search implements Retriever.
func (m *MemoryRetriever) Search(ctx context.Context, tenantID uuid.UUID, query string, topK int) ([]Chunk, error) {
	if topK <= 0 {
		topK = 5
	}
	terms := strings.Fields(strings.ToLower(query))

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Chunk
	for _, c := range m.chunks[tenantID] {
		// Match whole words only, so "quarter" does not hit "quarterly".
		words := make(map[string]bool)
		for _, w := range strings.Fields(strings.ToLower(c.Text)) {
			words[w] = true
		}
		score := 0.0
		for _, term := range terms {
			if words[term] {
				score++
			}
		}
		if score > 0 {
			hit := c
			hit.Score = score
			hits = append(hits, hit)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
