package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Embedder turns text into a dense vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QdrantConfig configures the vector index connection.
type QdrantConfig struct {
	// URL is the Qdrant endpoint, e.g. "http://localhost:6333".
	// The REST port 6333 is mapped to the gRPC port 6334.
	URL string

	// APIKey authenticates against managed Qdrant (optional).
	APIKey string

	// Collection is the collection holding knowledge chunks.
	Collection string
}

// QdrantRetriever is a Retriever backed by a Qdrant collection. Every
// query carries a must-match condition on the tenant_id payload field, so
// tenant isolation is enforced by the index server, not by the caller.
type QdrantRetriever struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	logger     *slog.Logger
}

// NewQdrantRetriever connects to Qdrant over gRPC.
func NewQdrantRetriever(cfg QdrantConfig, embedder Embedder, logger *slog.Logger) (*QdrantRetriever, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantRetriever{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		logger:     logger,
	}, nil
}

// Search implements Retriever.
func (q *QdrantRetriever) Search(ctx context.Context, tenantID uuid.UUID, query string, topK int) ([]Chunk, error) {
	if topK <= 0 {
		topK = 5
	}

	vector, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}

	limit := uint64(topK)
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vector),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("tenant_id", tenantID.String()),
			},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: query qdrant: %w", err)
	}

	chunks := make([]Chunk, 0, len(scored))
	for _, point := range scored {
		payload := point.GetPayload()
		chunks = append(chunks, Chunk{
			ID:       point.GetId().GetUuid(),
			TenantID: tenantID,
			Text:     payload["text"].GetStringValue(),
			Score:    float64(point.GetScore()),
		})
	}
	return chunks, nil
}

func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("knowledge: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	port = 6334
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("knowledge: invalid port in qdrant URL: %q", portStr)
		}
		// Map the REST port to the gRPC port.
		if p != 6333 {
			port = p
		}
	}

	return host, port, useTLS, nil
}
